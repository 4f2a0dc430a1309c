package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"pkt.systems/cursortrail/schema"
)

func newStatsCmd() *cobra.Command {
	var addr string
	var tab int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print pool occupancy from a running instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			snap, err := fetchPoolSnapshot(ctx, http.DefaultClient, addr, schema.TabID(tab))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(),
				"tabs=%d total=%d available=%d in_use=%d cached_budget=%d last_frame_demand=%d\n",
				snap.Tabs, snap.Total, snap.Available, snap.InUse, snap.CachedBudget, snap.LastFrameDemand)
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9464", "diagnostics listen address of the running instance")
	cmd.Flags().IntVar(&tab, "tab", 0, "tab handle; 0 sums every tab")
	return cmd
}

func fetchPoolSnapshot(ctx context.Context, client *http.Client, addr string, tab schema.TabID) (schema.PoolSnapshot, error) {
	u := url.URL{Scheme: "http", Host: addr, Path: "/debug/pool"}
	if tab != 0 {
		u.RawQuery = url.Values{"tab": []string{strconv.Itoa(int(tab))}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return schema.PoolSnapshot{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return schema.PoolSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return schema.PoolSnapshot{}, fmt.Errorf("stats: %s: %s", resp.Status, body)
	}
	var snap schema.PoolSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return schema.PoolSnapshot{}, fmt.Errorf("stats: decode: %w", err)
	}
	return snap, nil
}
