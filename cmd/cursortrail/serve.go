package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/neovim/go-client/nvim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pkt.systems/cursortrail"
	"pkt.systems/cursortrail/internal/appconfig"
	"pkt.systems/cursortrail/internal/nvimhost"
	"pkt.systems/cursortrail/internal/version"
	"pkt.systems/pslog"
)

const stopTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	var cfgPath string
	var listen string
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Attach to Neovim and draw the cursor trail",
		Long: "Attach to Neovim and draw the cursor trail. Without --listen the editor is " +
			"expected to have started this process as an rpc job over stdio.",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.Nvim.Listen = listen
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTP.Addr = httpAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Neovim server address (unix socket path or host:port); stdio when empty")
	cmd.Flags().StringVar(&httpAddr, "http", "", "metrics and diagnostics listen address; disabled when empty")
	return cmd
}

func serve(ctx context.Context, cfg appconfig.Config, logger pslog.Logger) error {
	v, err := connect(ctx, cfg.Nvim.Listen, logger)
	if err != nil {
		return err
	}
	host, err := nvimhost.New(v)
	if err != nil {
		_ = v.Close()
		return err
	}
	server, err := cursortrail.New(cursortrail.ServerConfig{
		Pool:     cfg.PoolSettings(),
		Trail:    cfg.TrailSettings(),
		Notify:   cfg.NotifySettings(),
		HTTPAddr: cfg.HTTP.Addr,
	}, cursortrail.ServerDeps{
		Host:       host,
		Painter:    host,
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
	})
	if err != nil {
		_ = v.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := nvimhost.Register(runCtx, v, server); err != nil {
		_ = v.Close()
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer cancel()
		if err := v.Serve(); err != nil && gctx.Err() == nil {
			return fmt.Errorf("nvim rpc: %w", err)
		}
		logger.Info("nvim connection closed")
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
		defer stopCancel()
		err := server.Stop(stopCtx)
		if err != nil {
			logger.Warn("server stop failed", "err", err)
		}
		_ = v.Close()
		return err
	})

	if err := host.Setup(gctx, cfg.Trail.Segments, version.Current()); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	if err := server.Start(gctx); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	if cfg.HTTP.Addr != "" {
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
	}
	g.Go(server.Wait)
	return g.Wait()
}

// connect opens the RPC session. The returned client is not served yet.
func connect(ctx context.Context, listen string, logger pslog.Logger) (*nvim.Nvim, error) {
	logf := func(format string, args ...any) {
		logger.Debug("nvim rpc", "msg", fmt.Sprintf(format, args...))
	}
	listen = strings.TrimSpace(listen)
	if listen == "" {
		logger.Info("nvim connect", "transport", "stdio")
		return nvim.New(os.Stdin, os.Stdout, stdioCloser{}, logf)
	}
	network := dialNetwork(listen)
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, listen)
	if err != nil {
		return nil, fmt.Errorf("dial nvim %s: %w", listen, err)
	}
	logger.Info("nvim connect", "transport", network, "addr", listen)
	v, err := nvim.New(conn, conn, conn, logf)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return v, nil
}

// dialNetwork picks tcp for host:port addresses and unix otherwise, the way
// the editor interprets --listen.
func dialNetwork(addr string) string {
	if strings.Contains(addr, "/") || strings.Contains(addr, `\`) {
		return "unix"
	}
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return "tcp"
	}
	return "unix"
}

type stdioCloser struct{}

func (stdioCloser) Close() error {
	return closeAll(os.Stdin, os.Stdout)
}

func closeAll(closers ...io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
