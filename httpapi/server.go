package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pkt.systems/cursortrail/internal/logx"
	"pkt.systems/cursortrail/schema"
)

const shutdownTimeout = 5 * time.Second

// PoolStats reads pool occupancy. A zero tab asks for the global view; the
// bool reports whether the tab is tracked.
type PoolStats interface {
	PoolSnapshot(ctx context.Context, tab schema.TabID) (schema.PoolSnapshot, bool, error)
}

// Server serves metrics and pool diagnostics.
type Server struct {
	gatherer prometheus.Gatherer
	stats    PoolStats
}

// NewServer constructs the debug HTTP server.
func NewServer(gatherer prometheus.Gatherer, stats PoolStats) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{gatherer: gatherer, stats: stats}
}

// Handler returns an http.Handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pool", s.handlePool)
	return withRequestLogging(mux)
}

// handlePool reports global occupancy, or one tab with ?tab=<id>.
func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	if s.stats == nil {
		writeError(w, http.StatusServiceUnavailable, schema.ErrHostUnavailable)
		return
	}
	var tab schema.TabID
	if raw := r.URL.Query().Get("tab"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid tab id"))
			return
		}
		tab = schema.TabID(id)
	}
	snap, ok, err := s.stats.PoolSnapshot(r.Context(), tab)
	if err != nil {
		logx.Ctx(r.Context()).Warn("http pool snapshot failed", "err", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, schema.ErrTabNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
