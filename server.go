package cursortrail

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pkt.systems/cursortrail/core"
	"pkt.systems/cursortrail/httpapi"
	"pkt.systems/cursortrail/internal/driver"
	"pkt.systems/cursortrail/internal/loop"
	"pkt.systems/cursortrail/internal/metrics"
	"pkt.systems/cursortrail/internal/nvimhost"
	"pkt.systems/cursortrail/schema"
	"pkt.systems/pslog"
)

// Server runs the trail engine. Editor events and diagnostics requests are
// funneled onto a single event loop.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	nvimhost.Controller
	httpapi.PoolStats
}

// ServerConfig configures the engine.
type ServerConfig struct {
	Pool   schema.PoolConfig
	Trail  schema.TrailConfig
	Notify schema.NotifyConfig
	// HTTPAddr enables the metrics and diagnostics listener when set.
	HTTPAddr string
}

// ServerDeps captures dependencies required to build the server.
type ServerDeps struct {
	Host    core.SurfaceHost
	Painter driver.Painter
	// Registerer receives the pool collectors; nil leaves them unregistered.
	Registerer prometheus.Registerer
	// Gatherer backs /metrics; nil selects the default gatherer.
	Gatherer prometheus.Gatherer
	Now      func() time.Time
}

// New constructs the engine. The event loop starts immediately so the
// controller methods work before Start; frames are only ticked after it.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	if deps.Host == nil {
		return nil, schema.ErrHostUnavailable
	}
	if deps.Painter == nil {
		return nil, errors.New("painter dependency is required")
	}
	trailCfg, err := schema.NormalizeTrailConfig(cfg.Trail)
	if err != nil {
		return nil, err
	}
	cfg.Trail = trailCfg

	poolMetrics := metrics.New(deps.Registerer)
	registry, err := core.NewRegistry(core.RegistryDeps{Host: deps.Host, Metrics: poolMetrics})
	if err != nil {
		return nil, err
	}
	l := loop.New()
	drv, err := driver.New(driver.Config{
		Pool:   cfg.Pool,
		Trail:  cfg.Trail,
		Notify: cfg.Notify,
	}, driver.Deps{
		Registry: registry,
		Painter:  deps.Painter,
		Deferrer: l,
		Metrics:  poolMetrics,
		Now:      deps.Now,
	})
	if err != nil {
		l.Stop()
		return nil, err
	}
	s := &trailServer{
		cfg:    cfg,
		loop:   l,
		driver: drv,
		ctx:    context.Background(),
	}
	if cfg.HTTPAddr != "" {
		s.httpSrv = httpapi.NewServer(deps.Gatherer, s)
	}
	return s, nil
}

type trailServer struct {
	cfg     ServerConfig
	loop    *loop.Loop
	driver  *driver.Driver
	httpSrv *httpapi.Server

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	errCh   chan error
	done    chan struct{}
	started bool
	stopped bool
}

func (s *trailServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	if s.stopped {
		s.mu.Unlock()
		return schema.ErrLoopStopped
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.errCh = make(chan error, 1)
	s.done = make(chan struct{})
	s.started = true
	runCtx := s.ctx
	s.mu.Unlock()

	log := pslog.Ctx(runCtx)
	log.Info(
		"server start",
		"frame_interval", s.cfg.Trail.FrameInterval.String(),
		"segments", s.cfg.Trail.Segments,
		"max_kept_windows", s.cfg.Pool.MaxKeptWindows,
		"http_addr", s.cfg.HTTPAddr,
	)
	go s.tick(runCtx)
	if s.httpSrv != nil {
		go func() {
			if err := httpapi.ListenAndServe(runCtx, s.cfg.HTTPAddr, s.httpSrv.Handler()); err != nil {
				log.Error("http server failed", "err", err)
				s.errCh <- err
			}
		}()
	}
	return nil
}

// tick posts one frame per interval while anything animates. Frames that
// would queue up behind a slow host are skipped.
func (s *trailServer) tick(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.Trail.FrameInterval)
	defer ticker.Stop()
	var pending atomic.Bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !pending.CompareAndSwap(false, true) {
				continue
			}
			if !s.loop.Post(func() {
				defer pending.Store(false)
				if s.driver.Animating() {
					s.driver.Tick(ctx)
				}
			}) {
				return
			}
		}
	}
}

func (s *trailServer) Wait() error {
	s.mu.Lock()
	ctx := s.ctx
	errCh := s.errCh
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			pslog.Ctx(ctx).Error("server stopped", "err", err)
			_ = s.Stop(context.Background())
			return err
		}
		return nil
	}
}

// Stop purges every render window, drains the event loop and cancels the
// server context. It is safe to call more than once.
func (s *trailServer) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	done := s.done
	runCtx := s.ctx
	s.mu.Unlock()

	log := pslog.Ctx(runCtx)
	log.Info("server stop requested")
	err := s.loop.Do(ctx, func() error {
		report := s.driver.Purge(runCtx)
		log.Info("server purge ok", "closed", report.Closed, "orphans", report.Orphans, "failures", report.Failures)
		return nil
	})
	if err != nil {
		log.Warn("server purge failed", "err", err)
	}
	if cancel != nil {
		cancel()
	}
	s.loop.Stop()
	if done == nil {
		log.Info("server stop completed")
		return err
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return err
	}
}

func (s *trailServer) runCtx() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// post queues an editor notification. Notifications never wait for the
// loop: the RPC reader must stay free to serve host replies.
func (s *trailServer) post(fn func(ctx context.Context)) error {
	ctx := s.runCtx()
	if !s.loop.Post(func() { fn(ctx) }) {
		return schema.ErrLoopStopped
	}
	return nil
}

func (s *trailServer) CursorMoved(_ context.Context, tab schema.TabID, row, col int) error {
	return s.post(func(ctx context.Context) {
		s.driver.OnCursorMoved(ctx, tab, row, col)
	})
}

func (s *trailServer) RetainTabs(_ context.Context, live []schema.TabID) error {
	return s.post(func(ctx context.Context) {
		s.driver.RetainTabs(ctx, live)
	})
}

func (s *trailServer) WindowClosed(_ context.Context, window schema.WindowID) error {
	return s.post(func(ctx context.Context) {
		s.driver.OnWindowClosed(ctx, window)
	})
}

func (s *trailServer) Purge(ctx context.Context) (core.PurgeReport, error) {
	var report core.PurgeReport
	runCtx := s.runCtx()
	err := s.loop.Do(ctx, func() error {
		report = s.driver.Purge(runCtx)
		return nil
	})
	return report, err
}

func (s *trailServer) Stats(ctx context.Context) (schema.PoolSnapshot, error) {
	snap, _, err := s.PoolSnapshot(ctx, 0)
	return snap, err
}

func (s *trailServer) PoolSnapshot(ctx context.Context, tab schema.TabID) (schema.PoolSnapshot, bool, error) {
	var snap schema.PoolSnapshot
	found := true
	err := s.loop.Do(ctx, func() error {
		if tab == 0 {
			snap = s.driver.GlobalSnapshot()
			return nil
		}
		snap, found = s.driver.Snapshot(tab)
		return nil
	})
	if err != nil {
		return schema.PoolSnapshot{}, false, err
	}
	return snap, found, nil
}
