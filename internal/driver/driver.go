// Package driver turns cursor movement into animation frames over the
// window pool.
package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"pkt.systems/cursortrail/core"
	"pkt.systems/cursortrail/internal/logx"
	"pkt.systems/cursortrail/internal/metrics"
	"pkt.systems/cursortrail/internal/trail"
	"pkt.systems/cursortrail/schema"
)

// NotifyLevel mirrors the editor's log levels.
type NotifyLevel int

const (
	LevelInfo  NotifyLevel = 2
	LevelWarn  NotifyLevel = 3
	LevelError NotifyLevel = 4
)

// Painter draws window content and shows user notifications.
type Painter interface {
	DrawPayload(ctx context.Context, handle schema.WindowBufferHandle, payload Payload) error
	Notify(ctx context.Context, msg string, level NotifyLevel) error
}

// Config holds the driver settings.
type Config struct {
	Pool   schema.PoolConfig
	Trail  schema.TrailConfig
	Notify schema.NotifyConfig
}

// Deps captures the driver collaborators.
type Deps struct {
	Registry *core.Registry
	Painter  Painter
	Deferrer core.Deferrer
	Metrics  *metrics.Pool
	Now      func() time.Time
}

// Driver owns per-tab trail state. Like the registry it must only be used
// from the event loop.
type Driver struct {
	cfg      Config
	registry *core.Registry
	painter  Painter
	cleanup  *core.CleanupScheduler
	metrics  *metrics.Pool
	limiter  *rate.Limiter
	now      func() time.Time

	tabs      map[schema.TabID]*tabTrail
	failures  int
	lastPrune time.Time
}

type tabTrail struct {
	state     trail.State
	target    trail.Point
	animating bool
}

// New constructs a driver.
func New(cfg Config, deps Deps) (*Driver, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("driver: missing registry")
	}
	if deps.Painter == nil {
		return nil, fmt.Errorf("driver: missing painter")
	}
	if deps.Deferrer == nil {
		return nil, fmt.Errorf("driver: missing deferrer")
	}
	trailCfg, err := schema.NormalizeTrailConfig(cfg.Trail)
	if err != nil {
		return nil, err
	}
	cfg.Trail = trailCfg
	cfg.Pool = schema.NormalizePoolConfig(cfg.Pool)
	cfg.Notify = schema.NormalizeNotifyConfig(cfg.Notify)
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Driver{
		cfg:      cfg,
		registry: deps.Registry,
		painter:  deps.Painter,
		cleanup:  core.NewCleanupScheduler(deps.Deferrer),
		metrics:  deps.Metrics,
		limiter:  rate.NewLimiter(rate.Every(cfg.Notify.MinInterval), 1),
		now:      now,
		tabs:     make(map[schema.TabID]*tabTrail),
	}, nil
}

// OnCursorMoved retargets the trail of tab. The first position seen for a
// tab only seeds the chain. Any move cancels pending idle cleanup.
func (d *Driver) OnCursorMoved(ctx context.Context, tab schema.TabID, row, col int) {
	target := trail.Point{Row: float64(row), Col: float64(col)}
	tt, ok := d.tabs[tab]
	if !ok {
		d.tabs[tab] = &tabTrail{state: trail.NewState(target, d.cfg.Trail.Segments), target: target}
		return
	}
	if tt.target == target {
		return
	}
	tt.target = target
	if !tt.animating {
		logx.WithTab(ctx, tab).Debug("driver animation start", "row", row, "col", col)
	}
	tt.animating = true
	d.cleanup.Bump()
}

// Animating reports whether any tab has a frame to draw.
func (d *Driver) Animating() bool {
	for _, tt := range d.tabs {
		if tt.animating {
			return true
		}
	}
	return false
}

// Tick advances every animating tab by one frame and prunes pools when
// the prune interval has elapsed.
func (d *Driver) Tick(ctx context.Context) {
	for _, tab := range slices.Sorted(maps.Keys(d.tabs)) {
		tt := d.tabs[tab]
		if !tt.animating {
			continue
		}
		d.step(ctx, tab, tt)
	}
	now := d.now()
	if now.Sub(d.lastPrune) >= d.cfg.Pool.PruneInterval {
		d.lastPrune = now
		d.registry.Prune(ctx, d.cfg.Pool.MaxKeptWindows)
	}
}

func (d *Driver) step(ctx context.Context, tab schema.TabID, tt *tabTrail) {
	next, placements, settled := trail.Step(tt.state, tt.target, d.cfg.Trail)
	tt.state = next
	if settled {
		tt.animating = false
		d.metrics.ObserveFrame("settled")
		d.settle(ctx, tab)
		return
	}
	d.drawFrame(ctx, tab, placements)
}

// drawFrame shows placements on tab. A frame identical to the last one
// drawn is skipped entirely.
func (d *Driver) drawFrame(ctx context.Context, tab schema.TabID, placements []schema.WindowPlacement) {
	sig := drawSignature(placements)
	if d.registry.DrawSignatureMatches(tab, sig) {
		d.metrics.ObserveFrame("skipped")
		return
	}
	ctx = logx.ContextWithTabLogger(ctx, logx.WithTab(ctx, tab), tab)
	d.registry.BeginTabFrame(ctx, tab, len(placements))
	var failures core.ReuseFailures
	errs := 0
	for i, placement := range placements {
		acquired, f, err := d.registry.Acquire(ctx, tab, placement, core.BootstrapIfPoolEmpty)
		failures = failures.Add(f)
		if err != nil {
			errs++
			logx.WithPlacement(logx.WithTab(ctx, tab), placement).Debug("driver acquire failed", "err", err)
			continue
		}
		if !d.draw(ctx, tab, acquired.Handle, segmentPayload(i, d.cfg.Trail.Segments)) {
			errs++
		}
	}
	// Windows still showing the previous frame but not claimed by this one.
	d.registry.ReleaseUnused(ctx, tab)
	d.registry.EndTabFrame(ctx, tab)
	if errs == 0 {
		d.registry.SetDrawSignature(tab, sig)
	}
	d.metrics.ObserveFrame("drawn")
	d.recordFailures(ctx, failures.Total()+errs)
}

func (d *Driver) draw(ctx context.Context, tab schema.TabID, handle schema.WindowBufferHandle, payload Payload) bool {
	hash := payload.Hash()
	if d.registry.CachedPayloadMatches(tab, handle.WindowID, hash) {
		d.metrics.ObserveDraw("cached")
		return true
	}
	if err := d.painter.DrawPayload(ctx, handle, payload); err != nil {
		d.registry.ClearPayload(tab, handle.WindowID)
		if errors.Is(err, schema.ErrMissingBuffer) {
			// The window cannot show a trail without its scratch buffer.
			d.metrics.ObserveDraw("missing_buffer")
			logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("driver draw buffer missing", "err", err)
			d.registry.RecoverInvalidWindow(ctx, tab, handle.WindowID)
			return false
		}
		d.metrics.ObserveDraw("failed")
		logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("driver draw failed", "err", err)
		return false
	}
	d.registry.CachePayload(tab, handle.WindowID, hash)
	d.metrics.ObserveDraw("drawn")
	return true
}

// settle hides the trail of tab, then schedules an idle pass over every
// pool and, after the quiescence delay, purge. Both are dropped if any
// cursor moves first.
func (d *Driver) settle(ctx context.Context, tab schema.TabID) {
	report := d.registry.ReleaseUnused(ctx, tab)
	logx.WithTab(ctx, tab).Debug("driver animation settled", "hidden", report.Hidden)
	d.cleanup.Bump()
	deferred := context.WithoutCancel(ctx)
	d.cleanup.Schedule(d.cfg.Pool.IdleRelease, func() {
		if d.Animating() {
			return
		}
		d.releaseIdle(deferred)
	})
	d.cleanup.Schedule(d.cfg.Pool.PurgeAfter, func() {
		if d.Animating() {
			return
		}
		d.Purge(deferred)
	})
}

func (d *Driver) releaseIdle(ctx context.Context) {
	for _, tab := range d.registry.Tabs() {
		if d.registry.HasPendingClearWork(tab) {
			d.registry.ReleaseUnused(ctx, tab)
		}
	}
	d.registry.Prune(ctx, d.cfg.Pool.MaxKeptWindows)
}

// Purge closes every window and forgets all pools. Trail positions are kept.
func (d *Driver) Purge(ctx context.Context) core.PurgeReport {
	d.cleanup.Bump()
	for _, tt := range d.tabs {
		tt.state = trail.NewState(tt.target, d.cfg.Trail.Segments)
		tt.animating = false
	}
	return d.registry.Purge(ctx)
}

// RetainTabs forgets every tab not listed in live.
func (d *Driver) RetainTabs(ctx context.Context, live []schema.TabID) int {
	keep := make(map[schema.TabID]struct{}, len(live))
	for _, tab := range live {
		keep[tab] = struct{}{}
	}
	removed := 0
	for _, tab := range d.registry.Tabs() {
		if _, ok := keep[tab]; ok {
			continue
		}
		d.registry.RemoveTab(ctx, tab)
		removed++
	}
	for tab := range d.tabs {
		if _, ok := keep[tab]; !ok {
			delete(d.tabs, tab)
		}
	}
	return removed
}

// OnTabClosed forgets tab.
func (d *Driver) OnTabClosed(ctx context.Context, tab schema.TabID) {
	d.registry.RemoveTab(ctx, tab)
	delete(d.tabs, tab)
}

// OnWindowClosed drops a render window the user or a plugin closed. It
// reports whether the window belonged to the pool.
func (d *Driver) OnWindowClosed(ctx context.Context, window schema.WindowID) bool {
	for _, tab := range d.registry.Tabs() {
		if d.registry.RecoverInvalidWindow(ctx, tab, window) {
			return true
		}
	}
	return false
}

// Snapshot returns pool occupancy for tab.
func (d *Driver) Snapshot(tab schema.TabID) (schema.PoolSnapshot, bool) {
	return d.registry.TabSnapshot(tab)
}

// GlobalSnapshot returns pool occupancy summed over every tab.
func (d *Driver) GlobalSnapshot() schema.PoolSnapshot {
	return d.registry.GlobalSnapshot()
}

// recordFailures accumulates pool failures and warns the user once the
// threshold is reached, at most once per notify interval.
func (d *Driver) recordFailures(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	d.failures += n
	if d.failures < d.cfg.Notify.FailureThreshold {
		return
	}
	if !d.limiter.AllowN(d.now(), 1) {
		return
	}
	msg := fmt.Sprintf("cursortrail: %d render window failures, trail may be incomplete", d.failures)
	if err := d.painter.Notify(ctx, msg, LevelWarn); err != nil {
		logx.Ctx(ctx).Warn("driver notify failed", "err", err)
	}
	logx.Ctx(ctx).Warn("driver failures reported", "failures", d.failures)
	d.failures = 0
}
