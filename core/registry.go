package core

import (
	"context"
	"maps"
	"slices"

	"pkt.systems/cursortrail/internal/logx"
	"pkt.systems/cursortrail/internal/metrics"
	"pkt.systems/cursortrail/schema"
)

// Registry owns every tab pool and every tracked host surface. It is not
// safe for concurrent use; all calls must come from the event loop.
type Registry struct {
	host    SurfaceHost
	metrics *metrics.Pool
	tabs    map[schema.TabID]*tabPool
}

// ReleaseReport summarizes an idle release pass.
type ReleaseReport struct {
	Hidden         int
	InvalidRemoved int
}

// Add accumulates other into r.
func (r ReleaseReport) Add(other ReleaseReport) ReleaseReport {
	r.Hidden += other.Hidden
	r.InvalidRemoved += other.InvalidRemoved
	return r
}

// PurgeReport summarizes a purge.
type PurgeReport struct {
	Closed   int
	Orphans  int
	Failures int
}

// NewRegistry constructs an empty registry.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Host == nil {
		return nil, schema.ErrHostUnavailable
	}
	return &Registry{
		host:    deps.Host,
		metrics: deps.Metrics,
		tabs:    make(map[schema.TabID]*tabPool),
	}, nil
}

func (r *Registry) pool(tab schema.TabID) *tabPool {
	pool, ok := r.tabs[tab]
	if !ok {
		pool = newTabPool()
		r.tabs[tab] = pool
	}
	return pool
}

// Tabs lists tracked tabs in ascending order.
func (r *Registry) Tabs() []schema.TabID {
	return slices.Sorted(maps.Keys(r.tabs))
}

// BeginTabFrame starts a frame for tab, folding demand into its budget.
// The pool is created on first use.
func (r *Registry) BeginTabFrame(ctx context.Context, tab schema.TabID, demand int) {
	pool := r.pool(tab)
	before := pool.budget.cachedBudget
	pool.beginFrame(demand)
	if pool.budget.cachedBudget != before {
		logx.WithTab(ctx, tab).Debug("pool budget changed", "demand", demand, "from", before, "to", pool.budget.cachedBudget)
	}
}

// CurrentEpoch returns the epoch acquisitions on tab are tagged with.
func (r *Registry) CurrentEpoch(tab schema.TabID) schema.FrameEpoch {
	if pool, ok := r.tabs[tab]; ok {
		return pool.epoch
	}
	return 0
}

// RolloverInUseWindows releases every in-use window of tab. Claims that
// did not belong to previous are reported as recovered.
func (r *Registry) RolloverInUseWindows(ctx context.Context, tab schema.TabID, previous schema.FrameEpoch) RolloverReport {
	pool, ok := r.tabs[tab]
	if !ok {
		return RolloverReport{}
	}
	report := pool.rollover(previous)
	r.observeRollover(ctx, tab, previous, report)
	return report
}

// EndTabFrame rolls over the frame and advances the tab epoch.
func (r *Registry) EndTabFrame(ctx context.Context, tab schema.TabID) RolloverReport {
	pool, ok := r.tabs[tab]
	if !ok {
		return RolloverReport{}
	}
	previous := pool.epoch
	report := pool.endFrame()
	r.observeRollover(ctx, tab, previous, report)
	r.publish()
	return report
}

func (r *Registry) observeRollover(ctx context.Context, tab schema.TabID, previous schema.FrameEpoch, report RolloverReport) {
	r.metrics.ObserveRollover(report.Released, report.RecoveredStale)
	if report.RecoveredStale > 0 {
		logx.WithTab(ctx, tab).Warn("pool rollover recovered stale claims", "epoch", uint64(previous), "recovered", report.RecoveredStale, "released", report.Released)
	}
}

// ReleaseUnused hides every visible unclaimed window of tab and sweeps
// invalid entries. Windows whose hide fails are invalidated and swept.
func (r *Registry) ReleaseUnused(ctx context.Context, tab schema.TabID) ReleaseReport {
	pool, ok := r.tabs[tab]
	if !ok {
		return ReleaseReport{}
	}
	report := r.releasePool(ctx, tab, pool)
	r.publish()
	return report
}

// ReleaseUnusedAll runs ReleaseUnused for every tab.
func (r *Registry) ReleaseUnusedAll(ctx context.Context) ReleaseReport {
	var report ReleaseReport
	for _, tab := range r.Tabs() {
		report = report.Add(r.releasePool(ctx, tab, r.tabs[tab]))
	}
	r.publish()
	return report
}

func (r *Registry) releasePool(ctx context.Context, tab schema.TabID, pool *tabPool) ReleaseReport {
	var report ReleaseReport
	for _, idx := range slices.Clone(pool.visibleAvailable) {
		w := &pool.windows[idx]
		if !w.shouldHide() {
			pool.visibleAvailable = removeValue(pool.visibleAvailable, idx)
			continue
		}
		if err := r.host.ReconfigureSurface(ctx, w.handle, w.placement, false); err != nil {
			logx.WithHandle(logx.WithTab(ctx, tab), w.handle).Warn("pool hide failed", "err", err)
			pool.invalidate(idx)
			continue
		}
		pool.markHidden(idx)
		report.Hidden++
	}
	if report.Hidden > 0 {
		pool.resetDrawSignature()
	}
	report.InvalidRemoved = r.sweepInvalid(ctx, tab, pool)
	r.metrics.ObserveHidden(report.Hidden)
	if report.Hidden > 0 || report.InvalidRemoved > 0 {
		logx.WithTab(ctx, tab).Debug("pool released", "hidden", report.Hidden, "invalid_removed", report.InvalidRemoved)
	}
	return report
}

// sweepInvalid drops invalid entries from tracking. Surfaces the host still
// reports open, such as a window whose hide failed, are closed first.
func (r *Registry) sweepInvalid(ctx context.Context, tab schema.TabID, pool *tabPool) int {
	invalid := pool.invalidIndices()
	if len(invalid) == 0 {
		return 0
	}
	for _, idx := range invalid {
		handle := pool.windows[idx].handle
		if !r.host.SurfaceIsValid(ctx, handle) {
			continue
		}
		r.host.ClearDrawnMarks(ctx, handle)
		if err := r.host.CloseSurface(ctx, handle); err != nil {
			logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("pool invalid close failed", "err", err)
		}
	}
	pool.removeWindows(invalid)
	r.metrics.ObserveInvalidRemoved(len(invalid))
	logx.WithTab(ctx, tab).Debug("pool invalid swept", "removed", len(invalid), "remaining", len(pool.windows))
	return len(invalid)
}

// RecoverInvalidWindow handles a host notice that window was closed out of
// band. It reports whether the window was tracked on tab; repeated calls
// for the same id are no-ops.
func (r *Registry) RecoverInvalidWindow(ctx context.Context, tab schema.TabID, window schema.WindowID) bool {
	pool, ok := r.tabs[tab]
	if !ok {
		return false
	}
	idx, ok := pool.indexOfWindow(window)
	if !ok {
		return false
	}
	logx.WithTab(ctx, tab).Info("pool window closed externally", "win", int(window), "state", pool.windows[idx].state.String())
	pool.invalidate(idx)
	r.sweepInvalid(ctx, tab, pool)
	r.publish()
	return true
}

// RemoveTab stops tracking tab, closing any of its surfaces the host still
// knows about. It returns the number of entries dropped.
func (r *Registry) RemoveTab(ctx context.Context, tab schema.TabID) int {
	pool, ok := r.tabs[tab]
	if !ok {
		return 0
	}
	for i := range pool.windows {
		handle := pool.windows[i].handle
		if !r.host.SurfaceIsValid(ctx, handle) {
			continue
		}
		if err := r.host.CloseSurface(ctx, handle); err != nil {
			logx.WithHandle(logx.WithTab(ctx, tab), handle).Warn("pool close failed", "err", err)
		}
	}
	n := len(pool.windows)
	delete(r.tabs, tab)
	logx.WithTab(ctx, tab).Debug("pool tab removed", "windows", n)
	r.publish()
	return n
}

// Purge closes every tracked surface in every tab, clears the registry and
// closes any marked host surfaces left behind by earlier sessions.
// Failures are counted and do not stop the pass.
func (r *Registry) Purge(ctx context.Context) PurgeReport {
	var report PurgeReport
	log := logx.Ctx(ctx)
	for _, tab := range r.Tabs() {
		pool := r.tabs[tab]
		for i := range pool.windows {
			handle := pool.windows[i].handle
			r.host.ClearDrawnMarks(ctx, handle)
			if err := r.host.CloseSurface(ctx, handle); err != nil {
				report.Failures++
				logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("pool purge close failed", "err", err)
				continue
			}
			report.Closed++
		}
	}
	clear(r.tabs)

	orphans, err := r.host.OrphanSurfaces(ctx)
	if err != nil {
		log.Warn("pool orphan scan failed", "err", err)
	}
	for _, handle := range orphans {
		if err := r.host.CloseSurface(ctx, handle); err != nil {
			report.Failures++
			logx.WithHandle(log, handle).Debug("pool orphan close failed", "err", err)
			continue
		}
		report.Orphans++
	}
	r.metrics.ObservePurged(report.Closed + report.Orphans)
	r.publish()
	log.Info("pool purged", "closed", report.Closed, "orphans", report.Orphans, "failures", report.Failures)
	return report
}

// TabSnapshot returns occupancy for tab, or false if it is not tracked.
func (r *Registry) TabSnapshot(tab schema.TabID) (schema.PoolSnapshot, bool) {
	pool, ok := r.tabs[tab]
	if !ok {
		return schema.PoolSnapshot{}, false
	}
	return pool.snapshot(), true
}

// GlobalSnapshot sums occupancy over every tab.
func (r *Registry) GlobalSnapshot() schema.PoolSnapshot {
	var snap schema.PoolSnapshot
	for _, pool := range r.tabs {
		snap = snap.Add(pool.snapshot())
	}
	return snap
}

func (r *Registry) publish() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetSnapshot(r.GlobalSnapshot())
}

// CachePayload records the content hash drawn into window.
func (r *Registry) CachePayload(tab schema.TabID, window schema.WindowID, hash uint64) {
	r.pool(tab).cachePayload(window, hash)
}

// CachedPayloadMatches reports whether window already shows hash.
func (r *Registry) CachedPayloadMatches(tab schema.TabID, window schema.WindowID, hash uint64) bool {
	pool, ok := r.tabs[tab]
	return ok && pool.cachedPayloadMatches(window, hash)
}

// ClearPayload forgets the content hash of window.
func (r *Registry) ClearPayload(tab schema.TabID, window schema.WindowID) {
	if pool, ok := r.tabs[tab]; ok {
		pool.clearPayload(window)
	}
}

// SetDrawSignature records the fingerprint of the last full frame on tab.
func (r *Registry) SetDrawSignature(tab schema.TabID, sig uint64) {
	r.pool(tab).setDrawSignature(sig)
}

// DrawSignatureMatches reports whether tab last drew a frame with sig.
func (r *Registry) DrawSignatureMatches(tab schema.TabID, sig uint64) bool {
	pool, ok := r.tabs[tab]
	return ok && pool.drawSignatureMatches(sig)
}

// HasPendingClearWork reports whether an idle pass over tab has work to do.
func (r *Registry) HasPendingClearWork(tab schema.TabID) bool {
	pool, ok := r.tabs[tab]
	return ok && pool.hasPendingClearWork()
}

// HasVisibleWindows reports whether tab has any window on screen.
func (r *Registry) HasVisibleWindows(tab schema.TabID) bool {
	pool, ok := r.tabs[tab]
	return ok && pool.hasVisibleWindows()
}
