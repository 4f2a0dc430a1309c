package core

import (
	"context"
	"fmt"

	"pkt.systems/cursortrail/internal/logx"
	"pkt.systems/cursortrail/schema"
)

// AcquirePolicy controls whether Acquire may create new surfaces.
type AcquirePolicy uint8

const (
	// ReuseOnly fails when no pooled window can be reused.
	ReuseOnly AcquirePolicy = iota
	// BootstrapIfPoolEmpty creates a surface when nothing can be reused.
	BootstrapIfPoolEmpty
)

// AcquireSource names the strategy that satisfied an acquisition.
type AcquireSource uint8

const (
	SourceExact AcquireSource = iota
	SourceScan
	SourceBootstrap
)

func (s AcquireSource) String() string {
	switch s {
	case SourceExact:
		return "exact"
	case SourceScan:
		return "scan"
	case SourceBootstrap:
		return "bootstrap"
	default:
		return "unknown"
	}
}

// AcquiredWindow is a window claimed for the current frame.
type AcquiredWindow struct {
	Handle       schema.WindowBufferHandle
	Source       AcquireSource
	Reconfigured bool
	Epoch        schema.FrameEpoch
}

// ReuseFailures counts the host failures hit during one acquisition.
type ReuseFailures struct {
	MissingWindow     int
	ReconfigureFailed int
	MissingBuffer     int
}

// Total returns the number of recorded failures.
func (f ReuseFailures) Total() int {
	return f.MissingWindow + f.ReconfigureFailed + f.MissingBuffer
}

// Add accumulates other into f.
func (f ReuseFailures) Add(other ReuseFailures) ReuseFailures {
	f.MissingWindow += other.MissingWindow
	f.ReconfigureFailed += other.ReconfigureFailed
	f.MissingBuffer += other.MissingBuffer
	return f
}

// Acquire claims a window at placement for the current frame of tab. It
// tries an exact placement match, then a rotating scan over available
// windows, then (policy permitting) a new surface. A failed candidate is
// invalidated and the next strategy is tried. Failures are always
// returned, also on success.
func (r *Registry) Acquire(ctx context.Context, tab schema.TabID, placement schema.WindowPlacement, policy AcquirePolicy) (AcquiredWindow, ReuseFailures, error) {
	pool := r.pool(tab)
	pool.frameDemand++
	var failures ReuseFailures

	acquired, err := r.acquire(ctx, tab, pool, placement, policy, &failures)
	r.metrics.ObserveReuseFailures(failures.MissingWindow, failures.ReconfigureFailed, failures.MissingBuffer)
	if err != nil {
		return AcquiredWindow{}, failures, err
	}
	r.metrics.ObserveAcquire(acquired.Source.String())
	return acquired, failures, nil
}

func (r *Registry) acquire(ctx context.Context, tab schema.TabID, pool *tabPool, placement schema.WindowPlacement, policy AcquirePolicy, failures *ReuseFailures) (AcquiredWindow, error) {
	if idx, ok := pool.exactCandidate(placement); ok {
		if acquired, ok := r.claim(ctx, tab, pool, idx, placement, SourceExact, failures); ok {
			return acquired, nil
		}
	}
	if idx, ok := pool.nextScanCandidate(); ok {
		if acquired, ok := r.claim(ctx, tab, pool, idx, placement, SourceScan, failures); ok {
			return acquired, nil
		}
	}
	if policy == ReuseOnly {
		failures.MissingWindow++
		return AcquiredWindow{}, fmt.Errorf("acquire tab %d: no reusable window: %w", tab, schema.ErrMissingWindow)
	}
	return r.bootstrap(ctx, tab, pool, placement, failures)
}

// claim validates the window at idx against the host and moves it into
// use. It returns false after invalidating a window the host rejected.
func (r *Registry) claim(ctx context.Context, tab schema.TabID, pool *tabPool, idx int, placement schema.WindowPlacement, source AcquireSource, failures *ReuseFailures) (AcquiredWindow, bool) {
	w := &pool.windows[idx]
	handle := w.handle
	if !r.host.SurfaceIsValid(ctx, handle) {
		logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("pool reuse window missing", "source", source.String())
		pool.invalidate(idx)
		failures.MissingWindow++
		return AcquiredWindow{}, false
	}
	if !r.host.BufferIsValid(ctx, handle) {
		logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("pool reuse buffer missing", "source", source.String())
		failures.MissingBuffer++
		pool.clearPayload(handle.WindowID)
	}
	reconfigure := source == SourceScan || w.needsReconfigure(placement)
	if reconfigure {
		if err := r.host.ReconfigureSurface(ctx, handle, placement, true); err != nil {
			logx.WithPlacement(logx.WithHandle(logx.WithTab(ctx, tab), handle), placement).Debug("pool reuse reconfigure failed", "source", source.String(), "err", err)
			pool.invalidate(idx)
			failures.ReconfigureFailed++
			return AcquiredWindow{}, false
		}
	}
	pool.claim(idx, placement)
	return AcquiredWindow{Handle: handle, Source: source, Reconfigured: reconfigure, Epoch: pool.epoch}, true
}

func (r *Registry) bootstrap(ctx context.Context, tab schema.TabID, pool *tabPool, placement schema.WindowPlacement, failures *ReuseFailures) (AcquiredWindow, error) {
	handle, err := r.host.CreateHiddenSurface(ctx)
	if err != nil {
		return AcquiredWindow{}, fmt.Errorf("acquire tab %d: create surface: %w", tab, err)
	}
	idx := pool.bootstrap(handle, placement)
	if err := r.host.ReconfigureSurface(ctx, handle, placement, true); err != nil {
		pool.invalidate(idx)
		failures.ReconfigureFailed++
		if cerr := r.host.CloseSurface(ctx, handle); cerr != nil {
			logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("pool close failed", "err", cerr)
		}
		return AcquiredWindow{}, fmt.Errorf("acquire tab %d: show window %d: %w: %v", tab, handle.WindowID, schema.ErrReconfigureFailed, err)
	}
	logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("pool window created", "windows", len(pool.windows))
	return AcquiredWindow{Handle: handle, Source: SourceBootstrap, Reconfigured: true, Epoch: pool.epoch}, nil
}
