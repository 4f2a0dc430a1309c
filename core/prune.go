package core

import (
	"cmp"
	"context"
	"slices"

	"pkt.systems/cursortrail/internal/logx"
	"pkt.systems/cursortrail/schema"
)

// lruPruneIndices selects which available windows to evict so that at most
// keep of them remain. Windows are ranked by (last-used epoch, index); the
// largest keep tuples survive. In-use and invalid windows are never
// candidates. Victims are returned in ascending index order.
func lruPruneIndices(windows []cachedWindow, keep int) []int {
	type candidate struct {
		epoch schema.FrameEpoch
		idx   int
	}
	keep = max(keep, 0)
	candidates := make([]candidate, 0, len(windows))
	for i := range windows {
		if epoch, ok := windows[i].availableEpoch(); ok {
			candidates = append(candidates, candidate{epoch: epoch, idx: i})
		}
	}
	if len(candidates) <= keep {
		return nil
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		if c := cmp.Compare(b.epoch, a.epoch); c != 0 {
			return c
		}
		return cmp.Compare(b.idx, a.idx)
	})
	victims := make([]int, 0, len(candidates)-keep)
	for _, c := range candidates[keep:] {
		victims = append(victims, c.idx)
	}
	slices.Sort(victims)
	return victims
}

// Prune applies the keep budget to every tab and sweeps invalid windows.
// The budget of a tab is its adaptive budget capped by maxKeptWindows.
// It returns the number of windows evicted, invalid sweeps excluded.
func (r *Registry) Prune(ctx context.Context, maxKeptWindows int) int {
	pruned := 0
	for _, tab := range r.Tabs() {
		pruned += r.prunePool(ctx, tab, r.tabs[tab], maxKeptWindows)
	}
	r.metrics.ObservePruned(pruned)
	r.publish()
	return pruned
}

func (r *Registry) prunePool(ctx context.Context, tab schema.TabID, pool *tabPool, maxKeptWindows int) int {
	keep := effectiveKeepBudget(pool.budget.cachedBudget, maxKeptWindows)
	var victims []int
	if len(pool.windows) > keep {
		victims = lruPruneIndices(pool.windows, keep)
	}
	for _, idx := range victims {
		handle := pool.windows[idx].handle
		r.host.ClearDrawnMarks(ctx, handle)
		if err := r.host.CloseSurface(ctx, handle); err != nil {
			logx.WithHandle(logx.WithTab(ctx, tab), handle).Debug("pool prune close failed", "err", err)
		}
	}
	if len(victims) > 0 {
		pool.removeWindows(victims)
		logx.WithTab(ctx, tab).Debug("pool pruned", "evicted", len(victims), "keep", keep, "remaining", len(pool.windows))
	}
	r.sweepInvalid(ctx, tab, pool)
	return len(victims)
}
