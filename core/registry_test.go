package core

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"pkt.systems/cursortrail/internal/metrics"
	"pkt.systems/cursortrail/schema"
)

func TestNewRegistryRequiresHost(t *testing.T) {
	if _, err := NewRegistry(RegistryDeps{}); !errors.Is(err, schema.ErrHostUnavailable) {
		t.Fatalf("expected ErrHostUnavailable, got %v", err)
	}
}

func TestReleaseUnusedHidesIdleWindows(t *testing.T) {
	reg, host := newTestRegistry(t)
	runFrame(t, reg, 1, at(0, 0), at(1, 0))
	reg.SetDrawSignature(1, 7)
	if !reg.HasVisibleWindows(1) || host.visibleCount() != 2 {
		t.Fatalf("expected two visible windows")
	}

	ctx := context.Background()
	report := reg.ReleaseUnused(ctx, 1)
	if report.Hidden != 2 || report.InvalidRemoved != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if host.visibleCount() != 0 || reg.HasVisibleWindows(1) {
		t.Fatalf("expected every window hidden")
	}
	if reg.DrawSignatureMatches(1, 7) {
		t.Fatalf("expected draw signature reset after hiding")
	}
	if reg.HasPendingClearWork(1) {
		t.Fatalf("expected no pending work after release")
	}
	if report := reg.ReleaseUnused(ctx, 1); report.Hidden != 0 {
		t.Fatalf("expected second release to be a no-op, got %+v", report)
	}
	snap, _ := reg.TabSnapshot(1)
	if snap.Total != 2 || snap.Available != 2 {
		t.Fatalf("expected pool kept for reuse, got %+v", snap)
	}
}

func TestReleaseUnusedInvalidatesOnHideFailure(t *testing.T) {
	reg, host := newTestRegistry(t)
	first := runFrame(t, reg, 1, at(0, 0), at(1, 0))
	host.failReconfigure[first[1].Handle.WindowID] = true

	report := reg.ReleaseUnused(context.Background(), 1)
	if report.Hidden != 1 || report.InvalidRemoved != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	snap, _ := reg.TabSnapshot(1)
	if snap.Total != 1 {
		t.Fatalf("expected failed window dropped, got %+v", snap)
	}
}

func TestReleaseUnusedClosesInvalidSurfaceStillOpen(t *testing.T) {
	reg, host := newTestRegistry(t)
	first := runFrame(t, reg, 1, at(0, 0), at(1, 0))
	stuck := first[1].Handle.WindowID
	host.failReconfigure[stuck] = true

	report := reg.ReleaseUnused(context.Background(), 1)
	if report.InvalidRemoved != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !slices.Equal(host.closes, []schema.WindowID{stuck}) {
		t.Fatalf("expected window %d closed, got %v", stuck, host.closes)
	}
	if _, ok := host.surfaces[stuck]; ok {
		t.Fatalf("expected window %d gone from the host", stuck)
	}
	if host.visibleCount() != 0 {
		t.Fatalf("expected no visible windows left, got %d", host.visibleCount())
	}
}

func TestReleaseUnusedAll(t *testing.T) {
	reg, host := newTestRegistry(t)
	runFrame(t, reg, 1, at(0, 0))
	runFrame(t, reg, 2, at(0, 0), at(1, 1))
	report := reg.ReleaseUnusedAll(context.Background())
	if report.Hidden != 3 {
		t.Fatalf("expected 3 hidden, got %+v", report)
	}
	if host.visibleCount() != 0 {
		t.Fatalf("expected nothing visible")
	}
	if report := reg.ReleaseUnused(context.Background(), 9); report != (ReleaseReport{}) {
		t.Fatalf("expected unknown tab to be a no-op, got %+v", report)
	}
}

func TestPurgeClosesTrackedAndOrphans(t *testing.T) {
	reg, host := newTestRegistry(t)
	runFrame(t, reg, 1, at(0, 0), at(1, 0))
	runFrame(t, reg, 2, at(0, 0))
	host.addOrphan()

	report := reg.Purge(context.Background())
	if report.Closed != 3 || report.Orphans != 1 || report.Failures != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(host.surfaces) != 0 {
		t.Fatalf("expected every surface closed, %d left", len(host.surfaces))
	}
	if len(reg.Tabs()) != 0 {
		t.Fatalf("expected registry cleared, got %v", reg.Tabs())
	}
	if _, ok := reg.TabSnapshot(1); ok {
		t.Fatalf("expected no snapshot after purge")
	}
}

func TestPurgeContinuesPastFailures(t *testing.T) {
	reg, host := newTestRegistry(t)
	first := runFrame(t, reg, 1, at(0, 0), at(1, 0))
	delete(host.surfaces, first[0].Handle.WindowID)

	report := reg.Purge(context.Background())
	if report.Closed != 1 || report.Failures != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(reg.Tabs()) != 0 {
		t.Fatalf("expected registry cleared despite failures")
	}
}

func TestRecoverInvalidWindowIsIdempotent(t *testing.T) {
	reg, host := newTestRegistry(t)
	first := runFrame(t, reg, 1, at(0, 0), at(1, 0), at(2, 0))
	closed := first[1].Handle.WindowID
	delete(host.surfaces, closed)

	ctx := context.Background()
	if !reg.RecoverInvalidWindow(ctx, 1, closed) {
		t.Fatalf("expected tracked window to be recovered")
	}
	if reg.RecoverInvalidWindow(ctx, 1, closed) {
		t.Fatalf("expected repeat recovery to be a no-op")
	}
	if reg.RecoverInvalidWindow(ctx, 7, closed) {
		t.Fatalf("expected unknown tab to be a no-op")
	}
	snap, _ := reg.TabSnapshot(1)
	if snap.Total != 2 || snap.Available != 2 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	got := runFrame(t, reg, 1, at(0, 0), at(2, 0))
	for i, acquired := range got {
		if acquired.Source != SourceExact || acquired.Handle == first[1].Handle {
			t.Fatalf("acquisition %d: unexpected %+v", i, acquired)
		}
	}
	if host.creates != 3 {
		t.Fatalf("expected no new surfaces, creates=%d", host.creates)
	}
}

func TestRemoveTabClosesSurfaces(t *testing.T) {
	reg, host := newTestRegistry(t)
	runFrame(t, reg, 1, at(0, 0), at(1, 0))
	runFrame(t, reg, 2, at(0, 0))
	if n := reg.RemoveTab(context.Background(), 1); n != 2 {
		t.Fatalf("expected 2 entries dropped, got %d", n)
	}
	if len(host.surfaces) != 1 {
		t.Fatalf("expected only tab 2 surface left, got %d", len(host.surfaces))
	}
	if !slices.Equal(reg.Tabs(), []schema.TabID{2}) {
		t.Fatalf("unexpected tabs %v", reg.Tabs())
	}
}

func TestRolloverReportsStaleClaims(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	reg.BeginTabFrame(ctx, 1, 1)
	if _, _, err := reg.Acquire(ctx, 1, at(0, 0), BootstrapIfPoolEmpty); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	report := reg.RolloverInUseWindows(ctx, 1, reg.CurrentEpoch(1)+5)
	if report.RecoveredStale != 1 || report.Released != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	snap, _ := reg.TabSnapshot(1)
	if snap.InUse != 0 || snap.Available != 1 {
		t.Fatalf("expected window recovered, got %+v", snap)
	}
}

func TestGlobalSnapshotSumsTabs(t *testing.T) {
	reg, _ := newTestRegistry(t)
	runFrame(t, reg, 1, at(0, 0), at(1, 0))
	runFrame(t, reg, 2, at(0, 0))
	snap := reg.GlobalSnapshot()
	if snap.Tabs != 2 || snap.Total != 3 || snap.Available != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.CachedBudget != 2*MinPoolBudget || snap.LastFrameDemand != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRegistryPublishesMetrics(t *testing.T) {
	host := newFakeHost()
	promReg := prometheus.NewRegistry()
	reg, err := NewRegistry(RegistryDeps{Host: host, Metrics: metrics.New(promReg)})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	runFrame(t, reg, 1, at(0, 0))
	runFrame(t, reg, 1, at(0, 0))

	families, err := promReg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := map[string]bool{}
	for _, family := range families {
		found[family.GetName()] = true
	}
	for _, name := range []string{
		"cursortrail_pool_acquires_total",
		"cursortrail_pool_rollovers_total",
		"cursortrail_pool_windows",
	} {
		if !found[name] {
			t.Fatalf("expected metric %s to be exported", name)
		}
	}
	n, err := testutil.GatherAndCount(promReg, "cursortrail_pool_acquires_total")
	if err != nil {
		t.Fatalf("gather and count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected exact and bootstrap series, got %d", n)
	}
}
