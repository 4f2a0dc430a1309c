package schema

import "testing"

func TestNormalizePoolConfigKeepsZeroCap(t *testing.T) {
	cfg := NormalizePoolConfig(PoolConfig{MaxKeptWindows: 0})
	if cfg.MaxKeptWindows != 0 {
		t.Fatalf("expected zero cap to be preserved, got %d", cfg.MaxKeptWindows)
	}
	if cfg.PruneInterval != DefaultPruneInterval {
		t.Fatalf("expected default prune interval, got %s", cfg.PruneInterval)
	}
	cfg = NormalizePoolConfig(PoolConfig{MaxKeptWindows: -1})
	if cfg.MaxKeptWindows != DefaultMaxKeptWindows {
		t.Fatalf("expected default cap, got %d", cfg.MaxKeptWindows)
	}
}

func TestNormalizeTrailConfigRejectsStiffness(t *testing.T) {
	if _, err := NormalizeTrailConfig(TrailConfig{Stiffness: 1.5}); err == nil {
		t.Fatalf("expected stiffness error")
	}
	cfg, err := NormalizeTrailConfig(TrailConfig{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if cfg.Segments != DefaultTrailSegments || cfg.ZIndex != DefaultTrailZIndex {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestPoolSnapshotAdd(t *testing.T) {
	a := PoolSnapshot{Tabs: 1, Total: 3, Available: 2, InUse: 1, CachedBudget: 32, LastFrameDemand: 1}
	b := PoolSnapshot{Tabs: 1, Total: 5, Available: 5, CachedBudget: 40, LastFrameDemand: 4}
	got := a.Add(b)
	want := PoolSnapshot{Tabs: 2, Total: 8, Available: 7, InUse: 1, CachedBudget: 72, LastFrameDemand: 5}
	if got != want {
		t.Fatalf("unexpected sum: %+v", got)
	}
}
