package schema

import (
	"errors"
	"time"
)

// PoolConfig controls retention and idle cleanup of render windows.
type PoolConfig struct {
	// MaxKeptWindows is a hard cap on idle windows kept per tab. It always
	// wins over the adaptive budget; zero keeps nothing once idle.
	MaxKeptWindows int
	PruneInterval  time.Duration
	IdleRelease    time.Duration
	PurgeAfter     time.Duration
}

// TrailConfig controls the cursor trail animation.
type TrailConfig struct {
	FrameInterval  time.Duration
	Segments       int
	Stiffness      float64
	SettleDistance float64
	ZIndex         int
}

// NotifyConfig controls user-facing warnings about pool failures.
type NotifyConfig struct {
	FailureThreshold int
	MinInterval      time.Duration
}

const (
	// DefaultMaxKeptWindows is the default per-tab cap on idle windows.
	DefaultMaxKeptWindows = 64
	// DefaultPruneInterval is how often pools are pruned while animating.
	DefaultPruneInterval = 500 * time.Millisecond
	// DefaultIdleRelease is the delay before an idle tab releases its windows.
	DefaultIdleRelease = 120 * time.Millisecond
	// DefaultPurgeAfter is the quiescence delay before every window is closed.
	DefaultPurgeAfter = 60 * time.Second

	// DefaultFrameInterval is the animation frame period.
	DefaultFrameInterval = 16 * time.Millisecond
	// DefaultTrailSegments is the number of points in the trail chain.
	DefaultTrailSegments = 8
	// DefaultTrailStiffness is the per-frame spring factor.
	DefaultTrailStiffness = 0.55
	// DefaultSettleDistance is the distance in cells at which the trail stops.
	DefaultSettleDistance = 0.2
	// DefaultTrailZIndex is the stacking order of trail windows.
	DefaultTrailZIndex = 300

	// DefaultFailureThreshold is the failure count that triggers a warning.
	DefaultFailureThreshold = 8
	// DefaultNotifyInterval is the minimum spacing between warnings.
	DefaultNotifyInterval = 30 * time.Second
)

// NormalizePoolConfig applies defaults to unset values. A negative
// MaxKeptWindows selects the default; zero is kept as configured.
func NormalizePoolConfig(cfg PoolConfig) PoolConfig {
	if cfg.MaxKeptWindows < 0 {
		cfg.MaxKeptWindows = DefaultMaxKeptWindows
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}
	if cfg.IdleRelease <= 0 {
		cfg.IdleRelease = DefaultIdleRelease
	}
	if cfg.PurgeAfter <= 0 {
		cfg.PurgeAfter = DefaultPurgeAfter
	}
	return cfg
}

// NormalizeTrailConfig applies defaults and validates the trail settings.
func NormalizeTrailConfig(cfg TrailConfig) (TrailConfig, error) {
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = DefaultFrameInterval
	}
	if cfg.Segments <= 0 {
		cfg.Segments = DefaultTrailSegments
	}
	if cfg.Stiffness == 0 {
		cfg.Stiffness = DefaultTrailStiffness
	}
	if cfg.SettleDistance <= 0 {
		cfg.SettleDistance = DefaultSettleDistance
	}
	if cfg.ZIndex <= 0 {
		cfg.ZIndex = DefaultTrailZIndex
	}
	if cfg.Stiffness < 0 || cfg.Stiffness > 1 {
		return TrailConfig{}, errors.New("trail stiffness must be within (0, 1]")
	}
	return cfg, nil
}

// NormalizeNotifyConfig applies defaults to unset values.
func NormalizeNotifyConfig(cfg NotifyConfig) NotifyConfig {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultNotifyInterval
	}
	return cfg
}
