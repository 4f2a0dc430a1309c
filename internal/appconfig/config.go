package appconfig

import (
	"os"
	"path/filepath"
	"time"

	"pkt.systems/cursortrail/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int          `mapstructure:"config_version" yaml:"config_version"`
	Nvim          NvimConfig   `mapstructure:"nvim" yaml:"nvim"`
	Pool          PoolConfig   `mapstructure:"pool" yaml:"pool"`
	Trail         TrailConfig  `mapstructure:"trail" yaml:"trail"`
	Notify        NotifyConfig `mapstructure:"notify" yaml:"notify"`
	HTTP          HTTPConfig   `mapstructure:"http" yaml:"http"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// NvimConfig selects how to reach the editor. An empty Listen address
// means the editor started us and talks over stdio.
type NvimConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// PoolConfig controls render window retention.
type PoolConfig struct {
	MaxKeptWindows    int `mapstructure:"max_kept_windows" yaml:"max_kept_windows"`
	PruneIntervalMS   int `mapstructure:"prune_interval_ms" yaml:"prune_interval_ms"`
	IdleReleaseMS     int `mapstructure:"idle_release_ms" yaml:"idle_release_ms"`
	PurgeAfterSeconds int `mapstructure:"purge_after_seconds" yaml:"purge_after_seconds"`
}

// TrailConfig controls the animation.
type TrailConfig struct {
	FrameIntervalMS int     `mapstructure:"frame_interval_ms" yaml:"frame_interval_ms"`
	Segments        int     `mapstructure:"segments" yaml:"segments"`
	Stiffness       float64 `mapstructure:"stiffness" yaml:"stiffness"`
	SettleDistance  float64 `mapstructure:"settle_distance" yaml:"settle_distance"`
	ZIndex          int     `mapstructure:"zindex" yaml:"zindex"`
}

// NotifyConfig controls warnings after repeated pool failures.
type NotifyConfig struct {
	FailureThreshold   int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	MinIntervalSeconds int `mapstructure:"min_interval_seconds" yaml:"min_interval_seconds"`
}

// HTTPConfig configures the optional metrics and diagnostics listener.
// An empty Addr disables it.
type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConfigVersion: CurrentConfigVersion,
		Nvim:          NvimConfig{Listen: ""},
		Pool: PoolConfig{
			MaxKeptWindows:    schema.DefaultMaxKeptWindows,
			PruneIntervalMS:   int(schema.DefaultPruneInterval / time.Millisecond),
			IdleReleaseMS:     int(schema.DefaultIdleRelease / time.Millisecond),
			PurgeAfterSeconds: int(schema.DefaultPurgeAfter / time.Second),
		},
		Trail: TrailConfig{
			FrameIntervalMS: int(schema.DefaultFrameInterval / time.Millisecond),
			Segments:        schema.DefaultTrailSegments,
			Stiffness:       schema.DefaultTrailStiffness,
			SettleDistance:  schema.DefaultSettleDistance,
			ZIndex:          schema.DefaultTrailZIndex,
		},
		Notify: NotifyConfig{
			FailureThreshold:   schema.DefaultFailureThreshold,
			MinIntervalSeconds: int(schema.DefaultNotifyInterval / time.Second),
		},
		HTTP: HTTPConfig{Addr: ""},
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cursortrail", "config.yaml"), nil
}

// PoolSettings converts the file form into pool settings.
func (c Config) PoolSettings() schema.PoolConfig {
	return schema.PoolConfig{
		MaxKeptWindows: c.Pool.MaxKeptWindows,
		PruneInterval:  time.Duration(c.Pool.PruneIntervalMS) * time.Millisecond,
		IdleRelease:    time.Duration(c.Pool.IdleReleaseMS) * time.Millisecond,
		PurgeAfter:     time.Duration(c.Pool.PurgeAfterSeconds) * time.Second,
	}
}

// TrailSettings converts the file form into trail settings.
func (c Config) TrailSettings() schema.TrailConfig {
	return schema.TrailConfig{
		FrameInterval:  time.Duration(c.Trail.FrameIntervalMS) * time.Millisecond,
		Segments:       c.Trail.Segments,
		Stiffness:      c.Trail.Stiffness,
		SettleDistance: c.Trail.SettleDistance,
		ZIndex:         c.Trail.ZIndex,
	}
}

// NotifySettings converts the file form into notify settings.
func (c Config) NotifySettings() schema.NotifyConfig {
	return schema.NotifyConfig{
		FailureThreshold: c.Notify.FailureThreshold,
		MinInterval:      time.Duration(c.Notify.MinIntervalSeconds) * time.Second,
	}
}
