package appconfig

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from the provided path. If path is empty, uses DefaultConfigPath.
// A missing file yields the defaults. CURSORTRAIL_<SECTION>_<KEY> environment
// variables override both.
func Load(path string) (Config, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return Config{}, err
		}
		path = defaultPath
	}

	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CURSORTRAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("nvim.listen", cfg.Nvim.Listen)
	v.SetDefault("pool.max_kept_windows", cfg.Pool.MaxKeptWindows)
	v.SetDefault("pool.prune_interval_ms", cfg.Pool.PruneIntervalMS)
	v.SetDefault("pool.idle_release_ms", cfg.Pool.IdleReleaseMS)
	v.SetDefault("pool.purge_after_seconds", cfg.Pool.PurgeAfterSeconds)
	v.SetDefault("trail.frame_interval_ms", cfg.Trail.FrameIntervalMS)
	v.SetDefault("trail.segments", cfg.Trail.Segments)
	v.SetDefault("trail.stiffness", cfg.Trail.Stiffness)
	v.SetDefault("trail.settle_distance", cfg.Trail.SettleDistance)
	v.SetDefault("trail.zindex", cfg.Trail.ZIndex)
	v.SetDefault("notify.failure_threshold", cfg.Notify.FailureThreshold)
	v.SetDefault("notify.min_interval_seconds", cfg.Notify.MinIntervalSeconds)
	v.SetDefault("http.addr", cfg.HTTP.Addr)

	configLoaded := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return Config{}, err
		}
	} else {
		configLoaded = true
	}

	if configLoaded {
		if !v.InConfig("config_version") {
			return Config{}, fmt.Errorf("config_version is required; expected %d", CurrentConfigVersion)
		}
		if v.GetInt("config_version") != CurrentConfigVersion {
			return Config{}, fmt.Errorf("unsupported config_version %d; expected %d", v.GetInt("config_version"), CurrentConfigVersion)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	expandConfigEnv(&cfg)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Pool.MaxKeptWindows < 0 {
		return fmt.Errorf("pool.max_kept_windows must not be negative")
	}
	if cfg.Pool.PruneIntervalMS <= 0 {
		return fmt.Errorf("pool.prune_interval_ms must be positive")
	}
	if cfg.Pool.IdleReleaseMS <= 0 {
		return fmt.Errorf("pool.idle_release_ms must be positive")
	}
	if cfg.Pool.PurgeAfterSeconds <= 0 {
		return fmt.Errorf("pool.purge_after_seconds must be positive")
	}
	if cfg.Trail.FrameIntervalMS <= 0 {
		return fmt.Errorf("trail.frame_interval_ms must be positive")
	}
	if cfg.Trail.Segments <= 0 {
		return fmt.Errorf("trail.segments must be positive")
	}
	if cfg.Trail.Stiffness <= 0 || cfg.Trail.Stiffness > 1 {
		return fmt.Errorf("trail.stiffness must be within (0, 1]")
	}
	if cfg.Trail.SettleDistance <= 0 {
		return fmt.Errorf("trail.settle_distance must be positive")
	}
	if cfg.Trail.ZIndex <= 0 {
		return fmt.Errorf("trail.zindex must be positive")
	}
	if cfg.Notify.FailureThreshold <= 0 {
		return fmt.Errorf("notify.failure_threshold must be positive")
	}
	if cfg.Notify.MinIntervalSeconds <= 0 {
		return fmt.Errorf("notify.min_interval_seconds must be positive")
	}
	if addr := strings.TrimSpace(cfg.HTTP.Addr); addr != "" {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("http.addr must be host:port: %w", err)
		}
	}
	return nil
}

func expandConfigEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Nvim.Listen = expandEnv(cfg.Nvim.Listen)
	cfg.HTTP.Addr = expandEnv(cfg.HTTP.Addr)
}

func expandEnv(value string) string {
	if value == "" {
		return value
	}
	return os.Expand(value, func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookupEnv(key); ok {
			return val
		}
		return "$" + key
	})
}

func lookupEnv(key string) (string, bool) {
	if val, ok := os.LookupEnv(key); ok {
		return val, true
	}
	switch key {
	case "UID":
		return fmt.Sprintf("%d", os.Getuid()), true
	case "GID":
		return fmt.Sprintf("%d", os.Getgid()), true
	}
	return "", false
}

// WriteDefault writes the default config to the target path.
func WriteDefault(path string, overwrite bool) (string, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", err
		}
		path = defaultPath
	}

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}
