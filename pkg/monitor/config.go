package monitor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MinUpdateInterval is the floor enforced on the sampling cadence.
const MinUpdateInterval = 500 * time.Millisecond

// Config tunes the monitor engine. Zero-valued fields take defaults; see
// New. Durations in a YAML file are written in Go syntax ("2s", "500ms").
type Config struct {
	// Threshold is the rolling-average CPU percent above which a process
	// is classified High.
	Threshold float64 `yaml:"threshold"`

	// UpdateInterval is the fast-tick cadence. Floored at MinUpdateInterval.
	UpdateInterval time.Duration `yaml:"update_interval"`

	// MaxProcs caps how many processes a full tick introspects.
	MaxProcs int `yaml:"max_procs"`

	// HistoryPoints caps the system-wide trend history ring.
	HistoryPoints int `yaml:"history_points"`

	// CacheTTL is how long a full per-process read stays fresh enough for
	// the cheap CPU/memory-only refresh path.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// AvgWindow is the trailing window for rolling-average CPU.
	AvgWindow time.Duration `yaml:"avg_window"`
}

func defaultConfig() Config {
	return Config{
		Threshold:      70,
		UpdateInterval: 2 * time.Second,
		MaxProcs:       100,
		HistoryPoints:  100,
		CacheTTL:       5 * time.Second,
		AvgWindow:      3 * time.Minute,
	}
}

// mergeConfig overlays positive user overrides onto the defaults.
func mergeConfig(cfg *Config) Config {
	merged := defaultConfig()
	if cfg == nil {
		return merged
	}
	if cfg.Threshold > 0 {
		merged.Threshold = cfg.Threshold
	}
	if cfg.UpdateInterval > 0 {
		merged.UpdateInterval = cfg.UpdateInterval
		if merged.UpdateInterval < MinUpdateInterval {
			merged.UpdateInterval = MinUpdateInterval
		}
	}
	if cfg.MaxProcs > 0 {
		merged.MaxProcs = cfg.MaxProcs
	}
	if cfg.HistoryPoints > 0 {
		merged.HistoryPoints = cfg.HistoryPoints
	}
	if cfg.CacheTTL > 0 {
		merged.CacheTTL = cfg.CacheTTL
	}
	if cfg.AvgWindow > 0 {
		merged.AvgWindow = cfg.AvgWindow
	}
	return merged
}

// UnmarshalYAML decodes durations from Go duration strings, which yaml.v3
// does not do for time.Duration on its own.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Threshold      float64 `yaml:"threshold"`
		UpdateInterval string  `yaml:"update_interval"`
		MaxProcs       int     `yaml:"max_procs"`
		HistoryPoints  int     `yaml:"history_points"`
		CacheTTL       string  `yaml:"cache_ttl"`
		AvgWindow      string  `yaml:"avg_window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Threshold = raw.Threshold
	c.MaxProcs = raw.MaxProcs
	c.HistoryPoints = raw.HistoryPoints

	parse := func(field, s string, dst *time.Duration) error {
		if s == "" {
			return nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: %s: %w", field, err)
		}
		*dst = d
		return nil
	}
	if err := parse("update_interval", raw.UpdateInterval, &c.UpdateInterval); err != nil {
		return err
	}
	if err := parse("cache_ttl", raw.CacheTTL, &c.CacheTTL); err != nil {
		return err
	}
	return parse("avg_window", raw.AvgWindow, &c.AvgWindow)
}

// LoadConfig reads a YAML config file. Missing keys keep their zero value
// and fall back to defaults when the Config is passed to New.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
