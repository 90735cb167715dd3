// Package config handles configuration loading for the HessMap server.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hessmap/server/internal/params"
)

// Config represents the server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Catalog CatalogConfig `yaml:"catalog"`
	Render  RenderConfig  `yaml:"render"`
	Cache   CacheConfig   `yaml:"cache"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig contains HTTP control surface settings.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// CatalogConfig selects and configures the catalog client.
type CatalogConfig struct {
	Source         string          `yaml:"source"` // "skyserver" or "synthetic"
	URL            string          `yaml:"url"`
	TimeoutSeconds int             `yaml:"timeout_seconds"`
	Synthetic      SyntheticConfig `yaml:"synthetic"`
}

// SyntheticConfig configures the offline catalog.
type SyntheticConfig struct {
	Seed      uint64       `yaml:"seed"`
	Density   float64      `yaml:"density"`
	MaxRows   int          `yaml:"max_rows"`
	LatencyMS int          `yaml:"latency_ms"`
	Voids     []VoidConfig `yaml:"voids"`
}

// VoidConfig is an unsurveyed region of the synthetic sky.
type VoidConfig struct {
	RA     float64 `yaml:"ra"`
	Dec    float64 `yaml:"dec"`
	Radius float64 `yaml:"radius"`
}

// RenderConfig contains rendering settings.
type RenderConfig struct {
	Width           int     `yaml:"width"`
	Height          int     `yaml:"height"`
	MarkerScale     float64 `yaml:"marker_scale"`
	DefaultColormap string  `yaml:"default_colormap"`
}

// CacheConfig contains panel cache settings.
type CacheConfig struct {
	PanelSizeMB     int `yaml:"panel_size_mb"`
	PanelTTLMinutes int `yaml:"panel_ttl_minutes"`
	LUTSize         int `yaml:"lut_size"`
}

// SessionConfig holds the initial control values.
type SessionConfig struct {
	RA       *float64 `yaml:"ra"`
	Dec      *float64 `yaml:"dec"`
	Radius   float64  `yaml:"radius"`
	GridSize int      `yaml:"grid"`
	Colormap string   `yaml:"colormap"`
}

// Timeout returns the catalog query timeout.
func (c CatalogConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Latency returns the synthetic catalog latency.
func (c SyntheticConfig) Latency() time.Duration {
	return time.Duration(c.LatencyMS) * time.Millisecond
}

// Snapshot converts the session section to initial parameter values.
func (s SessionConfig) Snapshot() params.Snapshot {
	snap := params.Defaults()
	if s.RA != nil {
		snap.Position.RA = *s.RA
	}
	if s.Dec != nil {
		snap.Position.Dec = *s.Dec
	}
	if s.Radius != 0 {
		snap.Radius = s.Radius
	}
	if s.GridSize != 0 {
		snap.Display.GridSize = s.GridSize
	}
	if s.Colormap != "" {
		snap.Display.Colormap = s.Colormap
	}
	return snap
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Catalog.Source {
	case "skyserver", "synthetic":
	default:
		return fmt.Errorf("unknown catalog source %q", c.Catalog.Source)
	}
	if c.Catalog.TimeoutSeconds < 0 {
		return fmt.Errorf("catalog timeout must not be negative")
	}
	if _, err := params.New(c.Session.Snapshot()); err != nil {
		return fmt.Errorf("invalid session defaults: %w", err)
	}
	return nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        "127.0.0.1:8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			Title:       "HessMap",
		},
		Catalog: CatalogConfig{
			Source:         "skyserver",
			URL:            "https://skyserver.sdss.org/dr18/SkyServerWS/SearchTools/SqlSearch",
			TimeoutSeconds: 600,
			Synthetic: SyntheticConfig{
				Seed:    1,
				Density: 0.5,
				MaxRows: 50000,
			},
		},
		Render: RenderConfig{
			Width:           800,
			Height:          800,
			MarkerScale:     1.5,
			DefaultColormap: "viridis",
		},
		Cache: CacheConfig{
			PanelSizeMB:     64,
			PanelTTLMinutes: 10,
			LUTSize:         32,
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaults.Server.Addr
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if cfg.Catalog.Source == "" {
		cfg.Catalog.Source = defaults.Catalog.Source
	}
	if cfg.Catalog.URL == "" {
		cfg.Catalog.URL = defaults.Catalog.URL
	}
	if cfg.Catalog.TimeoutSeconds == 0 {
		cfg.Catalog.TimeoutSeconds = defaults.Catalog.TimeoutSeconds
	}
	if cfg.Catalog.Synthetic.Density == 0 {
		cfg.Catalog.Synthetic.Density = defaults.Catalog.Synthetic.Density
	}
	if cfg.Catalog.Synthetic.MaxRows == 0 {
		cfg.Catalog.Synthetic.MaxRows = defaults.Catalog.Synthetic.MaxRows
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Height == 0 {
		cfg.Render.Height = defaults.Render.Height
	}
	if cfg.Render.MarkerScale == 0 {
		cfg.Render.MarkerScale = defaults.Render.MarkerScale
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
	if cfg.Cache.PanelSizeMB == 0 {
		cfg.Cache.PanelSizeMB = defaults.Cache.PanelSizeMB
	}
	if cfg.Cache.PanelTTLMinutes == 0 {
		cfg.Cache.PanelTTLMinutes = defaults.Cache.PanelTTLMinutes
	}
	if cfg.Cache.LUTSize == 0 {
		cfg.Cache.LUTSize = defaults.Cache.LUTSize
	}
}
