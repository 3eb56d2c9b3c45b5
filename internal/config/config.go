package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Room maps a scheduling-system resource to an access-control zone.
type Room struct {
	ResourceID int64  `yaml:"resource_id"`
	ZoneID     string `yaml:"zone_id"`
}

type Config struct {
	ChurchTools struct {
		Host             string  `yaml:"host"`
		LoginToken       string  `yaml:"login_token"`
		GroupTokenPrefix string  `yaml:"group_token_prefix"`
		RequestsPerSec   float64 `yaml:"requests_per_sec"`
	} `yaml:"churchtools"`

	Salto struct {
		BaseURL            string `yaml:"base_url"`
		Username           string `yaml:"username"`
		Password           string `yaml:"password"`
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	} `yaml:"salto"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Sync struct {
		IntervalSeconds int `yaml:"interval_seconds"`
		PreholdHours    int `yaml:"prehold_hours"`
		PostholdHours   int `yaml:"posthold_hours"`
	} `yaml:"sync"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	LogLevel string `yaml:"log_level"`

	Rooms []Room `yaml:"rooms"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.ChurchTools.Host == "" {
		return nil, fmt.Errorf("churchtools.host is required")
	}
	if cfg.ChurchTools.GroupTokenPrefix == "" {
		cfg.ChurchTools.GroupTokenPrefix = "SALTO_ALLOW_"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/saltosync.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SyncInterval returns how often the sync and reconciliation loop runs.
func (c *Config) SyncInterval() time.Duration {
	if c.Sync.IntervalSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// Prehold returns how far into the future bookings are fetched.
func (c *Config) Prehold() time.Duration {
	if c.Sync.PreholdHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Sync.PreholdHours) * time.Hour
}

// Posthold returns how far into the past bookings are fetched. Recently
// ended bookings stay in the window so their revocations are computed.
func (c *Config) Posthold() time.Duration {
	if c.Sync.PostholdHours <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.Sync.PostholdHours) * time.Hour
}

// CacheTTL returns the TTL for cached scheduling-system lookups.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

// RoomZones returns the resource id → zone id map derived from rooms.
func (c *Config) RoomZones() map[int64]string {
	zones := make(map[int64]string, len(c.Rooms))
	for _, r := range c.Rooms {
		zones[r.ResourceID] = r.ZoneID
	}
	return zones
}

// ResourceIDs returns the configured resource ids, in config order.
func (c *Config) ResourceIDs() []int64 {
	ids := make([]int64, 0, len(c.Rooms))
	for _, r := range c.Rooms {
		ids = append(ids, r.ResourceID)
	}
	return ids
}
