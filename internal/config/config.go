// Package config loads the punch engine configuration.
//
// Values come from, in order: built-in defaults, a YAML file named by
// --config or PUNCH_CONFIG, then PUNCH_* environment variables. A .env file
// in the working directory is loaded into the environment first when
// present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"attendance.org/internal/geo"
	"attendance.org/internal/shift"
)

type Config struct {
	API     APIConfig     `yaml:"api"`
	Office  geo.Anchor    `yaml:"office"`
	Shift   ShiftConfig   `yaml:"shift"`
	Punch   PunchConfig   `yaml:"punch"`
	Storage StorageConfig `yaml:"storage"`
	Replay  ReplayConfig  `yaml:"replay"`
	Server  ServerConfig  `yaml:"server"`
}

type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// ShiftConfig is the office shift as wall-clock times in a fixed UTC
// offset.
type ShiftConfig struct {
	Start                 string `yaml:"start"`
	End                   string `yaml:"end"`
	TimezoneOffsetMinutes int    `yaml:"timezone_offset_minutes"`
}

type PunchConfig struct {
	LocationTimeout  time.Duration `yaml:"location_timeout"`
	RolloverInterval time.Duration `yaml:"rollover_interval"`
}

// StorageConfig selects the kv backend: memory, sqlite or postgres.
type StorageConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	PoolSize int    `yaml:"pool_size"`
}

type ReplayConfig struct {
	Interval      time.Duration `yaml:"interval"`
	BatchSize     int           `yaml:"batch_size"`
	RatePerSecond float64       `yaml:"rate_per_second"`
}

// ServerConfig is only read by the development backend.
type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	RateLimit  float64       `yaml:"rate_limit"`
}

func Default() *Config {
	dataDir := ".punch"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".punch")
	}
	return &Config{
		API: APIConfig{BaseURL: "http://localhost:8080", Timeout: 15 * time.Second},
		Shift: ShiftConfig{
			Start: "09:30",
			End:   "18:30",
		},
		Punch: PunchConfig{
			LocationTimeout:  15 * time.Second,
			RolloverInterval: time.Minute,
		},
		Storage: StorageConfig{
			Driver:   "sqlite",
			Path:     filepath.Join(dataDir, "punch.db"),
			PoolSize: 4,
		},
		Replay: ReplayConfig{Interval: 5 * time.Minute, BatchSize: 50, RatePerSecond: 1},
		Server: ServerConfig{
			Addr:       ":8080",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			RateLimit:  20,
		},
	}
}

// Load builds the configuration. An empty path falls back to PUNCH_CONFIG;
// with neither set only defaults and the environment apply.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("PUNCH_CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays PUNCH_* variables. lookup is os.LookupEnv outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"PUNCH_API_URL":        &c.API.BaseURL,
		"PUNCH_SHIFT_START":    &c.Shift.Start,
		"PUNCH_SHIFT_END":      &c.Shift.End,
		"PUNCH_STORAGE_DRIVER": &c.Storage.Driver,
		"PUNCH_STORAGE_PATH":   &c.Storage.Path,
		"PUNCH_DATABASE_URL":   &c.Storage.DSN,
		"PUNCH_SERVER_ADDR":    &c.Server.Addr,
	}
	for k, dst := range str {
		if v, ok := lookup(k); ok && v != "" {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"PUNCH_OFFICE_LAT":    &c.Office.Latitude,
		"PUNCH_OFFICE_LON":    &c.Office.Longitude,
		"PUNCH_OFFICE_RADIUS": &c.Office.RadiusMeters,
	}
	for k, dst := range floats {
		v, ok := lookup(k)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", k, err)
		}
		*dst = f
	}

	if v, ok := lookup("PUNCH_TZ_OFFSET_MINUTES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: PUNCH_TZ_OFFSET_MINUTES: %w", err)
		}
		c.Shift.TimezoneOffsetMinutes = n
	}
	return nil
}

// Window parses the shift section.
func (c *Config) Window() (shift.Window, error) {
	return shift.ParseWindow(c.Shift.Start, c.Shift.End, c.Shift.TimezoneOffsetMinutes)
}

func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.API.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url %q is not an absolute URL", c.API.BaseURL))
	}
	if err := c.Office.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("office: %w", err))
	}
	if _, err := c.Window(); err != nil {
		errs = append(errs, fmt.Errorf("shift: %w", err))
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path is required for sqlite"))
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}
	if c.Punch.LocationTimeout <= 0 || c.Punch.RolloverInterval <= 0 {
		errs = append(errs, errors.New("punch timeouts must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
