// Package config loads the producer configuration from a TOML file over
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Built-in defaults. A missing config file yields exactly these.
const (
	DefaultHost              = "127.0.0.1"
	DefaultPort              = 5500
	DefaultVariant           = "landmarks"
	DefaultSource            = "record3d"
	DefaultMaxRetries        = 10
	DefaultRetryDelaySeconds = 2.0
	DefaultMonitorAddr       = ":8080"
	DefaultTelemetryPath     = "lidar_stream_log.csv"
)

// Config holds every tunable of the producer process.
type Config struct {
	// Destination of the frame stream.
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// Wire variant spoken for the whole run: "raw" or "landmarks".
	Variant string `toml:"variant"`

	// Capture source: "record3d", "webcam" or "simulator".
	Source string `toml:"source"`
	Device int    `toml:"device"`

	// Rotation in degrees counterclockwise applied to both planes.
	Rotation int `toml:"rotation"`

	// Connect retry policy.
	MaxRetries        int     `toml:"max_retries"`
	RetryDelaySeconds float64 `toml:"retry_delay_seconds"`

	// Hand detection. Disabling it streams empty landmark payloads.
	Detector bool `toml:"detector"`

	// Per-frame CSV output path.
	TelemetryPath string `toml:"telemetry_path"`

	// Run history database and other state. Empty means ~/.lidarcast.
	DataDir string `toml:"data_dir"`

	// Monitor HTTP server.
	Monitor     bool   `toml:"monitor"`
	MonitorAddr string `toml:"monitor_addr"`

	// System tray integration.
	Tray bool `toml:"tray"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Host:              DefaultHost,
		Port:              DefaultPort,
		Variant:           DefaultVariant,
		Source:            DefaultSource,
		Device:            0,
		Rotation:          0,
		MaxRetries:        DefaultMaxRetries,
		RetryDelaySeconds: DefaultRetryDelaySeconds,
		Detector:          true,
		TelemetryPath:     DefaultTelemetryPath,
		Monitor:           true,
		MonitorAddr:       DefaultMonitorAddr,
		Tray:              false,
	}
}

// Load reads the TOML file at path over the defaults. Keys absent from
// the file keep their default values; unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as empty.
func LoadOrDefault(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Variant {
	case "raw", "landmarks":
	default:
		return fmt.Errorf("variant %q: want raw or landmarks", c.Variant)
	}
	switch c.Source {
	case "record3d", "webcam", "simulator":
	default:
		return fmt.Errorf("source %q: want record3d, webcam or simulator", c.Source)
	}
	if c.Device < 0 {
		return fmt.Errorf("device %d must not be negative", c.Device)
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("rotation %d: want one of 0, 90, 180, 270", c.Rotation)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries %d must be at least 1", c.MaxRetries)
	}
	if c.RetryDelaySeconds < 0 {
		return fmt.Errorf("retry_delay_seconds %v must not be negative", c.RetryDelaySeconds)
	}
	if c.TelemetryPath == "" {
		return fmt.Errorf("telemetry_path must not be empty")
	}
	if c.Monitor && c.MonitorAddr == "" {
		return fmt.Errorf("monitor_addr must not be empty when the monitor is enabled")
	}
	return nil
}

// RetryDelay converts the configured delay to a duration.
func (c Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds * float64(time.Second))
}

// ResolveDataDir returns the configured data directory or ~/.lidarcast,
// creating it if needed.
func (c Config) ResolveDataDir() (string, error) {
	dir := c.DataDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".lidarcast")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dir, nil
}
