package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Client configures the clipctl command-line client.
type Client struct {
	BaseURL         string         `toml:"base_url"`
	KeystorePath    string         `toml:"keystore_path"`
	LogLevel        string         `toml:"log_level"`
	RequestTimeout  int            `toml:"request_timeout"`
	LocationTimeout int            `toml:"location_timeout"`
	Capture         CaptureDevice  `toml:"capture"`
	Location        StaticLocation `toml:"location"`
}

// CaptureDevice describes the local recording hardware.
type CaptureDevice struct {
	FFmpegPath   string `toml:"ffmpeg_path"`
	VideoDevice  string `toml:"video_device"`
	AudioDevice  string `toml:"audio_device"`
	OutputDir    string `toml:"output_dir"`
	DeviceModel  string `toml:"device_model"`
	DeviceBrand  string `toml:"device_brand"`
	MaxDurationS int    `toml:"max_duration_seconds"`
}

// StaticLocation is a fixed position reported as the device location. Enabled
// false means location permission was never granted.
type StaticLocation struct {
	Enabled   bool    `toml:"enabled"`
	Latitude  float64 `toml:"latitude"`
	Longitude float64 `toml:"longitude"`
}

// BaseURLEnv overrides the configured backend base URL.
const BaseURLEnv = "GEOCLIP_BASE_URL"

// DefaultClientPath returns $XDG_CONFIG_HOME/geoclip/config.toml.
func DefaultClientPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DefaultClient returns the client configuration used when no file exists.
func DefaultClient() Client {
	keystore := "keystore.json"
	if dir, err := configDir(); err == nil {
		keystore = filepath.Join(dir, "keystore.json")
	}
	return Client{
		BaseURL:         "http://localhost:8001",
		KeystorePath:    keystore,
		LogLevel:        "warn",
		RequestTimeout:  30,
		LocationTimeout: 5,
		Capture: CaptureDevice{
			FFmpegPath:   "ffmpeg",
			VideoDevice:  "/dev/video0",
			AudioDevice:  "default",
			OutputDir:    os.TempDir(),
			MaxDurationS: 60,
		},
	}
}

// LoadClient reads the TOML file at path over the defaults. A missing file is
// not an error.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()

	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return Client{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Client{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if env := strings.TrimSpace(os.Getenv(BaseURLEnv)); env != "" {
		cfg.BaseURL = env
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if err := cfg.Validate(); err != nil {
		return Client{}, err
	}
	return cfg, nil
}

// Validate checks required client settings.
func (c Client) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("base_url %q must start with http:// or https://", c.BaseURL)
	}
	if strings.TrimSpace(c.KeystorePath) == "" {
		return errors.New("keystore_path is required")
	}
	if c.LocationTimeout < 0 || c.RequestTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Location.Enabled {
		if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
			return fmt.Errorf("location.latitude %v out of range", c.Location.Latitude)
		}
		if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
			return fmt.Errorf("location.longitude %v out of range", c.Location.Longitude)
		}
	}
	return nil
}

// LocationWait returns the bounded location fix timeout.
func (c Client) LocationWait() time.Duration {
	if c.LocationTimeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.LocationTimeout) * time.Second
}

// RequestWait returns the timeout applied to non-upload API calls.
func (c Client) RequestWait() time.Duration {
	if c.RequestTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

// Encode renders the configuration as TOML.
func (c Client) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func configDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "geoclip"), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "geoclip"), nil
}
