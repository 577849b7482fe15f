package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	strduration "github.com/xhit/go-str2duration/v2"
)

const appName = "miclock"

// Audio backends
const (
	BackendAuto      = "auto"
	BackendCoreAudio = "coreaudio"
	BackendPulse     = "pulse"
	BackendPortAudio = "portaudio"
)

type Config struct {
	LogLevel      string   `json:"log_level"`
	Backend       string   `json:"backend"` // "auto", "coreaudio", "pulse", "portaudio"
	PollInterval    Duration `json:"poll_interval"`
	CatalogInterval Duration `json:"catalog_interval"`
	CallTimeout     Duration `json:"call_timeout"`
	SelectionFile   string   `json:"selection_file"` // empty means next to config.json
	HideDockIcon    bool     `json:"hide_dock_icon"`

	path     string
	fromFile bool
}

// Duration is a time.Duration that reads and writes as a string such as "5s".
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		// Bare numbers are taken as seconds
		var secs float64
		if err2 := json.Unmarshal(b, &secs); err2 != nil {
			return fmt.Errorf("invalid duration %s", b)
		}
		*d = Duration(secs * float64(time.Second))
		return nil
	}
	dur, err := strduration.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogLevel:        "info",
		Backend:         BackendAuto,
		PollInterval:    Duration(5 * time.Second),
		CatalogInterval: Duration(30 * time.Second),
		CallTimeout:     Duration(2 * time.Second),
		HideDockIcon:    true,
	}
}

// Load reads the config from the platform path or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path. A missing file yields defaults.
func LoadFrom(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.path = path

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		cfg.fromFile = true
	case os.IsNotExist(err):
	default:
		return nil, err
	}

	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.Path()

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// WriteDefault writes the default configuration to path.
func WriteDefault(path string) error {
	cfg := Default()
	cfg.path = path
	return cfg.Save()
}

// FromFile reports whether the config was read from disk rather than
// defaulted.
func (c *Config) FromFile() bool {
	return c.fromFile
}

// Path returns the file the config was loaded from.
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// Validate checks field values.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendCoreAudio, BackendPulse, BackendPortAudio:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.CatalogInterval <= 0 {
		return fmt.Errorf("catalog_interval must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}

// PlatformBackend resolves "auto" to the backend for the running OS
func (c *Config) PlatformBackend() string {
	if c.Backend != BackendAuto && c.Backend != "" {
		return c.Backend
	}
	switch runtime.GOOS {
	case "darwin":
		return BackendCoreAudio
	case "linux":
		return BackendPulse
	default:
		return BackendPortAudio
	}
}

// SelectionPath returns where the selected device is persisted.
func (c *Config) SelectionPath() string {
	if c.SelectionFile != "" {
		if p, err := homedir.Expand(c.SelectionFile); err == nil {
			return p
		}
		return c.SelectionFile
	}
	return filepath.Join(filepath.Dir(c.Path()), "selection.json")
}

// configPath returns the platform-specific config file path
func configPath() string {
	home, _ := homedir.Dir()
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = filepath.Join(home, "Library", "Application Support")
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(base, appName, "config.json")
}

// LogPath returns the platform-specific log file path
func LogPath() string {
	home, _ := homedir.Dir()
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = filepath.Join(home, "Library", "Logs")
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = filepath.Join(home, ".local", "state")
		}
	}

	return filepath.Join(base, appName, appName+".log")
}
