// Package config loads the tabsidebar configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lotas/tabsidebar/internal/applog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. TABSIDEBAR_SERVER_PORT.
const EnvPrefix = "TABSIDEBAR"

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Storage     StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Service     ServiceConfig     `mapstructure:"service" yaml:"service"`
	Badge       BadgeConfig       `mapstructure:"badge" yaml:"badge"`
	Extension   ExtensionConfig   `mapstructure:"extension" yaml:"extension"`
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
}

// ServerConfig configures the extension bridge.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// StorageConfig selects the persistence backend. An empty Path uses the
// backend's default location.
type StorageConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ServiceConfig points at the annotation service.
type ServiceConfig struct {
	APIURL              string `mapstructure:"api_url" yaml:"api_url"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
}

// FetchTimeout returns the count fetch timeout.
func (c ServiceConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// BadgeConfig controls the annotation count badge.
type BadgeConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ExtensionConfig holds the pages the extension opens on its own.
type ExtensionConfig struct {
	WelcomeURL string `mapstructure:"welcome_url" yaml:"welcome_url"`
	HelpURL    string `mapstructure:"help_url" yaml:"help_url"`
}

// LogConfig configures the application log.
type LogConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// DiagnosticsConfig bounds the in-memory report list.
type DiagnosticsConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() (Config, error) {
	dataDir, err := DefaultDataDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Server:  ServerConfig{Port: 19193},
		Storage: StorageConfig{Backend: "sqlite"},
		Service: ServiceConfig{
			APIURL:              "https://hypothes.is/api",
			FetchTimeoutSeconds: 10,
		},
		Badge: BadgeConfig{Enabled: true},
		Extension: ExtensionConfig{
			WelcomeURL: "https://web.hypothes.is/welcome/",
			HelpURL:    "https://web.hypothes.is/help/",
		},
		Log:         LogConfig{Dir: dataDir},
		Diagnostics: DiagnosticsConfig{Capacity: 50},
	}, nil
}

// DefaultDataDir returns ~/.local/share/tabsidebar.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "tabsidebar"), nil
}

// DefaultConfigPath returns ~/.config/tabsidebar/config.yaml.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get config directory: %w", err)
	}
	return filepath.Join(dir, "tabsidebar", "config.yaml"), nil
}

func resolvePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultConfigPath()
}

// newViper builds a viper instance with defaults, the config file at path
// if it exists, and environment overrides.
func newViper(path string) (*viper.Viper, bool, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return nil, false, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("service.api_url", cfg.Service.APIURL)
	v.SetDefault("service.fetch_timeout_seconds", cfg.Service.FetchTimeoutSeconds)
	v.SetDefault("badge.enabled", cfg.Badge.Enabled)
	v.SetDefault("extension.welcome_url", cfg.Extension.WelcomeURL)
	v.SetDefault("extension.help_url", cfg.Extension.HelpURL)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("diagnostics.capacity", cfg.Diagnostics.Capacity)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return v, false, nil
		}
		return nil, false, fmt.Errorf("stat config: %w", err)
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, false, fmt.Errorf("read config %s: %w", path, err)
		}
		return v, false, nil
	}
	return v, true, nil
}

// Load reads configuration from path. If path is empty, uses
// DefaultConfigPath. A missing file yields the defaults.
func Load(path string) (Config, error) {
	path, err := resolvePath(path)
	if err != nil {
		return Config{}, err
	}
	v, _, err := newViper(path)
	if err != nil {
		return Config{}, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Log.Dir = expandHome(cfg.Log.Dir)
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.Storage.Backend {
	case "sqlite", "file":
	default:
		return fmt.Errorf("unsupported storage.backend %q", cfg.Storage.Backend)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Service.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("service.fetch_timeout_seconds must be positive")
	}
	if !strings.HasPrefix(cfg.Service.APIURL, "http://") && !strings.HasPrefix(cfg.Service.APIURL, "https://") {
		return fmt.Errorf("service.api_url must be an http(s) URL")
	}
	return nil
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// WriteDefault writes the default config to path. An existing file is
// kept unless overwrite is set.
func WriteDefault(path string, overwrite bool) (string, error) {
	path, err := resolvePath(path)
	if err != nil {
		return "", err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("config already exists at %s", path)
		}
	}

	cfg, err := DefaultConfig()
	if err != nil {
		return "", err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Settings exposes the options that may change while serving.
type Settings struct {
	badge atomic.Bool
}

// NewSettings returns Settings initialised from cfg.
func NewSettings(cfg Config) *Settings {
	s := &Settings{}
	s.badge.Store(cfg.Badge.Enabled)
	return s
}

// BadgeEnabled reports whether annotation counts should be fetched.
func (s *Settings) BadgeEnabled() bool {
	return s.badge.Load()
}

// SetBadgeEnabled changes the badge setting.
func (s *Settings) SetBadgeEnabled(enabled bool) {
	s.badge.Store(enabled)
}

// Watch keeps s in sync with the config file at path. Nothing is watched
// when the file does not exist.
func (s *Settings) Watch(path string) error {
	path, err := resolvePath(path)
	if err != nil {
		return err
	}
	v, loaded, err := newViper(path)
	if err != nil {
		return err
	}
	if !loaded {
		return nil
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		enabled := v.GetBool("badge.enabled")
		if enabled != s.BadgeEnabled() {
			applog.Info("config.badge", "enabled", enabled, "file", e.Name)
		}
		s.SetBadgeEnabled(enabled)
	})
	v.WatchConfig()
	return nil
}
