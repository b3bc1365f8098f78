package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)+"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, err := DefaultConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg != def {
		t.Errorf("config = %+v, want defaults %+v", cfg, def)
	}
	if !cfg.Badge.Enabled {
		t.Error("badge should be enabled by default")
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 20000
storage:
  backend: file
  path: /tmp/states.jsonlz4
badge:
  enabled: false
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 20000 {
		t.Errorf("port = %d, want 20000", cfg.Server.Port)
	}
	if cfg.Storage.Backend != "file" || cfg.Storage.Path != "/tmp/states.jsonlz4" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Badge.Enabled {
		t.Error("badge should be disabled")
	}
	if cfg.Service.APIURL != "https://hypothes.is/api" {
		t.Errorf("unset keys should keep defaults, api_url = %q", cfg.Service.APIURL)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TABSIDEBAR_SERVER_PORT", "31000")
	t.Setenv("TABSIDEBAR_SERVICE_API_URL", "http://localhost:5000/api")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 31000 {
		t.Errorf("port = %d, want 31000", cfg.Server.Port)
	}
	if cfg.Service.APIURL != "http://localhost:5000/api" {
		t.Errorf("api_url = %q", cfg.Service.APIURL)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"unsupported storage.backend": "storage:\n  backend: redis\n",
		"server.port":                 "server:\n  port: 70000\n",
		"service.api_url":             "service:\n  api_url: ftp://example.com\n",
		"fetch_timeout_seconds":       "service:\n  fetch_timeout_seconds: 0\n",
	}
	for want, contents := range tests {
		path := writeConfig(t, contents)
		if _, err := Load(path); err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("Load(%q) err = %v, want %q", contents, err, want)
		}
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := writeConfig(t, "log:\n  dir: ~/logs\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Dir != filepath.Join(home, "logs") {
		t.Errorf("log.dir = %q", cfg.Log.Dir)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	written, err := WriteDefault(path, false)
	if err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	if written != path {
		t.Errorf("written = %q, want %q", written, path)
	}
	if _, err := WriteDefault(path, false); err == nil {
		t.Error("expected error when config exists")
	}
	if _, err := WriteDefault(path, true); err != nil {
		t.Errorf("overwrite: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	def, _ := DefaultConfig()
	if cfg != def {
		t.Errorf("round trip = %+v, want %+v", cfg, def)
	}
}

func TestSettingsWatch(t *testing.T) {
	path := writeConfig(t, "badge:\n  enabled: true\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	s := NewSettings(cfg)
	if !s.BadgeEnabled() {
		t.Fatal("badge should start enabled")
	}
	if err := s.Watch(path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("badge:\n  enabled: false\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for s.BadgeEnabled() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if s.BadgeEnabled() {
		t.Error("badge setting did not follow the config file")
	}
}

func TestSettingsWatchMissingFile(t *testing.T) {
	s := NewSettings(Config{Badge: BadgeConfig{Enabled: true}})
	if err := s.Watch(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if !s.BadgeEnabled() {
		t.Error("setting changed without a config file")
	}
}
