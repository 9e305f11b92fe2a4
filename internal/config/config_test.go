package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.LLM.Provider != "openaicompat" {
		t.Errorf("expected openaicompat, got %s", cfg.LLM.Provider)
	}
	if cfg.Channels.DefaultMode != ModeLive {
		t.Errorf("expected live, got %s", cfg.Channels.DefaultMode)
	}
	if cfg.Brain.VectorTopK != 10 {
		t.Errorf("expected 10, got %d", cfg.Brain.VectorTopK)
	}
	if len(cfg.Router.TierModels) != 3 {
		t.Errorf("expected 3 tier models, got %d", len(cfg.Router.TierModels))
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[channels]
enabled = true
default_mode = "shadow"

[channels.channels]
webchat = "live"

[brain]
timezone_offset = 9
`), 0644)

	cfg := Load(path)
	if cfg.Channels.DefaultMode != ModeShadow {
		t.Errorf("expected shadow, got %s", cfg.Channels.DefaultMode)
	}
	if cfg.Channels.ModeFor("webchat") != ModeLive {
		t.Errorf("expected webchat live, got %s", cfg.Channels.ModeFor("webchat"))
	}
	if cfg.Channels.ModeFor("cron") != ModeShadow {
		t.Errorf("expected cron to fall back to default_mode shadow, got %s", cfg.Channels.ModeFor("cron"))
	}
	if cfg.Brain.TimezoneOffset != 9 {
		t.Errorf("expected tz 9, got %d", cfg.Brain.TimezoneOffset)
	}
	// Defaults preserved
	if cfg.LLM.Provider != "openaicompat" {
		t.Errorf("default should be preserved, got %s", cfg.LLM.Provider)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("CORTEX_LLM_API_KEY", "env-key")
	t.Setenv("CORTEX_DB_PATH", "/tmp/env-cortex.db")

	cfg := Load("/nonexistent/path.toml")
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("expected env-key, got %s", cfg.LLM.APIKey)
	}
	if cfg.Database.Path != "/tmp/env-cortex.db" {
		t.Errorf("expected overridden db path, got %s", cfg.Database.Path)
	}
}

func TestModeForUnknownChannelFallsBackToOff(t *testing.T) {
	c := ChannelsConfig{}
	if mode := c.ModeFor("whatsapp"); mode != ModeOff {
		t.Errorf("expected off when no default_mode is configured, got %s", mode)
	}
}
