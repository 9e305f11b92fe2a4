// Package config loads Cortex's process configuration: defaults, then a
// TOML file, then environment variable overrides (env wins), mirroring
// nevindra-oasis's internal/config.Load layering.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/cortexlabs/cortex/router"
)

// ChannelMode is one channel's operating mode (spec.md §6 "Per-channel
// mode configuration").
type ChannelMode string

const (
	ModeOff    ChannelMode = "off"
	ModeShadow ChannelMode = "shadow"
	ModeLive   ChannelMode = "live"
)

func (m ChannelMode) IsValid() bool {
	switch m {
	case ModeOff, ModeShadow, ModeLive:
		return true
	default:
		return false
	}
}

type Config struct {
	Channels ChannelsConfig `toml:"channels"`
	LLM      LLMConfig      `toml:"llm"`
	Database DatabaseConfig `toml:"database"`
	Brain    BrainConfig    `toml:"brain"`
	Router   RouterConfig   `toml:"router"`
	Observer ObserverConfig `toml:"observer"`
	Cron     CronConfig     `toml:"cron"`
	Webchat  WebchatConfig  `toml:"webchat"`
	Recovery RecoveryConfig `toml:"recovery"`
}

// RecoveryConfig tunes the root startup recovery sweep (recovery.go),
// distinct from the Router's own recovery (RouterConfig).
type RecoveryConfig struct {
	OrphanAgeHours int `toml:"orphan_age_hours"`
}

// ChannelsConfig is the per-channel mode contract: a channel not listed in
// Modes runs at DefaultMode.
type ChannelsConfig struct {
	Enabled     bool                   `toml:"enabled"`
	DefaultMode ChannelMode            `toml:"default_mode"`
	Modes       map[string]ChannelMode `toml:"channels"`
	Hippocampus HippocampusConfig      `toml:"hippocampus"`
}

type HippocampusConfig struct {
	Enabled bool `toml:"enabled"`
}

// ModeFor returns the configured mode for channel, falling back to
// DefaultMode when the channel has no explicit entry.
func (c ChannelsConfig) ModeFor(channel string) ChannelMode {
	if m, ok := c.Modes[channel]; ok && m.IsValid() {
		return m
	}
	if c.DefaultMode.IsValid() {
		return c.DefaultMode
	}
	return ModeOff
}

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type BrainConfig struct {
	MaxTokens      int    `toml:"max_tokens"`
	VectorTopK     int    `toml:"vector_top_k"`
	TimezoneOffset int    `toml:"timezone_offset"`
	WorkspacePath  string `toml:"workspace_path"`
}

// RouterConfig tunes the job Router: tier ranges/models, retry and poll
// cadence, the evaluator's timeout and fallback weight, and the
// watchdog's hang threshold and tick.
type RouterConfig struct {
	RetryDelaySeconds       int               `toml:"retry_delay_seconds"`
	PollIntervalSeconds     int               `toml:"poll_interval_seconds"`
	EvaluatorTimeoutSeconds int               `toml:"evaluator_timeout_seconds"`
	FallbackWeight          int               `toml:"fallback_weight"`
	HangThresholdSeconds    int               `toml:"hang_threshold_seconds"`
	WatchdogTickSeconds     int               `toml:"watchdog_tick_seconds"`
	TierModels              map[string]string `toml:"tier_models"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

type CronConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

type WebchatConfig struct {
	Addr string `toml:"addr"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Channels: ChannelsConfig{
			Enabled:     true,
			DefaultMode: ModeLive,
			Hippocampus: HippocampusConfig{Enabled: true},
		},
		LLM:      LLMConfig{Provider: "openaicompat", Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small", BaseURL: "https://api.openai.com/v1"},
		Database: DatabaseConfig{Path: "cortex.db"},
		Brain: BrainConfig{
			MaxTokens:      8000,
			VectorTopK:     10,
			TimezoneOffset: 0,
			WorkspacePath:  filepath.Join(home, "cortex-workspace"),
		},
		Router: RouterConfig{
			RetryDelaySeconds:       5,
			PollIntervalSeconds:     1,
			EvaluatorTimeoutSeconds: 10,
			FallbackWeight:          5,
			HangThresholdSeconds:    90,
			WatchdogTickSeconds:     30,
			TierModels: map[string]string{
				string(router.TierHaiku):  "anthropic/claude-haiku-4-5",
				string(router.TierSonnet): "anthropic/claude-sonnet-4-5",
				string(router.TierOpus):   "anthropic/claude-opus-4-1",
			},
		},
		Cron:     CronConfig{IntervalSeconds: 60},
		Webchat:  WebchatConfig{Addr: ":8088"},
		Recovery: RecoveryConfig{OrphanAgeHours: 24},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "cortex.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("CORTEX_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("CORTEX_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("CORTEX_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("CORTEX_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("CORTEX_WEBCHAT_ADDR"); v != "" {
		cfg.Webchat.Addr = v
	}
	if os.Getenv("CORTEX_OBSERVER_ENABLED") == "true" || os.Getenv("CORTEX_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}
