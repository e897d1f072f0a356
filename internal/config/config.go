// Package config provides the configuration schema and loader for the VoxGate
// voice agent gateway.
package config

import (
	"fmt"
	"time"
)

// LogLevel controls log verbosity for the VoxGate server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps time.Duration with YAML support for strings like "30s" and
// "1m30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root configuration structure for VoxGate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	History   HistoryConfig   `yaml:"history"`
	Personas  []PersonaConfig `yaml:"personas"`
}

// ServerConfig holds network and logging settings for the VoxGate server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8000").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// AllowedOrigins lists origins permitted to open WebSocket connections.
	// Empty means all origins are accepted (development mode).
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ProvidersConfig declares the upstream service for each pipeline stage.
type ProvidersConfig struct {
	STT       ProviderEntry `yaml:"stt"`
	LLM       ProviderEntry `yaml:"llm"`
	TTS       ProviderEntry `yaml:"tts"`
	WebSearch ProviderEntry `yaml:"web_search"`
}

// ProviderEntry is the common configuration block shared by all provider types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "assemblyai", "gemini",
	// "murf", "tavily").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. Environment
	// variables override this field (see Load).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g.,
	// "gemini-2.0-flash"). Only meaningful for LLM providers.
	Model string `yaml:"model"`

	// Voice is the default TTS voice identifier (e.g., "en-US-amara").
	// Only meaningful for TTS providers.
	Voice string `yaml:"voice"`
}

// PipelineConfig tunes the per-session streaming pipeline. Zero values are
// replaced with defaults by [ApplyDefaults].
type PipelineConfig struct {
	// DedupWindow is how long a processed utterance suppresses identical
	// re-submissions.
	DedupWindow Duration `yaml:"dedup_window"`

	// NearDupWindow bounds the advisory near-duplicate comparison to recently
	// seen partials and finals.
	NearDupWindow Duration `yaml:"near_dup_window"`

	// TTSReceiveTimeout is the per-wait timeout for streaming TTS audio. Two
	// consecutive timeouts trigger the non-streaming fallback.
	TTSReceiveTimeout Duration `yaml:"tts_receive_timeout"`

	// WallClockTimeout caps total processing time for a single utterance.
	WallClockTimeout Duration `yaml:"wall_clock_timeout"`

	// SweepInterval is how often the safety sweeper scans for stuck sessions.
	SweepInterval Duration `yaml:"sweep_interval"`

	// MaxQueueDepth caps the number of utterances waiting per session.
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// MaxTTSContexts is the local active TTS context budget.
	MaxTTSContexts int `yaml:"max_tts_contexts"`
}

// HistoryConfig holds settings for the chat history store.
type HistoryConfig struct {
	// DatabaseURL is the PostgreSQL connection string for durable history.
	// Empty means history is kept in memory only. The DATABASE_URL environment
	// variable overrides this field.
	DatabaseURL string `yaml:"database_url"`

	// ContextMessages is how many recent messages are included in the LLM
	// prompt.
	ContextMessages int `yaml:"context_messages"`
}

// PersonaConfig describes a selectable agent persona.
type PersonaConfig struct {
	// Name is the persona identifier clients select (e.g., "developer").
	Name string `yaml:"name"`

	// Prompt is the persona's system prompt. When empty, a built-in prompt for
	// well-known persona names is used.
	Prompt string `yaml:"prompt"`

	// Voice overrides the default TTS voice for this persona.
	Voice string `yaml:"voice"`
}

// Default pipeline tuning values.
const (
	DefaultDedupWindow       = 15 * time.Second
	DefaultNearDupWindow     = 8 * time.Second
	DefaultTTSReceiveTimeout = 30 * time.Second
	DefaultWallClockTimeout  = 45 * time.Second
	DefaultSweepInterval     = 30 * time.Second
	DefaultMaxQueueDepth     = 10
	DefaultMaxTTSContexts    = 3
	DefaultContextMessages   = 10
	DefaultListenAddr        = ":8000"
)

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Pipeline.DedupWindow == 0 {
		c.Pipeline.DedupWindow = Duration(DefaultDedupWindow)
	}
	if c.Pipeline.NearDupWindow == 0 {
		c.Pipeline.NearDupWindow = Duration(DefaultNearDupWindow)
	}
	if c.Pipeline.TTSReceiveTimeout == 0 {
		c.Pipeline.TTSReceiveTimeout = Duration(DefaultTTSReceiveTimeout)
	}
	if c.Pipeline.WallClockTimeout == 0 {
		c.Pipeline.WallClockTimeout = Duration(DefaultWallClockTimeout)
	}
	if c.Pipeline.SweepInterval == 0 {
		c.Pipeline.SweepInterval = Duration(DefaultSweepInterval)
	}
	if c.Pipeline.MaxQueueDepth == 0 {
		c.Pipeline.MaxQueueDepth = DefaultMaxQueueDepth
	}
	if c.Pipeline.MaxTTSContexts == 0 {
		c.Pipeline.MaxTTSContexts = DefaultMaxTTSContexts
	}
	if c.History.ContextMessages == 0 {
		c.History.ContextMessages = DefaultContextMessages
	}
}
