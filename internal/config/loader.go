package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt":        {"assemblyai"},
	"llm":        {"gemini", "openai", "anthropic", "ollama", "deepseek", "mistral", "groq"},
	"tts":        {"murf"},
	"web_search": {"tavily"},
}

// envOverrides maps environment variables to the config field they replace.
// Environment values always win over YAML so keys never have to live in files.
var envOverrides = []struct {
	env   string
	apply func(*Config, string)
}{
	{"ASSEMBLYAI_API_KEY", func(c *Config, v string) { c.Providers.STT.APIKey = v }},
	{"GEMINI_API_KEY", func(c *Config, v string) { c.Providers.LLM.APIKey = v }},
	{"MURF_API_KEY", func(c *Config, v string) { c.Providers.TTS.APIKey = v }},
	{"TAVILY_API_KEY", func(c *Config, v string) { c.Providers.WebSearch.APIKey = v }},
	{"DATABASE_URL", func(c *Config, v string) { c.History.DatabaseURL = v }},
}

// Load reads the YAML configuration file at path, applies environment variable
// overrides, and returns a validated [Config] with defaults filled in.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment variable
// overrides and defaults, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}

	for _, o := range envOverrides {
		if v := os.Getenv(o.env); v != "" {
			o.apply(cfg, v)
		}
	}

	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("web_search", cfg.Providers.WebSearch.Name)

	// Provider availability warnings
	if cfg.Providers.STT.APIKey == "" {
		slog.Warn("providers.stt.api_key is empty; live transcription will be unavailable")
	}
	if cfg.Providers.LLM.APIKey == "" {
		slog.Warn("providers.llm.api_key is empty; agent responses will be unavailable")
	}
	if cfg.Providers.TTS.APIKey == "" {
		slog.Warn("providers.tts.api_key is empty; audio synthesis will be unavailable")
	}
	if cfg.Providers.WebSearch.APIKey == "" {
		slog.Warn("providers.web_search.api_key is empty; web search will be unavailable")
	}
	if cfg.History.DatabaseURL == "" {
		slog.Warn("history.database_url is empty; chat history will not survive restarts")
	}

	// Pipeline sanity
	if cfg.Pipeline.MaxQueueDepth < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_queue_depth %d must not be negative", cfg.Pipeline.MaxQueueDepth))
	}
	if cfg.Pipeline.MaxTTSContexts < 1 {
		errs = append(errs, fmt.Errorf("pipeline.max_tts_contexts %d must be at least 1", cfg.Pipeline.MaxTTSContexts))
	}
	if cfg.Pipeline.WallClockTimeout.Std() <= cfg.Pipeline.TTSReceiveTimeout.Std() {
		errs = append(errs, fmt.Errorf("pipeline.wall_clock_timeout %s must exceed pipeline.tts_receive_timeout %s",
			cfg.Pipeline.WallClockTimeout.Std(), cfg.Pipeline.TTSReceiveTimeout.Std()))
	}

	// Persona duplicate name detection
	personasSeen := make(map[string]int, len(cfg.Personas))
	for i, p := range cfg.Personas {
		prefix := fmt.Sprintf("personas[%d]", i)
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := personasSeen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of personas[%d]", prefix, p.Name, prev))
		}
		personasSeen[p.Name] = i
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
