package config

import (
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestLoadFromReaderDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Pipeline.DedupWindow.Std() != DefaultDedupWindow {
		t.Errorf("DedupWindow = %v, want %v", cfg.Pipeline.DedupWindow.Std(), DefaultDedupWindow)
	}
	if cfg.Pipeline.WallClockTimeout.Std() != DefaultWallClockTimeout {
		t.Errorf("WallClockTimeout = %v, want %v", cfg.Pipeline.WallClockTimeout.Std(), DefaultWallClockTimeout)
	}
	if cfg.Pipeline.MaxTTSContexts != DefaultMaxTTSContexts {
		t.Errorf("MaxTTSContexts = %d, want %d", cfg.Pipeline.MaxTTSContexts, DefaultMaxTTSContexts)
	}
	if cfg.History.ContextMessages != DefaultContextMessages {
		t.Errorf("ContextMessages = %d, want %d", cfg.History.ContextMessages, DefaultContextMessages)
	}
}

func TestLoadFromReaderFullConfig(t *testing.T) {
	const raw = `
server:
  listen_addr: ":9000"
  log_level: debug
providers:
  stt:
    name: assemblyai
    api_key: aai-key
  llm:
    name: gemini
    api_key: gem-key
    model: gemini-2.0-flash
  tts:
    name: murf
    api_key: murf-key
    voice: en-US-amara
  web_search:
    name: tavily
    api_key: tvly-key
pipeline:
  dedup_window: 20s
  tts_receive_timeout: 10s
  wall_clock_timeout: 1m
history:
  context_messages: 5
personas:
  - name: developer
  - name: aizen
    voice: en-US-ken
`
	cfg, err := LoadFromReader(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Providers.LLM.Model != "gemini-2.0-flash" {
		t.Errorf("LLM.Model = %q", cfg.Providers.LLM.Model)
	}
	if cfg.Pipeline.DedupWindow.Std() != 20*time.Second {
		t.Errorf("DedupWindow = %v, want 20s", cfg.Pipeline.DedupWindow.Std())
	}
	if cfg.Pipeline.WallClockTimeout.Std() != time.Minute {
		t.Errorf("WallClockTimeout = %v, want 1m", cfg.Pipeline.WallClockTimeout.Std())
	}
	// Unset durations still get defaults.
	if cfg.Pipeline.SweepInterval.Std() != DefaultSweepInterval {
		t.Errorf("SweepInterval = %v, want %v", cfg.Pipeline.SweepInterval.Std(), DefaultSweepInterval)
	}
	if len(cfg.Personas) != 2 || cfg.Personas[1].Voice != "en-US-ken" {
		t.Errorf("Personas = %+v", cfg.Personas)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader("server:\n  listen_adress: \":9000\"\n"))
	if err == nil {
		t.Fatal("expected error for misspelled field, got nil")
	}
}

func TestLoadFromReaderEnvOverrides(t *testing.T) {
	t.Setenv("MURF_API_KEY", "env-murf-key")
	t.Setenv("DATABASE_URL", "postgres://env@localhost/voxgate")

	cfg, err := LoadFromReader(strings.NewReader("providers:\n  tts:\n    api_key: file-key\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.TTS.APIKey != "env-murf-key" {
		t.Errorf("TTS.APIKey = %q, want env override", cfg.Providers.TTS.APIKey)
	}
	if cfg.History.DatabaseURL != "postgres://env@localhost/voxgate" {
		t.Errorf("DatabaseURL = %q, want env override", cfg.History.DatabaseURL)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantSub: "server.log_level",
		},
		{
			name:    "negative queue depth",
			mutate:  func(c *Config) { c.Pipeline.MaxQueueDepth = -1 },
			wantSub: "max_queue_depth",
		},
		{
			name: "wall clock below tts timeout",
			mutate: func(c *Config) {
				c.Pipeline.TTSReceiveTimeout = Duration(time.Minute)
				c.Pipeline.WallClockTimeout = Duration(30 * time.Second)
			},
			wantSub: "wall_clock_timeout",
		},
		{
			name: "duplicate persona",
			mutate: func(c *Config) {
				c.Personas = []PersonaConfig{{Name: "developer"}, {Name: "developer"}}
			},
			wantSub: "duplicate",
		},
		{
			name: "persona without name",
			mutate: func(c *Config) {
				c.Personas = []PersonaConfig{{Prompt: "You are helpful."}}
			},
			wantSub: "name is required",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			tc.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("error %q missing %q", err, tc.wantSub)
			}
		})
	}
}

func TestDurationRoundTrip(t *testing.T) {
	var d Duration
	if err := yaml.Unmarshal([]byte(`"1m30s"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d.Std() != 90*time.Second {
		t.Errorf("parsed = %v, want 1m30s", d.Std())
	}

	out, err := yaml.Marshal(d)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.TrimSpace(string(out)) != "1m30s" {
		t.Errorf("marshalled = %q, want 1m30s", out)
	}

	if err := yaml.Unmarshal([]byte(`"soon"`), &d); err == nil {
		t.Error("expected error for invalid duration, got nil")
	}
}
