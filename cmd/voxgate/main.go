// Command voxgate is the VoxGate real-time voice agent gateway server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxkit/voxgate/internal/config"
	"github.com/voxkit/voxgate/internal/gateway"
	"github.com/voxkit/voxgate/internal/health"
	"github.com/voxkit/voxgate/internal/history"
	"github.com/voxkit/voxgate/internal/observe"
	"github.com/voxkit/voxgate/internal/session"
	"github.com/voxkit/voxgate/internal/websearch"
	"github.com/voxkit/voxgate/pkg/provider/llm/anyllm"
	"github.com/voxkit/voxgate/pkg/provider/stt/assemblyai"
	"github.com/voxkit/voxgate/pkg/provider/tts/murf"
	"github.com/voxkit/voxgate/pkg/types"
)

const defaultVoice = "en-US-natalie"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// No config file is fine: defaults plus environment keys carry a
			// development setup.
			cfg, err = config.LoadFromReader(strings.NewReader(""))
			if err != nil {
				fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
				return 1
			}
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
			return 1
		}
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "voxgate"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	// ── History store ─────────────────────────────────────────────────────────
	var store history.Store
	if dsn := cfg.History.DatabaseURL; dsn != "" {
		pg, err := history.NewPostgresStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to Postgres, falling back to in-memory history", "err", err)
			store = history.NewMemoryStore()
		} else {
			slog.Info("chat history backed by Postgres")
			store = pg
		}
	} else {
		slog.Info("chat history kept in memory")
		store = history.NewMemoryStore()
	}
	defer store.Close()

	// ── Personas ──────────────────────────────────────────────────────────────
	custom := make(map[string]string, len(cfg.Personas))
	for _, p := range cfg.Personas {
		custom[p.Name] = p.Prompt
	}
	personas := session.NewPersonaRegistry(custom)

	// ── Providers ─────────────────────────────────────────────────────────────
	factory := providerFactory(cfg, logger)
	providers, err := factory(session.APIKeys{})
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}
	logProviderStatus(providers)

	// ── Orchestrator and gateway ──────────────────────────────────────────────
	conns := gateway.NewConnManager(metrics, logger)
	orch := session.NewOrchestrator(ctx, session.Config{
		DedupWindow:       cfg.Pipeline.DedupWindow.Std(),
		TTSReceiveTimeout: cfg.Pipeline.TTSReceiveTimeout.Std(),
		WallClockTimeout:  cfg.Pipeline.WallClockTimeout.Std(),
		SweepInterval:     cfg.Pipeline.SweepInterval.Std(),
		MaxQueueDepth:     cfg.Pipeline.MaxQueueDepth,
		MaxTTSContexts:    cfg.Pipeline.MaxTTSContexts,
		ContextMessages:   cfg.History.ContextMessages,
	}, conns, store, personas, factory, providers, metrics, logger)

	ws := gateway.NewHandler(orch, conns, cfg.Server.AllowedOrigins, cfg.Pipeline.NearDupWindow.Std(), metrics, logger)
	api := gateway.NewAPI(orch, conns, ws, "", logger)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	health.New(health.Checker{
		Name: "history",
		Check: func(ctx context.Context) error {
			_, err := store.Sessions(ctx)
			return err
		},
	}).Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server ready — press Ctrl+C to shut down")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		orch.RunSweeper(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if p := orch.Providers(); p != nil && p.TTS != nil {
		if m, ok := p.TTS.(*murf.Provider); ok {
			if err := m.Shutdown(shutdownCtx); err != nil {
				slog.Warn("TTS shutdown error", "err", err)
			}
		}
	}
	if err := otelShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// providerFactory returns the builder the orchestrator calls at startup and on
// every api_keys_update. Runtime keys take precedence over configured ones;
// stages without a key come back nil and the pipeline reports them to the
// client as missing.
func providerFactory(cfg *config.Config, logger *slog.Logger) session.ProviderFactory {
	return func(keys session.APIKeys) (*session.Providers, error) {
		p := &session.Providers{}

		if key := firstNonEmpty(keys.AssemblyAI, cfg.Providers.STT.APIKey); key != "" {
			sttProv, err := assemblyai.New(key)
			if err != nil {
				return nil, fmt.Errorf("building STT provider: %w", err)
			}
			p.STT = sttProv
		}

		llmName := cfg.Providers.LLM.Name
		if llmName == "" {
			llmName = "gemini"
		}
		llmKey := firstNonEmpty(keys.Gemini, cfg.Providers.LLM.APIKey)
		if llmKey != "" || llmName == "ollama" {
			var opts []anyllmlib.Option
			if llmKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(llmKey))
			}
			if cfg.Providers.LLM.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.Providers.LLM.BaseURL))
			}
			llmProv, err := anyllm.New(llmName, cfg.Providers.LLM.Model, opts...)
			if err != nil {
				return nil, fmt.Errorf("building LLM provider: %w", err)
			}
			p.LLM = llmProv
		}

		if key := firstNonEmpty(keys.Murf, cfg.Providers.TTS.APIKey); key != "" {
			var opts []murf.Option
			if cfg.Pipeline.MaxTTSContexts > 0 {
				opts = append(opts, murf.WithMaxContexts(cfg.Pipeline.MaxTTSContexts))
			}
			opts = append(opts, murf.WithLogger(logger))
			ttsProv, err := murf.New(key, opts...)
			if err != nil {
				return nil, fmt.Errorf("building TTS provider: %w", err)
			}
			p.TTS = ttsProv
		}

		if key := firstNonEmpty(keys.Tavily, cfg.Providers.WebSearch.APIKey); key != "" {
			search, err := websearch.New(key)
			if err != nil {
				return nil, fmt.Errorf("building web search client: %w", err)
			}
			p.Search = search
		}

		p.Voice = types.VoiceProfile{
			ID: firstNonEmpty(keys.MurfVoiceID, cfg.Providers.TTS.Voice, defaultVoice),
		}
		return p, nil
	}
}

func logProviderStatus(p *session.Providers) {
	slog.Info("provider status",
		"stt", p.STT != nil,
		"llm", p.LLM != nil,
		"tts", p.TTS != nil,
		"web_search", p.Search != nil,
		"voice", p.Voice.ID,
	)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
