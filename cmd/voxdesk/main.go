// Command voxdesk is the main entry point for the Voxdesk AI receptionist
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxdesk/voxdesk/internal/config"
	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/health"
	"github.com/voxdesk/voxdesk/internal/observe"
	"github.com/voxdesk/voxdesk/internal/resilience"
	"github.com/voxdesk/voxdesk/internal/server"
	"github.com/voxdesk/voxdesk/internal/telephony"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/internal/tenant/memstore"
	"github.com/voxdesk/voxdesk/internal/tenant/postgres"
	"github.com/voxdesk/voxdesk/internal/usage"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
	"github.com/voxdesk/voxdesk/pkg/provider/llm/anyllm"
	"github.com/voxdesk/voxdesk/pkg/provider/stt"
	"github.com/voxdesk/voxdesk/pkg/provider/stt/deepgram"
	"github.com/voxdesk/voxdesk/pkg/provider/tts"
	"github.com/voxdesk/voxdesk/pkg/provider/tts/elevenlabs"
	localtts "github.com/voxdesk/voxdesk/pkg/provider/tts/local"
)

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
			fmt.Fprintf(os.Stderr, "voxdesk: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxdesk: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("voxdesk starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxdesk",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "error", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	ps, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "error", err)
		return 1
	}
	if ps.llm == nil {
		slog.Error("an llm provider is required", "hint", "set providers.llm in the config")
		return 1
	}

	llmGroup := resilience.NewLLMFallback(ps.llm, cfg.Providers.LLM.Name, resilience.FallbackConfig{})

	ttsGroup, err := buildSynthesizer(cfg, ps.tts)
	if err != nil {
		slog.Error("failed to build synthesizer", "error", err)
		return 1
	}
	var synth server.Synthesizer
	if ttsGroup != nil {
		synth = ttsGroup
	}

	// The browser voice channel needs both sides of the audio loop.
	var voice *server.VoiceConfig
	if ps.stt != nil && ttsGroup != nil {
		voice = &server.VoiceConfig{
			Recognizer: ps.stt,
			Synth:      ttsGroup,
			Stream:     stt.StreamConfig{SampleRate: 16000, Channels: 1},
		}
		slog.Info("browser voice channel enabled", "stt", cfg.Providers.STT.Name)
	} else if ps.stt != nil {
		slog.Warn("stt provider configured but no synthesizer available, browser voice channel disabled")
	}

	// ── Store ─────────────────────────────────────────────────────────────────
	var (
		store    tenant.Store
		pgStore  *postgres.Store
		checkers []health.Checker
	)
	if dsn := cfg.Database.PostgresDSN; dsn != "" {
		pgStore, err = postgres.NewStore(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			return 1
		}
		defer pgStore.Close()
		store = pgStore
		checkers = append(checkers, health.Checker{Name: "database", Check: pgStore.Ping})
		slog.Info("tenant store ready", "backend", "postgres")
	} else {
		store = memstore.New()
		slog.Warn("no postgres_dsn configured, profiles and call logs are held in memory only")
	}

	// ── Core services ─────────────────────────────────────────────────────────
	eng := engine.New(llmGroup, engine.WithLogger(logger))
	meter := usage.NewMeter(store, logger)

	var (
		callController *telephony.Controller
		validator      *telephony.Validator
	)
	if cfg.Telephony.Enabled {
		validator, err = telephony.NewValidator(cfg.Telephony.AuthToken, cfg.Server.PublicURL, logger)
		if err != nil {
			slog.Error("failed to set up webhook signature validation", "error", err)
			return 1
		}
		callController = telephony.NewController(telephony.Config{
			Store:        store,
			Replier:      eng,
			Meter:        meter,
			PublicURL:    cfg.Server.PublicURL,
			PremiumVoice: cfg.Telephony.PremiumVoice,
			Logger:       logger,
		})
		slog.Info("telephony webhooks enabled", "premium_voice", cfg.Telephony.PremiumVoice)
	}

	settings := server.NewSettings(cfg.Demo.ReplyLimit)

	handler := server.NewRouter(server.RouterConfig{
		Store:     store,
		Replier:   eng,
		Synth:     synth,
		Meter:     meter,
		Telephony: callController,
		Signature: validator,
		Voice:     voice,
		Settings:  settings,
		Health:    health.New(checkers...),
		Logger:    logger,
	})

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		applyReload(old, next, levelVar, callController, settings)
	})
	if err != nil {
		slog.Warn("config watcher not started", "error", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	// ── Serve ─────────────────────────────────────────────────────────────────
	var certFile, keyFile string
	if cfg.Server.TLS != nil {
		certFile, keyFile = cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	}

	srv := server.New(cfg.Server.ListenAddr, handler, certFile, keyFile, logger)

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload pushes the hot-reloadable fields of a changed config into the
// running services. All other fields take effect on the next start.
func applyReload(old, next *config.Config, levelVar *slog.LevelVar, ct *telephony.Controller, settings *server.Settings) {
	d := config.Diff(old, next)
	if !d.Changed() {
		return
	}
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.PremiumVoiceChanged && ct != nil {
		ct.SetPremiumVoice(d.NewPremiumVoice)
		slog.Info("premium voice updated", "enabled", d.NewPremiumVoice)
	}
	if d.DemoReplyLimitChanged {
		settings.SetDemoReplyLimit(d.NewDemoReplyLimit)
		slog.Info("demo reply limit updated", "limit", d.NewDemoReplyLimit)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// providers holds the instantiated model backends named in the config.
type providers struct {
	llm llm.Provider
	stt stt.Recognizer
	tts tts.Synthesizer
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// All hosted backends share the same pattern: optional APIKey + optional
	// BaseURL, routed through any-llm-go.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini", "deepseek", "mistral", "groq",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Recognizer, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if voiceID := optString(entry.Options, "voice_id"); voiceID != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voiceID))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("local", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []localtts.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, localtts.WithLanguage(lang))
		}
		return localtts.New(entry.BaseURL, opts...)
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
func buildProviders(cfg *config.Config, reg *config.Registry) (*providers, error) {
	ps := &providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.llm = p
		slog.Info("provider created", "kind", "llm", "name", name)
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.stt = p
		slog.Info("provider created", "kind", "stt", "name", name)
	}

	if name := cfg.Providers.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		}
		ps.tts = p
		slog.Info("provider created", "kind", "tts", "name", name)
	}

	return ps, nil
}

// buildSynthesizer assembles the synthesis fallback chain. The configured
// provider is the primary; the local server, when configured, is appended as
// the fallback. With no primary, the local server serves alone. Returns nil
// when no synthesizer is configured at all; the synthesis endpoint then
// responds 503.
func buildSynthesizer(cfg *config.Config, primary tts.Synthesizer) (*resilience.TTSFallback, error) {
	localURL := cfg.Providers.LocalTTSURL

	if primary != nil {
		group := resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, resilience.FallbackConfig{})
		if localURL != "" {
			local, err := localtts.New(localURL)
			if err != nil {
				return nil, fmt.Errorf("create local tts fallback: %w", err)
			}
			group.AddFallback("local", local)
		}
		return group, nil
	}

	if localURL != "" {
		local, err := localtts.New(localURL)
		if err != nil {
			return nil, fmt.Errorf("create local tts: %w", err)
		}
		return resilience.NewTTSFallback(local, "local", resilience.FallbackConfig{}), nil
	}

	return nil, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voxdesk — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if cfg.Providers.LocalTTSURL != "" {
		fmt.Printf("║  Local TTS       : %-19s ║\n", "configured")
	} else {
		fmt.Printf("║  Local TTS       : %-19s ║\n", "(disabled)")
	}
	if cfg.Providers.STT.Name != "" && (cfg.Providers.TTS.Name != "" || cfg.Providers.LocalTTSURL != "") {
		fmt.Printf("║  Voice channel   : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Voice channel   : %-19s ║\n", "(disabled)")
	}
	if cfg.Telephony.Enabled {
		fmt.Printf("║  Telephony       : %-19s ║\n", "enabled")
	} else {
		fmt.Printf("║  Telephony       : %-19s ║\n", "(disabled)")
	}
	if cfg.Database.PostgresDSN != "" {
		fmt.Printf("║  Database        : %-19s ║\n", "postgres")
	} else {
		fmt.Printf("║  Database        : %-19s ║\n", "in-memory")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
