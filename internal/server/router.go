package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/health"
	"github.com/voxdesk/voxdesk/internal/observe"
	"github.com/voxdesk/voxdesk/internal/telephony"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/internal/usage"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
	"github.com/voxdesk/voxdesk/pkg/provider/tts"
)

// Replier produces receptionist replies in buffered or streaming form.
// *engine.Engine satisfies it.
type Replier interface {
	Reply(ctx context.Context, p *tenant.BusinessProfile, ch engine.Channel, history []llm.Message, userMessage string) (string, error)
	StreamReply(ctx context.Context, p *tenant.BusinessProfile, ch engine.Channel, history []llm.Message, userMessage string) (<-chan llm.Chunk, error)
}

// Synthesizer converts one line of text to audio. *resilience.TTSFallback and
// any tts.Synthesizer satisfy it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req tts.Request) ([]byte, error)
}

// RouterConfig wires the API handlers.
type RouterConfig struct {
	Store   tenant.Store
	Replier Replier
	Synth   Synthesizer
	Meter   *usage.Meter

	// Telephony and Signature enable the webhook routes. Both must be set
	// together; when nil the phone channel is not exposed.
	Telephony *telephony.Controller
	Signature *telephony.Validator

	// Voice enables the browser voice session endpoint. When nil the
	// voice channel is not exposed.
	Voice *VoiceConfig

	// Settings holds the runtime-adjustable knobs, among them the demo
	// reply cap. When nil a default Settings with no cap is used.
	Settings *Settings

	Health  *health.Handler
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

// api holds the handler dependencies behind the router.
type api struct {
	store    tenant.Store
	replier  Replier
	synth    Synthesizer
	meter    *usage.Meter
	voice    *VoiceConfig
	settings *Settings
	metrics  *observe.Metrics
	log      *slog.Logger
}

// NewRouter assembles the full Voxdesk route table. Every route runs behind
// the observe middleware so request duration, traces, and correlation IDs are
// recorded uniformly.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	settings := cfg.Settings
	if settings == nil {
		settings = NewSettings(0)
	}

	a := &api{
		store:    cfg.Store,
		replier:  cfg.Replier,
		synth:    cfg.Synth,
		meter:    cfg.Meter,
		voice:    cfg.Voice,
		settings: settings,
		metrics:  metrics,
		log:      log,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", a.handleChat)
	mux.HandleFunc("POST /api/voice/tts", a.handleSynthesize)
	mux.HandleFunc("GET /api/voice/tts", a.handleSynthesize)
	if cfg.Voice != nil {
		mux.HandleFunc("GET /api/voice/session", a.handleVoiceSession)
	}
	mux.HandleFunc("GET /api/usage", a.handleUsage)
	mux.HandleFunc("GET /api/billing/plans", a.handlePlans)

	if cfg.Telephony != nil && cfg.Signature != nil {
		signed := cfg.Signature.Middleware
		mux.Handle("POST /webhooks/telephony/voice", signed(http.HandlerFunc(cfg.Telephony.HandleVoice)))
		mux.Handle("POST /webhooks/telephony/gather", signed(http.HandlerFunc(cfg.Telephony.HandleGather)))
		mux.Handle("POST /webhooks/telephony/status", signed(http.HandlerFunc(cfg.Telephony.HandleStatus)))
	}

	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(metrics)(mux)
}
