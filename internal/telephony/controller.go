// Package telephony answers inbound phone calls. It speaks the call-control
// XML dialect of the telephony provider: the voice webhook greets the caller
// (after the quota gate), the gather webhook turns each speech result into a
// receptionist reply, and the status webhook settles usage when the call
// completes. Webhook requests are only accepted with a valid signature.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"

	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/internal/usage"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
)

// Spoken fallback lines.
const (
	msgUnknownNumber = "Sorry, this number is not configured."
	msgQuotaReached  = "I am sorry, this business has reached its monthly call limit. Please contact them via email or check their website."
	msgConfigError   = "Sorry, configuration error."
	msgServerError   = "Sorry, an error occurred."
	msgNoInput       = "I didn't catch that. Please say something or press any key."
	msgFollowUp      = "Is there anything else I can help with?"
)

// Replier produces one voice reply from a caller utterance. *engine.Engine
// satisfies it.
type Replier interface {
	Reply(ctx context.Context, p *tenant.BusinessProfile, ch engine.Channel, history []llm.Message, userMessage string) (string, error)
}

// Config wires a Controller.
type Config struct {
	// Store persists profiles and call logs.
	Store tenant.Store

	// Replier produces receptionist replies.
	Replier Replier

	// Meter gates and settles voice minute usage.
	Meter *usage.Meter

	// PublicURL is the externally visible base URL of this server, used to
	// build callback and synthesis URLs.
	PublicURL string

	// PremiumVoice enables Play verbs against the synthesis endpoint.
	// When false every line is spoken with the carrier's basic voice.
	PremiumVoice bool

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller implements the telephony webhooks.
type Controller struct {
	store   tenant.Store
	replier Replier
	meter   *usage.Meter
	baseURL string
	premium atomic.Bool
	log     *slog.Logger
}

// NewController creates a Controller from cfg.
func NewController(cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{
		store:   cfg.Store,
		replier: cfg.Replier,
		meter:   cfg.Meter,
		baseURL: cfg.PublicURL,
		log:     log,
	}
	c.premium.Store(cfg.PremiumVoice)
	return c
}

// SetPremiumVoice switches between synthesized and carrier voices. Safe to
// call while calls are in flight; it applies to the next rendered verb.
func (c *Controller) SetPremiumVoice(enabled bool) {
	c.premium.Store(enabled)
}

// writeDocument renders and sends a call-control document.
func (c *Controller) writeDocument(w http.ResponseWriter, d *Document) {
	body, err := d.Render()
	if err != nil {
		c.log.Error("render call document", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(body))
}

// sayAndHangup is the terse error response shape used by every failure path.
func (c *Controller) sayAndHangup(w http.ResponseWriter, line string) {
	c.writeDocument(w, NewDocument().Say(line).Hangup())
}

// speak adds the reply either as premium synthesis or as a basic Say verb.
func (c *Controller) speak(d *Document, profileID, text string) {
	if c.premium.Load() {
		d.Play(c.synthURL(profileID, text))
		return
	}
	d.Say(text)
}

// synthURL builds the synthesis endpoint URL for a line of text.
func (c *Controller) synthURL(profileID, text string) string {
	q := url.Values{}
	q.Set("business_id", profileID)
	q.Set("text", text)
	return c.baseURL + "/api/voice/tts?" + q.Encode()
}

// gatherAction builds the gather callback URL for a call.
func (c *Controller) gatherAction(profileID, callSID string) string {
	q := url.Values{}
	q.Set("business_id", profileID)
	q.Set("call_sid", callSID)
	return "/webhooks/telephony/gather?" + q.Encode()
}

// HandleVoice answers a newly connected call: resolve the profile by the
// dialed number, enforce the minute quota before any greeting, open the call
// log, then greet and listen. Rejected calls never create a call log.
func (c *Controller) HandleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	to := r.PostForm.Get("To")
	from := r.PostForm.Get("From")
	callSID := r.PostForm.Get("CallSid")
	// Set when the no-input path has already redirected here once.
	retried := r.Form.Get("retry") != ""
	ctx := r.Context()

	c.log.Info("incoming call", "from", from, "to", to, "call_sid", callSID, "retry", retried)

	profile, err := c.store.GetProfileByPhone(ctx, to)
	if err != nil {
		if !errors.Is(err, tenant.ErrNotFound) {
			c.log.Error("profile lookup failed", "error", err)
		}
		c.sayAndHangup(w, msgUnknownNumber)
		return
	}

	if err := c.meter.Check(profile); err != nil {
		c.log.Info("call blocked by quota",
			"profile_id", profile.ID,
			"minutes_used", profile.MinutesUsed,
			"minutes_limit", profile.MinutesLimit)
		c.sayAndHangup(w, msgQuotaReached)
		return
	}

	// The call log is opened on the first pass only; a no-input redirect
	// re-enters with the log already in place.
	if !retried {
		if err := c.store.StartCall(ctx, &tenant.CallLog{
			ProfileID: profile.ID,
			CallSID:   callSID,
			From:      from,
			Status:    "ringing",
		}); err != nil {
			c.log.Error("start call log", "error", err)
			c.sayAndHangup(w, msgServerError)
			return
		}
	}

	greeting := profile.Greeting
	if greeting == "" {
		greeting = fmt.Sprintf("Hello, you've reached %s. How can I help you?", profile.Name)
	}

	d := NewDocument()
	c.speak(d, profile.ID, greeting)
	d.GatherSpeech(c.gatherAction(profile.ID, callSID))
	d.Say(msgNoInput)
	// Silence gets one replay of the greeting; a silent retry ends the call.
	if retried {
		d.Hangup()
	} else {
		d.Redirect("/webhooks/telephony/voice?retry=1")
	}
	c.writeDocument(w, d)
}

// HandleGather processes one caller utterance: replay the accumulated call
// transcript as conversation history, produce a reply, append both turns to
// the transcript, and keep listening.
func (c *Controller) HandleGather(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	speech := r.PostForm.Get("SpeechResult")
	profileID := r.Form.Get("business_id")
	callSID := r.Form.Get("call_sid")

	profile, err := c.store.GetProfile(ctx, profileID)
	if err != nil {
		c.sayAndHangup(w, msgConfigError)
		return
	}

	if speech == "" {
		speech = "Hello"
	}

	history := c.callHistory(ctx, callSID)
	reply, err := c.replier.Reply(ctx, profile, engine.ChannelVoice, history, speech)
	if err != nil && reply == "" {
		c.log.Error("voice reply failed", "call_sid", callSID, "error", err)
		c.sayAndHangup(w, msgServerError)
		return
	}

	if err := c.store.AppendTurn(ctx, callSID, tenant.Turn{Role: tenant.RoleCaller, Content: speech}); err != nil {
		c.log.Error("append caller turn", "call_sid", callSID, "error", err)
	}
	if err := c.store.AppendTurn(ctx, callSID, tenant.Turn{Role: tenant.RoleAssistant, Content: reply}); err != nil {
		c.log.Error("append assistant turn", "call_sid", callSID, "error", err)
	}

	d := NewDocument()
	c.speak(d, profile.ID, reply)
	d.GatherSpeech(c.gatherAction(profile.ID, callSID))
	c.speak(d, profile.ID, msgFollowUp)
	d.Hangup()
	c.writeDocument(w, d)
}

// callHistory converts the call's stored transcript into model history.
func (c *Controller) callHistory(ctx context.Context, callSID string) []llm.Message {
	call, err := c.store.GetCallBySID(ctx, callSID)
	if err != nil {
		return nil
	}
	history := make([]llm.Message, 0, len(call.Transcript))
	for _, turn := range call.Transcript {
		role := llm.RoleUser
		if turn.Role == tenant.RoleAssistant {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: turn.Content})
	}
	return history
}

// HandleStatus settles a call's final state. Completed calls convert their
// duration into whole minutes and charge them against the profile.
func (c *Controller) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	callSID := r.PostForm.Get("CallSid")
	status := r.PostForm.Get("CallStatus")
	to := r.PostForm.Get("To")
	duration, _ := strconv.Atoi(r.PostForm.Get("CallDuration"))

	c.log.Info("call status", "call_sid", callSID, "status", status, "duration_s", duration)

	if err := c.store.CompleteCall(ctx, callSID, status, duration); err != nil &&
		!errors.Is(err, tenant.ErrNotFound) {
		c.log.Error("complete call log", "call_sid", callSID, "error", err)
	}

	if status == "completed" && duration > 0 {
		profile, err := c.store.GetProfileByPhone(ctx, to)
		if err != nil {
			c.log.Error("usage settlement lookup failed", "to", to, "error", err)
		} else if _, err := c.meter.ChargeCall(ctx, profile.ID, duration); err != nil {
			c.log.Error("usage settlement failed", "profile_id", profile.ID, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
