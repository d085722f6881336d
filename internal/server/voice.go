package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxdesk/voxdesk/internal/capture"
	"github.com/voxdesk/voxdesk/internal/dialogue"
	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/synth"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/stt"
	"github.com/voxdesk/voxdesk/pkg/provider/tts"
	"github.com/voxdesk/voxdesk/pkg/vad"
)

// Spoken in-band when a voice session cannot start or a reply fails.
const (
	msgVoiceNoContext   = "Please configure your business before starting a voice session."
	msgVoiceUnsupported = "Speech recognition isn't available right now."
	msgVoiceNoSpeech    = "Couldn't reach the speech service. Please try again."
	msgVoiceTrouble     = "Sorry, I'm having trouble responding right now."
)

// VoiceConfig wires the browser voice channel. The voice session route is
// mounted only when it is set, which requires both a recognizer and a
// synthesizer to be configured.
type VoiceConfig struct {
	Recognizer stt.Recognizer
	Synth      tts.Synthesizer

	// Stream is the audio format browsers send; 16 kHz mono PCM.
	Stream stt.StreamConfig

	// VAD tunes utterance boundary detection. Zero values get the
	// package defaults.
	VAD vad.Config
}

// voiceStart is the first frame a client sends on the session socket: a JSON
// text message naming either a stored business or an inline demo config.
type voiceStart struct {
	BusinessID string          `json:"businessId"`
	Config     *businessConfig `json:"config"`
}

// voiceEvent is a server-to-client text frame. Synthesized reply audio
// travels separately as binary frames.
type voiceEvent struct {
	// Type is one of "state", "partial", "caller", "reply", or "error".
	Type string `json:"type"`

	// State carries the capture state name on "state" events.
	State string `json:"state,omitempty"`

	// Text carries the transcript, reply fragment, or error message.
	Text string `json:"text,omitempty"`
}

// handleVoiceSession runs one browser voice conversation over a WebSocket.
// The client opens with a voiceStart text frame, then streams audio as
// binary frames; the server answers with voiceEvent text frames plus binary
// reply audio. One socket is one session: it owns its own capture
// controller, dialogue history, and speech relay.
func (a *api) handleVoiceSession(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		a.log.Warn("voice session upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	profile, err := a.readVoiceStart(ctx, conn)
	if err != nil {
		a.log.Warn("voice session rejected", "error", err)
		_ = conn.Close(websocket.StatusPolicyViolation, "invalid session start")
		return
	}

	send := &wsSender{conn: conn}

	// Partials are dropped rather than queued when the client cannot keep
	// up; only the freshest caption matters.
	partials := make(chan string, 8)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-partials:
				_ = send.event(ctx, voiceEvent{Type: "partial", Text: text})
			}
		}
	}()

	ctrl := capture.NewController(
		&wsDevice{conn: conn, log: a.log},
		a.voice.Recognizer,
		capture.Config{
			VAD:    a.voice.VAD,
			Stream: a.voice.Stream,
			OnPartial: func(text string) {
				select {
				case partials <- text:
				default:
				}
			},
			Logger: a.log,
		},
	)

	if err := ctrl.Start(ctx, profile); err != nil {
		_ = send.event(ctx, voiceEvent{Type: "error", Text: voiceStartMessage(err)})
		return
	}
	defer ctrl.Stop()

	relay := synth.New(a.voice.Synth, &wsPlayer{send: send}, synth.WithLogger(a.log))
	sess := dialogue.NewSession(a.replier, profile, engine.ChannelVoice,
		dialogue.WithSessionLogger(a.log))

	// A drained speech run means the reply finished playing; capture can
	// resume listening.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-relay.Idle():
				ctrl.Completed()
			}
		}
	}()

	for ev := range ctrl.Events() {
		switch ev.Kind {
		case capture.KindState:
			_ = send.event(ctx, voiceEvent{Type: "state", State: ev.State.String()})
		case capture.KindUtterance:
			_ = send.event(ctx, voiceEvent{Type: "caller", Text: ev.Text})
			a.speakReply(ctx, send, ctrl, sess, relay, ev.Text)
		}
	}
}

// speakReply answers one finalized utterance: it streams the reply, mirrors
// each fragment to the client as text, and plays the synthesized audio
// through the relay. The capture controller is released either by the
// relay's idle signal or, on failure, directly here.
func (a *api) speakReply(ctx context.Context, send *wsSender, ctrl *capture.Controller, sess *dialogue.Session, relay *synth.Relay, utterance string) {
	start := time.Now()
	frags, err := sess.AskStream(ctx, utterance)
	if err != nil {
		a.log.Warn("voice reply failed", "error", err)
		_ = send.event(ctx, voiceEvent{Type: "error", Text: msgVoiceTrouble})
		ctrl.Completed()
		return
	}
	ctrl.BeginSpeaking()

	spoken := make(chan string, 8)
	go func() {
		defer close(spoken)
		for frag := range frags {
			_ = send.event(ctx, voiceEvent{Type: "reply", Text: frag})
			select {
			case spoken <- frag:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := relay.Speak(ctx, spoken); err != nil {
		a.log.Warn("reply playback stopped", "error", err)
		ctrl.Completed()
		return
	}
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	a.metrics.RecordReply(ctx, "voice")
}

// readVoiceStart waits for the opening frame and resolves the session's
// business profile the same way the chat endpoint does: a stored profile by
// id, an inline demo config, or the built-in demo business.
func (a *api) readVoiceStart(ctx context.Context, conn *websocket.Conn) (*tenant.BusinessProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read start frame: %w", err)
	}
	if typ != websocket.MessageText {
		return nil, errors.New("first frame must be the JSON session start")
	}
	var req voiceStart
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("decode start frame: %w", err)
	}

	if req.BusinessID != "" {
		profile, err := a.store.GetProfile(ctx, req.BusinessID)
		if err != nil {
			return nil, fmt.Errorf("business %q: %w", req.BusinessID, err)
		}
		return profile, nil
	}

	profile := engine.DemoProfile()
	if req.Config != nil {
		profile = &tenant.BusinessProfile{
			Name:     req.Config.Name,
			Services: req.Config.Services,
			Hours:    req.Config.Hours,
			Tone:     req.Config.Tone,
		}
	}
	return profile, nil
}

// voiceStartMessage maps a capture start failure to its in-band message.
func voiceStartMessage(err error) string {
	switch {
	case errors.Is(err, capture.ErrMissingContext):
		return msgVoiceNoContext
	case errors.Is(err, capture.ErrRecognitionUnsupported):
		return msgVoiceUnsupported
	default:
		return msgVoiceNoSpeech
	}
}

// wsSender serializes writes to the socket; text events and binary audio
// come from different goroutines.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSender) event(ctx context.Context, ev voiceEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageText, b)
}

func (s *wsSender) audio(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Write(ctx, websocket.MessageBinary, payload)
}

// wsPlayer plays reply audio by pushing it to the browser, which owns the
// actual speaker.
type wsPlayer struct {
	send *wsSender
}

func (p *wsPlayer) Play(ctx context.Context, audio []byte) error {
	return p.send.audio(ctx, audio)
}

// wsDevice adapts the socket's binary frames into a capture device. Each
// frame is a one-byte spectrum length, the spectrum bytes, then the raw PCM.
type wsDevice struct {
	conn *websocket.Conn
	log  *slog.Logger
}

func (d *wsDevice) Open(ctx context.Context) (<-chan capture.Frame, error) {
	frames := make(chan capture.Frame, 16)
	go func() {
		defer close(frames)
		for {
			typ, data, err := d.conn.Read(ctx)
			if err != nil {
				return
			}
			if typ != websocket.MessageBinary {
				continue
			}
			frame, err := parseAudioFrame(data)
			if err != nil {
				d.log.Debug("malformed audio frame dropped", "error", err)
				continue
			}
			select {
			case frames <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
	return frames, nil
}

func (d *wsDevice) Close() error { return nil }

// parseAudioFrame splits a binary message into its spectrum and PCM parts.
func parseAudioFrame(data []byte) (capture.Frame, error) {
	if len(data) < 1 {
		return capture.Frame{}, errors.New("empty frame")
	}
	n := int(data[0])
	if len(data) < 1+n {
		return capture.Frame{}, fmt.Errorf("frame shorter than spectrum length %d", n)
	}
	return capture.Frame{Spectrum: data[1 : 1+n], PCM: data[1+n:]}, nil
}
