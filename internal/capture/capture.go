// Package capture runs the microphone side of a voice session: it pulls
// audio frames from a capture device, feeds them to the speech recognizer,
// watches the energy level for utterance boundaries, and emits one finalized
// utterance per detected speech turn.
//
// Each session owns exactly one Controller; all session state lives on it
// and nothing is shared between sessions. While a finalized utterance is
// being processed the controller refuses to finalize another one, so a
// stray boundary event never produces a duplicate reply.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/stt"
	"github.com/voxdesk/voxdesk/pkg/vad"
)

// Errors returned by Controller.
var (
	// ErrMissingContext is returned by Start when no business profile is
	// attached to the session.
	ErrMissingContext = errors.New("capture: business configuration missing")

	// ErrDeviceUnavailable is returned when the capture device cannot be
	// opened.
	ErrDeviceUnavailable = errors.New("capture: audio device unavailable")

	// ErrRecognitionUnsupported is returned when the environment offers no
	// speech recognition at all.
	ErrRecognitionUnsupported = errors.New("capture: speech recognition unsupported")

	// ErrConnectionFailed is returned when the recognizer stream cannot be
	// established.
	ErrConnectionFailed = errors.New("capture: recognizer connection failed")
)

// State is the session's visible capture state.
type State int

const (
	// StateIdle means the session waits for speech.
	StateIdle State = iota

	// StateListening means an utterance is in progress.
	StateListening

	// StateThinking means a finalized utterance is being answered.
	StateThinking

	// StateSpeaking means reply audio is playing; captured frames are
	// still consumed but boundaries are ignored.
	StateSpeaking

	// StateMicFailed is terminal: the device failed mid-session.
	StateMicFailed

	// StateConnectionFailed is terminal: the recognizer stream died.
	StateConnectionFailed

	// StateUnsupported is terminal: the environment cannot recognize speech.
	StateUnsupported
)

// String returns the state name used in events and logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	case StateMicFailed:
		return "mic-failed"
	case StateConnectionFailed:
		return "connection-failed"
	case StateUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// terminal reports whether the session cannot continue from s.
func (s State) terminal() bool {
	return s == StateMicFailed || s == StateConnectionFailed || s == StateUnsupported
}

// Frame is one chunk of captured audio.
type Frame struct {
	// PCM is the raw audio forwarded to the recognizer.
	PCM []byte

	// Spectrum is the frequency snapshot the energy level is computed from.
	Spectrum []byte
}

// Device is an audio capture source. Open returns a frame channel that is
// closed when the device stops; Close releases the underlying hardware.
type Device interface {
	Open(ctx context.Context) (<-chan Frame, error)
	Close() error
}

// EventKind discriminates Controller events.
type EventKind int

const (
	// KindState signals a state transition; Event.State holds the new state.
	KindState EventKind = iota

	// KindUtterance delivers a finalized utterance; Event.Text holds it.
	KindUtterance
)

// Event is emitted on the Controller's event channel.
type Event struct {
	Kind  EventKind
	State State
	Text  string
}

// Config tunes a Controller.
type Config struct {
	// VAD configures utterance boundary detection. Zero values get the
	// package defaults.
	VAD vad.Config

	// Stream configures the recognizer session.
	Stream stt.StreamConfig

	// OnPartial receives interim transcripts as they arrive, for live
	// display while the caller is still speaking. Called from the capture
	// loop; it must not block. Nil disables partial delivery.
	OnPartial func(text string)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Controller is the per-session capture state machine.
type Controller struct {
	device     Device
	recognizer stt.Recognizer
	cfg        Config
	log        *slog.Logger

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	profile    *tenant.BusinessProfile
	processing bool
	pending    []string
}

// NewController wires a controller from its collaborators. Start must be
// called before any events are produced.
func NewController(device Device, recognizer stt.Recognizer, cfg Config) *Controller {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		device:     device,
		recognizer: recognizer,
		cfg:        cfg,
		log:        log,
		events:     make(chan Event, 32),
		done:       make(chan struct{}),
	}
}

// Events returns the channel of state changes and finalized utterances.
// It is closed when the session ends.
func (c *Controller) Events() <-chan Event { return c.events }

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// missingContext reports whether the profile carries nothing the agent could
// answer from. A profile with no name, no services, and no greeting is as
// useless as no profile at all.
func missingContext(p *tenant.BusinessProfile) bool {
	return p == nil || (p.Name == "" && len(p.Services) == 0 && p.Greeting == "")
}

// Start validates the session context, opens the device and the recognizer
// stream, and launches the capture loop. The profile gate runs first: a voice
// session without a configured business has nothing to answer from.
func (c *Controller) Start(ctx context.Context, profile *tenant.BusinessProfile) error {
	if missingContext(profile) {
		return ErrMissingContext
	}
	c.mu.Lock()
	c.profile = profile
	c.mu.Unlock()

	frames, err := c.device.Open(ctx)
	if err != nil {
		c.fail(StateMicFailed)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	session, err := c.recognizer.StartStream(ctx, c.cfg.Stream)
	if err != nil {
		_ = c.device.Close()
		if errors.Is(err, stt.ErrUnsupported) {
			c.fail(StateUnsupported)
			return ErrRecognitionUnsupported
		}
		c.fail(StateConnectionFailed)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx, frames, session)
	return nil
}

// Stop tears the session down: recognizer first so no late transcript
// arrives, then the boundary monitor state, then the device.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// BeginSpeaking moves the session into the speaking state while reply audio
// plays. Boundary events are ignored until Completed is called.
func (c *Controller) BeginSpeaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.terminal() {
		return
	}
	c.setStateLocked(StateSpeaking)
}

// Completed marks the current utterance as fully answered, releasing the
// processing guard and returning the session to idle.
func (c *Controller) Completed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processing = false
	if c.state.terminal() {
		return
	}
	c.setStateLocked(StateIdle)
}

// fail records a terminal state for sessions whose capture loop never started.
func (c *Controller) fail(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
	close(c.events)
	close(c.done)
}

// setStateLocked transitions the state and queues the event. Callers hold c.mu.
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	select {
	case c.events <- Event{Kind: KindState, State: s}:
	default:
		// A slow consumer loses state notifications, never utterances.
	}
}

// run is the capture loop. It owns the monitor, forwards audio, collects
// final transcripts, and finalizes utterances at boundary events.
func (c *Controller) run(ctx context.Context, frames <-chan Frame, session stt.SessionHandle) {
	monitor := vad.NewMonitor(c.cfg.VAD)

	defer func() {
		// Teardown order: recognizer, monitor, device.
		_ = session.Close()
		monitor.Reset()
		_ = c.device.Close()
		close(c.events)
		close(c.done)
	}()

	finals := session.Finals()
	partials := session.Partials()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				c.log.Error("capture device stopped")
				c.mu.Lock()
				c.setStateLocked(StateMicFailed)
				c.mu.Unlock()
				return
			}
			if err := session.SendAudio(frame.PCM); err != nil {
				c.log.Error("recognizer rejected audio", "error", err)
				c.mu.Lock()
				c.setStateLocked(StateConnectionFailed)
				c.mu.Unlock()
				return
			}
			level := vad.AverageEnergy(frame.Spectrum)
			if ev, ok := monitor.Observe(level, time.Now()); ok {
				c.onBoundary(ev)
			}

		case tr, ok := <-finals:
			if !ok {
				c.mu.Lock()
				c.setStateLocked(StateConnectionFailed)
				c.mu.Unlock()
				return
			}
			c.mu.Lock()
			c.pending = append(c.pending, tr.Text)
			c.mu.Unlock()

		case tr, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			if tr.Text != "" && c.cfg.OnPartial != nil {
				c.cfg.OnPartial(tr.Text)
			}
		}
	}
}

// onBoundary handles a speech boundary from the monitor.
func (c *Controller) onBoundary(ev vad.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev.Type {
	case vad.SpeechStart:
		// Speech during playback or processing does not restart capture.
		if c.state == StateIdle {
			c.setStateLocked(StateListening)
		}

	case vad.SpeechEnd:
		// First finalize wins; later boundaries are ignored until the
		// reply cycle calls Completed.
		if c.processing || c.state != StateListening {
			return
		}
		// The context gate holds at finalize too: a profile emptied after
		// Start must not reach the engine.
		if missingContext(c.profile) {
			c.log.Warn("utterance dropped, business configuration missing")
			c.pending = nil
			c.setStateLocked(StateIdle)
			return
		}
		text := strings.TrimSpace(strings.Join(c.pending, " "))
		c.pending = nil
		if text == "" {
			c.setStateLocked(StateIdle)
			return
		}
		c.processing = true
		c.setStateLocked(StateThinking)
		select {
		case c.events <- Event{Kind: KindUtterance, State: StateThinking, Text: text}:
		default:
			c.log.Warn("utterance dropped, event queue full")
			c.processing = false
		}
	}
}
