package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/stt"
	sttmock "github.com/voxdesk/voxdesk/pkg/provider/stt/mock"
	"github.com/voxdesk/voxdesk/pkg/vad"
)

// fakeDevice hands out a test-controlled frame channel.
type fakeDevice struct {
	frames  chan Frame
	openErr error
	closed  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{frames: make(chan Frame, 64)}
}

func (d *fakeDevice) Open(context.Context) (<-chan Frame, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.frames, nil
}

func (d *fakeDevice) Close() error {
	d.closed = true
	return nil
}

// frame builds a Frame whose spectrum averages to the given level.
func frame(level float64) Frame {
	b := byte(level * 255)
	return Frame{PCM: []byte{1, 2, 3, 4}, Spectrum: []byte{b, b, b, b}}
}

func testConfig() Config {
	return Config{
		VAD: vad.Config{
			VolumeThreshold: 0.05,
			SilenceTimeout:  30 * time.Millisecond,
			MaxUtterance:    10 * time.Second,
		},
	}
}

func profile() *tenant.BusinessProfile {
	return &tenant.BusinessProfile{ID: "prof-1", Name: "Test Clinic"}
}

// nextEvent waits for the next event of the given kind.
func nextEvent(t *testing.T, c *Controller, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				t.Fatal("event channel closed while waiting")
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %v event within deadline", kind)
		}
	}
}

func TestStartWithoutProfile(t *testing.T) {
	c := NewController(newFakeDevice(), &sttmock.Recognizer{}, testConfig())
	if err := c.Start(t.Context(), nil); !errors.Is(err, ErrMissingContext) {
		t.Errorf("want ErrMissingContext, got %v", err)
	}
}

func TestStartWithEmptyProfile(t *testing.T) {
	// A profile object with no name, services, or greeting is as useless as
	// no profile: the session must not start.
	dev := newFakeDevice()
	c := NewController(dev, &sttmock.Recognizer{Session: sttmock.NewSession()}, testConfig())

	err := c.Start(t.Context(), &tenant.BusinessProfile{ID: "p-1", Tone: "friendly"})
	if !errors.Is(err, ErrMissingContext) {
		t.Fatalf("want ErrMissingContext, got %v", err)
	}
	if dev.closed || len(dev.frames) != 0 {
		t.Error("device touched despite missing context")
	}
}

func TestEmptiedProfileBlocksFinalize(t *testing.T) {
	// The gate holds at finalize as well: a profile cleared after Start must
	// never produce an utterance for submission.
	dev := newFakeDevice()
	sess := sttmock.NewSession()
	c := NewController(dev, &sttmock.Recognizer{Session: sess}, testConfig())

	p := profile()
	if err := c.Start(t.Context(), p); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	p.Name = ""
	p.Services = nil
	p.Greeting = ""

	dev.frames <- frame(0.5)
	nextEvent(t, c, KindState)
	sess.EmitFinal("what are your hours", 0.92)
	dev.frames <- frame(0.5)
	time.Sleep(50 * time.Millisecond)
	dev.frames <- frame(0.0)

	select {
	case ev, ok := <-c.Events():
		if ok && ev.Kind == KindUtterance {
			t.Fatalf("utterance %q finalized despite empty context", ev.Text)
		}
	case <-time.After(100 * time.Millisecond):
	}
	if c.State() != StateIdle {
		t.Errorf("state = %v, want idle", c.State())
	}
}

func TestStartDeviceFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.openErr = errors.New("permission denied")
	c := NewController(dev, &sttmock.Recognizer{}, testConfig())

	if err := c.Start(t.Context(), profile()); !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("want ErrDeviceUnavailable, got %v", err)
	}
	if c.State() != StateMicFailed {
		t.Errorf("state = %v, want mic-failed", c.State())
	}
}

func TestStartRecognizerUnsupported(t *testing.T) {
	dev := newFakeDevice()
	c := NewController(dev, &sttmock.Recognizer{StartErr: stt.ErrUnsupported}, testConfig())

	if err := c.Start(t.Context(), profile()); !errors.Is(err, ErrRecognitionUnsupported) {
		t.Fatalf("want ErrRecognitionUnsupported, got %v", err)
	}
	if c.State() != StateUnsupported {
		t.Errorf("state = %v, want unsupported", c.State())
	}
	if !dev.closed {
		t.Error("device left open after recognizer failure")
	}
}

func TestStartRecognizerConnectionFailure(t *testing.T) {
	c := NewController(newFakeDevice(), &sttmock.Recognizer{StartErr: errors.New("dial: refused")}, testConfig())

	if err := c.Start(t.Context(), profile()); !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("want ErrConnectionFailed, got %v", err)
	}
	if c.State() != StateConnectionFailed {
		t.Errorf("state = %v, want connection-failed", c.State())
	}
}

func TestUtteranceLifecycle(t *testing.T) {
	dev := newFakeDevice()
	sess := sttmock.NewSession()
	c := NewController(dev, &sttmock.Recognizer{Session: sess}, testConfig())

	if err := c.Start(t.Context(), profile()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	// Loud frames start an utterance.
	dev.frames <- frame(0.5)
	ev := nextEvent(t, c, KindState)
	if ev.State != StateListening {
		t.Fatalf("state = %v, want listening", ev.State)
	}

	// The recognizer delivers the final transcript while speech continues.
	sess.EmitFinal("what are your hours", 0.92)
	dev.frames <- frame(0.5)

	// Silence past the timeout ends the utterance.
	time.Sleep(50 * time.Millisecond)
	dev.frames <- frame(0.0)

	ev = nextEvent(t, c, KindUtterance)
	if ev.Text != "what are your hours" {
		t.Errorf("utterance = %q", ev.Text)
	}
	if c.State() != StateThinking {
		t.Errorf("state = %v, want thinking", c.State())
	}

	// Audio was forwarded to the recognizer.
	if len(sess.SentAudio()) == 0 {
		t.Error("no audio reached the recognizer")
	}

	// Completed releases the guard and returns to idle.
	c.Completed()
	if c.State() != StateIdle {
		t.Errorf("state after Completed = %v, want idle", c.State())
	}
}

func TestFirstFinalizeWins(t *testing.T) {
	dev := newFakeDevice()
	sess := sttmock.NewSession()
	c := NewController(dev, &sttmock.Recognizer{Session: sess}, testConfig())

	if err := c.Start(t.Context(), profile()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	dev.frames <- frame(0.5)
	nextEvent(t, c, KindState)
	sess.EmitFinal("first", 0.9)
	dev.frames <- frame(0.5)
	time.Sleep(50 * time.Millisecond)
	dev.frames <- frame(0.0)
	nextEvent(t, c, KindUtterance)

	// A second boundary while the first utterance is processing must not
	// produce another utterance event.
	sess.EmitFinal("second", 0.9)
	dev.frames <- frame(0.5)
	time.Sleep(50 * time.Millisecond)
	dev.frames <- frame(0.0)

	select {
	case ev, ok := <-c.Events():
		if ok && ev.Kind == KindUtterance {
			t.Fatalf("unexpected second utterance %q", ev.Text)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmptyUtteranceReturnsToIdle(t *testing.T) {
	dev := newFakeDevice()
	c := NewController(dev, &sttmock.Recognizer{Session: sttmock.NewSession()}, testConfig())

	if err := c.Start(t.Context(), profile()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	// Speech with no transcript at all.
	dev.frames <- frame(0.5)
	nextEvent(t, c, KindState)
	time.Sleep(50 * time.Millisecond)
	dev.frames <- frame(0.0)

	deadline := time.After(time.Second)
	for {
		if c.State() == StateIdle {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("state = %v, want idle", c.State())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPartialsReachLiveDisplay(t *testing.T) {
	dev := newFakeDevice()
	sess := sttmock.NewSession()

	partials := make(chan string, 8)
	cfg := testConfig()
	cfg.OnPartial = func(text string) { partials <- text }

	c := NewController(dev, &sttmock.Recognizer{Session: sess}, cfg)
	if err := c.Start(t.Context(), profile()); err != nil {
		t.Fatal(err)
	}
	defer c.Stop()

	dev.frames <- frame(0.5)
	sess.EmitPartial("what are", 0.4)
	sess.EmitPartial("what are your hours", 0.6)

	for _, want := range []string{"what are", "what are your hours"} {
		select {
		case got := <-partials:
			if got != want {
				t.Errorf("partial = %q, want %q", got, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("partial %q never delivered", want)
		}
	}
}

func TestDeviceDropMidSession(t *testing.T) {
	dev := newFakeDevice()
	c := NewController(dev, &sttmock.Recognizer{Session: sttmock.NewSession()}, testConfig())

	if err := c.Start(t.Context(), profile()); err != nil {
		t.Fatal(err)
	}

	close(dev.frames)

	ev := nextEvent(t, c, KindState)
	if ev.State != StateMicFailed {
		t.Errorf("state = %v, want mic-failed", ev.State)
	}
}

func TestStopClosesEverything(t *testing.T) {
	dev := newFakeDevice()
	sess := sttmock.NewSession()
	c := NewController(dev, &sttmock.Recognizer{Session: sess}, testConfig())

	if err := c.Start(t.Context(), profile()); err != nil {
		t.Fatal(err)
	}
	c.Stop()

	if !dev.closed {
		t.Error("device not closed")
	}
	// The event channel must be closed after Stop.
	for range c.Events() {
	}
}
