package dialogue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/resilience"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
)

// fakeReplier scripts reply behaviour and records invocations.
type fakeReplier struct {
	mu       sync.Mutex
	reply    string
	err      error
	failN    int // first failN calls fail with err
	calls    int
	block    chan struct{} // when non-nil, Reply blocks until closed
	lastHist []llm.Message
}

func (f *fakeReplier) Reply(ctx context.Context, _ *tenant.BusinessProfile, _ engine.Channel, history []llm.Message, _ string) (string, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.lastHist = history
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil && (f.failN == 0 || call <= f.failN) {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeReplier) StreamReply(ctx context.Context, p *tenant.BusinessProfile, ch engine.Channel, history []llm.Message, msg string) (<-chan llm.Chunk, error) {
	text, err := f.Reply(ctx, p, ch, history, msg)
	if err != nil {
		return nil, err
	}
	out := make(chan llm.Chunk, 1)
	out <- llm.Chunk{Text: text}
	close(out)
	return out, nil
}

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{Attempts: 2, Backoff: time.Millisecond}
}

func newTestSession(r Replier, opts ...SessionOption) *Session {
	opts = append([]SessionOption{WithRetryPolicy(fastRetry())}, opts...)
	return NewSession(r, engine.DemoProfile(), engine.ChannelChat, opts...)
}

func TestAskRecordsHistory(t *testing.T) {
	r := &fakeReplier{reply: "We are open nine to five."}
	s := newTestSession(r)

	got, err := s.Ask(t.Context(), "What are your hours?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "We are open nine to five." {
		t.Errorf("reply = %q", got)
	}

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("history has %d messages, want 2", len(hist))
	}
	if hist[0].Role != llm.RoleUser || hist[0].Content != "What are your hours?" {
		t.Errorf("history[0] = %+v", hist[0])
	}
	if hist[1].Role != llm.RoleAssistant || hist[1].Content != "We are open nine to five." {
		t.Errorf("history[1] = %+v", hist[1])
	}
}

func TestAskSecondExchangeSeesFirst(t *testing.T) {
	r := &fakeReplier{reply: "Certainly."}
	s := newTestSession(r)

	if _, err := s.Ask(t.Context(), "first"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Ask(t.Context(), "second"); err != nil {
		t.Fatal(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lastHist) != 2 {
		t.Errorf("second call saw %d history messages, want 2", len(r.lastHist))
	}
}

func TestAskBusyGuard(t *testing.T) {
	block := make(chan struct{})
	r := &fakeReplier{reply: "ok", block: block}
	s := newTestSession(r)

	firstDone := make(chan error, 1)
	go func() {
		_, err := s.Ask(t.Context(), "slow one")
		firstDone <- err
	}()

	// Wait until the first request is inside the replier.
	for {
		r.mu.Lock()
		started := r.calls > 0
		r.mu.Unlock()
		if started {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := s.Ask(t.Context(), "second"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Ask = %v, want ErrBusy", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Fatalf("first Ask: %v", err)
	}

	// The session is free again once the first reply finished.
	if _, err := s.Ask(t.Context(), "third"); err != nil {
		t.Errorf("Ask after release: %v", err)
	}
}

func TestAskRetriesThenConnectionFailed(t *testing.T) {
	r := &fakeReplier{err: errors.New("dial refused")}
	s := newTestSession(r)

	_, err := s.Ask(t.Context(), "hello")
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("want ErrConnectionFailed, got %v", err)
	}
	if r.calls != 2 {
		t.Errorf("replier called %d times, want 2 attempts", r.calls)
	}
	if len(s.History()) != 0 {
		t.Error("failed exchange was committed to history")
	}
}

func TestAskRecoversOnSecondAttempt(t *testing.T) {
	r := &fakeReplier{reply: "hi", err: errors.New("transient"), failN: 1}
	s := newTestSession(r)

	got, err := s.Ask(t.Context(), "hello")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got != "hi" {
		t.Errorf("reply = %q", got)
	}
}

func TestReplyLimit(t *testing.T) {
	r := &fakeReplier{reply: "ok"}
	s := newTestSession(r, WithReplyLimit(2))

	for i := range 2 {
		if _, err := s.Ask(t.Context(), "msg"); err != nil {
			t.Fatalf("Ask %d: %v", i, err)
		}
	}
	if _, err := s.Ask(t.Context(), "one too many"); !errors.Is(err, ErrReplyLimit) {
		t.Errorf("want ErrReplyLimit, got %v", err)
	}
}

func TestAskStreamEmitsFragmentsAndCommitsHistory(t *testing.T) {
	r := &fakeReplier{reply: "Hello there. How can I help?"}
	s := newTestSession(r)

	frags, err := s.AskStream(t.Context(), "hi")
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}

	var got []string
	for f := range frags {
		got = append(got, f)
	}
	if len(got) != 2 || got[0] != "Hello there." || got[1] != "How can I help?" {
		t.Errorf("fragments = %q", got)
	}

	// History commit happens as the stream drains.
	deadline := time.After(time.Second)
	for {
		if len(s.History()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("history never committed")
		case <-time.After(time.Millisecond):
		}
	}
	if hist := s.History(); hist[1].Content != "Hello there. How can I help?" {
		t.Errorf("committed reply = %q", hist[1].Content)
	}
}

func TestAskStreamConnectionFailure(t *testing.T) {
	r := &fakeReplier{err: errors.New("dial refused")}
	s := newTestSession(r)

	if _, err := s.AskStream(t.Context(), "hi"); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("want ErrConnectionFailed, got %v", err)
	}
}
