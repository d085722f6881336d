// Package dialogue manages one live conversation between a visitor and the
// receptionist: it owns the conversation history, allows a single in-flight
// reply at a time, retries the initial model connection within an explicit
// bound, and splits streamed replies into sentence fragments for incremental
// synthesis.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/resilience"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
)

// Errors returned by Session.
var (
	// ErrBusy is returned when a reply is requested while another is still
	// in flight. The first request wins; the caller should retry after it
	// finishes.
	ErrBusy = errors.New("dialogue: a reply is already in progress")

	// ErrConnectionFailed is returned when the model could not be reached
	// within the session's retry budget.
	ErrConnectionFailed = errors.New("dialogue: could not reach the dialogue service")

	// ErrReplyLimit is returned once a limited session has used up its
	// reply allowance.
	ErrReplyLimit = errors.New("dialogue: reply limit reached")
)

// Replier produces receptionist replies. *engine.Engine satisfies it.
type Replier interface {
	Reply(ctx context.Context, p *tenant.BusinessProfile, ch engine.Channel, history []llm.Message, userMessage string) (string, error)
	StreamReply(ctx context.Context, p *tenant.BusinessProfile, ch engine.Channel, history []llm.Message, userMessage string) (<-chan llm.Chunk, error)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithReplyLimit caps the number of replies the session will produce.
// Zero means unlimited. Used by the public demo.
func WithReplyLimit(n int) SessionOption {
	return func(s *Session) { s.replyLimit = n }
}

// WithRetryPolicy overrides the connection retry policy.
func WithRetryPolicy(p resilience.RetryPolicy) SessionOption {
	return func(s *Session) { s.retry = p }
}

// WithSessionLogger sets the logger. Defaults to slog.Default().
func WithSessionLogger(log *slog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// Session is one visitor conversation. Safe for concurrent use; concurrent
// reply requests beyond the first fail fast with ErrBusy.
type Session struct {
	replier Replier
	profile *tenant.BusinessProfile
	channel engine.Channel
	retry   resilience.RetryPolicy
	log     *slog.Logger

	replyLimit int

	mu      sync.Mutex
	busy    bool
	history []llm.Message
	replies int
}

// NewSession creates a Session for the given profile and channel.
func NewSession(r Replier, profile *tenant.BusinessProfile, channel engine.Channel, opts ...SessionOption) *Session {
	s := &Session{
		replier: r,
		profile: profile,
		channel: channel,
		retry:   resilience.DefaultRetryPolicy(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// History returns a copy of the conversation so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]llm.Message, len(s.history))
	copy(out, s.history)
	return out
}

// acquire marks the session busy, enforcing the single in-flight rule and
// the reply limit. Returns a snapshot of the history for the request.
func (s *Session) acquire() ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return nil, ErrBusy
	}
	if s.replyLimit > 0 && s.replies >= s.replyLimit {
		return nil, ErrReplyLimit
	}
	s.busy = true
	snapshot := make([]llm.Message, len(s.history))
	copy(snapshot, s.history)
	return snapshot, nil
}

// release clears the busy flag and, when the reply is non-empty, commits the
// exchange to the history.
func (s *Session) release(userMessage, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	if reply == "" {
		return
	}
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: userMessage},
		llm.Message{Role: llm.RoleAssistant, Content: reply},
	)
	s.replies++
}

// Ask produces one buffered reply and records the exchange.
func (s *Session) Ask(ctx context.Context, userMessage string) (string, error) {
	history, err := s.acquire()
	if err != nil {
		return "", err
	}

	var reply string
	err = resilience.Retry(ctx, s.retry, "dialogue reply", func(ctx context.Context) error {
		var innerErr error
		reply, innerErr = s.replier.Reply(ctx, s.profile, s.channel, history, userMessage)
		return innerErr
	})
	if err != nil {
		// A timeout still carries usable partial text; connection-level
		// failures carry at most the engine's apology placeholder.
		if reply == "" || errors.Is(err, engine.ErrUnavailable) {
			s.release(userMessage, "")
			return "", fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		s.release(userMessage, reply)
		return reply, err
	}

	s.release(userMessage, reply)
	return reply, nil
}

// AskStream produces one reply as a channel of sentence fragments. The
// exchange is committed to the history once the stream has drained. The
// caller must consume the returned channel.
func (s *Session) AskStream(ctx context.Context, userMessage string) (<-chan string, error) {
	history, err := s.acquire()
	if err != nil {
		return nil, err
	}

	// The per-attempt timeout is dropped here: its cancellation would tear
	// down the stream right after it opened. The stream lives under the
	// caller's context instead.
	policy := s.retry
	policy.AttemptTimeout = -1

	var chunks <-chan llm.Chunk
	err = resilience.Retry(ctx, policy, "dialogue stream", func(ctx context.Context) error {
		var innerErr error
		chunks, innerErr = s.replier.StreamReply(ctx, s.profile, s.channel, history, userMessage)
		return innerErr
	})
	if err != nil {
		s.release(userMessage, "")
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	fragments := Segments(ctx, chunks)
	out := make(chan string, 8)
	go func() {
		defer close(out)
		var full strings.Builder
		for frag := range fragments {
			if full.Len() > 0 {
				full.WriteString(" ")
			}
			full.WriteString(frag)
			select {
			case out <- frag:
			case <-ctx.Done():
				s.release(userMessage, full.String())
				return
			}
		}
		s.release(userMessage, full.String())
	}()
	return out, nil
}
