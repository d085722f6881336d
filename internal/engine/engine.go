// Package engine produces receptionist replies. It turns a tenant profile
// and conversation history into model requests, supports both a buffered
// mode (full reply or timeout) and an incremental mode (chunk stream), and
// falls back to an apology line when the model misbehaves.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
)

// ErrTimeout is returned by Reply when the model does not finish within the
// engine's reply timeout. Whatever partial text was collected accompanies it.
var ErrTimeout = errors.New("engine: reply timed out")

// ErrUnavailable is returned when the model connection could not be opened
// at all. Reply still carries the apology line so callers always have
// something to show.
var ErrUnavailable = errors.New("engine: model unavailable")

// apologyReply is spoken or shown when the model produced nothing usable.
const apologyReply = "Sorry, I'm having trouble responding right now. Please try again."

// defaultReplyTimeout bounds buffered replies end to end.
const defaultReplyTimeout = 30 * time.Second

// Option configures an Engine.
type Option func(*Engine)

// WithReplyTimeout overrides the buffered reply timeout.
func WithReplyTimeout(d time.Duration) Option {
	return func(e *Engine) { e.replyTimeout = d }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// Engine builds model requests for a receptionist conversation and executes
// them against the configured provider.
type Engine struct {
	provider     llm.Provider
	replyTimeout time.Duration
	log          *slog.Logger
}

// New creates an Engine on top of provider.
func New(provider llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:     provider,
		replyTimeout: defaultReplyTimeout,
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// buildRequest assembles the completion request for one user message.
func buildRequest(p *tenant.BusinessProfile, ch Channel, history []llm.Message, userMessage string) llm.CompletionRequest {
	msgs := NormalizeHistory(history)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: userMessage})
	return llm.CompletionRequest{
		SystemPrompt: BuildSystemPrompt(p, ch),
		Messages:     msgs,
	}
}

// Reply produces a complete reply in buffered mode. When the model exceeds
// the reply timeout, whatever text arrived so far is returned together with
// ErrTimeout; if nothing arrived, the apology line is returned instead so
// callers always have something to show.
func (e *Engine) Reply(ctx context.Context, p *tenant.BusinessProfile, ch Channel, history []llm.Message, userMessage string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.replyTimeout)
	defer cancel()

	chunks, err := e.provider.StreamCompletion(ctx, buildRequest(p, ch, history, userMessage))
	if err != nil {
		e.log.Error("model connection failed", "error", err)
		return apologyReply, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			e.log.Error("model stream failed", "detail", chunk.Text)
			reply := b.String()
			if reply == "" {
				reply = apologyReply
			}
			return reply, fmt.Errorf("engine: stream failed: %s", chunk.Text)
		}
		b.WriteString(chunk.Text)
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		e.log.Warn("reply timed out", "collected_chars", b.Len())
		if b.Len() == 0 {
			return apologyReply, ErrTimeout
		}
		return b.String(), ErrTimeout
	}
	if b.Len() == 0 {
		return apologyReply, errors.New("engine: model returned empty reply")
	}
	return b.String(), nil
}

// StreamReply produces a reply as a chunk stream for incremental delivery.
// The caller owns draining the returned channel.
func (e *Engine) StreamReply(ctx context.Context, p *tenant.BusinessProfile, ch Channel, history []llm.Message, userMessage string) (<-chan llm.Chunk, error) {
	chunks, err := e.provider.StreamCompletion(ctx, buildRequest(p, ch, history, userMessage))
	if err != nil {
		return nil, fmt.Errorf("engine: start completion: %w", err)
	}
	return chunks, nil
}
