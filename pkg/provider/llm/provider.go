// Package llm defines the Provider interface for the generative dialogue
// model behind the Voxdesk receptionist.
//
// The model is consumed as an opaque text-in, token-stream-out service: the
// dialogue engine builds a system instruction plus conversation history,
// and the provider returns reply text either as a stream of chunks or as a
// single completed string.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream
// ends or when the supplied context is cancelled.
package llm

import "context"

// Conversation roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the turn.
	Content string
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty; the last message drives the response.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the
	// conversation history. Providers that have no dedicated system slot
	// should prepend it as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero means the
	// provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means the provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content. May be empty on a final chunk
	// that carries only a finish reason.
	Text string

	// FinishReason is set on the final chunk: "stop" for a natural end,
	// "length" when MaxTokens was reached, "error" when the stream failed
	// after it was opened (Text then holds the error message), and "" for
	// every non-final chunk.
	FinishReason string
}

// Provider is the abstraction over any generative model backend.
//
// Implementations must propagate context cancellation promptly: when ctx is
// cancelled a method must return (or close its channel) as quickly as
// possible.
type Provider interface {
	// StreamCompletion sends req to the model and returns a read-only
	// channel emitting chunks as they arrive. The channel is closed when
	// generation finishes or ctx is cancelled. Callers must drain the
	// channel to avoid goroutine leaks.
	//
	// The initial error is non-nil only for failures that prevent the
	// stream from starting; errors after that surface as a Chunk with
	// FinishReason "error".
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full reply text. A convenience
	// wrapper for callers that do not need incremental output.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
