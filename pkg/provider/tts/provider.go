// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A synthesizer wraps a speech synthesis service (e.g., ElevenLabs or a local
// server) and converts one text fragment per call into encoded audio. Callers
// that stream dialogue replies feed each sentence fragment separately so audio
// for the first sentence is available before the full reply exists.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"
)

// Sentinel errors returned by Synthesize. Callers translate these into the
// appropriate transport responses.
var (
	// ErrQuotaExceeded signals that the account backing the synthesizer has
	// run out of synthesis quota.
	ErrQuotaExceeded = errors.New("tts: synthesis quota exceeded")

	// ErrUnavailable signals that the synthesis backend cannot currently
	// serve requests.
	ErrUnavailable = errors.New("tts: synthesis service unavailable")
)

// Voice describes a synthesis voice.
type Voice struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Language is the BCP-47 language tag of the voice (e.g. "en-US").
	Language string

	// Gender is the provider-reported voice gender, lower-cased. Empty when
	// the provider does not expose it.
	Gender string

	// Pitch adjusts pitch relative to the voice default (1.0 = default).
	Pitch float64

	// Rate adjusts speaking rate relative to the voice default (1.0 = default).
	Rate float64
}

// Request describes a single synthesis call.
type Request struct {
	// Text is the fragment to synthesize. Must be non-empty.
	Text string

	// Voice selects the voice. A zero Voice lets the synthesizer use its
	// configured default.
	Voice Voice
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// Synthesize converts req.Text into encoded audio and returns the full
	// audio payload. The encoding is provider-specific (MP3 for remote
	// backends, WAV for local ones); callers treat it as opaque bytes.
	//
	// Returns ErrQuotaExceeded when the backing account is out of quota and
	// ErrUnavailable when the backend cannot be reached or rejects the
	// request with a server error.
	Synthesize(ctx context.Context, req Request) ([]byte, error)

	// ListVoices returns the voices currently offered by this backend.
	ListVoices(ctx context.Context) ([]Voice, error)
}
