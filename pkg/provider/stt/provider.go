// Package stt defines the Recognizer interface for continuous
// speech-to-text used by the Voxdesk capture pipeline.
//
// A recognizer wraps a real-time transcription service and exposes a
// per-utterance streaming session: once opened, the session accepts raw PCM
// audio and emits two streams of [Transcript] values — low-latency partials
// that drive the live caption display, and authoritative finals that
// accumulate into the working transcript handed to the dialogue engine.
//
// Implementations must be safe for concurrent use. Transcript channels are
// closed by the implementation when the session ends.
package stt

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by StartStream when the runtime has no usable
// recognition backend at all. The capture controller treats it as a
// permanently terminal condition for the session.
var ErrUnsupported = errors.New("stt: speech recognition unsupported on this runtime")

// Transcript is a single recognition result, either interim or final.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is an authoritative result. Partials
	// may be revised by later messages; finals never are.
	IsFinal bool

	// Confidence is the provider's confidence score (0.0–1.0), zero when
	// the provider does not report one.
	Confidence float64
}

// StreamConfig describes the audio format for a new recognition session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Common value: 16000.
	SampleRate int

	// Channels is the number of audio channels; 1 (mono) for speech.
	Channels int

	// Language is the BCP-47 language tag (e.g. "en-US"). Empty lets the
	// provider pick its default.
	Language string
}

// SessionHandle is an open recognition session. Callers must Close the
// session when done; failing to do so may leak goroutines and connections
// inside the provider. All methods are safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw PCM audio to the provider. The
	// chunk must match the StreamConfig agreed at session start. Calling
	// SendAudio after Close returns an error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel emitting interim transcripts.
	// Closed when the session ends.
	Partials() <-chan Transcript

	// Finals returns a read-only channel emitting authoritative
	// transcripts. Closed when the session ends.
	Finals() <-chan Transcript

	// Close terminates the session, flushes pending audio, and releases
	// resources. Closing more than once is safe and returns nil.
	Close() error
}

// Recognizer is the abstraction over any STT backend.
type Recognizer interface {
	// StartStream opens a new recognition session. Returns an error if the
	// session cannot be established — [ErrUnsupported] when no backend is
	// available on this runtime at all.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
