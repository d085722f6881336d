// Package mock provides a scriptable stt.Recognizer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxdesk/voxdesk/pkg/provider/stt"
)

// Recognizer implements stt.Recognizer and records StartStream calls.
type Recognizer struct {
	// StartErr, when set, is returned by StartStream.
	StartErr error
	// Session is handed out by StartStream. When nil a fresh empty
	// Session is created per call.
	Session *Session

	mu    sync.Mutex
	calls []stt.StreamConfig
}

var _ stt.Recognizer = (*Recognizer)(nil)

// StartStream returns the configured session or error.
func (r *Recognizer) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cfg)
	r.mu.Unlock()
	if r.StartErr != nil {
		return nil, r.StartErr
	}
	if r.Session != nil {
		return r.Session, nil
	}
	return NewSession(), nil
}

// Calls returns a snapshot of the StreamConfigs passed to StartStream.
func (r *Recognizer) Calls() []stt.StreamConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]stt.StreamConfig, len(r.calls))
	copy(out, r.calls)
	return out
}

// Session is a test-controlled stt.SessionHandle. Tests push transcripts
// with EmitPartial and EmitFinal and inspect audio via SentAudio.
type Session struct {
	// SendErr, when set, is returned by SendAudio.
	SendErr error

	partials chan stt.Transcript
	finals   chan stt.Transcript

	mu     sync.Mutex
	audio  [][]byte
	closed bool
}

var _ stt.SessionHandle = (*Session)(nil)

// NewSession creates a Session with buffered transcript channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan stt.Transcript, 16),
		finals:   make(chan stt.Transcript, 16),
	}
}

// SendAudio records the chunk.
func (s *Session) SendAudio(chunk []byte) error {
	if s.SendErr != nil {
		return s.SendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.audio = append(s.audio, cp)
	return nil
}

// Partials returns the partial transcript channel.
func (s *Session) Partials() <-chan stt.Transcript { return s.partials }

// Finals returns the final transcript channel.
func (s *Session) Finals() <-chan stt.Transcript { return s.finals }

// Close closes the transcript channels exactly once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
	return nil
}

// EmitPartial pushes an interim transcript to the session consumer.
func (s *Session) EmitPartial(text string, confidence float64) {
	s.partials <- stt.Transcript{Text: text, Confidence: confidence}
}

// EmitFinal pushes a final transcript to the session consumer.
func (s *Session) EmitFinal(text string, confidence float64) {
	s.finals <- stt.Transcript{Text: text, IsFinal: true, Confidence: confidence}
}

// SentAudio returns the audio chunks received so far.
func (s *Session) SentAudio() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.audio))
	copy(out, s.audio)
	return out
}
