// Package mock provides a scriptable tts.Synthesizer for tests.
package mock

import (
	"context"
	"sync"

	"github.com/voxdesk/voxdesk/pkg/provider/tts"
)

// Synthesizer implements tts.Synthesizer with canned responses and records
// every Synthesize call.
type Synthesizer struct {
	// Audio is returned by Synthesize when Err is nil. When nil, the
	// synthesized text itself is returned as bytes so tests can assert on
	// the fragment that reached the backend.
	Audio []byte
	// Err, when set, is returned by every Synthesize call.
	Err error
	// Voices is returned by ListVoices.
	Voices []tts.Voice
	// ListErr, when set, is returned by ListVoices.
	ListErr error

	mu    sync.Mutex
	calls []tts.Request
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the request and returns the canned audio or error.
func (s *Synthesizer) Synthesize(_ context.Context, req tts.Request) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Audio != nil {
		return s.Audio, nil
	}
	return []byte(req.Text), nil
}

// ListVoices returns the canned voice catalogue.
func (s *Synthesizer) ListVoices(context.Context) ([]tts.Voice, error) {
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	return s.Voices, nil
}

// Calls returns a snapshot of the requests passed to Synthesize.
func (s *Synthesizer) Calls() []tts.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tts.Request, len(s.calls))
	copy(out, s.calls)
	return out
}
