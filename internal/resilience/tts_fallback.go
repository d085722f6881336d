package resilience

import (
	"context"
	"errors"

	"github.com/voxdesk/voxdesk/pkg/provider/tts"
)

// TTSFallback implements [tts.Synthesizer] with automatic failover, typically
// from a remote voice service to a local speech server. Quota exhaustion on
// the primary is treated as a failure so the fallback still produces audio,
// but the quota error is preserved when every backend fails.
type TTSFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional synthesizer as a fallback.
func (f *TTSFallback) AddFallback(name string, s tts.Synthesizer) {
	f.group.AddFallback(name, s)
}

// Synthesize tries each backend in order until one returns audio. When every
// backend fails and any of them reported quota exhaustion, the quota sentinel
// is surfaced so callers can answer with the right status.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	quotaHit := false
	audio, err := Run(ctx, f.group, func(ctx context.Context, s tts.Synthesizer) ([]byte, error) {
		b, err := s.Synthesize(ctx, req)
		if errors.Is(err, tts.ErrQuotaExceeded) {
			quotaHit = true
		}
		return b, err
	})
	if err != nil && quotaHit {
		return nil, tts.ErrQuotaExceeded
	}
	return audio, err
}

// ListVoices returns the catalogue of the first backend that answers.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	return Run(ctx, f.group, func(ctx context.Context, s tts.Synthesizer) ([]tts.Voice, error) {
		return s.ListVoices(ctx)
	})
}
