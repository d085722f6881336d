// Package vad implements energy-based voice activity detection for the
// Voxdesk capture pipeline.
//
// The central type is [Monitor], a per-session detector that classifies a
// stream of normalized energy samples (0.0–1.0) into speaking and silent
// intervals and emits exactly one [SpeechStart] per silent→speaking
// transition and exactly one [SpeechEnd] per finished utterance. An
// utterance ends either when energy stays below the volume threshold for
// the configured silence timeout, or when the speaking period exceeds the
// maximum utterance duration (hard cutoff, independent of energy).
//
// The Monitor does not own the audio device and does not stop the speech
// recognizer; it only observes energy levels and reports transitions. The
// capture controller reacts to its events.
//
// A Monitor is not safe for concurrent use by multiple goroutines; it is
// designed to be driven from a single sampling loop (see [Monitor.Run]).
package vad

import (
	"context"
	"time"
)

// Default detection parameters, matching a 100 ms sampling cadence.
const (
	// DefaultVolumeThreshold is the normalized energy above which a sample
	// counts as speech. Raised from early prototypes to reject background noise.
	DefaultVolumeThreshold = 0.05

	// DefaultSilenceTimeout is how long energy must stay below the threshold
	// after a speaking period before the utterance is considered finished.
	DefaultSilenceTimeout = 700 * time.Millisecond

	// DefaultMaxUtterance is the hard cutoff on a single speaking period.
	DefaultMaxUtterance = 6 * time.Second

	// DefaultSampleInterval is the classification cadence.
	DefaultSampleInterval = 100 * time.Millisecond
)

// EventType enumerates the transitions a [Monitor] reports.
type EventType int

const (
	// SpeechStart marks a silent→speaking transition.
	SpeechStart EventType = iota

	// SpeechEnd marks the end of an utterance, either silence-confirmed or
	// forced by the maximum utterance duration.
	SpeechEnd
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case SpeechStart:
		return "speech_start"
	case SpeechEnd:
		return "speech_end"
	default:
		return "unknown"
	}
}

// Event is a single detection result emitted by a [Monitor].
type Event struct {
	// Type is the transition that occurred.
	Type EventType

	// Level is the normalized energy sample that triggered the transition.
	Level float64

	// At is the timestamp of the sample that triggered the transition.
	At time.Time
}

// Config holds the tuning parameters for a [Monitor]. Zero values are
// replaced with the package defaults.
type Config struct {
	// VolumeThreshold is the normalized energy (0.0–1.0) above which a
	// sample is classified as speech.
	VolumeThreshold float64

	// SilenceTimeout is how long energy must remain below VolumeThreshold
	// after speech before SpeechEnd is emitted.
	SilenceTimeout time.Duration

	// MaxUtterance caps a single speaking period. When exceeded, SpeechEnd
	// is emitted regardless of current energy.
	MaxUtterance time.Duration

	// SampleInterval is the cadence at which [Monitor.Run] samples the
	// level source.
	SampleInterval time.Duration
}

// withDefaults returns cfg with zero fields replaced by package defaults.
func (c Config) withDefaults() Config {
	if c.VolumeThreshold == 0 {
		c.VolumeThreshold = DefaultVolumeThreshold
	}
	if c.SilenceTimeout == 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.MaxUtterance == 0 {
		c.MaxUtterance = DefaultMaxUtterance
	}
	if c.SampleInterval == 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	return c
}

// phase is the internal detection state.
type phase int

const (
	// phaseIdle: no active utterance.
	phaseIdle phase = iota

	// phaseSpeaking: an utterance is in progress.
	phaseSpeaking

	// phaseCutoff: the utterance was force-ended by MaxUtterance but energy
	// has not yet dropped below the threshold. No events are emitted until
	// silence returns, so a continuously loud signal yields exactly one
	// SpeechEnd.
	phaseCutoff
)

// Monitor classifies a stream of energy samples into speaking and silent
// intervals. Create one per capture session with [NewMonitor]; feed it
// samples via [Monitor.Observe] or drive it from a [LevelSource] with
// [Monitor.Run].
type Monitor struct {
	cfg Config

	state       phase
	speechStart time.Time
	lastSpeech  time.Time
}

// NewMonitor creates a Monitor with the given configuration. Zero-value
// fields in cfg take the package defaults.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaulting.
func (m *Monitor) Config() Config { return m.cfg }

// Speaking reports whether an utterance is currently in progress.
func (m *Monitor) Speaking() bool { return m.state == phaseSpeaking }

// Reset clears all detection state without changing the configuration.
// Use it when the audio stream is restarted so stale timing from the
// previous segment cannot leak into the next one.
func (m *Monitor) Reset() {
	m.state = phaseIdle
	m.speechStart = time.Time{}
	m.lastSpeech = time.Time{}
}

// Observe classifies a single normalized energy sample taken at now and
// returns the transition it caused, if any. The boolean result is false
// when no transition occurred.
//
// Observe is a pure transition step over the Monitor's state: it performs
// no I/O and never blocks, so tests can drive it with a synthetic clock.
func (m *Monitor) Observe(level float64, now time.Time) (Event, bool) {
	speech := level > m.cfg.VolumeThreshold

	switch m.state {
	case phaseIdle:
		if speech {
			m.state = phaseSpeaking
			m.speechStart = now
			m.lastSpeech = now
			return Event{Type: SpeechStart, Level: level, At: now}, true
		}

	case phaseSpeaking:
		// Hard cutoff takes precedence: it is independent of energy.
		if now.Sub(m.speechStart) >= m.cfg.MaxUtterance {
			m.state = phaseCutoff
			return Event{Type: SpeechEnd, Level: level, At: now}, true
		}
		if speech {
			m.lastSpeech = now
			return Event{}, false
		}
		if now.Sub(m.lastSpeech) >= m.cfg.SilenceTimeout {
			m.state = phaseIdle
			return Event{Type: SpeechEnd, Level: level, At: now}, true
		}

	case phaseCutoff:
		// Wait for silence before a new utterance may begin. The drop back
		// below the threshold is not itself an event.
		if !speech {
			m.state = phaseIdle
		}
	}
	return Event{}, false
}

// LevelSource supplies normalized energy samples to [Monitor.Run]. The
// capture controller implements it on top of the acquired audio device.
type LevelSource interface {
	// Level returns the current normalized average energy (0.0–1.0) of the
	// input signal. It must not block.
	Level() float64
}

// Run samples src at the configured interval and delivers transition events
// to out until ctx is cancelled. It does not close out; the caller owns the
// channel and may share it with other event sources.
func (m *Monitor) Run(ctx context.Context, src LevelSource, out chan<- Event) {
	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ev, ok := m.Observe(src.Level(), now)
			if !ok {
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

// AverageEnergy computes the normalized average energy (0.0–1.0) of a
// frequency-domain magnitude spectrum with byte-valued bins, the format
// produced by common analyser nodes. An empty spectrum yields 0.
func AverageEnergy(spectrum []byte) float64 {
	if len(spectrum) == 0 {
		return 0
	}
	var sum int
	for _, b := range spectrum {
		sum += int(b)
	}
	return float64(sum) / float64(len(spectrum)) / 255
}
