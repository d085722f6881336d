// Package synth turns reply fragments into audible speech. The relay
// synthesizes each sentence fragment as it arrives and plays the results
// strictly one at a time; starting a new speech run stops whatever is still
// playing, and an idle signal fires once a run has drained completely so the
// session can resume listening.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/voxdesk/voxdesk/pkg/provider/tts"
)

// Player is an audio sink. Play blocks until the payload has finished
// playing or ctx is cancelled; implementations must honour cancellation
// promptly since it is how interrupted runs stop their audio.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Option configures a Relay.
type Option func(*Relay)

// WithVoice sets the synthesis voice.
func WithVoice(v tts.Voice) Option {
	return func(r *Relay) { r.voice = v }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) { r.log = log }
}

// Relay drives one session's speech output.
type Relay struct {
	synth  tts.Synthesizer
	player Player
	voice  tts.Voice
	log    *slog.Logger

	idle chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	runDone chan struct{}
}

// New creates a Relay that synthesizes with synth and plays through player.
func New(synth tts.Synthesizer, player Player, opts ...Option) *Relay {
	r := &Relay{
		synth:  synth,
		player: player,
		log:    slog.Default(),
		idle:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Idle delivers one signal each time a speech run finishes naturally.
// Interrupted runs do not signal.
func (r *Relay) Idle() <-chan struct{} { return r.idle }

// begin claims the speaker, stopping and waiting out any previous run. The
// claim itself happens under the lock, so two racing Speak calls can never
// both register and overlap audio; the loser stops the winner and claims
// after it.
func (r *Relay) begin(parent context.Context) (context.Context, func()) {
	r.mu.Lock()
	for r.cancel != nil {
		prevCancel := r.cancel
		prevDone := r.runDone
		r.mu.Unlock()
		prevCancel()
		<-prevDone
		r.mu.Lock()
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	r.cancel = cancel
	r.runDone = done
	r.mu.Unlock()

	return ctx, func() {
		cancel()
		r.mu.Lock()
		if r.runDone == done {
			r.cancel = nil
			r.runDone = nil
		}
		r.mu.Unlock()
		close(done)
	}
}

// Speak synthesizes and plays each fragment in order. It returns once every
// fragment has played, the run was interrupted by a newer Speak call, or a
// fragment failed to synthesize. Quota exhaustion aborts the run immediately
// with tts.ErrQuotaExceeded; other synthesis failures skip the fragment so
// one bad sentence does not silence the rest of the reply.
func (r *Relay) Speak(parent context.Context, fragments <-chan string) error {
	ctx, finish := r.begin(parent)
	defer finish()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frag, ok := <-fragments:
			if !ok {
				select {
				case r.idle <- struct{}{}:
				default:
				}
				return nil
			}
			if frag == "" {
				continue
			}

			audio, err := r.synth.Synthesize(ctx, tts.Request{Text: frag, Voice: r.voice})
			if err != nil {
				if errors.Is(err, tts.ErrQuotaExceeded) {
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.log.Warn("fragment synthesis failed, skipping",
					"chars", len(frag), "error", err)
				continue
			}

			if err := r.player.Play(ctx, audio); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("synth: playback: %w", err)
			}
		}
	}
}

// SpeakText plays a single complete text, for greetings and one-off lines.
func (r *Relay) SpeakText(ctx context.Context, text string) error {
	frags := make(chan string, 1)
	frags <- text
	close(frags)
	return r.Speak(ctx, frags)
}
