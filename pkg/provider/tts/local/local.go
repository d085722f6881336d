// Package local provides a TTS synthesizer backed by a locally-running speech
// server. It implements the tts.Synthesizer interface and serves as the
// offline fallback when no remote synthesis backend is reachable.
//
// The server operates in batch mode (one HTTP call per utterance). Synthesis
// is performed via GET /api/tts with URL query parameters; the voice catalogue
// is retrieved from GET /voices.
//
// Because local voice inventories vary wildly between hosts, SelectVoice picks
// a deterministic voice from whatever catalogue the server exposes: preferred
// name hints first (with fuzzy matching to tolerate vendor renames), then a
// male voice in the target language, then any voice in the target language,
// then the first voice listed.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"encoding/json"

	"github.com/antzucaro/matchr"

	"github.com/voxdesk/voxdesk/pkg/provider/tts"
)

const (
	synthesizeEndpoint = "/api/tts"
	voicesEndpoint     = "/voices"
	defaultTimeout     = 15 * time.Second
	defaultLanguage    = "en"

	// fallbackPitch and fallbackRate are applied to whichever voice
	// SelectVoice chooses, keeping the fallback delivery calm and slightly
	// slower than the platform default.
	fallbackPitch = 0.85
	fallbackRate  = 0.95

	// nameHintThreshold is the minimum Jaro-Winkler similarity for a voice
	// name to count as matching a preferred name hint.
	nameHintThreshold = 0.84
)

// preferredNameHints are voice name fragments tried first when selecting a
// fallback voice, in priority order.
var preferredNameHints = []string{"david", "alex"}

// Option is a functional option for configuring a local Synthesizer.
type Option func(*Synthesizer)

// WithLanguage sets the language tag preferred during voice selection.
func WithLanguage(lang string) Option {
	return func(s *Synthesizer) { s.language = lang }
}

// WithTimeout sets the per-request HTTP timeout for calls to the local server.
func WithTimeout(d time.Duration) Option {
	return func(s *Synthesizer) { s.httpClient.Timeout = d }
}

// Synthesizer implements tts.Synthesizer backed by a local speech server.
type Synthesizer struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// Compile-time interface assertion.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// New creates a local Synthesizer targeting serverURL (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Synthesizer, error) {
	if serverURL == "" {
		return nil, errors.New("local: serverURL must not be empty")
	}
	s := &Synthesizer{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize performs one batch synthesis call and returns the WAV payload.
func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	if req.Text == "" {
		return nil, errors.New("local: text must not be empty")
	}

	q := url.Values{}
	q.Set("text", req.Text)
	if req.Voice.ID != "" {
		q.Set("speaker_id", req.Voice.ID)
	}
	q.Set("language_id", s.language)
	if req.Voice.Pitch != 0 {
		q.Set("pitch", fmt.Sprintf("%.2f", req.Voice.Pitch))
	}
	if req.Voice.Rate != 0 {
		q.Set("rate", fmt.Sprintf("%.2f", req.Voice.Rate))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		s.serverURL+synthesizeEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("local: build request: %w", err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local: %w: %v", tts.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local: %w: status %d", tts.ErrUnavailable, resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("local: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("local: %w: empty audio response", tts.ErrUnavailable)
	}
	return audio, nil
}

// voiceEntry is one element of the local server's voice catalogue response.
type voiceEntry struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender"`
}

// ListVoices retrieves the voice catalogue from the local server.
func (s *Synthesizer) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.serverURL+voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("local: build request: %w", err)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local: %w: %v", tts.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("local: %w: status %d", tts.ErrUnavailable, resp.StatusCode)
	}

	var payload struct {
		Voices []voiceEntry `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("local: decode voices: %w", err)
	}

	voices := make([]tts.Voice, 0, len(payload.Voices))
	for _, v := range payload.Voices {
		voices = append(voices, tts.Voice{
			ID:       v.ID,
			Name:     v.Name,
			Language: v.Language,
			Gender:   strings.ToLower(v.Gender),
			Pitch:    1.0,
			Rate:     1.0,
		})
	}
	return voices, nil
}

// SelectVoice picks the fallback voice from the given catalogue for the given
// language. The choice is deterministic for a fixed catalogue order:
//
//  1. a voice whose name matches a preferred name hint, exactly or fuzzily
//  2. a male voice in the target language
//  3. any voice in the target language
//  4. the first voice in the catalogue
//
// The returned voice carries the fallback pitch and rate adjustments. Returns
// false when the catalogue is empty.
func SelectVoice(voices []tts.Voice, language string) (tts.Voice, bool) {
	if len(voices) == 0 {
		return tts.Voice{}, false
	}
	if language == "" {
		language = defaultLanguage
	}

	pick := func(v tts.Voice) (tts.Voice, bool) {
		v.Pitch = fallbackPitch
		v.Rate = fallbackRate
		return v, true
	}

	for _, hint := range preferredNameHints {
		for _, v := range voices {
			if matchesHint(v.Name, hint) {
				return pick(v)
			}
		}
	}
	for _, v := range voices {
		if sameLanguage(v.Language, language) && v.Gender == "male" {
			return pick(v)
		}
	}
	for _, v := range voices {
		if sameLanguage(v.Language, language) {
			return pick(v)
		}
	}
	return pick(voices[0])
}

// matchesHint reports whether a voice name matches a name hint, either by
// substring or by fuzzy similarity of any name token.
func matchesHint(name, hint string) bool {
	lower := strings.ToLower(name)
	if strings.Contains(lower, hint) {
		return true
	}
	for _, token := range strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '(' || r == ')'
	}) {
		if matchr.JaroWinkler(token, hint, true) >= nameHintThreshold {
			return true
		}
	}
	return false
}

// sameLanguage compares language tags by primary subtag, so "en-US" and
// "en-GB" both match "en".
func sameLanguage(a, b string) bool {
	prim := func(tag string) string {
		tag = strings.ToLower(tag)
		if i := strings.IndexAny(tag, "-_"); i >= 0 {
			return tag[:i]
		}
		return tag
	}
	pa, pb := prim(a), prim(b)
	return pa != "" && pa == pb
}
