package resilience

import (
	"errors"
	"testing"

	"github.com/voxdesk/voxdesk/pkg/provider/tts"
	ttsmock "github.com/voxdesk/voxdesk/pkg/provider/tts/mock"
)

func TestTTSFallbackUsesLocalWhenRemoteFails(t *testing.T) {
	remote := &ttsmock.Synthesizer{Err: tts.ErrUnavailable}
	local := &ttsmock.Synthesizer{Audio: []byte("local-audio")}

	f := NewTTSFallback(remote, "remote", FallbackConfig{})
	f.AddFallback("local", local)

	audio, err := f.Synthesize(t.Context(), tts.Request{Text: "Hello."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "local-audio" {
		t.Errorf("audio = %q, want local-audio", audio)
	}
	if len(remote.Calls()) != 1 || len(local.Calls()) != 1 {
		t.Errorf("calls remote=%d local=%d, want 1/1",
			len(remote.Calls()), len(local.Calls()))
	}
}

func TestTTSFallbackSurfacesQuotaWhenAllFail(t *testing.T) {
	remote := &ttsmock.Synthesizer{Err: tts.ErrQuotaExceeded}
	local := &ttsmock.Synthesizer{Err: tts.ErrUnavailable}

	f := NewTTSFallback(remote, "remote", FallbackConfig{})
	f.AddFallback("local", local)

	_, err := f.Synthesize(t.Context(), tts.Request{Text: "Hello."})
	if !errors.Is(err, tts.ErrQuotaExceeded) {
		t.Errorf("want ErrQuotaExceeded, got %v", err)
	}
}

func TestTTSFallbackQuotaAloneStillFallsBack(t *testing.T) {
	remote := &ttsmock.Synthesizer{Err: tts.ErrQuotaExceeded}
	local := &ttsmock.Synthesizer{Audio: []byte("wav")}

	f := NewTTSFallback(remote, "remote", FallbackConfig{})
	f.AddFallback("local", local)

	audio, err := f.Synthesize(t.Context(), tts.Request{Text: "Hi."})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "wav" {
		t.Errorf("audio = %q, want wav", audio)
	}
}
