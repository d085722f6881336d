package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/health"
	"github.com/voxdesk/voxdesk/internal/observe"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/internal/tenant/memstore"
	"github.com/voxdesk/voxdesk/internal/usage"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
	"github.com/voxdesk/voxdesk/pkg/provider/tts"
)

type fakeReplier struct {
	reply     string
	err       error
	streamErr error
	chunks    []llm.Chunk

	lastProfile *tenant.BusinessProfile
	lastHistory []llm.Message
	lastMessage string
}

func (f *fakeReplier) Reply(_ context.Context, p *tenant.BusinessProfile, _ engine.Channel, history []llm.Message, msg string) (string, error) {
	f.lastProfile = p
	f.lastHistory = history
	f.lastMessage = msg
	return f.reply, f.err
}

func (f *fakeReplier) StreamReply(_ context.Context, p *tenant.BusinessProfile, _ engine.Channel, history []llm.Message, msg string) (<-chan llm.Chunk, error) {
	f.lastProfile = p
	f.lastHistory = history
	f.lastMessage = msg
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	out := make(chan llm.Chunk, len(f.chunks)+1)
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

type fakeSynth struct {
	audio []byte
	err   error
	calls []tts.Request
}

func (f *fakeSynth) Synthesize(_ context.Context, req tts.Request) ([]byte, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	if f.audio == nil {
		return []byte(req.Text), nil
	}
	return f.audio, nil
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func testRouter(t *testing.T, store tenant.Store, replier Replier, synth Synthesizer) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{
		Store:    store,
		Replier:  replier,
		Synth:    synth,
		Meter:    usage.NewMeter(store, slog.New(slog.DiscardHandler)),
		Settings: NewSettings(3),
		Health:   health.New(),
		Metrics:  testMetrics(t),
		Logger:   slog.New(slog.DiscardHandler),
	})
}

func postJSON(h http.Handler, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeChat(t *testing.T, rec *httptest.ResponseRecorder) chatResponse {
	t.Helper()
	var resp chatResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return resp
}

func TestChatDemoWithInlineConfig(t *testing.T) {
	replier := &fakeReplier{reply: "We're open Monday to Friday, nine to five."}
	h := testRouter(t, memstore.New(), replier, &fakeSynth{})

	rec := postJSON(h, "/api/chat", map[string]any{
		"message": "What are your hours?",
		"config": map[string]any{
			"name":     "Bright Smiles Dental",
			"services": []string{"Cleanings", "Whitening"},
			"hours":    "Mon-Fri 9-5",
			"tone":     "friendly",
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	resp := decodeChat(t, rec)
	if resp.Response == "" || resp.Error {
		t.Errorf("response = %+v", resp)
	}
	if replier.lastProfile.Name != "Bright Smiles Dental" {
		t.Errorf("profile = %+v", replier.lastProfile)
	}
	if replier.lastMessage != "What are your hours?" {
		t.Errorf("message = %q", replier.lastMessage)
	}
}

func TestChatDemoFallbackProfile(t *testing.T) {
	replier := &fakeReplier{reply: "Happy to help!"}
	h := testRouter(t, memstore.New(), replier, &fakeSynth{})

	rec := postJSON(h, "/api/chat", map[string]any{"message": "Hi"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decodeChat(t, rec)
	body := resp.Response
	if body == "" {
		t.Error("empty demo reply")
	}
	if strings.Contains(body, "undefined") || strings.Contains(body, "%!") {
		t.Errorf("reply leaks formatting garbage: %q", body)
	}
	if replier.lastProfile == nil || replier.lastProfile.ID != "demo" {
		t.Errorf("expected demo fallback profile, got %+v", replier.lastProfile)
	}
}

func TestChatDemoTimeoutSetsErrorFlag(t *testing.T) {
	replier := &fakeReplier{
		reply: "Sorry, I'm having trouble responding right now. Please try again.",
		err:   engine.ErrTimeout,
	}
	h := testRouter(t, memstore.New(), replier, &fakeSynth{})

	rec := postJSON(h, "/api/chat", map[string]any{"message": "Hello?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeChat(t, rec)
	if !resp.Error {
		t.Error("timeout should set the error flag")
	}
	if resp.Response == "" {
		t.Error("timeout reply must still carry text")
	}
}

func TestChatDemoReplyLimit(t *testing.T) {
	replier := &fakeReplier{reply: "more"}
	h := testRouter(t, memstore.New(), replier, &fakeSynth{})

	history := []map[string]string{
		{"role": "user", "content": "a"}, {"role": "assistant", "content": "b"},
		{"role": "user", "content": "c"}, {"role": "assistant", "content": "d"},
		{"role": "user", "content": "e"}, {"role": "assistant", "content": "f"},
	}
	rec := postJSON(h, "/api/chat", map[string]any{"message": "again", "history": history})

	resp := decodeChat(t, rec)
	if !resp.LimitReached {
		t.Errorf("expected limit flag, got %+v", resp)
	}
	if replier.lastMessage != "" {
		t.Error("replier should not be called past the demo limit")
	}
}

func TestChatTenantStreams(t *testing.T) {
	store := memstore.New()
	profile := &tenant.BusinessProfile{ID: "p1", Name: "Bright Smiles Dental"}
	if err := store.SaveProfile(t.Context(), profile); err != nil {
		t.Fatal(err)
	}

	replier := &fakeReplier{chunks: []llm.Chunk{
		{Text: "We're open "},
		{Text: "nine to five."},
		{FinishReason: "stop"},
	}}
	h := testRouter(t, store, replier, &fakeSynth{})

	rec := postJSON(h, "/api/chat", map[string]any{
		"message":    "Hours?",
		"businessId": "p1",
		"history": []map[string]string{
			{"role": "assistant", "content": "Hello, how can I help?"},
		},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if got := rec.Body.String(); got != "We're open nine to five." {
		t.Errorf("streamed body = %q", got)
	}
	if len(replier.lastHistory) != 1 || replier.lastHistory[0].Role != llm.RoleAssistant {
		t.Errorf("history = %+v", replier.lastHistory)
	}
}

func TestChatUnknownBusiness(t *testing.T) {
	h := testRouter(t, memstore.New(), &fakeReplier{}, &fakeSynth{})
	rec := postJSON(h, "/api/chat", map[string]any{"message": "Hi", "businessId": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	h := testRouter(t, memstore.New(), &fakeReplier{}, &fakeSynth{})
	rec := postJSON(h, "/api/chat", map[string]any{"history": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestSynthesizeDemoUnmetered(t *testing.T) {
	synth := &fakeSynth{audio: []byte("mp3-bytes")}
	h := testRouter(t, memstore.New(), &fakeReplier{}, synth)

	rec := postJSON(h, "/api/voice/tts", map[string]any{"text": "Hello there.", "isDemo": true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/mpeg" {
		t.Errorf("Content-Type = %q", ct)
	}
	if rec.Body.String() != "mp3-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestSynthesizeChargesTenant(t *testing.T) {
	store := memstore.New()
	if err := store.SaveProfile(t.Context(), &tenant.BusinessProfile{
		ID: "p1", Name: "Bright Smiles Dental", MinutesLimit: 100,
	}); err != nil {
		t.Fatal(err)
	}
	h := testRouter(t, store, &fakeReplier{}, &fakeSynth{})

	// 1500 chars rounds up to 2 minutes.
	text := strings.Repeat("a", 1500)
	rec := postJSON(h, "/api/voice/tts", map[string]any{"text": text, "businessId": "p1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	profile, err := store.GetProfile(t.Context(), "p1")
	if err != nil {
		t.Fatal(err)
	}
	if profile.MinutesUsed != 2 {
		t.Errorf("MinutesUsed = %d, want 2", profile.MinutesUsed)
	}
}

func TestSynthesizeQuotaExhausted(t *testing.T) {
	store := memstore.New()
	if err := store.SaveProfile(t.Context(), &tenant.BusinessProfile{
		ID: "p1", MinutesLimit: 10, MinutesUsed: 10,
	}); err != nil {
		t.Fatal(err)
	}
	synth := &fakeSynth{}
	h := testRouter(t, store, &fakeReplier{}, synth)

	rec := postJSON(h, "/api/voice/tts", map[string]any{"text": "Hi", "businessId": "p1"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
	if len(synth.calls) != 0 {
		t.Error("synthesizer called despite exhausted quota")
	}
}

func TestSynthesizeProviderQuota(t *testing.T) {
	synth := &fakeSynth{err: tts.ErrQuotaExceeded}
	h := testRouter(t, memstore.New(), &fakeReplier{}, synth)

	rec := postJSON(h, "/api/voice/tts", map[string]any{"text": "Hi", "isDemo": true})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusForbidden)
	}
}

func TestSynthesizeUnavailable(t *testing.T) {
	synth := &fakeSynth{err: tts.ErrUnavailable}
	h := testRouter(t, memstore.New(), &fakeReplier{}, synth)

	rec := postJSON(h, "/api/voice/tts", map[string]any{"text": "Hi", "isDemo": true})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestSynthesizeGetQueryForm(t *testing.T) {
	synth := &fakeSynth{}
	h := testRouter(t, memstore.New(), &fakeReplier{}, synth)

	req := httptest.NewRequest(http.MethodGet, "/api/voice/tts?text=Hello&demo=1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(synth.calls) != 1 || synth.calls[0].Text != "Hello" {
		t.Errorf("calls = %+v", synth.calls)
	}
}

func TestUsageEndpoint(t *testing.T) {
	store := memstore.New()
	if err := store.SaveProfile(t.Context(), &tenant.BusinessProfile{
		ID: "p1", MinutesUsed: 42, MinutesLimit: 100,
	}); err != nil {
		t.Fatal(err)
	}
	h := testRouter(t, store, &fakeReplier{}, &fakeSynth{})

	req := httptest.NewRequest(http.MethodGet, "/api/usage?businessId=p1", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp usageResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.MinutesUsed != 42 || resp.MinutesLimit != 100 {
		t.Errorf("usage = %+v", resp)
	}
}

func TestPlansEndpoint(t *testing.T) {
	h := testRouter(t, memstore.New(), &fakeReplier{}, &fakeSynth{})

	req := httptest.NewRequest(http.MethodGet, "/api/billing/plans", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var plans []planResponse
	if err := json.NewDecoder(rec.Body).Decode(&plans); err != nil {
		t.Fatal(err)
	}
	if len(plans) != 3 {
		t.Fatalf("plans = %+v", plans)
	}
	if plans[0].Name != "starter" || plans[0].MinutesPerMonth != 100 {
		t.Errorf("first plan = %+v", plans[0])
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := testRouter(t, memstore.New(), &fakeReplier{}, &fakeSynth{})

	for _, path := range []string{"/healthz", "/readyz"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d", path, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := testRouter(t, memstore.New(), &fakeReplier{}, &fakeSynth{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
}
