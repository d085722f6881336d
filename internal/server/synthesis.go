package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/internal/usage"
	"github.com/voxdesk/voxdesk/pkg/provider/tts"
)

// synthesizeRequest is the POST body shape; GET requests carry the same
// fields as query parameters (text, business_id, demo).
type synthesizeRequest struct {
	Text       string `json:"text"`
	BusinessID string `json:"businessId"`
	IsDemo     bool   `json:"isDemo"`
}

// handleSynthesize converts one line of text to audio. Demo requests are
// unmetered; tenant requests are quota-gated before synthesis and charged
// after it.
func (a *api) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if a.synth == nil {
		http.Error(w, "synthesis unavailable", http.StatusServiceUnavailable)
		return
	}
	var req synthesizeRequest
	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Text = q.Get("text")
		req.BusinessID = q.Get("business_id")
		req.IsDemo = q.Get("demo") == "1" || q.Get("demo") == "true"
	} else {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	metered := !req.IsDemo && req.BusinessID != ""
	if metered {
		profile, err := a.store.GetProfile(ctx, req.BusinessID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				http.Error(w, "business not found", http.StatusNotFound)
				return
			}
			a.log.Error("synthesis profile lookup failed", "business_id", req.BusinessID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if err := a.meter.Check(profile); err != nil {
			a.metrics.RecordQuotaBlock(ctx, "synthesis")
			http.Error(w, "monthly minute quota exhausted", http.StatusForbidden)
			return
		}
	}

	start := time.Now()
	audio, err := a.synth.Synthesize(ctx, tts.Request{Text: req.Text})
	a.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		switch {
		case errors.Is(err, tts.ErrQuotaExceeded):
			a.metrics.RecordQuotaBlock(ctx, "synthesis")
			http.Error(w, "synthesis quota exhausted", http.StatusForbidden)
		default:
			a.log.Error("synthesis failed", "error", err)
			http.Error(w, "synthesis unavailable", http.StatusServiceUnavailable)
		}
		return
	}

	if metered {
		if _, err := a.meter.ChargeSynthesis(ctx, req.BusinessID, req.Text); err != nil {
			a.log.Error("synthesis charge failed", "business_id", req.BusinessID, "error", err)
		} else {
			a.metrics.AddUsageMinutes(ctx, "synthesis", usage.SynthesisMinutes(req.Text))
		}
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	_, _ = w.Write(audio)
}
