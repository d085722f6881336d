package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/voxdesk/voxdesk/internal/engine"
	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
)

// msgDemoLimit is spoken in-band when a demo conversation runs out of replies.
const msgDemoLimit = "You've reached the demo conversation limit. Sign up to keep talking with your own receptionist."

// chatTurn mirrors one stored conversation turn on the wire.
type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// businessConfig is the inline tenant context a demo widget sends instead of
// a stored profile.
type businessConfig struct {
	Name     string   `json:"name"`
	Services []string `json:"services"`
	Hours    string   `json:"hours"`
	Tone     string   `json:"tone"`
}

type chatRequest struct {
	Message    string          `json:"message"`
	History    []chatTurn      `json:"history"`
	Config     *businessConfig `json:"config"`
	BusinessID string          `json:"businessId"`
}

type chatResponse struct {
	Response     string `json:"response"`
	Error        bool   `json:"error,omitempty"`
	LimitReached bool   `json:"limitReached,omitempty"`
}

// handleChat answers one browser chat turn. A request with inline config (or
// with nothing at all) is a demo conversation and gets a buffered JSON reply;
// a request resolving a stored profile streams the reply as chunked text.
func (a *api) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	history := chatHistory(req.History)

	if req.BusinessID != "" {
		profile, err := a.store.GetProfile(ctx, req.BusinessID)
		if err != nil {
			if errors.Is(err, tenant.ErrNotFound) {
				http.Error(w, "business not found", http.StatusNotFound)
				return
			}
			a.log.Error("chat profile lookup failed", "business_id", req.BusinessID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		a.streamChat(w, r, profile, history, req.Message)
		return
	}

	// Demo path: inline config when present, the built-in demo profile when
	// the request carries neither config nor a business id.
	profile := engine.DemoProfile()
	if req.Config != nil {
		profile = &tenant.BusinessProfile{
			Name:     req.Config.Name,
			Services: req.Config.Services,
			Hours:    req.Config.Hours,
			Tone:     req.Config.Tone,
		}
	}

	if limit := a.settings.DemoReplyLimit(); limit > 0 && assistantTurns(req.History) >= limit {
		writeJSON(w, http.StatusOK, chatResponse{Response: msgDemoLimit, LimitReached: true})
		return
	}

	start := time.Now()
	reply, err := a.replier.Reply(ctx, profile, engine.ChannelChat, history, req.Message)
	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	a.metrics.RecordReply(ctx, "chat")

	resp := chatResponse{Response: reply}
	if err != nil {
		a.log.Warn("demo chat reply degraded", "error", err)
		resp.Error = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamChat forwards reply chunks to the client as they arrive.
func (a *api) streamChat(w http.ResponseWriter, r *http.Request, profile *tenant.BusinessProfile, history []llm.Message, message string) {
	ctx := r.Context()

	start := time.Now()
	chunks, err := a.replier.StreamReply(ctx, profile, engine.ChannelChat, history, message)
	if err != nil {
		a.log.Error("chat stream failed to open", "business_id", profile.ID, "error", err)
		http.Error(w, "reply unavailable", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for chunk := range chunks {
		if chunk.FinishReason == "error" {
			a.log.Warn("chat stream ended with error", "business_id", profile.ID, "detail", chunk.Text)
			break
		}
		if chunk.Text == "" {
			continue
		}
		if _, err := w.Write([]byte(chunk.Text)); err != nil {
			// Client went away; drain so the provider goroutine can finish.
			for range chunks {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	a.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	a.metrics.RecordReply(ctx, "chat")
}

// chatHistory converts wire turns to model history.
func chatHistory(turns []chatTurn) []llm.Message {
	history := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == llm.RoleAssistant || t.Role == tenant.RoleAssistant {
			role = llm.RoleAssistant
		}
		history = append(history, llm.Message{Role: role, Content: t.Content})
	}
	return history
}

// assistantTurns counts completed replies in a conversation.
func assistantTurns(turns []chatTurn) int {
	n := 0
	for _, t := range turns {
		if t.Role == llm.RoleAssistant || t.Role == tenant.RoleAssistant {
			n++
		}
	}
	return n
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
