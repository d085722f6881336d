package engine

import (
	"fmt"
	"strings"

	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/pkg/provider/llm"
)

// Channel selects the delivery constraints baked into the system prompt.
type Channel string

const (
	// ChannelChat targets the text widget; replies stay under 50 words.
	ChannelChat Channel = "chat"

	// ChannelVoice targets spoken calls; replies stay under 30 words.
	ChannelVoice Channel = "voice"
)

// historyOpener is prepended when a conversation history starts with an
// assistant turn, since model backends require the first turn to be the user's.
const historyOpener = "Start conversation"

// DemoProfile returns the profile used when a request carries no tenant
// context, keeping the public demo functional without an account.
func DemoProfile() *tenant.BusinessProfile {
	return &tenant.BusinessProfile{
		ID:       "demo",
		Name:     "Voxdesk Demo",
		Services: []string{"AI Receptionist Services"},
		Hours:    "24/7",
		Tone:     "friendly and professional",
	}
}

// BuildSystemPrompt renders the receptionist instructions for a profile.
// The prompt confines answers to the listed business facts; anything unknown
// becomes an offer to take a message.
func BuildSystemPrompt(p *tenant.BusinessProfile, ch Channel) string {
	name := p.Name
	if name == "" {
		name = "Business"
	}
	services := strings.Join(p.Services, ", ")
	if services == "" {
		services = "General Inquiry"
	}
	hours := p.Hours
	if hours == "" {
		hours = "9 AM - 5 PM"
	}
	tone := p.Tone
	if tone == "" {
		tone = "professional"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an AI receptionist for %q.\n\n", name)
	b.WriteString("BUSINESS DETAILS:\n")
	fmt.Fprintf(&b, "- Services: %s\n", services)
	fmt.Fprintf(&b, "- Working Hours: %s\n", hours)
	fmt.Fprintf(&b, "- Tone: %s\n\n", tone)
	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. You are talking to a customer.\n")
	b.WriteString("2. Answer strictly based on the business details.\n")
	b.WriteString("3. If asked about something not listed, say you don't know but can take a message.\n")
	fmt.Fprintf(&b, "4. Be %s.\n", tone)
	switch ch {
	case ChannelVoice:
		b.WriteString("5. Keep responses very brief (under 30 words) for voice calls.\n")
	default:
		b.WriteString("5. Keep responses concise (under 50 words) suitable for a chat interface.\n")
	}
	return b.String()
}

// NormalizeHistory sanitizes a client-supplied conversation history:
// unknown roles collapse to user, empty turns are dropped, and a history
// that opens with an assistant turn gets a synthetic user opener.
func NormalizeHistory(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+1)
	for _, msg := range history {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		role := msg.Role
		if role != llm.RoleAssistant {
			role = llm.RoleUser
		}
		out = append(out, llm.Message{Role: role, Content: msg.Content})
	}
	if len(out) > 0 && out[0].Role == llm.RoleAssistant {
		out = append([]llm.Message{{Role: llm.RoleUser, Content: historyOpener}}, out...)
	}
	return out
}
