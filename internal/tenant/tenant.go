// Package tenant defines the business profiles served by the receptionist and
// the call logs recorded for them, together with the Store interface their
// persistence goes through.
//
// A profile is the unit of tenancy: it carries the business facts the
// receptionist answers from, the phone number calls arrive on, and the usage
// counters the quota checks read. Call logs accumulate one transcript turn per
// exchange; turns are append-only and never overwritten.
package tenant

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Store implementations.
var (
	// ErrNotFound is returned when no profile or call matches the lookup.
	ErrNotFound = errors.New("tenant: not found")
)

// BusinessProfile holds everything the receptionist knows about one business.
type BusinessProfile struct {
	// ID uniquely identifies the profile.
	ID string

	// UserID is the account that owns this profile.
	UserID string

	// Name is the business name announced in greetings.
	Name string

	// Services lists what the business offers, used verbatim in answers.
	Services []string

	// Hours describes the working hours in free text (e.g. "Mon-Fri 9-17").
	Hours string

	// Tone adjusts the receptionist's delivery (e.g. "friendly", "formal").
	Tone string

	// Greeting is the opening line spoken when a call connects. Empty means
	// a default greeting built from Name is used.
	Greeting string

	// PhoneNumber is the E.164 number inbound calls arrive on.
	PhoneNumber string

	// Plan is the subscription plan name (e.g. "starter").
	Plan string

	// MinutesLimit is the monthly voice minute allowance for Plan.
	MinutesLimit int

	// MinutesUsed is the number of voice minutes consumed this period.
	MinutesUsed int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn is one exchange in a call transcript.
type Turn struct {
	// Role is "caller" or "assistant".
	Role string `json:"role"`

	// Content is the spoken or synthesized text.
	Content string `json:"content"`

	// At is when the turn happened.
	At time.Time `json:"at"`
}

// Transcript roles.
const (
	RoleCaller    = "caller"
	RoleAssistant = "assistant"
)

// CallLog records one inbound call for a profile.
type CallLog struct {
	// ID uniquely identifies the log entry.
	ID string

	// ProfileID is the profile the call was answered for.
	ProfileID string

	// CallSID is the telephony provider's call identifier.
	CallSID string

	// From is the caller's number as reported by the provider.
	From string

	// Status is the provider call status ("in-progress", "completed", ...).
	Status string

	// Transcript holds the accumulated turns, oldest first.
	Transcript []Turn

	// DurationSeconds is the call length reported on completion.
	DurationSeconds int

	StartedAt time.Time
	EndedAt   time.Time
}

// Store is the persistence boundary for profiles and call logs.
//
// AddMinutes must be atomic: concurrent increments for the same profile must
// all be applied, and the returned total reflects the state after this
// increment. AppendTurn must preserve existing turns.
type Store interface {
	// GetProfile returns the profile with the given ID.
	GetProfile(ctx context.Context, id string) (*BusinessProfile, error)

	// GetProfileByPhone returns the profile owning the given phone number.
	GetProfileByPhone(ctx context.Context, number string) (*BusinessProfile, error)

	// SaveProfile inserts or updates a profile.
	SaveProfile(ctx context.Context, p *BusinessProfile) error

	// AddMinutes atomically adds minutes to the profile's usage counter and
	// returns the new total.
	AddMinutes(ctx context.Context, profileID string, minutes int) (int, error)

	// StartCall records the beginning of a call.
	StartCall(ctx context.Context, c *CallLog) error

	// AppendTurn appends one transcript turn to the call identified by callSID.
	AppendTurn(ctx context.Context, callSID string, t Turn) error

	// CompleteCall marks the call finished with its final status and duration.
	CompleteCall(ctx context.Context, callSID, status string, durationSeconds int) error

	// GetCallBySID returns the call log for the provider call identifier.
	GetCallBySID(ctx context.Context, callSID string) (*CallLog, error)
}
