// Package usage implements quota accounting for voice minutes. Every channel
// that produces speech converts its work into whole minutes, checks the
// tenant's allowance before doing the work, and records the spend afterwards.
//
// Minutes are always rounded up: a 70 second call costs 2 minutes, a 1200
// character synthesis costs 2 minutes. Usage never decreases within a billing
// period, and concurrent charges for the same tenant all apply because the
// increment happens in the store.
package usage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxdesk/voxdesk/internal/tenant"
)

// ErrQuotaExceeded is returned when a tenant has consumed its full minute
// allowance for the current period.
var ErrQuotaExceeded = errors.New("usage: minute quota exceeded")

// charsPerMinute is the synthesis-to-minutes conversion rate: every started
// block of 1000 characters costs one minute.
const charsPerMinute = 1000

// Plan describes one subscription tier.
type Plan struct {
	// Name is the tier identifier stored on profiles.
	Name string

	// MinutesPerMonth is the voice minute allowance.
	MinutesPerMonth int

	// PriceCents is the monthly price in cents, for the plan listing.
	PriceCents int
}

// Plans is the subscription catalogue, cheapest first.
var Plans = []Plan{
	{Name: "starter", MinutesPerMonth: 100, PriceCents: 2900},
	{Name: "growth", MinutesPerMonth: 500, PriceCents: 9900},
	{Name: "pro", MinutesPerMonth: 2000, PriceCents: 29900},
}

// PlanByName returns the plan with the given name.
func PlanByName(name string) (Plan, bool) {
	for _, p := range Plans {
		if p.Name == name {
			return p, true
		}
	}
	return Plan{}, false
}

// SynthesisMinutes converts a synthesis request into billable minutes.
// Non-empty text always costs at least one minute.
func SynthesisMinutes(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerMinute - 1) / charsPerMinute
}

// CallMinutes converts a call duration in seconds into billable minutes.
func CallMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}

// Meter checks and records minute spend against the tenant store.
type Meter struct {
	store tenant.Store
	log   *slog.Logger
}

// NewMeter creates a Meter on top of the given store.
func NewMeter(store tenant.Store, log *slog.Logger) *Meter {
	if log == nil {
		log = slog.Default()
	}
	return &Meter{store: store, log: log}
}

// Check returns ErrQuotaExceeded when the profile has no minutes left.
// A zero MinutesLimit means the profile is not metered.
func (m *Meter) Check(p *tenant.BusinessProfile) error {
	if p.MinutesLimit > 0 && p.MinutesUsed >= p.MinutesLimit {
		return fmt.Errorf("%w: %d of %d minutes used", ErrQuotaExceeded, p.MinutesUsed, p.MinutesLimit)
	}
	return nil
}

// ChargeSynthesis records the minute cost of synthesizing text.
func (m *Meter) ChargeSynthesis(ctx context.Context, profileID, text string) (int, error) {
	return m.charge(ctx, profileID, SynthesisMinutes(text), "synthesis")
}

// ChargeCall records the minute cost of a finished call.
func (m *Meter) ChargeCall(ctx context.Context, profileID string, durationSeconds int) (int, error) {
	return m.charge(ctx, profileID, CallMinutes(durationSeconds), "call")
}

func (m *Meter) charge(ctx context.Context, profileID string, minutes int, kind string) (int, error) {
	if minutes == 0 {
		p, err := m.store.GetProfile(ctx, profileID)
		if err != nil {
			return 0, err
		}
		return p.MinutesUsed, nil
	}
	used, err := m.store.AddMinutes(ctx, profileID, minutes)
	if err != nil {
		return 0, fmt.Errorf("usage: charge %s: %w", kind, err)
	}
	m.log.Info("usage charged",
		"profile_id", profileID,
		"kind", kind,
		"minutes", minutes,
		"minutes_used", used)
	return used, nil
}
