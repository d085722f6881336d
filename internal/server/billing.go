package server

import (
	"errors"
	"net/http"

	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/internal/usage"
)

type usageResponse struct {
	MinutesUsed  int `json:"minutesUsed"`
	MinutesLimit int `json:"minutesLimit"`
}

// handleUsage reports a tenant's current minute consumption.
func (a *api) handleUsage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("businessId")
	if id == "" {
		id = r.URL.Query().Get("business_id")
	}
	if id == "" {
		http.Error(w, "businessId is required", http.StatusBadRequest)
		return
	}

	profile, err := a.store.GetProfile(r.Context(), id)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			http.Error(w, "business not found", http.StatusNotFound)
			return
		}
		a.log.Error("usage lookup failed", "business_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, usageResponse{
		MinutesUsed:  profile.MinutesUsed,
		MinutesLimit: profile.MinutesLimit,
	})
}

type planResponse struct {
	Name            string `json:"name"`
	MinutesPerMonth int    `json:"minutesPerMonth"`
	PriceCents      int    `json:"priceCents"`
}

// handlePlans exposes the static plan catalog. Plan changes themselves are
// approved out of band; this endpoint is read-only.
func (a *api) handlePlans(w http.ResponseWriter, _ *http.Request) {
	plans := make([]planResponse, 0, len(usage.Plans))
	for _, p := range usage.Plans {
		plans = append(plans, planResponse{
			Name:            p.Name,
			MinutesPerMonth: p.MinutesPerMonth,
			PriceCents:      p.PriceCents,
		})
	}
	writeJSON(w, http.StatusOK, plans)
}
