package usage

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/voxdesk/voxdesk/internal/tenant"
	"github.com/voxdesk/voxdesk/internal/tenant/memstore"
)

func TestSynthesisMinutes(t *testing.T) {
	tests := []struct {
		chars int
		want  int
	}{
		{0, 0},
		{1, 1},
		{999, 1},
		{1000, 1},
		{1001, 2},
		{2500, 3},
	}
	for _, tt := range tests {
		if got := SynthesisMinutes(strings.Repeat("a", tt.chars)); got != tt.want {
			t.Errorf("SynthesisMinutes(%d chars) = %d, want %d", tt.chars, got, tt.want)
		}
	}
}

func TestCallMinutes(t *testing.T) {
	tests := []struct {
		seconds int
		want    int
	}{
		{0, 0},
		{-5, 0},
		{1, 1},
		{59, 1},
		{60, 1},
		{61, 2},
		{70, 2},
		{3600, 60},
	}
	for _, tt := range tests {
		if got := CallMinutes(tt.seconds); got != tt.want {
			t.Errorf("CallMinutes(%d) = %d, want %d", tt.seconds, got, tt.want)
		}
	}
}

func TestPlanCatalogue(t *testing.T) {
	for _, name := range []string{"starter", "growth", "pro"} {
		if _, ok := PlanByName(name); !ok {
			t.Errorf("plan %q missing from catalogue", name)
		}
	}
	if _, ok := PlanByName("enterprise"); ok {
		t.Error("unknown plan reported as present")
	}
	if p, _ := PlanByName("starter"); p.MinutesPerMonth != 100 {
		t.Errorf("starter allowance = %d, want 100", p.MinutesPerMonth)
	}
}

func seed(t *testing.T, used, limit int) (*Meter, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	err := store.SaveProfile(t.Context(), &tenant.BusinessProfile{
		ID:           "prof-1",
		Name:         "Test Clinic",
		MinutesUsed:  used,
		MinutesLimit: limit,
	})
	if err != nil {
		t.Fatal(err)
	}
	return NewMeter(store, nil), store
}

func TestCheckUnderLimit(t *testing.T) {
	m, _ := seed(t, 9, 10)
	p := &tenant.BusinessProfile{MinutesUsed: 9, MinutesLimit: 10}
	if err := m.Check(p); err != nil {
		t.Errorf("Check under limit: %v", err)
	}
}

func TestCheckAtLimit(t *testing.T) {
	m, _ := seed(t, 10, 10)
	p := &tenant.BusinessProfile{MinutesUsed: 10, MinutesLimit: 10}
	if !errors.Is(m.Check(p), ErrQuotaExceeded) {
		t.Error("Check at limit did not return ErrQuotaExceeded")
	}
}

func TestCheckUnmetered(t *testing.T) {
	m, _ := seed(t, 0, 0)
	p := &tenant.BusinessProfile{MinutesUsed: 500, MinutesLimit: 0}
	if err := m.Check(p); err != nil {
		t.Errorf("Check with zero limit: %v", err)
	}
}

// A tenant at 9 of 10 minutes may still take a call; a 70 second call then
// pushes usage to 11. The overshoot is recorded, not clamped.
func TestCallChargeCanOvershootLimit(t *testing.T) {
	m, store := seed(t, 9, 10)

	used, err := m.ChargeCall(t.Context(), "prof-1", 70)
	if err != nil {
		t.Fatalf("ChargeCall: %v", err)
	}
	if used != 11 {
		t.Errorf("minutes used = %d, want 11", used)
	}

	p, _ := store.GetProfile(t.Context(), "prof-1")
	if !errors.Is(m.Check(p), ErrQuotaExceeded) {
		t.Error("subsequent Check did not report quota exceeded")
	}
}

func TestZeroMinuteChargeDoesNotTouchCounter(t *testing.T) {
	m, store := seed(t, 3, 10)

	used, err := m.ChargeSynthesis(t.Context(), "prof-1", "")
	if err != nil {
		t.Fatalf("ChargeSynthesis: %v", err)
	}
	if used != 3 {
		t.Errorf("minutes used = %d, want unchanged 3", used)
	}

	p, _ := store.GetProfile(t.Context(), "prof-1")
	if p.MinutesUsed != 3 {
		t.Errorf("stored minutes = %d, want 3", p.MinutesUsed)
	}
}

func TestConcurrentChargesAllApply(t *testing.T) {
	m, store := seed(t, 0, 1000)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.ChargeCall(t.Context(), "prof-1", 90); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	p, _ := store.GetProfile(t.Context(), "prof-1")
	if p.MinutesUsed != 40 {
		t.Errorf("minutes used = %d, want 40", p.MinutesUsed)
	}
}
