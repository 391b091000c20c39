/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	clinic data for testing and demos. Each scenario creates staff and one or
	more months of attendance, revenue and meal inputs that exercise a
	specific part of the payroll rules.

AVAILABLE SCENARIOS:

	single-earner: Four consultants, one with revenue, pool redistribution
	full-clinic:   Every role, lateness, personal leave, meals, Sunday overtime
	sick-buffer:   Sick days spread over the year eating into the annual buffer

HOW SCENARIOS WORK:
 1. Close open engines and reset the database
 2. Re-apply pool rates from the rules file
 3. Create staff
 4. Add monthly inputs

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "full-clinic"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to loadScenario

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Payroll handlers
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-payroll/compensation"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

const demoClinic compensation.ClinicID = "demo-clinic"

var demoMonth = compensation.NewMonth(2025, time.March)

var scenarios = []ScenarioDTO{
	{
		ID:          "single-earner",
		Name:        "Single Earner",
		Description: "Four consultants, only one with revenue; the pool spreads 30% of the bonus",
		ClinicID:    string(demoClinic),
		Month:       demoMonth.String(),
	},
	{
		ID:          "full-clinic",
		Name:        "Full Clinic",
		Description: "Every role, with lateness, personal leave, meals and Sunday overtime",
		ClinicID:    string(demoClinic),
		Month:       demoMonth.String(),
	},
	{
		ID:          "sick-buffer",
		Name:        "Sick Buffer",
		Description: "Sick days in January and February use up most of the annual buffer",
		ClinicID:    string(demoClinic),
		Month:       demoMonth.String(),
	},
}

// overrideClearer is implemented by override stores that live outside the
// sqlite database and are not covered by Store.Reset.
type overrideClearer interface {
	Clear(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.loadScenario(r.Context(), req.ScenarioID); err != nil {
		if errors.Is(err, errUnknownScenario) {
			writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

var errUnknownScenario = errors.New("unknown scenario")

func (h *Handler) loadScenario(ctx context.Context, id string) error {
	var load func(context.Context) error
	switch id {
	case "single-earner":
		load = h.loadSingleEarnerScenario
	case "full-clinic":
		load = h.loadFullClinicScenario
	case "sick-buffer":
		load = h.loadSickBufferScenario
	default:
		return errUnknownScenario
	}

	if err := h.reset(ctx); err != nil {
		return err
	}
	if err := load(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
	h.log.Info().Str("scenario", id).Msg("scenario loaded")
	return nil
}

// reset drains and drops every engine before clearing storage so that no
// queued override write lands in the fresh database.
func (h *Handler) reset(ctx context.Context) error {
	if err := h.Close(); err != nil {
		return err
	}
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	if c, ok := h.Overrides.(overrideClearer); ok {
		for _, m := range []compensation.Month{demoMonth.Prev().Prev(), demoMonth.Prev(), demoMonth} {
			if err := c.Clear(ctx, demoClinic, m); err != nil {
				return fmt.Errorf("failed to clear overrides: %w", err)
			}
		}
	}
	if err := h.Rules.ApplyPoolRates(ctx, h.Store); err != nil {
		return err
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) saveStaff(ctx context.Context, id, name string, role compensation.Role, base, allowance, insurance int64) error {
	return h.Store.SaveStaff(ctx, compensation.StaffMember{
		ID:                   compensation.StaffID(id),
		ClinicID:             demoClinic,
		Name:                 name,
		Role:                 role,
		BaseSalary:           decimal.NewFromInt(base),
		Allowance:            decimal.NewFromInt(allowance),
		MonthlyInsuranceCost: decimal.NewFromInt(insurance),
	})
}

// loadSingleEarnerScenario: c-001 earns a 2000 base bonus (1% of 100000
// self-pay plus 10% of 10000 retail). 30% of it (600) is pooled and split
// four ways, so c-001 ends with 1550 and the others with 150 each.
func (h *Handler) loadSingleEarnerScenario(ctx context.Context) error {
	staff := []struct {
		id, name string
	}{
		{"c-001", "Mina Cho"},
		{"c-002", "Jun Park"},
		{"c-003", "Sora Lim"},
		{"c-004", "Dae Kang"},
	}
	for i, s := range staff {
		base := int64(28000)
		if i == 0 {
			base = 30000
		}
		if err := h.saveStaff(ctx, s.id, s.name, compensation.RoleConsultant, base, 2000, 800); err != nil {
			return err
		}
	}

	return h.Store.SetRevenue(ctx, demoClinic, demoMonth, "c-001", compensation.RevenueAttribution{SelfPay: 100000, Retail: 10000})
}

// loadFullClinicScenario covers each rule at least once.
func (h *Handler) loadFullClinicScenario(ctx context.Context) error {
	staff := []struct {
		id, name  string
		role      compensation.Role
		base      int64
		allowance int64
		insurance int64
	}{
		{"c-001", "Mina Cho", compensation.RoleConsultant, 32000, 2000, 900},
		{"c-002", "Jun Park", compensation.RoleConsultant, 30000, 2000, 850},
		{"t-001", "Hana Yoo", compensation.RoleTrainee, 26000, 1000, 600},
		{"a-001", "Bo Seo", compensation.RoleAssistant, 27000, 1000, 650},
		{"m-001", "Eun Han", compensation.RoleManager, 42000, 5000, 1200},
		{"p-001", "Ray Moon", compensation.RolePartTime, 0, 0, 0},
	}
	for _, s := range staff {
		if err := h.saveStaff(ctx, s.id, s.name, s.role, s.base, s.allowance, s.insurance); err != nil {
			return err
		}
	}

	attendance := map[compensation.StaffID]compensation.AttendanceStats{
		"c-001": {},
		"c-002": {LateCount: 1},
		"t-001": {PersonalLeaveDays: 1.5, SickLeaveDays: 1},
		"a-001": {SundayOvertimeDays: 2, SpecialLeaveDays: 1},
		"m-001": {SickLeaveDays: 0.5},
	}
	for id, st := range attendance {
		if err := h.Store.SetAttendance(ctx, demoClinic, demoMonth, id, st); err != nil {
			return err
		}
	}

	revenue := map[compensation.StaffID]compensation.RevenueAttribution{
		"c-001": {SelfPay: 180000, Retail: 25000},
		"c-002": {SelfPay: 60000, Retail: 4000},
		"t-001": {SelfPay: 20000},
		"a-001": {Retail: 8000},
	}
	for id, rev := range revenue {
		if err := h.Store.SetRevenue(ctx, demoClinic, demoMonth, id, rev); err != nil {
			return err
		}
	}

	meals := map[compensation.StaffID]float64{"c-001": 420, "c-002": 420, "t-001": 350, "a-001": 280}
	for id, amount := range meals {
		if err := h.Store.SetMealDeduction(ctx, demoClinic, demoMonth, id, amount); err != nil {
			return err
		}
	}
	return nil
}

// loadSickBufferScenario: s-001 took 6 sick days in January and 2 in
// February, so only 2 of March's 5 are covered by the 10-day buffer.
func (h *Handler) loadSickBufferScenario(ctx context.Context) error {
	if err := h.saveStaff(ctx, "s-001", "Ara Jung", compensation.RoleAssistant, 28000, 2000, 700); err != nil {
		return err
	}
	if err := h.saveStaff(ctx, "s-002", "Min Ko", compensation.RoleAssistant, 28000, 2000, 700); err != nil {
		return err
	}

	history := []struct {
		month compensation.Month
		staff compensation.StaffID
		sick  float64
	}{
		{demoMonth.Prev().Prev(), "s-001", 6},
		{demoMonth.Prev(), "s-001", 2},
		{demoMonth, "s-001", 5},
		{demoMonth, "s-002", 5},
	}
	for _, e := range history {
		if err := h.Store.SetAttendance(ctx, demoClinic, e.month, e.staff, compensation.AttendanceStats{SickLeaveDays: e.sick}); err != nil {
			return err
		}
	}
	return nil
}
