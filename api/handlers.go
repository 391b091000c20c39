/*
handlers.go - HTTP API handlers for the clinic payroll engine

PURPOSE:
  Exposes the compensation engine via REST API. Handles HTTP request and
  response, JSON serialization and validation, and delegates to the store
  and the per-clinic engines.

ENDPOINTS:
  Staff:
    GET    /api/clinics/{clinicID}/staff                       List roster
    POST   /api/clinics/{clinicID}/staff                       Create/update staff

  Monthly inputs:
    PUT    /api/clinics/{clinicID}/months/{month}/attendance   Batch attendance
    PUT    /api/clinics/{clinicID}/months/{month}/revenue      Batch revenue
    PUT    /api/clinics/{clinicID}/months/{month}/meals        Batch meal deductions
    GET    /api/clinics/{clinicID}/months/{month}/pool-rate    Effective pool rate
    PUT    /api/clinics/{clinicID}/months/{month}/pool-rate    Set pool rate

  Payroll:
    POST   /api/clinics/{clinicID}/months/{month}/payroll/recompute
    GET    /api/clinics/{clinicID}/months/{month}/payroll
    PATCH  /api/clinics/{clinicID}/months/{month}/payroll/{staffID}

ARCHITECTURE:
  Handler holds:
  - Store: sqlite store for every collaborator
  - Overrides: optional alternative override store (redis)
  - Rules: run settings per clinic
  - One compensation.Engine per clinic, created on first use

  A clinic's engine holds one active month. Recomputing another month of the
  same clinic replaces it, and an edit aimed at a month that is no longer
  active is rejected with 409.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown field, unparsable value, bad month
  - 404: Staff member not in the active payroll
  - 409: Superseded recompute, edit for an inactive month
  - 502: A collaborator fetch failed
  - 503: Engine shutting down
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-payroll/compensation"
	"github.com/warp/clinic-payroll/factory"
	"github.com/warp/clinic-payroll/logger"
	"github.com/warp/clinic-payroll/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Overrides compensation.OverrideStore
	Rules     *factory.Rules

	log            zerolog.Logger
	persistTimeout time.Duration
	validate       *validator.Validate

	mu      sync.Mutex
	engines map[compensation.ClinicID]*compensation.Engine

	// Track currently loaded scenario
	currentScenario string
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithOverrideStore replaces the sqlite override store.
func WithOverrideStore(o compensation.OverrideStore) HandlerOption {
	return func(h *Handler) { h.Overrides = o }
}

func WithRules(r *factory.Rules) HandlerOption {
	return func(h *Handler) { h.Rules = r }
}

func WithLogger(l zerolog.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

func WithPersistTimeout(d time.Duration) HandlerOption {
	return func(h *Handler) { h.persistTimeout = d }
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store, opts ...HandlerOption) *Handler {
	h := &Handler{
		Store:     store,
		Overrides: store,
		Rules:     factory.DefaultRules(),
		log:       logger.Component("api"),
		validate:  validator.New(),
		engines:   make(map[compensation.ClinicID]*compensation.Engine),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// engine returns the clinic's engine, creating it on first use.
func (h *Handler) engine(clinicID compensation.ClinicID) *compensation.Engine {
	h.mu.Lock()
	defer h.mu.Unlock()

	if e, ok := h.engines[clinicID]; ok {
		return e
	}
	src := compensation.SourcesFrom(h.Store)
	src.PoolConfig = h.Rules.PoolConfig(h.Store)
	src.Overrides = h.Overrides
	e := compensation.NewEngine(src,
		compensation.WithLogger(h.log.With().Str("clinic_id", string(clinicID)).Logger()),
		compensation.WithPersistTimeout(h.persistTimeout),
	)
	h.engines[clinicID] = e
	return e
}

// Close drains every engine's pending override writes.
func (h *Handler) Close() error {
	h.mu.Lock()
	engines := h.engines
	h.engines = make(map[compensation.ClinicID]*compensation.Engine)
	h.mu.Unlock()

	var errs []error
	for _, e := range engines {
		errs = append(errs, e.Close())
	}
	return errors.Join(errs...)
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

// ListClinics returns every clinic with at least one staff member.
func (h *Handler) ListClinics(w http.ResponseWriter, r *http.Request) {
	clinics, err := h.Store.ListClinics(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clinics", err)
		return
	}
	writeJSON(w, http.StatusOK, clinics)
}

// ListStaff returns the clinic roster.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	clinicID := compensation.ClinicID(chi.URLParam(r, "clinicID"))

	roster, err := h.Store.GetRoster(r.Context(), clinicID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list staff", err)
		return
	}
	writeJSON(w, http.StatusOK, roster)
}

// CreateStaff creates or updates a staff profile.
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	clinicID := compensation.ClinicID(chi.URLParam(r, "clinicID"))

	var req CreateStaffRequest
	if !h.decode(w, r, &req) {
		return
	}
	for name, v := range map[string]decimal.Decimal{
		"base_salary":            req.BaseSalary,
		"allowance":              req.Allowance,
		"monthly_insurance_cost": req.MonthlyInsuranceCost,
	} {
		if v.IsNegative() {
			writeError(w, http.StatusBadRequest, "Validation failed", errors.New(name+" must not be negative"))
			return
		}
	}

	member := compensation.StaffMember{
		ID:                   compensation.StaffID(req.ID),
		ClinicID:             clinicID,
		Name:                 req.Name,
		Role:                 compensation.Role(req.Role),
		BaseSalary:           req.BaseSalary,
		Allowance:            req.Allowance,
		MonthlyInsuranceCost: req.MonthlyInsuranceCost,
	}
	if err := h.Store.SaveStaff(r.Context(), member); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

// DeleteStaff removes a staff profile. Rows already computed for the active
// period keep the member until the next recompute.
func (h *Handler) DeleteStaff(w http.ResponseWriter, r *http.Request) {
	clinicID := compensation.ClinicID(chi.URLParam(r, "clinicID"))
	staffID := compensation.StaffID(chi.URLParam(r, "staffID"))

	if err := h.Store.DeleteStaff(r.Context(), clinicID, staffID); err != nil {
		writeDomainError(w, "Failed to delete staff", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// MONTHLY INPUT HANDLERS
// =============================================================================

// PutAttendance stores a batch of attendance summaries.
func (h *Handler) PutAttendance(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req AttendanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	for _, e := range req.Entries {
		stats := compensation.AttendanceStats{
			PersonalLeaveDays:  e.PersonalLeaveDays,
			SickLeaveDays:      e.SickLeaveDays,
			SpecialLeaveDays:   e.SpecialLeaveDays,
			LateCount:          e.LateCount,
			SundayOvertimeDays: e.SundayOvertimeDays,
		}
		if err := h.Store.SetAttendance(r.Context(), p.ClinicID, p.Month, compensation.StaffID(e.StaffID), stats); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save attendance", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Entries)})
}

// PutRevenue stores a batch of revenue attributions.
func (h *Handler) PutRevenue(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req RevenueRequest
	if !h.decode(w, r, &req) {
		return
	}

	for _, e := range req.Entries {
		rev := compensation.RevenueAttribution{SelfPay: e.SelfPay, Retail: e.Retail}
		if err := h.Store.SetRevenue(r.Context(), p.ClinicID, p.Month, compensation.StaffID(e.StaffID), rev); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save revenue", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Entries)})
}

// PutMeals stores a batch of meal deductions.
func (h *Handler) PutMeals(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req MealsRequest
	if !h.decode(w, r, &req) {
		return
	}

	for _, e := range req.Entries {
		if err := h.Store.SetMealDeduction(r.Context(), p.ClinicID, p.Month, compensation.StaffID(e.StaffID), e.Amount); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save meal deduction", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Entries)})
}

// GetPoolRate returns the pool rate the next recompute will use.
func (h *Handler) GetPoolRate(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}
	rate, err := h.Rules.PoolConfig(h.Store).GetBonusPoolRate(r.Context(), p.ClinicID, p.Month)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get pool rate", err)
		return
	}
	writeJSON(w, http.StatusOK, PoolRateDTO{ClinicID: string(p.ClinicID), Month: p.Month.String(), RatePercent: rate})
}

// PutPoolRate sets the month's pool rate, clamped to [0, 100].
func (h *Handler) PutPoolRate(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}
	var req PoolRateRequest
	if !h.decode(w, r, &req) {
		return
	}

	rate := compensation.ClampPoolRate(*req.RatePercent)
	if err := h.Store.SetBonusPoolRate(r.Context(), p.ClinicID, p.Month, rate); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save pool rate", err)
		return
	}
	writeJSON(w, http.StatusOK, PoolRateDTO{ClinicID: string(p.ClinicID), Month: p.Month.String(), RatePercent: rate})
}

// =============================================================================
// PAYROLL HANDLERS
// =============================================================================

// Recompute rebuilds the payroll for the month and makes it the clinic's
// active period.
func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}

	cfg := h.Rules.RunConfig(p.ClinicID)
	rows, err := h.engine(p.ClinicID).Recompute(r.Context(), p.ClinicID, p.Month, cfg)
	if err != nil {
		writeDomainError(w, "Failed to compute payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(p, cfg, rows))
}

// GetPayroll returns the active rows when the month is already active,
// otherwise it recomputes first.
func (h *Handler) GetPayroll(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}

	e := h.engine(p.ClinicID)
	cfg := h.Rules.RunConfig(p.ClinicID)
	if active, ok := e.Period(); ok && active == p {
		writeJSON(w, http.StatusOK, toPayrollDTO(p, cfg, e.Rows()))
		return
	}

	rows, err := e.Recompute(r.Context(), p.ClinicID, p.Month, cfg)
	if err != nil {
		writeDomainError(w, "Failed to compute payroll", err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(p, cfg, rows))
}

// UpdateField edits one override field of one staff member's row.
func (h *Handler) UpdateField(w http.ResponseWriter, r *http.Request) {
	p, ok := periodParam(w, r)
	if !ok {
		return
	}
	staffID := compensation.StaffID(chi.URLParam(r, "staffID"))

	var req UpdateFieldRequest
	if !h.decode(w, r, &req) {
		return
	}

	row, err := h.engine(p.ClinicID).UpdateFieldIn(p, staffID, compensation.OverrideField(req.Field), string(req.Value))
	if err != nil {
		writeDomainError(w, "Failed to update field", err)
		return
	}

	logger.FromContext(r.Context()).Info().
		Str("period", p.String()).
		Str("staff_id", string(staffID)).
		Str("field", req.Field).
		Msg("payroll field updated")

	writeJSON(w, http.StatusOK, toSalaryRowDTO(row))
}

// =============================================================================
// HELPERS
// =============================================================================

// periodParam reads {clinicID} and {month} from the route.
func periodParam(w http.ResponseWriter, r *http.Request) (compensation.Period, bool) {
	month, err := compensation.ParseMonth(chi.URLParam(r, "month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return compensation.Period{}, false
	}
	return compensation.Period{
		ClinicID: compensation.ClinicID(chi.URLParam(r, "clinicID")),
		Month:    month,
	}, true
}

// decode reads the JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				details[fe.Namespace()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Code: "validation", Details: details})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// writeDomainError maps engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case compensation.IsClientError(err):
		status, code = http.StatusBadRequest, "invalid_input"
	case compensation.IsNotFound(err):
		status, code = http.StatusNotFound, "not_found"
	case compensation.IsConflict(err):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, compensation.ErrCollaboratorFetch):
		status, code = http.StatusBadGateway, "fetch_failed"
	case errors.Is(err, compensation.ErrClosed):
		status, code = http.StatusServiceUnavailable, "closed"
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
