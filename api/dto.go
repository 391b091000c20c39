/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  go-playground/validator tags; handlers run validate.Struct before touching
  the store or the engine.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Staff:
    StaffDTO, CreateStaffRequest

  Monthly inputs:
    AttendanceRequest, RevenueRequest, MealsRequest, PoolRateDTO, PoolRateRequest

  Payroll:
    PayrollDTO, SalaryRowDTO, PayrollTotalsDTO, UpdateFieldRequest

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

SEE ALSO:
  - handlers.go: Uses these types
  - compensation/types.go: Domain types
*/
package api

import (
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-payroll/compensation"
)

// =============================================================================
// STAFF
// =============================================================================

// StaffDTO represents a staff member in API responses.
type StaffDTO = compensation.StaffMember

// CreateStaffRequest creates or updates a staff profile.
type CreateStaffRequest struct {
	ID                   string          `json:"id" validate:"required,max=64"`
	Name                 string          `json:"name" validate:"required,max=200"`
	Role                 string          `json:"role" validate:"required,oneof=consultant trainee assistant manager part_time"`
	BaseSalary           decimal.Decimal `json:"base_salary"`
	Allowance            decimal.Decimal `json:"allowance"`
	MonthlyInsuranceCost decimal.Decimal `json:"monthly_insurance_cost"`
}

// =============================================================================
// MONTHLY INPUTS
// =============================================================================

// AttendanceEntry is one staff member's monthly attendance summary.
type AttendanceEntry struct {
	StaffID            string  `json:"staff_id" validate:"required"`
	PersonalLeaveDays  float64 `json:"personal_leave_days" validate:"gte=0"`
	SickLeaveDays      float64 `json:"sick_leave_days" validate:"gte=0"`
	SpecialLeaveDays   float64 `json:"special_leave_days" validate:"gte=0"`
	LateCount          float64 `json:"late_count" validate:"gte=0"`
	SundayOvertimeDays float64 `json:"sunday_overtime_days" validate:"gte=0"`
}

type AttendanceRequest struct {
	Entries []AttendanceEntry `json:"entries" validate:"required,dive"`
}

type RevenueEntry struct {
	StaffID string  `json:"staff_id" validate:"required"`
	SelfPay float64 `json:"self_pay" validate:"gte=0"`
	Retail  float64 `json:"retail" validate:"gte=0"`
}

type RevenueRequest struct {
	Entries []RevenueEntry `json:"entries" validate:"required,dive"`
}

type MealEntry struct {
	StaffID string  `json:"staff_id" validate:"required"`
	Amount  float64 `json:"amount" validate:"gte=0"`
}

type MealsRequest struct {
	Entries []MealEntry `json:"entries" validate:"required,dive"`
}

// PoolRateRequest sets the pool rate. Values outside [0, 100] are clamped.
type PoolRateRequest struct {
	RatePercent *float64 `json:"rate_percent" validate:"required"`
}

type PoolRateDTO struct {
	ClinicID    string  `json:"clinic_id"`
	Month       string  `json:"month"`
	RatePercent float64 `json:"rate_percent"`
}

// =============================================================================
// PAYROLL
// =============================================================================

// SalaryRowDTO is a SalaryRow plus its display-ready disqualification text.
type SalaryRowDTO struct {
	compensation.SalaryRow
	DisqualificationReason string `json:"disqualification_reason"`
}

type PayrollTotalsDTO struct {
	Headcount        int             `json:"headcount"`
	NetPay           decimal.Decimal `json:"net_pay"`
	PerformanceBonus decimal.Decimal `json:"performance_bonus"`
	PoolContribution decimal.Decimal `json:"pool_contribution"`
}

type PayrollDTO struct {
	ClinicID  string                 `json:"clinic_id"`
	Month     string                 `json:"month"`
	RunConfig compensation.RunConfig `json:"run_config"`
	Rows      []SalaryRowDTO         `json:"rows"`
	Totals    PayrollTotalsDTO       `json:"totals"`
}

// UpdateFieldRequest edits one override field. Value accepts a JSON string
// ("1,200") or number (1200).
type UpdateFieldRequest struct {
	Field string   `json:"field" validate:"required,oneof=ot_minutes insurance adjustment"`
	Value RawValue `json:"value" validate:"required"`
}

// RawValue is the user-entered text of an override. Numbers are kept as
// their literal text so no precision is lost before decimal parsing.
type RawValue string

func (v *RawValue) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	switch {
	case raw == "null":
		*v = ""
		return nil
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = RawValue(s)
		return nil
	}
	*v = RawValue(raw)
	return nil
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ClinicID    string `json:"clinic_id"`
	Month       string `json:"month"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toPayrollDTO(p compensation.Period, cfg compensation.RunConfig, rows []compensation.SalaryRow) PayrollDTO {
	dto := PayrollDTO{
		ClinicID:  string(p.ClinicID),
		Month:     p.Month.String(),
		RunConfig: cfg,
		Rows:      make([]SalaryRowDTO, len(rows)),
		Totals: PayrollTotalsDTO{
			Headcount:        len(rows),
			NetPay:           decimal.Zero,
			PerformanceBonus: decimal.Zero,
			PoolContribution: decimal.Zero,
		},
	}
	for i, r := range rows {
		dto.Rows[i] = toSalaryRowDTO(r)
		dto.Totals.NetPay = dto.Totals.NetPay.Add(r.NetPay)
		dto.Totals.PerformanceBonus = dto.Totals.PerformanceBonus.Add(r.PerformanceBonus)
		dto.Totals.PoolContribution = dto.Totals.PoolContribution.Add(r.PoolContribution)
	}
	return dto
}

func toSalaryRowDTO(r compensation.SalaryRow) SalaryRowDTO {
	return SalaryRowDTO{SalaryRow: r, DisqualificationReason: r.DisqualificationReason()}
}
