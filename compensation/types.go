/*
Package compensation provides the monthly payroll computation engine.

PURPOSE:
  Turns a clinic's staff roster, monthly attendance statistics, revenue
  attribution and manually entered overrides into one SalaryRow per staff
  member. A share of consultant revenue bonuses is pooled and redistributed
  evenly across all consultants.

KEY CONCEPTS IN THIS FILE (types.go):
  - StaffMember: Roster entry with salary profile
  - AttendanceStats: Leave/lateness/overtime counts for one month
  - RevenueAttribution: Self-pay and retail revenue credited to a staff member
  - SalaryOverride: Manually entered values that survive recomputation
  - SalaryRow: Fully derived payroll line for one staff member

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, rounded half-up to whole units
  2. Derivation: Every SalaryRow field is computed, NetPay only by assembleNetPay
  3. Tolerance: Bad collaborator numbers become zero instead of failing the run

SEE ALSO:
  - rules.go: Attendance bonus, leave deduction and overtime rules
  - pool.go: Bonus pool distribution
  - engine.go: Recompute and incremental update protocol
*/
package compensation

import (
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClinicID string
type StaffID string

// Role determines pool eligibility and whether the engine pays the staff member at all.
type Role string

const (
	RoleConsultant Role = "consultant"
	RoleTrainee    Role = "trainee"
	RoleAssistant  Role = "assistant"
	RoleManager    Role = "manager"
	RolePartTime   Role = "part_time"
)

func (r Role) Valid() bool {
	switch r {
	case RoleConsultant, RoleTrainee, RoleAssistant, RoleManager, RolePartTime:
		return true
	}
	return false
}

// PoolEligible reports whether the role contributes to and draws from the bonus pool.
func (r Role) PoolEligible() bool { return r == RoleConsultant }

// =============================================================================
// INPUTS
// =============================================================================

// StaffMember is owned by the roster store. The engine never modifies it.
type StaffMember struct {
	ID                   StaffID         `json:"id"`
	ClinicID             ClinicID        `json:"clinic_id"`
	Name                 string          `json:"name"`
	Role                 Role            `json:"role"`
	BaseSalary           decimal.Decimal `json:"base_salary"`
	Allowance            decimal.Decimal `json:"allowance"`
	MonthlyInsuranceCost decimal.Decimal `json:"monthly_insurance_cost"`
}

// AttendanceStats are pre-aggregated by the scheduling subsystem.
// Leave and overtime days come in 0.5 increments.
type AttendanceStats struct {
	PersonalLeaveDays  float64 `json:"personal_leave_days"`
	SickLeaveDays      float64 `json:"sick_leave_days"`
	SpecialLeaveDays   float64 `json:"special_leave_days"`
	LateCount          float64 `json:"late_count"`
	SundayOvertimeDays float64 `json:"sunday_overtime_days"`
}

type RevenueAttribution struct {
	SelfPay float64 `json:"self_pay"`
	Retail  float64 `json:"retail"`
}

// =============================================================================
// OVERRIDES
// =============================================================================

// OverrideField names one user-editable value of a SalaryOverride.
type OverrideField string

const (
	FieldOvertimeMinutes OverrideField = "ot_minutes"
	FieldInsurance       OverrideField = "insurance"
	FieldAdjustment      OverrideField = "adjustment"
)

func (f OverrideField) Valid() bool {
	switch f {
	case FieldOvertimeMinutes, FieldInsurance, FieldAdjustment:
		return true
	}
	return false
}

// SalaryOverride holds the manually entered values for one (clinic, month, staff).
// A nil field means "never set" and falls back to the computed or profile default.
type SalaryOverride struct {
	OvertimeMinutes *decimal.Decimal `json:"ot_minutes,omitempty"`
	Insurance       *decimal.Decimal `json:"insurance,omitempty"`
	Adjustment      *decimal.Decimal `json:"adjustment,omitempty"`
}

// With returns a copy of the override with field set to value.
func (o SalaryOverride) With(field OverrideField, value decimal.Decimal) SalaryOverride {
	v := value
	switch field {
	case FieldOvertimeMinutes:
		o.OvertimeMinutes = &v
	case FieldInsurance:
		o.Insurance = &v
	case FieldAdjustment:
		o.Adjustment = &v
	}
	return o
}

// Get returns the value of field and whether it has been set.
func (o SalaryOverride) Get(field OverrideField) (decimal.Decimal, bool) {
	var p *decimal.Decimal
	switch field {
	case FieldOvertimeMinutes:
		p = o.OvertimeMinutes
	case FieldInsurance:
		p = o.Insurance
	case FieldAdjustment:
		p = o.Adjustment
	}
	if p == nil {
		return decimal.Zero, false
	}
	return *p, true
}

// =============================================================================
// RUN CONFIGURATION
// =============================================================================

// RunConfig carries the settings for one recompute. It is passed explicitly
// to every Recompute call rather than held as global state.
type RunConfig struct {
	AttendanceBonusBase decimal.Decimal `json:"attendance_bonus_base" yaml:"attendance_bonus_base"`
	PerMinuteOTRate     decimal.Decimal `json:"per_minute_ot_rate" yaml:"per_minute_ot_rate"`
}

// =============================================================================
// SALARY ROW
// =============================================================================

// DisqualificationReason explains why the full attendance bonus was withheld.
type DisqualificationReason string

const (
	ReasonLate          DisqualificationReason = "late"
	ReasonPersonalLeave DisqualificationReason = "personal-leave"
)

// SalaryRow is the fully derived payroll line for one staff member.
// NetPay always equals the sum computed by assembleNetPay over the other fields.
type SalaryRow struct {
	StaffMember

	// Normalized inputs
	PersonalLeaveDays  decimal.Decimal `json:"personal_leave_days"`
	SickLeaveDays      decimal.Decimal `json:"sick_leave_days"`
	SpecialLeaveDays   decimal.Decimal `json:"special_leave_days"`
	LateCount          decimal.Decimal `json:"late_count"`
	SundayOvertimeDays decimal.Decimal `json:"sunday_overtime_days"`
	YtdSickDays        decimal.Decimal `json:"ytd_sick_days"`
	SelfPayRevenue     decimal.Decimal `json:"self_pay_revenue"`
	RetailRevenue      decimal.Decimal `json:"retail_revenue"`

	// Base pay and leave
	TotalBase      decimal.Decimal `json:"total_base"`
	DailyRate      decimal.Decimal `json:"daily_rate"`
	LeaveDeduction decimal.Decimal `json:"leave_deduction"`

	// Attendance bonus
	FullAttendanceBonus decimal.Decimal          `json:"full_attendance_bonus"`
	DeductibleSickDays  decimal.Decimal          `json:"deductible_sick_days"`
	Disqualifications   []DisqualificationReason `json:"disqualifications"`

	// Overtime
	SundayOTPay      decimal.Decimal `json:"sunday_ot_pay"`
	RegularOTMinutes    decimal.Decimal `json:"regular_ot_minutes"`
	OTMinutesOverridden bool            `json:"ot_minutes_overridden"`
	RegularOTPay        decimal.Decimal `json:"regular_ot_pay"`

	// Bonus pool
	BaseBonus        decimal.Decimal `json:"base_bonus"`
	PoolEligible     bool            `json:"pool_eligible"`
	PoolContribution decimal.Decimal `json:"pool_contribution"`
	PoolShare        decimal.Decimal `json:"pool_share"`
	PerformanceBonus decimal.Decimal `json:"performance_bonus"`

	// Deductions and adjustments
	MealDeduction        decimal.Decimal `json:"meal_deduction"`
	Insurance            decimal.Decimal `json:"insurance"`
	InsuranceOverridden  bool            `json:"insurance_overridden"`
	Adjustment           decimal.Decimal `json:"adjustment"`
	AdjustmentOverridden bool            `json:"adjustment_overridden"`

	NetPay decimal.Decimal `json:"net_pay"`
}

// DisqualificationReason returns the withheld-bonus reasons joined for display.
func (r SalaryRow) DisqualificationReason() string {
	labels := make([]string, len(r.Disqualifications))
	for i, d := range r.Disqualifications {
		labels[i] = string(d)
	}
	return strings.Join(labels, ", ")
}
