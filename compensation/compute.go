package compensation

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Snapshot is one consistent set of collaborator responses. Every row of a
// recompute is built from the same Snapshot.
type Snapshot struct {
	Period      Period
	Roster      []StaffMember
	Attendance  map[StaffID]AttendanceStats
	YtdSickDays map[StaffID]float64
	Revenue     map[StaffID]RevenueAttribution
	Meals       map[StaffID]float64
	PoolRate    float64
	Overrides   map[StaffID]SalaryOverride
}

// Payable returns the staff the engine pays, in roster order. Part-time staff
// are compensated elsewhere.
func Payable(roster []StaffMember) []StaffMember {
	out := make([]StaffMember, 0, len(roster))
	for _, s := range roster {
		if s.Role == RolePartTime {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Compute builds one SalaryRow per payable staff member. It is pure: the same
// snapshot and config always produce the same rows, ordered by staff ID.
func Compute(snap Snapshot, cfg RunConfig) []SalaryRow {
	staff := Payable(snap.Roster)
	sort.SliceStable(staff, func(i, j int) bool { return staff[i].ID < staff[j].ID })

	members := make([]PoolMember, len(staff))
	for i, s := range staff {
		rev := snap.Revenue[s.ID]
		members[i] = PoolMember{
			StaffID: s.ID,
			Role:    s.Role,
			SelfPay: nonNegative(rev.SelfPay),
			Retail:  nonNegative(rev.Retail),
		}
	}
	pool := DistributePool(members, nonNegative(snap.PoolRate))

	rows := make([]SalaryRow, len(staff))
	for i, s := range staff {
		rows[i] = buildRow(s, snap, members[i], pool.Allocations[i], cfg)
	}
	return rows
}

func buildRow(s StaffMember, snap Snapshot, m PoolMember, alloc PoolAllocation, cfg RunConfig) SalaryRow {
	stats := snap.Attendance[s.ID]
	ov := snap.Overrides[s.ID]

	row := SalaryRow{
		StaffMember:        s,
		PersonalLeaveDays:  nonNegative(stats.PersonalLeaveDays),
		SickLeaveDays:      nonNegative(stats.SickLeaveDays),
		SpecialLeaveDays:   nonNegative(stats.SpecialLeaveDays),
		LateCount:          nonNegative(stats.LateCount),
		SundayOvertimeDays: nonNegative(stats.SundayOvertimeDays),
		YtdSickDays:        nonNegative(snap.YtdSickDays[s.ID]),
		SelfPayRevenue:     m.SelfPay,
		RetailRevenue:      m.Retail,
	}

	row.TotalBase = s.BaseSalary.Add(s.Allowance)
	row.DailyRate = DailyRate(row.TotalBase)
	row.LeaveDeduction = LeaveDeduction(row.PersonalLeaveDays, row.SickLeaveDays, row.DailyRate)

	bonus := ComputeAttendanceBonus(AttendanceInput{
		PersonalLeaveDays: row.PersonalLeaveDays,
		SickLeaveDays:     row.SickLeaveDays,
		LateCount:         row.LateCount,
		YtdSickDays:       row.YtdSickDays,
	}, cfg.AttendanceBonusBase)
	row.FullAttendanceBonus = bonus.Amount
	row.DeductibleSickDays = bonus.DeductibleSickDays
	row.Disqualifications = bonus.Disqualifications

	row.SundayOTPay = SundayOvertimePay(row.DailyRate, row.SundayOvertimeDays)

	row.BaseBonus = alloc.BaseBonus
	row.PoolEligible = alloc.Eligible
	row.PoolContribution = alloc.Contribution
	row.PoolShare = alloc.Share
	row.PerformanceBonus = alloc.PerformanceBonus

	row.MealDeduction = nonNegative(snap.Meals[s.ID])

	row.RegularOTMinutes = decimal.Zero
	row.Insurance = s.MonthlyInsuranceCost
	row.Adjustment = decimal.Zero
	for _, f := range []OverrideField{FieldOvertimeMinutes, FieldInsurance, FieldAdjustment} {
		if v, ok := ov.Get(f); ok {
			applyOverride(&row, f, v)
		}
	}
	row.RegularOTPay = RegularOvertimePay(row.RegularOTMinutes, cfg.PerMinuteOTRate)

	row.NetPay = assembleNetPay(row)
	return row
}

// applyOverride sets the raw override value on the row. Derived pay is not
// recomputed here.
func applyOverride(row *SalaryRow, field OverrideField, v decimal.Decimal) {
	switch field {
	case FieldOvertimeMinutes:
		row.RegularOTMinutes = v
		row.OTMinutesOverridden = true
	case FieldInsurance:
		row.Insurance = v
		row.InsuranceOverridden = true
	case FieldAdjustment:
		row.Adjustment = v
		row.AdjustmentOverridden = true
	}
}

// patchRow applies one override edit to an existing row and recomputes only
// what depends on it.
func patchRow(row SalaryRow, field OverrideField, v decimal.Decimal, cfg RunConfig) SalaryRow {
	row.Disqualifications = append([]DisqualificationReason{}, row.Disqualifications...)
	applyOverride(&row, field, v)
	if field == FieldOvertimeMinutes {
		row.RegularOTPay = RegularOvertimePay(row.RegularOTMinutes, cfg.PerMinuteOTRate)
	}
	row.NetPay = assembleNetPay(row)
	return row
}

// assembleNetPay is the only place NetPay is computed. Every term is listed
// even when zero so the formula reads the same as the exported report.
func assembleNetPay(r SalaryRow) decimal.Decimal {
	return r.TotalBase.
		Sub(r.LeaveDeduction).
		Add(r.FullAttendanceBonus).
		Add(r.SundayOTPay).
		Add(r.RegularOTPay).
		Add(r.PerformanceBonus).
		Sub(r.MealDeduction).
		Sub(r.Insurance).
		Add(r.Adjustment)
}
