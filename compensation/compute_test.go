package compensation_test

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-payroll/compensation"
)

var (
	march2025 = compensation.NewMonth(2025, time.March)
	testCfg   = compensation.RunConfig{AttendanceBonusBase: d(2000), PerMinuteOTRate: d(2.5)}
)

func staff(id string, role compensation.Role, base, allowance, insurance int64) compensation.StaffMember {
	return compensation.StaffMember{
		ID:                   compensation.StaffID(id),
		ClinicID:             "clinic-1",
		Name:                 "Staff " + id,
		Role:                 role,
		BaseSalary:           decimal.NewFromInt(base),
		Allowance:            decimal.NewFromInt(allowance),
		MonthlyInsuranceCost: decimal.NewFromInt(insurance),
	}
}

func rowByID(t *testing.T, rows []compensation.SalaryRow, id string) compensation.SalaryRow {
	t.Helper()
	for _, r := range rows {
		if string(r.ID) == id {
			return r
		}
	}
	require.FailNow(t, "row not found", id)
	return compensation.SalaryRow{}
}

// closedFormNetPay restates the net pay formula over the row's own terms.
func closedFormNetPay(r compensation.SalaryRow) decimal.Decimal {
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

func TestCompute_PerfectAttendance_FullBonusNoDeduction(t *testing.T) {
	// GIVEN: base 30000 + allowance 2000, no leave, no lateness
	snap := compensation.Snapshot{
		Roster:     []compensation.StaffMember{staff("s1", compensation.RoleManager, 30000, 2000, 800)},
		Attendance: map[compensation.StaffID]compensation.AttendanceStats{"s1": {}},
	}

	rows := compensation.Compute(snap, testCfg)

	require.Len(t, rows, 1)
	r := rows[0]
	assertMoney(t, 32000, r.TotalBase)
	assertMoney(t, 1067, r.DailyRate)
	assertMoney(t, 0, r.LeaveDeduction)
	assertMoney(t, 2000, r.FullAttendanceBonus)
	assertMoney(t, 800, r.Insurance)
	assertMoney(t, 33200, r.NetPay)
	assert.Equal(t, "", r.DisqualificationReason())
}

func TestCompute_ExcludesPartTime(t *testing.T) {
	snap := compensation.Snapshot{
		Roster: []compensation.StaffMember{
			staff("p1", compensation.RolePartTime, 0, 0, 0),
			staff("c1", compensation.RoleConsultant, 28000, 0, 0),
		},
		Revenue: map[compensation.StaffID]compensation.RevenueAttribution{
			"p1": {SelfPay: 500000},
		},
		PoolRate: 30,
	}

	rows := compensation.Compute(snap, testCfg)

	require.Len(t, rows, 1)
	assert.Equal(t, compensation.StaffID("c1"), rows[0].ID)
}

func TestCompute_InvalidInputsReadAsZero(t *testing.T) {
	snap := compensation.Snapshot{
		Roster: []compensation.StaffMember{staff("s1", compensation.RoleAssistant, 30000, 0, 500)},
		Attendance: map[compensation.StaffID]compensation.AttendanceStats{
			"s1": {PersonalLeaveDays: -2, SickLeaveDays: math.NaN(), LateCount: math.Inf(1), SundayOvertimeDays: -1},
		},
		Revenue: map[compensation.StaffID]compensation.RevenueAttribution{
			"s1": {SelfPay: math.Inf(-1), Retail: -100},
		},
		Meals: map[compensation.StaffID]float64{"s1": math.NaN()},
	}

	rows := compensation.Compute(snap, testCfg)

	r := rows[0]
	assertMoney(t, 0, r.LeaveDeduction)
	assertMoney(t, 2000, r.FullAttendanceBonus)
	assertMoney(t, 0, r.SundayOTPay)
	assertMoney(t, 0, r.BaseBonus)
	assertMoney(t, 0, r.MealDeduction)
	assertMoney(t, 31500, r.NetPay)
}

func TestCompute_OverridesTakePrecedence(t *testing.T) {
	ins := d(1234)
	adj := d(-500)
	mins := d(90)
	snap := compensation.Snapshot{
		Roster: []compensation.StaffMember{staff("s1", compensation.RoleTrainee, 30000, 0, 800)},
		Overrides: map[compensation.StaffID]compensation.SalaryOverride{
			"s1": {OvertimeMinutes: &mins, Insurance: &ins, Adjustment: &adj},
		},
	}

	r := compensation.Compute(snap, testCfg)[0]

	assertMoney(t, 90, r.RegularOTMinutes)
	assertMoney(t, 225, r.RegularOTPay)
	assertMoney(t, 1234, r.Insurance)
	assert.True(t, r.InsuranceOverridden)
	assertMoney(t, -500, r.Adjustment)
	assert.True(t, r.AdjustmentOverridden)
	assert.True(t, r.OTMinutesOverridden)
	assertMoney(t, 30000+2000+225-1234-500, r.NetPay)
}

func TestCompute_ZeroOverridesAreFlagged(t *testing.T) {
	// GIVEN: Overrides explicitly set to zero on one row, none on the other
	zero := d(0)
	snap := compensation.Snapshot{
		Roster: []compensation.StaffMember{
			staff("s1", compensation.RoleTrainee, 30000, 0, 800),
			staff("s2", compensation.RoleTrainee, 30000, 0, 800),
		},
		Overrides: map[compensation.StaffID]compensation.SalaryOverride{
			"s1": {OvertimeMinutes: &zero, Adjustment: &zero},
		},
	}

	rows := compensation.Compute(snap, testCfg)

	// THEN: Equal values, but only the overridden row says so
	s1, s2 := rows[0], rows[1]
	assert.True(t, s1.Adjustment.Equal(s2.Adjustment))
	assert.True(t, s1.RegularOTMinutes.Equal(s2.RegularOTMinutes))
	assert.True(t, s1.AdjustmentOverridden)
	assert.True(t, s1.OTMinutesOverridden)
	assert.False(t, s1.InsuranceOverridden)
	assert.False(t, s2.AdjustmentOverridden)
	assert.False(t, s2.OTMinutesOverridden)
}

func TestCompute_SickDaysDeductAndConsumeBuffer(t *testing.T) {
	// Sick days cost half a day's pay and separately eat into the bonus buffer.
	snap := compensation.Snapshot{
		Roster:      []compensation.StaffMember{staff("s1", compensation.RoleAssistant, 30000, 0, 0)},
		Attendance:  map[compensation.StaffID]compensation.AttendanceStats{"s1": {SickLeaveDays: 5}},
		YtdSickDays: map[compensation.StaffID]float64{"s1": 8},
	}

	r := compensation.Compute(snap, testCfg)[0]

	assertMoney(t, 2500, r.LeaveDeduction)
	assertMoney(t, 3, r.DeductibleSickDays)
	assertMoney(t, 1800, r.FullAttendanceBonus)
	assertMoney(t, 30000-2500+1800, r.NetPay)
}

func TestCompute_NetPayMatchesClosedForm(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	roles := []compensation.Role{
		compensation.RoleConsultant, compensation.RoleTrainee, compensation.RoleAssistant,
		compensation.RoleManager, compensation.RolePartTime,
	}
	halves := func(max int) float64 { return float64(rng.Intn(max*2+1)) / 2 }

	for iter := 0; iter < 300; iter++ {
		snap := compensation.Snapshot{
			Attendance:  map[compensation.StaffID]compensation.AttendanceStats{},
			YtdSickDays: map[compensation.StaffID]float64{},
			Revenue:     map[compensation.StaffID]compensation.RevenueAttribution{},
			Meals:       map[compensation.StaffID]float64{},
			Overrides:   map[compensation.StaffID]compensation.SalaryOverride{},
			PoolRate:    float64(rng.Intn(101)),
		}
		n := 1 + rng.Intn(8)
		for i := 0; i < n; i++ {
			id := compensation.StaffID(fmt.Sprintf("s%02d", i))
			s := staff(string(id), roles[rng.Intn(len(roles))], int64(20000+rng.Intn(40000)), int64(rng.Intn(5000)), int64(rng.Intn(2000)))
			snap.Roster = append(snap.Roster, s)
			snap.Attendance[id] = compensation.AttendanceStats{
				PersonalLeaveDays:  halves(2),
				SickLeaveDays:      halves(6),
				SpecialLeaveDays:   halves(3),
				LateCount:          float64(rng.Intn(2)),
				SundayOvertimeDays: halves(4),
			}
			snap.YtdSickDays[id] = halves(12)
			snap.Revenue[id] = compensation.RevenueAttribution{SelfPay: float64(rng.Intn(200000)), Retail: float64(rng.Intn(20000))}
			snap.Meals[id] = float64(rng.Intn(1500))
			if rng.Intn(2) == 0 {
				snap.Overrides[id] = compensation.SalaryOverride{}.
					With(compensation.FieldOvertimeMinutes, decimal.NewFromInt(int64(rng.Intn(600)))).
					With(compensation.FieldAdjustment, decimal.NewFromInt(int64(rng.Intn(4000)-2000)))
			}
		}
		cfg := compensation.RunConfig{
			AttendanceBonusBase: decimal.NewFromInt(int64(rng.Intn(5000))),
			PerMinuteOTRate:     decimal.NewFromFloat(float64(rng.Intn(100)) / 10),
		}

		for _, r := range compensation.Compute(snap, cfg) {
			assert.True(t, closedFormNetPay(r).Equal(r.NetPay), "iteration %d staff %s", iter, r.ID)
			assert.False(t, r.FullAttendanceBonus.IsNegative())
			assert.True(t, r.FullAttendanceBonus.LessThanOrEqual(cfg.AttendanceBonusBase))
		}
	}
}
