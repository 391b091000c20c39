package compensation

import "github.com/shopspring/decimal"

// AnnualSickBufferDays is the number of sick days per calendar year that do
// not reduce the full attendance bonus.
const AnnualSickBufferDays = 10

var sickDeductionRate = decimal.NewFromFloat(0.5)

// =============================================================================
// ATTENDANCE BONUS
// =============================================================================

// AttendanceInput is what the attendance bonus rule looks at.
// Special leave is deliberately absent: it never affects the bonus.
type AttendanceInput struct {
	PersonalLeaveDays decimal.Decimal
	SickLeaveDays     decimal.Decimal
	LateCount         decimal.Decimal
	YtdSickDays       decimal.Decimal
}

type AttendanceBonus struct {
	Amount             decimal.Decimal
	DeductibleSickDays decimal.Decimal
	Disqualifications  []DisqualificationReason
}

// ComputeAttendanceBonus applies the full attendance bonus rule. The first
// matching branch wins:
//
//  1. Any lateness or personal leave withholds the whole bonus.
//  2. Sick leave beyond the remaining annual buffer costs base/30 per day.
//  3. Otherwise the full base is paid.
func ComputeAttendanceBonus(in AttendanceInput, base decimal.Decimal) AttendanceBonus {
	var reasons []DisqualificationReason
	if in.LateCount.IsPositive() {
		reasons = append(reasons, ReasonLate)
	}
	if in.PersonalLeaveDays.IsPositive() {
		reasons = append(reasons, ReasonPersonalLeave)
	}
	if len(reasons) > 0 {
		return AttendanceBonus{
			Amount:             decimal.Zero,
			DeductibleSickDays: decimal.Zero,
			Disqualifications:  reasons,
		}
	}

	bonus := base
	deductible := decimal.Zero
	if in.SickLeaveDays.IsPositive() {
		remaining := maxZero(decimal.NewFromInt(AnnualSickBufferDays).Sub(in.YtdSickDays))
		deductible = maxZero(in.SickLeaveDays.Sub(remaining))
		bonus = base.Sub(base.Mul(deductible).Div(thirty))
	}

	return AttendanceBonus{
		Amount:             maxZero(roundHalfUp(bonus)),
		DeductibleSickDays: deductible,
		Disqualifications:  []DisqualificationReason{},
	}
}

// =============================================================================
// BASE PAY, LEAVE AND OVERTIME
// =============================================================================

// DailyRate is one thirtieth of base salary plus allowance, rounded.
func DailyRate(totalBase decimal.Decimal) decimal.Decimal {
	return roundHalfUp(totalBase.Div(thirty))
}

// LeaveDeduction charges a full day for personal leave and half a day for
// sick leave. Special leave is free.
func LeaveDeduction(personalDays, sickDays, dailyRate decimal.Decimal) decimal.Decimal {
	personal := personalDays.Mul(dailyRate)
	sick := sickDays.Mul(dailyRate).Mul(sickDeductionRate)
	return roundHalfUp(personal.Add(sick))
}

func SundayOvertimePay(dailyRate, sundayDays decimal.Decimal) decimal.Decimal {
	return roundHalfUp(dailyRate.Mul(sundayDays))
}

func RegularOvertimePay(minutes, perMinuteRate decimal.Decimal) decimal.Decimal {
	return roundHalfUp(maxZero(minutes).Mul(perMinuteRate))
}
