/*
pool.go - Revenue bonus pool distribution

PURPOSE:
  Credits each staff member with a bonus derived from the self-pay and retail
  revenue they generated, then pools a slice of every consultant's bonus and
  splits the pool evenly across all consultants.

ALGORITHM (once per clinic and month, over the full staff set):
  1. baseBonus    = round(selfPay * 1% + retail * 10%)
  2. contribution = round(baseBonus * poolRate / 100)   consultants with baseBonus > 0
  3. poolTotal    = sum(contribution)
  4. share        = round(poolTotal / eligibleCount)    0 when nobody is eligible
  5. final        = baseBonus - contribution + share    share only for consultants

INVARIANTS:
  - Consultants with no revenue of their own still receive the share.
  - Non-consultants keep their whole base bonus and never receive a share.
  - sum(final) == sum(baseBonus) up to one rounding unit per eligible member.
*/
package compensation

import "github.com/shopspring/decimal"

// DefaultPoolRatePercent applies when a clinic has no pool rate configured.
const DefaultPoolRatePercent = 30

var (
	selfPayBonusRate = decimal.NewFromFloat(0.01)
	retailBonusRate  = decimal.NewFromFloat(0.10)
)

// PoolMember is one participant of a pool distribution.
type PoolMember struct {
	StaffID StaffID
	Role    Role
	SelfPay decimal.Decimal
	Retail  decimal.Decimal
}

// PoolAllocation is the result for one PoolMember.
type PoolAllocation struct {
	BaseBonus        decimal.Decimal
	Eligible         bool
	Contribution     decimal.Decimal
	Share            decimal.Decimal
	PerformanceBonus decimal.Decimal
}

// PoolResult holds the allocations in member order plus the pool totals.
type PoolResult struct {
	Allocations   []PoolAllocation
	PoolTotal     decimal.Decimal
	EligibleCount int
	Share         decimal.Decimal
}

// BaseBonus is the revenue-derived bonus before pooling.
func BaseBonus(selfPay, retail decimal.Decimal) decimal.Decimal {
	return roundHalfUp(selfPay.Mul(selfPayBonusRate).Add(retail.Mul(retailBonusRate)))
}

// DistributePool runs the pool algorithm. poolRatePercent is used as given;
// range clamping belongs to whoever configured it.
func DistributePool(members []PoolMember, poolRatePercent decimal.Decimal) PoolResult {
	allocs := make([]PoolAllocation, len(members))
	poolTotal := decimal.Zero
	eligible := 0

	for i, m := range members {
		base := BaseBonus(m.SelfPay, m.Retail)
		a := PoolAllocation{BaseBonus: base, Contribution: decimal.Zero, Share: decimal.Zero}
		if m.Role.PoolEligible() {
			a.Eligible = true
			eligible++
			if base.IsPositive() {
				a.Contribution = roundHalfUp(base.Mul(poolRatePercent).Div(hundred))
			}
		}
		poolTotal = poolTotal.Add(a.Contribution)
		allocs[i] = a
	}

	share := decimal.Zero
	if eligible > 0 {
		share = roundHalfUp(poolTotal.Div(decimal.NewFromInt(int64(eligible))))
	}

	for i := range allocs {
		if allocs[i].Eligible {
			allocs[i].Share = share
		}
		allocs[i].PerformanceBonus = allocs[i].BaseBonus.Sub(allocs[i].Contribution).Add(allocs[i].Share)
	}

	return PoolResult{
		Allocations:   allocs,
		PoolTotal:     poolTotal,
		EligibleCount: eligible,
		Share:         share,
	}
}
