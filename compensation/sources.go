/*
sources.go - Collaborator interfaces the engine reads from and writes to

PURPOSE:
  The engine owns no persistent data. Everything it needs comes from
  collaborators that are specified here only by the interface they provide.

KEY INTERFACES:
  Roster:                 Staff members of a clinic
  AttendanceStatsProvider Monthly leave/lateness/overtime counts
  SickLeaveLookup:        Sick days taken earlier in the calendar year
  RevenueProvider:        Self-pay and retail revenue per staff member
  MealDeductionProvider:  Pre-aggregated meal charges per staff member
  BonusPoolConfigStore:   Pool contribution rate per clinic and month
  OverrideStore:          Durable manual overrides, last write wins per field

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite store (all interfaces)
  - store/redis/overrides.go: Redis OverrideStore
  - compensation/store/memory.go: In-memory implementation for testing

All numbers coming out of these interfaces are treated as untrusted:
negative or non-finite values are read as zero.
*/
package compensation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Roster interface {
	// GetRoster returns every staff member of the clinic, part-time included.
	GetRoster(ctx context.Context, clinicID ClinicID) ([]StaffMember, error)
}

type AttendanceStatsProvider interface {
	GetAttendanceStats(ctx context.Context, clinicID ClinicID, month Month) (map[StaffID]AttendanceStats, error)
}

type SickLeaveLookup interface {
	// GetYtdSickDays returns sick days taken in year strictly before month.
	GetYtdSickDays(ctx context.Context, clinicID ClinicID, staffID StaffID, year int, month time.Month) (float64, error)
}

type RevenueProvider interface {
	GetRevenueAttribution(ctx context.Context, clinicID ClinicID, month Month) (map[StaffID]RevenueAttribution, error)
}

type MealDeductionProvider interface {
	GetMealDeduction(ctx context.Context, clinicID ClinicID, month Month) (map[StaffID]float64, error)
}

type BonusPoolConfigStore interface {
	// GetBonusPoolRate returns the pool rate percent. A month with no stored
	// rate resolves to a configured fallback, DefaultPoolRatePercent at the least.
	GetBonusPoolRate(ctx context.Context, clinicID ClinicID, month Month) (float64, error)
}

type OverrideStore interface {
	GetOverrides(ctx context.Context, clinicID ClinicID, month Month) (map[StaffID]SalaryOverride, error)

	// SaveOverrideField writes one field. Concurrent writes to the same
	// (clinic, month, staff, field) resolve last-write-wins.
	SaveOverrideField(ctx context.Context, clinicID ClinicID, month Month, staffID StaffID, field OverrideField, value decimal.Decimal) error
}

// Sources bundles every collaborator of a recompute.
type Sources struct {
	Roster     Roster
	Attendance AttendanceStatsProvider
	SickLeave  SickLeaveLookup
	Revenue    RevenueProvider
	Meals      MealDeductionProvider
	PoolConfig BonusPoolConfigStore
	Overrides  OverrideStore
}

// Backend is a single store that can serve every collaborator.
type Backend interface {
	Roster
	AttendanceStatsProvider
	SickLeaveLookup
	RevenueProvider
	MealDeductionProvider
	BonusPoolConfigStore
	OverrideStore
}

// SourcesFrom wires every collaborator to the same backend.
func SourcesFrom(b Backend) Sources {
	return Sources{
		Roster:     b,
		Attendance: b,
		SickLeave:  b,
		Revenue:    b,
		Meals:      b,
		PoolConfig: b,
		Overrides:  b,
	}
}
