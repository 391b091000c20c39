// Package store provides in-memory compensation collaborators.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/clinic-payroll/compensation"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements compensation.Backend. Sick-day lookups are answered from
// the attendance stats stored for earlier months of the same year.
type Memory struct {
	mu         sync.RWMutex
	staff      map[compensation.ClinicID]map[compensation.StaffID]compensation.StaffMember
	attendance map[periodKey]map[compensation.StaffID]compensation.AttendanceStats
	revenue    map[periodKey]map[compensation.StaffID]compensation.RevenueAttribution
	meals      map[periodKey]map[compensation.StaffID]float64
	poolRates  map[periodKey]float64
	overrides  map[periodKey]map[compensation.StaffID]compensation.SalaryOverride
}

type periodKey struct {
	ClinicID compensation.ClinicID
	Month    compensation.Month
}

var _ compensation.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		staff:      make(map[compensation.ClinicID]map[compensation.StaffID]compensation.StaffMember),
		attendance: make(map[periodKey]map[compensation.StaffID]compensation.AttendanceStats),
		revenue:    make(map[periodKey]map[compensation.StaffID]compensation.RevenueAttribution),
		meals:      make(map[periodKey]map[compensation.StaffID]float64),
		poolRates:  make(map[periodKey]float64),
		overrides:  make(map[periodKey]map[compensation.StaffID]compensation.SalaryOverride),
	}
}

// =============================================================================
// WRITES
// =============================================================================

func (m *Memory) SaveStaff(s compensation.StaffMember) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staff[s.ClinicID] == nil {
		m.staff[s.ClinicID] = make(map[compensation.StaffID]compensation.StaffMember)
	}
	m.staff[s.ClinicID][s.ID] = s
}

func (m *Memory) SetAttendance(clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, stats compensation.AttendanceStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := periodKey{clinicID, month}
	if m.attendance[k] == nil {
		m.attendance[k] = make(map[compensation.StaffID]compensation.AttendanceStats)
	}
	m.attendance[k][staffID] = stats
}

func (m *Memory) SetRevenue(clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, rev compensation.RevenueAttribution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := periodKey{clinicID, month}
	if m.revenue[k] == nil {
		m.revenue[k] = make(map[compensation.StaffID]compensation.RevenueAttribution)
	}
	m.revenue[k][staffID] = rev
}

func (m *Memory) SetMealDeduction(clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := periodKey{clinicID, month}
	if m.meals[k] == nil {
		m.meals[k] = make(map[compensation.StaffID]float64)
	}
	m.meals[k][staffID] = amount
}

func (m *Memory) SetBonusPoolRate(clinicID compensation.ClinicID, month compensation.Month, rate float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poolRates[periodKey{clinicID, month}] = rate
}

// =============================================================================
// COLLABORATOR READS
// =============================================================================

// GetRoster returns the clinic's staff ordered by ID.
func (m *Memory) GetRoster(_ context.Context, clinicID compensation.ClinicID) ([]compensation.StaffMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]compensation.StaffMember, 0, len(m.staff[clinicID]))
	for _, s := range m.staff[clinicID] {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) GetAttendanceStats(_ context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]compensation.AttendanceStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.attendance[periodKey{clinicID, month}]
	result := make(map[compensation.StaffID]compensation.AttendanceStats, len(src))
	for id, s := range src {
		result[id] = s
	}
	return result, nil
}

func (m *Memory) GetYtdSickDays(_ context.Context, clinicID compensation.ClinicID, staffID compensation.StaffID, year int, month time.Month) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0.0
	for k, byStaff := range m.attendance {
		if k.ClinicID != clinicID || k.Month.Year != year || k.Month.Month >= month {
			continue
		}
		if s, ok := byStaff[staffID]; ok && s.SickLeaveDays > 0 {
			total += s.SickLeaveDays
		}
	}
	return total, nil
}

func (m *Memory) GetRevenueAttribution(_ context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]compensation.RevenueAttribution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.revenue[periodKey{clinicID, month}]
	result := make(map[compensation.StaffID]compensation.RevenueAttribution, len(src))
	for id, r := range src {
		result[id] = r
	}
	return result, nil
}

func (m *Memory) GetMealDeduction(_ context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.meals[periodKey{clinicID, month}]
	result := make(map[compensation.StaffID]float64, len(src))
	for id, v := range src {
		result[id] = v
	}
	return result, nil
}

func (m *Memory) GetBonusPoolRate(_ context.Context, clinicID compensation.ClinicID, month compensation.Month) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if rate, ok := m.poolRates[periodKey{clinicID, month}]; ok {
		return rate, nil
	}
	return compensation.DefaultPoolRatePercent, nil
}

// =============================================================================
// OVERRIDES
// =============================================================================

func (m *Memory) GetOverrides(_ context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]compensation.SalaryOverride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.overrides[periodKey{clinicID, month}]
	result := make(map[compensation.StaffID]compensation.SalaryOverride, len(src))
	for id, o := range src {
		result[id] = o
	}
	return result, nil
}

// SaveOverrideField creates the override on first write and updates one field in place.
func (m *Memory) SaveOverrideField(_ context.Context, clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, field compensation.OverrideField, value decimal.Decimal) error {
	if !field.Valid() {
		return compensation.ErrUnknownField
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	k := periodKey{clinicID, month}
	if m.overrides[k] == nil {
		m.overrides[k] = make(map[compensation.StaffID]compensation.SalaryOverride)
	}
	m.overrides[k][staffID] = m.overrides[k][staffID].With(field, value)
	return nil
}
