/*
Package sqlite provides a SQLite-backed implementation of the compensation
collaborators.

PURPOSE:
  Implements compensation.Backend (roster, attendance, YTD sick days,
  revenue, meals, pool rate, overrides) on a single SQLite database. In
  production the same schema runs on PostgreSQL with minor dialect changes.

KEY TABLES:
  staff:               Staff profiles per clinic
  attendance_stats:    Monthly attendance summary per staff member
  revenue_attribution: Monthly self-pay and retail revenue per staff member
  meal_deductions:     Monthly meal deduction per staff member
  bonus_pool_config:   Pool rate per (clinic, month)
  salary_overrides:    Manual overrides, one nullable column per field

OVERRIDES:
  SaveOverrideField upserts exactly one column. Two fields written by two
  different edits never overwrite each other, and the last write to a single
  field wins.

YTD SICK DAYS:
  Derived from attendance_stats rather than stored. The sum covers months of
  the same year strictly before the requested month.

MONTHS:
  Stored as "YYYY-MM" text so that range predicates compare lexically.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to a
  single connection, since each new connection would open an empty database.

USAGE:
  store, err := sqlite.New("./data/payroll.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := compensation.NewEngine(compensation.SourcesFrom(store))

SEE ALSO:
  - compensation/sources.go: Interface definitions
  - compensation/store/memory.go: In-memory implementation for testing
  - store/redis/overrides.go: Alternative OverrideStore
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-payroll/compensation"
)

// Store implements compensation.Backend using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ compensation.Backend = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Staff profiles
	CREATE TABLE IF NOT EXISTS staff (
		id TEXT NOT NULL,
		clinic_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		base_salary TEXT NOT NULL,
		allowance TEXT NOT NULL,
		insurance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (clinic_id, id)
	);

	-- Monthly attendance summary
	CREATE TABLE IF NOT EXISTS attendance_stats (
		clinic_id TEXT NOT NULL,
		month TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		personal_leave_days REAL NOT NULL DEFAULT 0,
		sick_leave_days REAL NOT NULL DEFAULT 0,
		special_leave_days REAL NOT NULL DEFAULT 0,
		late_count REAL NOT NULL DEFAULT 0,
		sunday_ot_days REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (clinic_id, month, staff_id)
	);

	-- YTD sick lookups scan one staff member's months
	CREATE INDEX IF NOT EXISTS idx_attendance_staff_month
		ON attendance_stats(clinic_id, staff_id, month);

	-- Revenue attribution
	CREATE TABLE IF NOT EXISTS revenue_attribution (
		clinic_id TEXT NOT NULL,
		month TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		self_pay REAL NOT NULL DEFAULT 0,
		retail REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (clinic_id, month, staff_id)
	);

	-- Meal deductions
	CREATE TABLE IF NOT EXISTS meal_deductions (
		clinic_id TEXT NOT NULL,
		month TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		amount REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (clinic_id, month, staff_id)
	);

	-- Bonus pool rate
	CREATE TABLE IF NOT EXISTS bonus_pool_config (
		clinic_id TEXT NOT NULL,
		month TEXT NOT NULL,
		rate REAL NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (clinic_id, month)
	);

	-- Manual overrides, NULL means "not overridden"
	CREATE TABLE IF NOT EXISTS salary_overrides (
		clinic_id TEXT NOT NULL,
		month TEXT NOT NULL,
		staff_id TEXT NOT NULL,
		ot_minutes TEXT,
		insurance TEXT,
		adjustment TEXT,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (clinic_id, month, staff_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// STAFF (compensation.Roster)
// =============================================================================

// SaveStaff creates or updates a staff profile.
func (s *Store) SaveStaff(ctx context.Context, m compensation.StaffMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO staff (id, clinic_id, name, role, base_salary, allowance, insurance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(clinic_id, id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			base_salary = excluded.base_salary,
			allowance = excluded.allowance,
			insurance = excluded.insurance
	`

	_, err := s.db.ExecContext(ctx, query,
		m.ID, m.ClinicID, m.Name, m.Role,
		m.BaseSalary.String(),
		m.Allowance.String(),
		m.MonthlyInsuranceCost.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save staff %s: %w", m.ID, err)
	}
	return nil
}

// GetRoster returns the clinic's staff ordered by ID.
func (s *Store) GetRoster(ctx context.Context, clinicID compensation.ClinicID) ([]compensation.StaffMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, clinic_id, name, role, base_salary, allowance, insurance
		FROM staff WHERE clinic_id = ? ORDER BY id`,
		clinicID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roster := []compensation.StaffMember{}
	for rows.Next() {
		var m compensation.StaffMember
		var base, allowance, insurance string
		if err := rows.Scan(&m.ID, &m.ClinicID, &m.Name, &m.Role, &base, &allowance, &insurance); err != nil {
			return nil, err
		}
		m.BaseSalary = parseDecimal(base)
		m.Allowance = parseDecimal(allowance)
		m.MonthlyInsuranceCost = parseDecimal(insurance)
		roster = append(roster, m)
	}
	return roster, rows.Err()
}

// DeleteStaff removes a staff profile. Monthly inputs and overrides are kept
// so past periods can still be recomputed if the profile is restored.
func (s *Store) DeleteStaff(ctx context.Context, clinicID compensation.ClinicID, staffID compensation.StaffID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM staff WHERE clinic_id = ? AND id = ?", clinicID, staffID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", compensation.ErrStaffNotFound, staffID)
	}
	return nil
}

// ListClinics returns every clinic that has at least one staff member.
func (s *Store) ListClinics(ctx context.Context) ([]compensation.ClinicID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT clinic_id FROM staff ORDER BY clinic_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clinics []compensation.ClinicID
	for rows.Next() {
		var id compensation.ClinicID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		clinics = append(clinics, id)
	}
	return clinics, rows.Err()
}

// =============================================================================
// MONTHLY INPUTS
// =============================================================================

// SetAttendance upserts one staff member's attendance summary.
func (s *Store) SetAttendance(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, st compensation.AttendanceStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO attendance_stats
		(clinic_id, month, staff_id, personal_leave_days, sick_leave_days, special_leave_days, late_count, sunday_ot_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(clinic_id, month, staff_id) DO UPDATE SET
			personal_leave_days = excluded.personal_leave_days,
			sick_leave_days = excluded.sick_leave_days,
			special_leave_days = excluded.special_leave_days,
			late_count = excluded.late_count,
			sunday_ot_days = excluded.sunday_ot_days
	`

	_, err := s.db.ExecContext(ctx, query,
		clinicID, month.String(), staffID,
		finite(st.PersonalLeaveDays), finite(st.SickLeaveDays), finite(st.SpecialLeaveDays),
		finite(st.LateCount), finite(st.SundayOvertimeDays),
	)
	return err
}

// GetAttendanceStats returns the month's attendance keyed by staff ID.
func (s *Store) GetAttendanceStats(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]compensation.AttendanceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT staff_id, personal_leave_days, sick_leave_days, special_leave_days, late_count, sunday_ot_days
		FROM attendance_stats WHERE clinic_id = ? AND month = ?`,
		clinicID, month.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[compensation.StaffID]compensation.AttendanceStats)
	for rows.Next() {
		var id compensation.StaffID
		var st compensation.AttendanceStats
		if err := rows.Scan(&id, &st.PersonalLeaveDays, &st.SickLeaveDays, &st.SpecialLeaveDays, &st.LateCount, &st.SundayOvertimeDays); err != nil {
			return nil, err
		}
		result[id] = st
	}
	return result, rows.Err()
}

// GetYtdSickDays sums positive sick days recorded for the staff member in
// months of year strictly before month.
func (s *Store) GetYtdSickDays(ctx context.Context, clinicID compensation.ClinicID, staffID compensation.StaffID, year int, month time.Month) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from := compensation.NewMonth(year, time.January).String()
	to := compensation.NewMonth(year, month).String()

	var total float64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN sick_leave_days > 0 THEN sick_leave_days ELSE 0 END), 0)
		FROM attendance_stats
		WHERE clinic_id = ? AND staff_id = ? AND month >= ? AND month < ?`,
		clinicID, staffID, from, to,
	).Scan(&total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

// SetRevenue upserts one staff member's revenue attribution.
func (s *Store) SetRevenue(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, rev compensation.RevenueAttribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revenue_attribution (clinic_id, month, staff_id, self_pay, retail)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(clinic_id, month, staff_id) DO UPDATE SET
			self_pay = excluded.self_pay,
			retail = excluded.retail`,
		clinicID, month.String(), staffID, finite(rev.SelfPay), finite(rev.Retail),
	)
	return err
}

func (s *Store) GetRevenueAttribution(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]compensation.RevenueAttribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT staff_id, self_pay, retail FROM revenue_attribution WHERE clinic_id = ? AND month = ?",
		clinicID, month.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[compensation.StaffID]compensation.RevenueAttribution)
	for rows.Next() {
		var id compensation.StaffID
		var rev compensation.RevenueAttribution
		if err := rows.Scan(&id, &rev.SelfPay, &rev.Retail); err != nil {
			return nil, err
		}
		result[id] = rev
	}
	return result, rows.Err()
}

// SetMealDeduction upserts one staff member's meal deduction.
func (s *Store) SetMealDeduction(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO meal_deductions (clinic_id, month, staff_id, amount)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(clinic_id, month, staff_id) DO UPDATE SET amount = excluded.amount`,
		clinicID, month.String(), staffID, finite(amount),
	)
	return err
}

func (s *Store) GetMealDeduction(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT staff_id, amount FROM meal_deductions WHERE clinic_id = ? AND month = ?",
		clinicID, month.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[compensation.StaffID]float64)
	for rows.Next() {
		var id compensation.StaffID
		var amount float64
		if err := rows.Scan(&id, &amount); err != nil {
			return nil, err
		}
		result[id] = amount
	}
	return result, rows.Err()
}

// =============================================================================
// BONUS POOL CONFIG
// =============================================================================

// SetBonusPoolRate stores the pool rate, clamped to [0, 100].
func (s *Store) SetBonusPoolRate(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month, rate float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bonus_pool_config (clinic_id, month, rate, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(clinic_id, month) DO UPDATE SET
			rate = excluded.rate,
			updated_at = excluded.updated_at`,
		clinicID, month.String(), compensation.ClampPoolRate(rate),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetBonusPoolRate returns the configured rate, or the default when the
// month has none.
func (s *Store) GetBonusPoolRate(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (float64, error) {
	rate, ok, err := s.LookupBonusPoolRate(ctx, clinicID, month)
	if err != nil {
		return 0, err
	}
	if !ok {
		return compensation.DefaultPoolRatePercent, nil
	}
	return rate, nil
}

// LookupBonusPoolRate returns the stored rate and whether the month has one.
func (s *Store) LookupBonusPoolRate(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rate float64
	err := s.db.QueryRowContext(ctx,
		"SELECT rate FROM bonus_pool_config WHERE clinic_id = ? AND month = ?",
		clinicID, month.String(),
	).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rate, true, nil
}

// =============================================================================
// OVERRIDES (compensation.OverrideStore)
// =============================================================================

// overrideColumns maps fields to their column. Column names are never taken
// from input directly.
var overrideColumns = map[compensation.OverrideField]string{
	compensation.FieldOvertimeMinutes: "ot_minutes",
	compensation.FieldInsurance:       "insurance",
	compensation.FieldAdjustment:      "adjustment",
}

// GetOverrides returns every override recorded for the period.
func (s *Store) GetOverrides(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]compensation.SalaryOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT staff_id, ot_minutes, insurance, adjustment
		FROM salary_overrides WHERE clinic_id = ? AND month = ?`,
		clinicID, month.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[compensation.StaffID]compensation.SalaryOverride)
	for rows.Next() {
		var id compensation.StaffID
		var ot, ins, adj sql.NullString
		if err := rows.Scan(&id, &ot, &ins, &adj); err != nil {
			return nil, err
		}
		result[id] = compensation.SalaryOverride{
			OvertimeMinutes: nullDecimal(ot),
			Insurance:       nullDecimal(ins),
			Adjustment:      nullDecimal(adj),
		}
	}
	return result, rows.Err()
}

// SaveOverrideField creates the override row on first write and updates only
// the given field's column.
func (s *Store) SaveOverrideField(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, field compensation.OverrideField, value decimal.Decimal) error {
	col, ok := overrideColumns[field]
	if !ok {
		return compensation.ErrUnknownField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := fmt.Sprintf(`
		INSERT INTO salary_overrides (clinic_id, month, staff_id, %[1]s, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(clinic_id, month, staff_id) DO UPDATE SET
			%[1]s = excluded.%[1]s,
			updated_at = excluded.updated_at
	`, col)

	_, err := s.db.ExecContext(ctx, query,
		clinicID, month.String(), staffID, value.String(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save override %s for %s: %w", field, staffID, err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"salary_overrides", "bonus_pool_config", "meal_deductions", "revenue_attribution", "attendance_stats", "staff"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimal(s sql.NullString) *decimal.Decimal {
	if !s.Valid {
		return nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil
	}
	return &d
}

// finite replaces NaN and infinities with 0; sqlite stores them as NULL.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
