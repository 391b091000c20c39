package compensation_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-payroll/compensation"
	"github.com/warp/clinic-payroll/compensation/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const clinic1 compensation.ClinicID = "clinic-1"

func newSeededMemory() *store.Memory {
	m := store.NewMemory()
	m.SaveStaff(staff("c1", compensation.RoleConsultant, 30000, 2000, 800))
	m.SaveStaff(staff("c2", compensation.RoleConsultant, 28000, 0, 700))
	m.SaveStaff(staff("c3", compensation.RoleConsultant, 28000, 0, 700))
	m.SaveStaff(staff("c4", compensation.RoleConsultant, 28000, 0, 700))
	m.SaveStaff(staff("a1", compensation.RoleAssistant, 26000, 1000, 600))
	m.SaveStaff(staff("p1", compensation.RolePartTime, 0, 0, 0))

	m.SetRevenue(clinic1, march2025, "c1", compensation.RevenueAttribution{SelfPay: 100000, Retail: 10000})
	m.SetAttendance(clinic1, march2025, "a1", compensation.AttendanceStats{SickLeaveDays: 5, SpecialLeaveDays: 2})
	m.SetAttendance(clinic1, compensation.NewMonth(2025, time.January), "a1", compensation.AttendanceStats{SickLeaveDays: 6})
	m.SetAttendance(clinic1, compensation.NewMonth(2025, time.February), "a1", compensation.AttendanceStats{SickLeaveDays: 2})
	m.SetMealDeduction(clinic1, march2025, "a1", 350)
	m.SetBonusPoolRate(clinic1, march2025, 30)
	return m
}

func newTestEngine(t *testing.T, src compensation.Sources) *compensation.Engine {
	e := compensation.NewEngine(src, compensation.WithPersistTimeout(time.Second))
	t.Cleanup(func() { e.Close() })
	return e
}

func flush(t *testing.T, e *compensation.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Flush(ctx))
}

// failingStore injects errors into individual collaborator calls.
type failingStore struct {
	*store.Memory
	attendanceErr error
	saveErr       error

	mu    sync.Mutex
	saves int
}

func (f *failingStore) GetAttendanceStats(ctx context.Context, c compensation.ClinicID, m compensation.Month) (map[compensation.StaffID]compensation.AttendanceStats, error) {
	if f.attendanceErr != nil {
		return nil, f.attendanceErr
	}
	return f.Memory.GetAttendanceStats(ctx, c, m)
}

func (f *failingStore) SaveOverrideField(ctx context.Context, c compensation.ClinicID, m compensation.Month, s compensation.StaffID, field compensation.OverrideField, v decimal.Decimal) error {
	f.mu.Lock()
	f.saves++
	f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Memory.SaveOverrideField(ctx, c, m, s, field, v)
}

// =============================================================================
// RECOMPUTE
// =============================================================================

func TestEngine_Recompute_BuildsRowsForPayableStaff(t *testing.T) {
	e := newTestEngine(t, compensation.SourcesFrom(newSeededMemory()))

	rows, err := e.Recompute(context.Background(), clinic1, march2025, testCfg)
	require.NoError(t, err)

	require.Len(t, rows, 5, "part-time staff are excluded")

	c1 := rowByID(t, rows, "c1")
	assertMoney(t, 2000, c1.BaseBonus)
	assertMoney(t, 600, c1.PoolContribution)
	assertMoney(t, 150, c1.PoolShare)
	assertMoney(t, 1550, c1.PerformanceBonus)
	assertMoney(t, 32000+2000+1550-800, c1.NetPay)

	c2 := rowByID(t, rows, "c2")
	assertMoney(t, 150, c2.PerformanceBonus)

	// a1: 8 sick days before March, 5 in March -> 3 deductible
	a1 := rowByID(t, rows, "a1")
	assertMoney(t, 8, a1.YtdSickDays)
	assertMoney(t, 3, a1.DeductibleSickDays)
	assertMoney(t, 900, a1.DailyRate)
	assertMoney(t, 2250, a1.LeaveDeduction)
	assertMoney(t, 1800, a1.FullAttendanceBonus)
	assertMoney(t, 350, a1.MealDeduction)
	assertMoney(t, 0, a1.PerformanceBonus)
	assertMoney(t, 27000-2250+1800-350-600, a1.NetPay)

	period, ok := e.Period()
	assert.True(t, ok)
	assert.Equal(t, compensation.Period{ClinicID: clinic1, Month: march2025}, period)
}

func TestEngine_Recompute_Idempotent(t *testing.T) {
	e := newTestEngine(t, compensation.SourcesFrom(newSeededMemory()))
	ctx := context.Background()

	first, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	second, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func TestEngine_Recompute_FetchFailureKeepsPreviousRows(t *testing.T) {
	// GIVEN: A successful recompute
	fs := &failingStore{Memory: newSeededMemory()}
	e := newTestEngine(t, compensation.SourcesFrom(fs))
	ctx := context.Background()

	before, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)

	// WHEN: The attendance provider fails on the next run
	fs.attendanceErr = errors.New("scheduler unavailable")
	rows, err := e.Recompute(ctx, clinic1, march2025.Next(), testCfg)

	// THEN: The whole run aborts and the old rows stay installed
	require.Error(t, err)
	assert.Nil(t, rows)
	assert.ErrorIs(t, err, compensation.ErrCollaboratorFetch)
	var fetchErr *compensation.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, "attendance", fetchErr.Source)

	assert.Equal(t, before, e.Rows())
	period, _ := e.Period()
	assert.Equal(t, march2025, period.Month)
}

// blockingRoster holds the roster call for one month until its context ends.
type blockingRoster struct {
	*store.Memory
	blockClinic compensation.ClinicID
	entered     chan struct{}
}

func (b *blockingRoster) GetRoster(ctx context.Context, c compensation.ClinicID) ([]compensation.StaffMember, error) {
	if c == b.blockClinic {
		close(b.entered)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.Memory.GetRoster(ctx, c)
}

func TestEngine_Recompute_SupersededResultDiscarded(t *testing.T) {
	// GIVEN: A recompute for a slow clinic still fetching
	mem := newSeededMemory()
	br := &blockingRoster{Memory: mem, blockClinic: "slow", entered: make(chan struct{})}
	e := newTestEngine(t, compensation.SourcesFrom(br))
	ctx := context.Background()

	staleErr := make(chan error, 1)
	go func() {
		_, err := e.Recompute(ctx, "slow", march2025, testCfg)
		staleErr <- err
	}()
	<-br.entered

	// WHEN: The user switches to another clinic before it finishes
	rows, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	// THEN: The slow run reports it was superseded and does not overwrite
	select {
	case err := <-staleErr:
		assert.ErrorIs(t, err, compensation.ErrSuperseded)
	case <-time.After(5 * time.Second):
		t.Fatal("stale recompute did not return")
	}
	period, _ := e.Period()
	assert.Equal(t, clinic1, period.ClinicID)
	assert.Len(t, e.Rows(), 5)
}

// =============================================================================
// UPDATE FIELD
// =============================================================================

func TestEngine_UpdateField_PatchesRowAndPersists(t *testing.T) {
	mem := newSeededMemory()
	e := newTestEngine(t, compensation.SourcesFrom(mem))
	ctx := context.Background()

	rows, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	before := rowByID(t, rows, "c2")

	// WHEN: 120 overtime minutes are entered
	row, err := e.UpdateField("c2", compensation.FieldOvertimeMinutes, "120")
	require.NoError(t, err)

	// THEN: Overtime pay and net pay change immediately
	assertMoney(t, 300, row.RegularOTPay)
	assertMoney(t, 300, row.NetPay.Sub(before.NetPay))
	assert.True(t, closedFormNetPay(row).Equal(row.NetPay))
	installed, ok := e.Row("c2")
	require.True(t, ok)
	assert.True(t, installed.NetPay.Equal(row.NetPay))

	// AND: A fresh session reproduces the value from the store
	flush(t, e)
	fresh := newTestEngine(t, compensation.SourcesFrom(mem))
	rows, err = fresh.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	again := rowByID(t, rows, "c2")
	assertMoney(t, 120, again.RegularOTMinutes)
	assertMoney(t, 300, again.RegularOTPay)
	assert.True(t, again.NetPay.Equal(row.NetPay))
}

func TestEngine_UpdateField_InsuranceAndAdjustment(t *testing.T) {
	e := newTestEngine(t, compensation.SourcesFrom(newSeededMemory()))
	rows, err := e.Recompute(context.Background(), clinic1, march2025, testCfg)
	require.NoError(t, err)
	before := rowByID(t, rows, "a1")

	row, err := e.UpdateField("a1", compensation.FieldInsurance, "1,000")
	require.NoError(t, err)
	assertMoney(t, 1000, row.Insurance)
	assert.True(t, row.InsuranceOverridden)
	assertMoney(t, -400, row.NetPay.Sub(before.NetPay))

	row, err = e.UpdateField("a1", compensation.FieldAdjustment, "-250.5")
	require.NoError(t, err)
	assertMoney(t, -250.5, row.Adjustment)
	assert.True(t, row.AdjustmentOverridden)
	assert.False(t, before.AdjustmentOverridden)
	assert.True(t, closedFormNetPay(row).Equal(row.NetPay))

	row, err = e.UpdateField("a1", compensation.FieldOvertimeMinutes, "0")
	require.NoError(t, err)
	assertMoney(t, 0, row.RegularOTMinutes)
	assert.True(t, row.OTMinutesOverridden)
	assert.False(t, before.OTMinutesOverridden)
}

func TestEngine_UpdateField_Errors(t *testing.T) {
	e := newTestEngine(t, compensation.SourcesFrom(newSeededMemory()))

	_, err := e.UpdateField("c1", compensation.FieldAdjustment, "10")
	assert.ErrorIs(t, err, compensation.ErrNoActivePeriod)

	_, err = e.Recompute(context.Background(), clinic1, march2025, testCfg)
	require.NoError(t, err)

	_, err = e.UpdateField("nobody", compensation.FieldAdjustment, "10")
	assert.ErrorIs(t, err, compensation.ErrStaffNotFound)
	assert.True(t, compensation.IsNotFound(err))

	_, err = e.UpdateField("p1", compensation.FieldAdjustment, "10")
	assert.ErrorIs(t, err, compensation.ErrStaffNotFound, "part-time staff have no row")

	_, err = e.UpdateField("c1", "bonus", "10")
	assert.ErrorIs(t, err, compensation.ErrUnknownField)

	_, err = e.UpdateField("c1", compensation.FieldAdjustment, "ten")
	assert.ErrorIs(t, err, compensation.ErrInvalidValue)
	assert.True(t, compensation.IsClientError(err))

	_, err = e.UpdateFieldIn(compensation.Period{ClinicID: clinic1, Month: march2025.Next()}, "c1", compensation.FieldAdjustment, "10")
	assert.ErrorIs(t, err, compensation.ErrPeriodMismatch)
	assert.True(t, compensation.IsConflict(err))
}

func TestEngine_PersistFailure_KeepsInMemoryValue(t *testing.T) {
	// GIVEN: An override store that rejects writes
	fs := &failingStore{Memory: newSeededMemory(), saveErr: errors.New("disk full")}
	e := newTestEngine(t, compensation.SourcesFrom(fs))
	ctx := context.Background()
	_, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)

	// WHEN: Editing a field
	row, err := e.UpdateField("c1", compensation.FieldAdjustment, "500")

	// THEN: The edit is accepted and survives the failed write in memory
	require.NoError(t, err)
	flush(t, e)
	fs.mu.Lock()
	assert.Equal(t, 1, fs.saves)
	fs.mu.Unlock()
	installed, _ := e.Row("c1")
	assertMoney(t, 500, installed.Adjustment)
	assert.True(t, installed.NetPay.Equal(row.NetPay))

	// AND: The next recompute reconciles from what was durably stored
	rows, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	assertMoney(t, 0, rowByID(t, rows, "c1").Adjustment)
}

// gatedStore holds override writes until released.
type gatedStore struct {
	*store.Memory
	release chan struct{}
}

func (g *gatedStore) SaveOverrideField(ctx context.Context, c compensation.ClinicID, m compensation.Month, s compensation.StaffID, field compensation.OverrideField, v decimal.Decimal) error {
	<-g.release
	return g.Memory.SaveOverrideField(ctx, c, m, s, field, v)
}

func TestEngine_Recompute_OverlaysPendingWrites(t *testing.T) {
	// GIVEN: An edit whose write has not reached the store yet
	gs := &gatedStore{Memory: newSeededMemory(), release: make(chan struct{})}
	e := compensation.NewEngine(compensation.SourcesFrom(gs), compensation.WithPersistTimeout(5*time.Second))
	defer e.Close()
	ctx := context.Background()

	_, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	_, err = e.UpdateField("c3", compensation.FieldOvertimeMinutes, "60")
	require.NoError(t, err)

	// WHEN: Recomputing before the write lands
	rows, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)

	// THEN: The pending value is still visible
	assertMoney(t, 150, rowByID(t, rows, "c3").RegularOTPay)

	close(gs.release)
	flush(t, e)
	rows, err = e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	assertMoney(t, 150, rowByID(t, rows, "c3").RegularOTPay)
}

func TestEngine_WritesPersistInOrder(t *testing.T) {
	mem := newSeededMemory()
	e := newTestEngine(t, compensation.SourcesFrom(mem))
	ctx := context.Background()
	_, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)

	for _, v := range []string{"10", "20", "30", "40"} {
		_, err := e.UpdateField("c1", compensation.FieldAdjustment, v)
		require.NoError(t, err)
	}
	flush(t, e)

	stored, err := mem.GetOverrides(ctx, clinic1, march2025)
	require.NoError(t, err)
	v, ok := stored["c1"].Get(compensation.FieldAdjustment)
	require.True(t, ok)
	assertMoney(t, 40, v)
}

func TestEngine_Close_DrainsAndRejectsEdits(t *testing.T) {
	mem := newSeededMemory()
	e := compensation.NewEngine(compensation.SourcesFrom(mem))
	ctx := context.Background()
	_, err := e.Recompute(ctx, clinic1, march2025, testCfg)
	require.NoError(t, err)
	_, err = e.UpdateField("c4", compensation.FieldInsurance, "0")
	require.NoError(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())

	stored, _ := mem.GetOverrides(ctx, clinic1, march2025)
	_, ok := stored["c4"].Get(compensation.FieldInsurance)
	assert.True(t, ok, "queued write drained on close")

	_, err = e.UpdateField("c4", compensation.FieldInsurance, "1")
	assert.ErrorIs(t, err, compensation.ErrClosed)
	assert.NoError(t, e.Flush(ctx))
}

func TestParseOverrideValue(t *testing.T) {
	valid := map[string]float64{
		"120":        120,
		" 1,000 ":    1000,
		"-250.5":     -250.5,
		"12,500.75":  12500.75,
		"+1,234,567": 1234567,
		"0":          0,
	}
	for raw, want := range valid {
		got, err := compensation.ParseOverrideValue(raw)
		require.NoError(t, err, raw)
		assert.True(t, decimal.NewFromFloat(want).Equal(got), "%q parsed as %s", raw, got)
	}

	for _, raw := range []string{"", "  ", "abc", "1,2,3", "1000,00", ",100", "1,000,", "12,34.5", "1,000.5,0"} {
		_, err := compensation.ParseOverrideValue(raw)
		assert.ErrorIs(t, err, compensation.ErrInvalidValue, "%q", raw)
	}
}
