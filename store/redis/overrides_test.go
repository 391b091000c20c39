package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/clinic-payroll/compensation"
	"github.com/warp/clinic-payroll/compensation/store"
	"github.com/warp/clinic-payroll/store/redis"
)

var march = compensation.NewMonth(2025, time.March)

// newOverrideStore starts an in-process redis server for the test.
func newOverrideStore(t *testing.T) (*redis.OverrideStore, *miniredis.Miniredis, context.Context) {
	t.Helper()
	mr := miniredis.RunT(t)
	ctx := context.Background()
	rdb, err := redis.Connect(ctx, mr.Addr(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	return redis.NewOverrideStore(rdb), mr, ctx
}

func TestConnect_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := redis.Connect(context.Background(), addr, "", "")

	assert.Error(t, err)
}

func TestOverrideStore_PerFieldLastWriteWins(t *testing.T) {
	// GIVEN: Two fields written independently, one of them twice
	s, mr, ctx := newOverrideStore(t)

	require.NoError(t, s.SaveOverrideField(ctx, "clinic-1", march, "team:s1", compensation.FieldInsurance, decimal.NewFromInt(900)))
	require.NoError(t, s.SaveOverrideField(ctx, "clinic-1", march, "team:s1", compensation.FieldAdjustment, decimal.NewFromInt(50)))
	require.NoError(t, s.SaveOverrideField(ctx, "clinic-1", march, "team:s1", compensation.FieldInsurance, decimal.NewFromInt(950)))

	// WHEN: Reading the period back
	got, err := s.GetOverrides(ctx, "clinic-1", march)
	require.NoError(t, err)

	// THEN: The last insurance write wins and the adjustment is untouched
	ins, ok := got["team:s1"].Get(compensation.FieldInsurance)
	require.True(t, ok)
	assert.True(t, ins.Equal(decimal.NewFromInt(950)))
	adj, ok := got["team:s1"].Get(compensation.FieldAdjustment)
	require.True(t, ok)
	assert.True(t, adj.Equal(decimal.NewFromInt(50)))
	_, ok = got["team:s1"].Get(compensation.FieldOvertimeMinutes)
	assert.False(t, ok)

	// AND: The hash layout is one field per staff member and override
	assert.Equal(t, "950", mr.HGet("override:clinic-1:2025-03", "team:s1:insurance"))
}

func TestOverrideStore_SkipsMalformedEntries(t *testing.T) {
	s, mr, ctx := newOverrideStore(t)
	key := "override:clinic-1:2025-03"
	mr.HSet(key, "s1:adjustment", "12.5")
	mr.HSet(key, "s1:bonus", "10")
	mr.HSet(key, "s2:insurance", "lots")
	mr.HSet(key, "nofield", "1")

	got, err := s.GetOverrides(ctx, "clinic-1", march)

	require.NoError(t, err)
	require.Len(t, got, 1)
	adj, ok := got["s1"].Get(compensation.FieldAdjustment)
	require.True(t, ok)
	assert.True(t, adj.Equal(decimal.RequireFromString("12.5")))
}

func TestOverrideStore_PrefixAndClear(t *testing.T) {
	s, mr, ctx := newOverrideStore(t)
	other := s.WithPrefix("staging")

	require.NoError(t, s.SaveOverrideField(ctx, "clinic-1", march, "s1", compensation.FieldAdjustment, decimal.NewFromInt(1)))
	require.NoError(t, other.SaveOverrideField(ctx, "clinic-1", march, "s1", compensation.FieldAdjustment, decimal.NewFromInt(2)))
	assert.True(t, mr.Exists("staging:clinic-1:2025-03"))

	require.NoError(t, s.Clear(ctx, "clinic-1", march))

	got, err := s.GetOverrides(ctx, "clinic-1", march)
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = other.GetOverrides(ctx, "clinic-1", march)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestOverrideStore_EmptyPeriod(t *testing.T) {
	s, _, ctx := newOverrideStore(t)

	got, err := s.GetOverrides(ctx, "clinic-1", compensation.NewMonth(2025, time.April))

	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOverrideStore_RejectsUnknownField(t *testing.T) {
	s, _, ctx := newOverrideStore(t)

	err := s.SaveOverrideField(ctx, "clinic-1", march, "s1", "bonus", decimal.NewFromInt(1))

	assert.ErrorIs(t, err, compensation.ErrUnknownField)
}

func TestOverrideStore_SaveFailsWhenServerDown(t *testing.T) {
	s, mr, ctx := newOverrideStore(t)
	mr.Close()

	err := s.SaveOverrideField(ctx, "clinic-1", march, "s1", compensation.FieldAdjustment, decimal.NewFromInt(1))

	assert.Error(t, err)
}

func TestOverrideStore_DrivesEngine(t *testing.T) {
	// GIVEN: Roster and inputs in memory, overrides in redis
	overrides, _, ctx := newOverrideStore(t)
	mem := store.NewMemory()
	mem.SaveStaff(compensation.StaffMember{
		ID: "c1", ClinicID: "clinic-1", Name: "Mina", Role: compensation.RoleConsultant,
		BaseSalary: decimal.NewFromInt(30000), MonthlyInsuranceCost: decimal.NewFromInt(800),
	})
	src := compensation.SourcesFrom(mem)
	src.Overrides = overrides
	cfg := compensation.RunConfig{AttendanceBonusBase: decimal.NewFromInt(2000), PerMinuteOTRate: decimal.RequireFromString("2.5")}

	e := compensation.NewEngine(src, compensation.WithLogger(zerolog.Nop()))
	t.Cleanup(func() { e.Close() })
	_, err := e.Recompute(ctx, "clinic-1", march, cfg)
	require.NoError(t, err)

	// WHEN: An adjustment is entered and flushed
	row, err := e.UpdateField("c1", compensation.FieldAdjustment, "1,500")
	require.NoError(t, err)
	require.NoError(t, e.Flush(ctx))

	// THEN: A fresh engine reads it back from redis
	fresh := compensation.NewEngine(src, compensation.WithLogger(zerolog.Nop()))
	t.Cleanup(func() { fresh.Close() })
	rows, err := fresh.Recompute(ctx, "clinic-1", march, cfg)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Adjustment.Equal(decimal.NewFromInt(1500)))
	assert.True(t, rows[0].AdjustmentOverridden)
	assert.True(t, rows[0].NetPay.Equal(row.NetPay))
}
