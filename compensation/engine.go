/*
engine.go - Recompute and incremental update protocol

PURPOSE:
  Engine holds the SalaryRow set for one (clinic, month) at a time. It
  rebuilds the whole set on Recompute and patches single rows on UpdateField.

RECOMPUTE:
  1. Take a new generation token, cancel any recompute still in flight
  2. Fan out every collaborator read concurrently (errgroup); the per-staff
     YTD sick lookups fan out as soon as the roster arrives
  3. Any failure aborts the run and leaves the installed rows untouched
  4. If the token is still current, overlay queued override writes, compute
     and install the new rows atomically; otherwise discard (ErrSuperseded)

UPDATE FIELD:
  1. Patch the row in memory and recompute its net pay
  2. Queue the raw value for the background writer
  3. The writer persists in FIFO order; failures are logged, never rolled back

CONSISTENCY:
  A queued write is overlaid on the overrides read by a recompute of the same
  period until the writer has finished with it. After that the store is the
  only source, so a failed write is reconciled away by the next recompute.
*/
package compensation

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const defaultPersistTimeout = 10 * time.Second

// =============================================================================
// OPTIONS
// =============================================================================

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPersistTimeout bounds each asynchronous override write.
func WithPersistTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.persistTimeout = d
		}
	}
}

// =============================================================================
// ENGINE
// =============================================================================

type pendingKey struct {
	Period  Period
	StaffID StaffID
	Field   OverrideField
}

type pendingWrite struct {
	seq   uint64
	value decimal.Decimal
}

type persistJob struct {
	key     pendingKey
	seq     uint64
	value   decimal.Decimal
	barrier chan struct{}
}

type Engine struct {
	src            Sources
	log            zerolog.Logger
	persistTimeout time.Duration

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	active     bool
	period     Period
	cfg        RunConfig
	rows       []SalaryRow
	index      map[StaffID]int

	// pending-write queue
	seq        uint64
	pending    map[pendingKey]pendingWrite
	queue      []persistJob
	closed     bool
	wake       chan struct{}
	writerDone chan struct{}
}

// NewEngine creates an engine and starts its override writer.
// Call Close to drain outstanding writes.
func NewEngine(src Sources, opts ...Option) *Engine {
	e := &Engine{
		src:            src,
		log:            zerolog.Nop(),
		persistTimeout: defaultPersistTimeout,
		index:          make(map[StaffID]int),
		pending:        make(map[pendingKey]pendingWrite),
		wake:           make(chan struct{}, 1),
		writerDone:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.runWriter()
	return e
}

// Recompute rebuilds every SalaryRow for (clinicID, month).
func (e *Engine) Recompute(ctx context.Context, clinicID ClinicID, month Month, cfg RunConfig) ([]SalaryRow, error) {
	period := Period{ClinicID: clinicID, Month: month}
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.generation++
	gen := e.generation
	if e.cancel != nil {
		e.cancel()
	}
	e.cancel = cancel
	e.mu.Unlock()

	snap, fetchErr := e.fetch(ctx, period)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.generation {
		e.log.Debug().Str("period", period.String()).Uint64("generation", gen).Msg("discarding superseded recompute")
		return nil, ErrSuperseded
	}
	e.cancel = nil
	if fetchErr != nil {
		e.log.Error().Err(fetchErr).Str("period", period.String()).Msg("recompute aborted")
		return nil, fetchErr
	}

	snap.Overrides = e.overlayPendingLocked(period, snap.Overrides)
	rows := Compute(snap, cfg)

	e.active = true
	e.period = period
	e.cfg = cfg
	e.rows = rows
	e.index = make(map[StaffID]int, len(rows))
	for i, r := range rows {
		e.index[r.ID] = i
	}

	e.log.Info().
		Str("period", period.String()).
		Int("rows", len(rows)).
		Dur("took", time.Since(start)).
		Msg("payroll recomputed")

	return cloneRows(rows), nil
}

func (e *Engine) fetch(ctx context.Context, p Period) (Snapshot, error) {
	snap := Snapshot{Period: p, YtdSickDays: make(map[StaffID]float64)}
	var ytdMu sync.Mutex

	wrap := func(source string, err error) error {
		if err == nil {
			return nil
		}
		return &FetchError{Source: source, Period: p, Err: err}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		roster, err := e.src.Roster.GetRoster(ctx, p.ClinicID)
		if err != nil {
			return wrap("roster", err)
		}
		snap.Roster = roster
		for _, s := range Payable(roster) {
			id := s.ID
			g.Go(func() error {
				days, err := e.src.SickLeave.GetYtdSickDays(ctx, p.ClinicID, id, p.Month.Year, p.Month.Month)
				if err != nil {
					return wrap("ytd sick days "+string(id), err)
				}
				ytdMu.Lock()
				snap.YtdSickDays[id] = days
				ytdMu.Unlock()
				return nil
			})
		}
		return nil
	})
	g.Go(func() (err error) {
		snap.Attendance, err = e.src.Attendance.GetAttendanceStats(ctx, p.ClinicID, p.Month)
		return wrap("attendance", err)
	})
	g.Go(func() (err error) {
		snap.Revenue, err = e.src.Revenue.GetRevenueAttribution(ctx, p.ClinicID, p.Month)
		return wrap("revenue", err)
	})
	g.Go(func() (err error) {
		snap.Meals, err = e.src.Meals.GetMealDeduction(ctx, p.ClinicID, p.Month)
		return wrap("meals", err)
	})
	g.Go(func() (err error) {
		snap.PoolRate, err = e.src.PoolConfig.GetBonusPoolRate(ctx, p.ClinicID, p.Month)
		return wrap("pool rate", err)
	})
	g.Go(func() (err error) {
		snap.Overrides, err = e.src.Overrides.GetOverrides(ctx, p.ClinicID, p.Month)
		return wrap("overrides", err)
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// overlayPendingLocked layers writes still waiting for the store on top of
// the overrides that were read.
func (e *Engine) overlayPendingLocked(p Period, fetched map[StaffID]SalaryOverride) map[StaffID]SalaryOverride {
	merged := make(map[StaffID]SalaryOverride, len(fetched))
	for id, ov := range fetched {
		merged[id] = ov
	}
	for k, w := range e.pending {
		if k.Period != p {
			continue
		}
		merged[k.StaffID] = merged[k.StaffID].With(k.Field, w.value)
	}
	return merged
}

// UpdateField applies one override edit to the active period. The row is
// patched immediately; the raw value is persisted in the background.
func (e *Engine) UpdateField(staffID StaffID, field OverrideField, rawValue string) (SalaryRow, error) {
	return e.update(nil, staffID, field, rawValue)
}

// UpdateFieldIn is UpdateField guarded by the period the caller believes is active.
func (e *Engine) UpdateFieldIn(p Period, staffID StaffID, field OverrideField, rawValue string) (SalaryRow, error) {
	return e.update(&p, staffID, field, rawValue)
}

func (e *Engine) update(expect *Period, staffID StaffID, field OverrideField, rawValue string) (SalaryRow, error) {
	if !field.Valid() {
		return SalaryRow{}, ErrUnknownField
	}
	value, err := ParseOverrideValue(rawValue)
	if err != nil {
		return SalaryRow{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return SalaryRow{}, ErrClosed
	}
	if !e.active {
		return SalaryRow{}, ErrNoActivePeriod
	}
	if expect != nil && *expect != e.period {
		return SalaryRow{}, ErrPeriodMismatch
	}
	i, ok := e.index[staffID]
	if !ok {
		return SalaryRow{}, ErrStaffNotFound
	}

	row := patchRow(e.rows[i], field, value, e.cfg)
	e.rows[i] = row

	e.seq++
	key := pendingKey{Period: e.period, StaffID: staffID, Field: field}
	e.pending[key] = pendingWrite{seq: e.seq, value: value}
	e.queue = append(e.queue, persistJob{key: key, seq: e.seq, value: value})
	e.signal()

	return cloneRow(row), nil
}

// groupedNumber matches a number whose integer part uses ',' thousands separators.
var groupedNumber = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d+)?$`)

// ParseOverrideValue parses a user-entered number. Commas are accepted only
// as thousands separators ("12,500.5").
func ParseOverrideValue(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)
	if strings.Contains(s, ",") {
		if !groupedNumber.MatchString(s) {
			return decimal.Zero, ErrInvalidValue
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	if s == "" {
		return decimal.Zero, ErrInvalidValue
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidValue
	}
	return d, nil
}

// Rows returns a copy of the installed rows.
func (e *Engine) Rows() []SalaryRow {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRows(e.rows)
}

// Row returns the installed row for staffID.
func (e *Engine) Row(staffID StaffID) (SalaryRow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.index[staffID]
	if !ok {
		return SalaryRow{}, false
	}
	return cloneRow(e.rows[i]), true
}

// Period returns the period of the installed rows, false before the first
// successful recompute.
func (e *Engine) Period() (Period, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.period, e.active
}

// =============================================================================
// OVERRIDE WRITER
// =============================================================================

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) runWriter() {
	defer close(e.writerDone)
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.wake
			continue
		}
		job := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		if job.barrier != nil {
			close(job.barrier)
			continue
		}
		e.persist(job)
	}
}

func (e *Engine) persist(job persistJob) {
	ctx, cancel := context.WithTimeout(context.Background(), e.persistTimeout)
	defer cancel()

	k := job.key
	err := e.src.Overrides.SaveOverrideField(ctx, k.Period.ClinicID, k.Period.Month, k.StaffID, k.Field, job.value)
	if err != nil {
		perr := &PersistError{Period: k.Period, StaffID: k.StaffID, Field: k.Field, Err: err}
		e.log.Error().Err(perr).
			Str("period", k.Period.String()).
			Str("staff_id", string(k.StaffID)).
			Str("field", string(k.Field)).
			Msg("override persist failed, keeping in-memory value")
	}

	e.mu.Lock()
	if w, ok := e.pending[k]; ok && w.seq == job.seq {
		delete(e.pending, k)
	}
	e.mu.Unlock()
}

// Flush blocks until every write queued before the call has been attempted.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.queue = append(e.queue, persistJob{barrier: done})
	e.signal()
	e.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the write queue and stops the writer. It is safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	if e.cancel != nil {
		e.cancel()
	}
	e.signal()
	e.mu.Unlock()
	<-e.writerDone
	return nil
}

func cloneRow(r SalaryRow) SalaryRow {
	r.Disqualifications = append([]DisqualificationReason{}, r.Disqualifications...)
	return r
}

func cloneRows(rows []SalaryRow) []SalaryRow {
	if rows == nil {
		return nil
	}
	out := make([]SalaryRow, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out
}
