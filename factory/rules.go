/*
Package factory converts payroll rule files into compensation run settings.

PURPOSE:
  Turns a JSON or YAML rules document into a compensation.RunConfig per
  clinic and a set of per-month pool rates. Payroll staff can change the
  attendance bonus, overtime rate or pool rate without a code change.

SCHEMA (YAML shown, JSON uses the same keys):
  attendance_bonus_base: 2000
  per_minute_ot_rate: 2.5
  pool_rate_percent: 30
  clinics:
    clinic-1:
      attendance_bonus_base: 2500
      pool_rates:
        "2025-03": 35

RESOLUTION:
  A clinic value overrides the top-level value. Unset top-level values fall
  back to DefaultRules. A month listed under pool_rates overrides the
  clinic's pool_rate_percent for that month only. A rate stored for the
  month (PUT pool-rate) wins over all of them; see Rules.PoolConfig.

VALIDATION:
  - Amounts must not be negative
  - Month keys must be YYYY-MM
  - Pool rates are clamped to [0, 100]

USAGE:
  rules, err := factory.LoadRules("rules.yaml")
  cfg := rules.RunConfig("clinic-1")
  err = rules.ApplyPoolRates(ctx, store)
  src.PoolConfig = rules.PoolConfig(store)

SEE ALSO:
  - compensation/types.go: RunConfig
  - store/sqlite/sqlite.go: SetBonusPoolRate
*/
package factory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-payroll/compensation"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// FILE SCHEMA TYPES
// =============================================================================

// RulesFile is the on-disk representation of the payroll rules.
type RulesFile struct {
	AttendanceBonusBase *decimal.Decimal       `json:"attendance_bonus_base,omitempty" yaml:"attendance_bonus_base,omitempty"`
	PerMinuteOTRate     *decimal.Decimal       `json:"per_minute_ot_rate,omitempty" yaml:"per_minute_ot_rate,omitempty"`
	PoolRatePercent     *float64               `json:"pool_rate_percent,omitempty" yaml:"pool_rate_percent,omitempty"`
	Clinics             map[string]ClinicRules `json:"clinics,omitempty" yaml:"clinics,omitempty"`
}

// ClinicRules overrides the top-level rules for one clinic.
type ClinicRules struct {
	AttendanceBonusBase *decimal.Decimal   `json:"attendance_bonus_base,omitempty" yaml:"attendance_bonus_base,omitempty"`
	PerMinuteOTRate     *decimal.Decimal   `json:"per_minute_ot_rate,omitempty" yaml:"per_minute_ot_rate,omitempty"`
	PoolRatePercent     *float64           `json:"pool_rate_percent,omitempty" yaml:"pool_rate_percent,omitempty"`
	PoolRates           map[string]float64 `json:"pool_rates,omitempty" yaml:"pool_rates,omitempty"`
}

// Format selects the rules file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// =============================================================================
// RESOLVED RULES
// =============================================================================

// PoolRate is a pool rate pinned to one clinic and month.
type PoolRate struct {
	ClinicID compensation.ClinicID
	Month    compensation.Month
	Percent  float64
}

// Rules is a validated rules document.
type Rules struct {
	defaults    compensation.RunConfig
	defaultPool float64
	clinics     map[compensation.ClinicID]clinicRules
}

type clinicRules struct {
	cfg       compensation.RunConfig
	pool      *float64
	poolRates map[compensation.Month]float64
}

// DefaultRules returns the rules used when no file is configured:
// a 2000 attendance bonus, 2.5 per overtime minute and a 30% pool.
func DefaultRules() *Rules {
	return &Rules{
		defaults: compensation.RunConfig{
			AttendanceBonusBase: decimal.NewFromInt(2000),
			PerMinuteOTRate:     decimal.RequireFromString("2.5"),
		},
		defaultPool: compensation.DefaultPoolRatePercent,
		clinics:     make(map[compensation.ClinicID]clinicRules),
	}
}

// RunConfig returns the run settings for a clinic.
func (r *Rules) RunConfig(clinicID compensation.ClinicID) compensation.RunConfig {
	if c, ok := r.clinics[clinicID]; ok {
		return c.cfg
	}
	return r.defaults
}

// PoolRatePercent returns the pool rate for (clinic, month): the month entry,
// then the clinic rate, then the top-level rate.
func (r *Rules) PoolRatePercent(clinicID compensation.ClinicID, month compensation.Month) float64 {
	c, ok := r.clinics[clinicID]
	if !ok {
		return r.defaultPool
	}
	if rate, ok := c.poolRates[month]; ok {
		return rate
	}
	if c.pool != nil {
		return *c.pool
	}
	return r.defaultPool
}

// PoolRates lists every month-specific pool rate, ordered by clinic then month.
func (r *Rules) PoolRates() []PoolRate {
	var out []PoolRate
	for id, c := range r.clinics {
		for m, rate := range c.poolRates {
			out = append(out, PoolRate{ClinicID: id, Month: m, Percent: rate})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClinicID != out[j].ClinicID {
			return out[i].ClinicID < out[j].ClinicID
		}
		return out[i].Month.Before(out[j].Month)
	})
	return out
}

// PoolRateSetter receives month-specific pool rates.
type PoolRateSetter interface {
	SetBonusPoolRate(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month, rate float64) error
}

// ApplyPoolRates writes every month-specific pool rate to the store.
func (r *Rules) ApplyPoolRates(ctx context.Context, store PoolRateSetter) error {
	for _, pr := range r.PoolRates() {
		if err := store.SetBonusPoolRate(ctx, pr.ClinicID, pr.Month, pr.Percent); err != nil {
			return fmt.Errorf("failed to apply pool rate for %s %s: %w", pr.ClinicID, pr.Month, err)
		}
	}
	return nil
}

// PoolRateLookup reports the rate stored for a month, if any.
type PoolRateLookup interface {
	LookupBonusPoolRate(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (float64, bool, error)
}

// PoolConfig returns a BonusPoolConfigStore that reads the stored rate and
// falls back to PoolRatePercent when the month has none.
func (r *Rules) PoolConfig(store PoolRateLookup) compensation.BonusPoolConfigStore {
	return &poolConfig{rules: r, store: store}
}

type poolConfig struct {
	rules *Rules
	store PoolRateLookup
}

func (p *poolConfig) GetBonusPoolRate(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (float64, error) {
	rate, ok, err := p.store.LookupBonusPoolRate(ctx, clinicID, month)
	if err != nil {
		return 0, err
	}
	if !ok {
		return p.rules.PoolRatePercent(clinicID, month), nil
	}
	return rate, nil
}

// =============================================================================
// PARSING
// =============================================================================

// LoadRules reads a rules file. The format follows the file extension
// (.json, .yaml, .yml). An empty path yields DefaultRules.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	format := FormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = FormatJSON
	}
	return ParseRules(data, format)
}

// ParseRules decodes and validates a rules document.
func ParseRules(data []byte, format Format) (*Rules, error) {
	var rf RulesFile
	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("failed to parse rules JSON: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rules format %q", format)
	}
	return FromFile(rf)
}

// FromFile resolves a decoded RulesFile against DefaultRules.
func FromFile(rf RulesFile) (*Rules, error) {
	rules := DefaultRules()

	if err := overlay(&rules.defaults, rf.AttendanceBonusBase, rf.PerMinuteOTRate); err != nil {
		return nil, err
	}
	if rf.PoolRatePercent != nil {
		rules.defaultPool = compensation.ClampPoolRate(*rf.PoolRatePercent)
	}

	for id, cj := range rf.Clinics {
		if id == "" {
			return nil, fmt.Errorf("clinic id must not be empty")
		}
		c := clinicRules{
			cfg:       rules.defaults,
			poolRates: make(map[compensation.Month]float64, len(cj.PoolRates)),
		}
		if err := overlay(&c.cfg, cj.AttendanceBonusBase, cj.PerMinuteOTRate); err != nil {
			return nil, fmt.Errorf("clinic %s: %w", id, err)
		}
		if cj.PoolRatePercent != nil {
			rate := compensation.ClampPoolRate(*cj.PoolRatePercent)
			c.pool = &rate
		}
		for key, rate := range cj.PoolRates {
			m, err := compensation.ParseMonth(key)
			if err != nil {
				return nil, fmt.Errorf("clinic %s: %w", id, err)
			}
			c.poolRates[m] = compensation.ClampPoolRate(rate)
		}
		rules.clinics[compensation.ClinicID(id)] = c
	}

	return rules, nil
}

func overlay(cfg *compensation.RunConfig, bonusBase, otRate *decimal.Decimal) error {
	if bonusBase != nil {
		if bonusBase.IsNegative() {
			return fmt.Errorf("attendance_bonus_base must not be negative, got %s", bonusBase)
		}
		cfg.AttendanceBonusBase = *bonusBase
	}
	if otRate != nil {
		if otRate.IsNegative() {
			return fmt.Errorf("per_minute_ot_rate must not be negative, got %s", otRate)
		}
		cfg.PerMinuteOTRate = *otRate
	}
	return nil
}
