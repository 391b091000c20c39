/*
Package redis provides a Redis-backed compensation.OverrideStore.

LAYOUT:
  One hash per (clinic, month):
    key:   override:{clinic}:{month}
    field: {staffID}:{field}
    value: decimal string

  HSET on a single hash field gives last-write-wins per override field
  without a read-modify-write.

USAGE:
  rdb, err := redis.Connect(ctx, "localhost:6379", "", "")
  overrides := redis.NewOverrideStore(rdb)
  src := compensation.SourcesFrom(sqliteStore)
  src.Overrides = overrides
*/
package redis

import (
	"context"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/warp/clinic-payroll/compensation"
)

// Connect opens a client and verifies it with PING.
func Connect(ctx context.Context, addr, username, password string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// OverrideStore implements compensation.OverrideStore on Redis hashes.
type OverrideStore struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ compensation.OverrideStore = (*OverrideStore)(nil)

func NewOverrideStore(rdb goredis.UniversalClient) *OverrideStore {
	return &OverrideStore{rdb: rdb, prefix: "override"}
}

// WithPrefix returns a copy of the store writing under a different key prefix.
func (s *OverrideStore) WithPrefix(prefix string) *OverrideStore {
	return &OverrideStore{rdb: s.rdb, prefix: prefix}
}

func (s *OverrideStore) key(clinicID compensation.ClinicID, month compensation.Month) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, clinicID, month)
}

// GetOverrides reads the whole period hash. Entries with an unknown field or
// an unparsable value are skipped.
func (s *OverrideStore) GetOverrides(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) (map[compensation.StaffID]compensation.SalaryOverride, error) {
	entries, err := s.rdb.HGetAll(ctx, s.key(clinicID, month)).Result()
	if err != nil {
		return nil, err
	}

	result := make(map[compensation.StaffID]compensation.SalaryOverride)
	for hashField, raw := range entries {
		// staff IDs may contain ':', the field name never does
		i := strings.LastIndex(hashField, ":")
		if i <= 0 {
			continue
		}
		staffID := compensation.StaffID(hashField[:i])
		field := compensation.OverrideField(hashField[i+1:])
		if !field.Valid() {
			continue
		}
		v, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		result[staffID] = result[staffID].With(field, v)
	}
	return result, nil
}

// SaveOverrideField sets one hash field.
func (s *OverrideStore) SaveOverrideField(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month, staffID compensation.StaffID, field compensation.OverrideField, value decimal.Decimal) error {
	if !field.Valid() {
		return compensation.ErrUnknownField
	}
	hashField := string(staffID) + ":" + string(field)
	if err := s.rdb.HSet(ctx, s.key(clinicID, month), hashField, value.String()).Err(); err != nil {
		return fmt.Errorf("failed to save override %s for %s: %w", field, staffID, err)
	}
	return nil
}

// Clear deletes every override recorded for the period.
func (s *OverrideStore) Clear(ctx context.Context, clinicID compensation.ClinicID, month compensation.Month) error {
	return s.rdb.Del(ctx, s.key(clinicID, month)).Err()
}
