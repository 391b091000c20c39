package compensation

import (
	"fmt"
	"time"
)

// =============================================================================
// MONTH - The payroll period
// =============================================================================

// Month identifies one payroll period. Payroll is always computed for a
// whole calendar month.
type Month struct {
	Year  int
	Month time.Month
}

const monthLayout = "2006-01"

func NewMonth(year int, month time.Month) Month { return Month{Year: year, Month: month} }

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse(monthLayout, s)
	if err != nil {
		return Month{}, fmt.Errorf("%w: %q", ErrInvalidMonth, s)
	}
	return Month{Year: t.Year(), Month: t.Month()}, nil
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

func (m Month) Start() time.Time { return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC) }
func (m Month) Next() Month      { t := m.Start().AddDate(0, 1, 0); return Month{t.Year(), t.Month()} }
func (m Month) Prev() Month      { t := m.Start().AddDate(0, -1, 0); return Month{t.Year(), t.Month()} }

// Before reports whether m is strictly earlier than other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

func (m Month) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Month) UnmarshalText(b []byte) error {
	parsed, err := ParseMonth(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Period is the (clinic, month) context a set of SalaryRows belongs to.
type Period struct {
	ClinicID ClinicID
	Month    Month
}

func (p Period) String() string { return string(p.ClinicID) + "/" + p.Month.String() }
