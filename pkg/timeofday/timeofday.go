// Package timeofday models wall-clock times as minutes since midnight.
//
// Timetable values cross the API boundary as "HH:MM" strings but are always
// compared as integers so that unpadded hours ("9:00") order correctly.
package timeofday

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay is the exclusive upper bound for a start time and the inclusive bound for an end time.
const MinutesPerDay = 24 * 60

// ErrInvalid is returned for values that cannot be parsed into a time of day.
var ErrInvalid = errors.New("invalid time of day")

// Minutes is a time of day expressed as minutes since midnight.
type Minutes int

// Parse converts "H:MM", "HH:MM" or "HH:MM:SS" into Minutes.
func Parse(raw string) (Minutes, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 24 || len(parts[0]) > 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
		}
	}
	total := hour*60 + minute
	if total > MinutesPerDay {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return Minutes(total), nil
}

// MustParse is Parse for literals known to be valid. It panics otherwise.
func MustParse(raw string) Minutes {
	m, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// String renders the value as zero-padded HH:MM.
func (m Minutes) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

// Valid reports whether m lies within a single day.
func (m Minutes) Valid() bool {
	return m >= 0 && m <= MinutesPerDay
}

// MarshalJSON encodes the value as an "HH:MM" string.
func (m Minutes) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts either an "HH:MM" string or a raw minute count.
func (m *Minutes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := Parse(s)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, string(data))
	}
	if !Minutes(n).Valid() {
		return fmt.Errorf("%w: %d", ErrInvalid, n)
	}
	*m = Minutes(n)
	return nil
}

// Value stores the value as an integer column.
func (m Minutes) Value() (driver.Value, error) {
	return int64(m), nil
}

// Scan reads an integer column.
func (m *Minutes) Scan(src interface{}) error {
	switch v := src.(type) {
	case int64:
		*m = Minutes(v)
	case int32:
		*m = Minutes(v)
	case int:
		*m = Minutes(v)
	case []byte:
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return fmt.Errorf("scan minutes: %w", err)
		}
		*m = Minutes(n)
	case nil:
		*m = 0
	default:
		return fmt.Errorf("scan minutes: unsupported type %T", src)
	}
	return nil
}

// Range is a half-open interval [Start, End).
type Range struct {
	Start Minutes
	End   Minutes
}

// ParseRange parses both bounds and requires End to be after Start.
func ParseRange(start, end string) (Range, error) {
	s, err := Parse(start)
	if err != nil {
		return Range{}, err
	}
	e, err := Parse(end)
	if err != nil {
		return Range{}, err
	}
	r := Range{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return Range{}, err
	}
	return r, nil
}

// Validate checks bounds and ordering.
func (r Range) Validate() error {
	if !r.Start.Valid() || !r.End.Valid() || r.Start >= MinutesPerDay {
		return fmt.Errorf("%w: range %d-%d out of bounds", ErrInvalid, r.Start, r.End)
	}
	if r.End <= r.Start {
		return fmt.Errorf("%w: end %s must be after start %s", ErrInvalid, r.End, r.Start)
	}
	return nil
}

// Overlaps reports whether r and other share at least one minute.
func (r Range) Overlaps(other Range) bool {
	return Overlaps(r.Start, r.End, other.Start, other.End)
}

// String renders "HH:MM-HH:MM".
func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// Overlaps reports whether [a0,a1) and [b0,b1) intersect.
func Overlaps(a0, a1, b0, b1 Minutes) bool {
	return a0 < b1 && b0 < a1
}
