package valueobjects

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	minYear = 1970
	maxYear = 2100

	// Epoch values below this are read as seconds rather than milliseconds;
	// 1e11 ms is March 1973 while 1e11 s is far past maxYear.
	millisFloor = 1e11
)

// Timestamp is a creation time that may be absent. Raw store values that do
// not pass validation produce an absent Timestamp rather than an error.
type Timestamp struct {
	t     time.Time
	valid bool
}

// NewTimestamp wraps t.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t: t.UTC(), valid: true}
}

// AbsentTimestamp returns the zero, absent Timestamp.
func AbsentTimestamp() Timestamp { return Timestamp{} }

// FromMillis converts an epoch millisecond value.
func FromMillis(ms int64) Timestamp {
	return NewTimestamp(time.UnixMilli(ms))
}

// ParseTimestamp validates a raw store value. Numbers (and numeric strings)
// are read as epoch milliseconds, or as epoch seconds when too small to be a
// plausible millisecond value; the result must fall within years
// [1970, 2100]. time.Time values are accepted under the same year bound.
// Anything else is absent.
func ParseTimestamp(raw any) Timestamp {
	switch v := raw.(type) {
	case nil:
		return AbsentTimestamp()
	case Timestamp:
		return v
	case time.Time:
		return inRange(v)
	case int:
		return fromEpoch(float64(v))
	case int32:
		return fromEpoch(float64(v))
	case int64:
		return fromEpoch(float64(v))
	case uint64:
		return fromEpoch(float64(v))
	case float32:
		return fromEpoch(float64(v))
	case float64:
		return fromEpoch(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return AbsentTimestamp()
		}
		return fromEpoch(f)
	case string:
		s := strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return fromEpoch(f)
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return inRange(t)
		}
		return AbsentTimestamp()
	default:
		return AbsentTimestamp()
	}
}

func fromEpoch(v float64) Timestamp {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return AbsentTimestamp()
	}
	if v >= millisFloor {
		if ts := inRange(time.UnixMilli(int64(v))); ts.valid {
			return ts
		}
	}
	sec, frac := math.Modf(v)
	return inRange(time.Unix(int64(sec), int64(frac*1e9)))
}

func inRange(t time.Time) Timestamp {
	y := t.UTC().Year()
	if y < minYear || y > maxYear {
		return AbsentTimestamp()
	}
	return NewTimestamp(t)
}

// Valid reports whether a time is present.
func (ts Timestamp) Valid() bool { return ts.valid }

// Time returns the underlying time; zero when absent.
func (ts Timestamp) Time() time.Time { return ts.t }

// Millis returns epoch milliseconds, or 0 when absent.
func (ts Timestamp) Millis() int64 {
	if !ts.valid {
		return 0
	}
	return ts.t.UnixMilli()
}

// AtOrBefore reports whether ts is present and not after t.
func (ts Timestamp) AtOrBefore(t time.Time) bool {
	return ts.valid && !ts.t.After(t)
}

// Equal compares presence and instant.
func (ts Timestamp) Equal(other Timestamp) bool {
	if ts.valid != other.valid {
		return false
	}
	return !ts.valid || ts.t.Equal(other.t)
}

func (ts Timestamp) String() string {
	if !ts.valid {
		return ""
	}
	return ts.t.Format(time.RFC3339Nano)
}

// MarshalJSON encodes epoch milliseconds, or null when absent.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if !ts.valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(ts.Millis(), 10)), nil
}

// UnmarshalJSON accepts anything ParseTimestamp accepts.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*ts = ParseTimestamp(raw)
	return nil
}
