package valueobjects

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want CanonicalName
	}{
		{"simple", "alice", "Alice"},
		{"trim and collapse", "  mary   ann\tlee ", "Mary Ann Lee"},
		{"lowercases tail", "mcDONALD", "Mcdonald"},
		{"hyphen stays in token", "mary-jane", "Mary-jane"},
		{"unicode", "élodie ÉCLAIR", "Élodie Éclair"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonicalize(tt.raw))
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	once := Canonicalize("  the  QUICK brown ")
	assert.Equal(t, once, Canonicalize(string(once)))
	assert.True(t, once.Matches("THE quick   BROWN"))
}

func TestNewCanonicalName(t *testing.T) {
	_, err := NewCanonicalName("  ")
	assert.Error(t, err)

	long := make([]byte, MaxNameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = NewCanonicalName(string(long))
	assert.Error(t, err)

	name, err := NewCanonicalName("bob smith")
	require.NoError(t, err)
	assert.Equal(t, "Bob Smith", name.String())
}

func TestParseTimestamp(t *testing.T) {
	ms := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).UnixMilli()

	tests := []struct {
		name      string
		raw       any
		wantValid bool
		wantMs    int64
	}{
		{"milliseconds int64", ms, true, ms},
		{"milliseconds float", float64(ms), true, ms},
		{"seconds", ms / 1000, true, ms},
		{"numeric string", "1709287200000", true, ms},
		{"rfc3339 string", "2024-03-01T10:00:00Z", true, ms},
		{"time value", time.UnixMilli(ms), true, ms},
		{"nil", nil, false, 0},
		{"negative", int64(-5), false, 0},
		{"beyond 2100 in both units", float64(1e13 * 1000), false, 0},
		{"garbage string", "yesterday", false, 0},
		{"nan", math.NaN(), false, 0},
		{"bool", true, false, 0},
		{"year before 1970", time.Date(1969, 1, 1, 0, 0, 0, 0, time.UTC), false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := ParseTimestamp(tt.raw)
			assert.Equal(t, tt.wantValid, ts.Valid())
			assert.Equal(t, tt.wantMs, ts.Millis())
		})
	}
}

func TestTimestampJSON(t *testing.T) {
	ts := FromMillis(1709287200000)

	data, err := json.Marshal(ts)
	require.NoError(t, err)
	assert.Equal(t, "1709287200000", string(data))

	var back Timestamp
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(ts))

	data, err = json.Marshal(AbsentTimestamp())
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	require.NoError(t, json.Unmarshal([]byte("null"), &back))
	assert.False(t, back.Valid())
}

func TestTimestampAtOrBefore(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := NewTimestamp(at)

	assert.True(t, ts.AtOrBefore(at))
	assert.False(t, ts.AtOrBefore(at.Add(-time.Millisecond)))
	assert.False(t, AbsentTimestamp().AtOrBefore(at))
}

func TestNewPosition(t *testing.T) {
	_, err := NewPosition(math.Inf(1), 0)
	assert.Error(t, err)

	p, err := NewPosition(1.5, -2)
	require.NoError(t, err)
	assert.Equal(t, Position{X: 1.5, Y: -2}, p)
}
