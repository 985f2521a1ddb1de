package months

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestIndex(t *testing.T) {
	tests := []struct {
		name     string
		earliest time.Time
		event    time.Time
		want     int
	}{
		{"same instant", date(2016, 1, 15), date(2016, 1, 15), 1},
		{"same month", date(2016, 1, 15), date(2016, 1, 31), 1},
		{"two months later", date(2016, 1, 15), date(2016, 3, 2), 3},
		{"across year", date(2016, 11, 1), date(2017, 2, 1), 4},
		{"before earliest", date(2016, 3, 1), date(2016, 1, 1), -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Index(tt.earliest, tt.event))
		})
	}
}

func TestIndex_NeverBelowOneAfterEarliest(t *testing.T) {
	earliest := date(2010, 7, 20)
	for days := 0; days < 3000; days += 7 {
		event := earliest.AddDate(0, 0, days)
		assert.GreaterOrEqual(t, Index(earliest, event), 1)
	}
}

func TestIndex_MixedOffsets(t *testing.T) {
	plus2 := time.FixedZone("+0200", 2*3600)
	minus5 := time.FixedZone("-0500", -5*3600)
	stamps := []time.Time{
		time.Date(2016, 2, 1, 0, 30, 0, 0, plus2),
		time.Date(2016, 1, 31, 23, 0, 0, 0, time.UTC),
		time.Date(2016, 1, 31, 21, 0, 0, 0, minus5),
	}
	earliest, ok := Earliest(stamps)
	require.True(t, ok)
	assert.Equal(t, time.Date(2016, 1, 31, 22, 30, 0, 0, time.UTC), earliest.UTC())

	assert.Equal(t, 1, Index(earliest, stamps[0]))
	assert.Equal(t, 1, Index(earliest, stamps[1]))
	// 2016-02-01T02:00Z
	assert.Equal(t, 2, Index(earliest, stamps[2]))
}

func TestParse_CommitLayouts(t *testing.T) {
	for _, v := range []string{
		"2016-01-15 10:00:00 UTC",
		"2016-01-15 10:00:00",
		"2016-01-15T10:00:00+0200",
		"2016-01-15T10:00:00+02:00",
	} {
		ts, ok := Parse(v, CommitLayouts)
		require.True(t, ok, v)
		assert.Equal(t, 2016, ts.Year())
		assert.Equal(t, time.January, ts.Month())
	}

	_, ok := Parse("15/01/2016", CommitLayouts)
	assert.False(t, ok)
	_, ok = Parse("  ", CommitLayouts)
	assert.False(t, ok)
}

func TestParse_IssueLayouts(t *testing.T) {
	ts, ok := Parse("2019-12-31T23:59:59Z", IssueLayouts)
	require.True(t, ok)
	assert.Equal(t, time.December, ts.Month())

	ts, ok = Parse("2019-12-31T23:59:59-0500", IssueLayouts)
	require.True(t, ok)
	// wall clock month, not converted to UTC
	assert.Equal(t, time.December, ts.Month())
}

func TestEarliest(t *testing.T) {
	_, ok := Earliest(nil)
	assert.False(t, ok)

	e, ok := Earliest([]time.Time{date(2016, 3, 1), date(2015, 1, 1), date(2016, 1, 1)})
	require.True(t, ok)
	assert.Equal(t, date(2015, 1, 1), e)
}
