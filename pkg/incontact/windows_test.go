package incontact

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		input   string
		want    Period
		wantErr bool
	}{
		{"days", PeriodDays, false},
		{"hours", PeriodHours, false},
		{"minutes", PeriodMinutes, false},
		{"weeks", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePeriod(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateRangeDays(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)

	windows := DateRange(start, end, PeriodDays)
	require.Len(t, windows, 3)

	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, end, windows[2].End)
	for _, w := range windows {
		assert.Equal(t, 24*time.Hour, w.End.Sub(w.Start))
	}
}

func TestDateRangeDaysTruncatesPartialDay(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 4, 12, 0, 0, 0, time.UTC)

	windows := DateRange(start, end, PeriodDays)
	require.Len(t, windows, 3)

	// The trailing 12 hours stay uncovered until the next run reaches
	// them from the advanced bookmark.
	assert.Equal(t, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC), windows[2].End)
}

func TestDateRangeDaysSubDaySpanIsEmpty(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)

	assert.Empty(t, DateRange(start, end, PeriodDays))
}

func TestDateRangeHours(t *testing.T) {
	start := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)

	windows := DateRange(start, end, PeriodHours)
	require.Len(t, windows, 2)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, end, windows[1].End)

	windows = DateRange(start, start.Add(90*time.Minute), PeriodHours)
	require.Len(t, windows, 1)
	assert.Equal(t, start.Add(time.Hour), windows[0].End)
}

func TestDateRangeMinutes(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(20 * time.Minute)

	windows := DateRange(start, end, PeriodMinutes)
	require.Len(t, windows, 4)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, end, windows[3].End)
	for _, w := range windows {
		assert.Equal(t, 5*time.Minute, w.End.Sub(w.Start))
	}
}

func TestDateRangeMinutesFoldsRemainderForward(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(17 * time.Minute)

	windows := DateRange(start, end, PeriodMinutes)
	require.Len(t, windows, 4)

	// The last window rounds up past the requested end so the
	// remainder is still covered.
	assert.Equal(t, start.Add(20*time.Minute), windows[3].End)
	assert.True(t, windows[3].End.After(end))
}

func TestDateRangeMinutesSubMinuteSpanIsEmpty(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Empty(t, DateRange(start, start.Add(30*time.Second), PeriodMinutes))
}

func TestDateRangeWindowsAreChained(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(73 * time.Hour)

	for _, period := range []Period{PeriodDays, PeriodHours, PeriodMinutes} {
		t.Run(string(period), func(t *testing.T) {
			windows := DateRange(start, end, period)
			require.NotEmpty(t, windows)
			for i := 1; i < len(windows); i++ {
				assert.Equal(t, windows[i-1].End, windows[i].Start)
			}
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2024, 3, 5, 7, 9, 11, 123456789, time.UTC)
	assert.Equal(t, "2024-03-05T07:09:11.123456Z", FormatTimestamp(ts))

	w := Window{
		Start: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, "2024-03-05T00:00:00.000000Z", w.StartString())
	assert.Equal(t, "2024-03-06T00:00:00.000000Z", w.EndString())
}

func TestCheckStartDate(t *testing.T) {
	recent := time.Now().UTC().AddDate(0, 0, -5)
	assert.Equal(t, recent, CheckStartDate(recent, 30))

	stale := time.Now().UTC().AddDate(0, 0, -90)
	clamped := CheckStartDate(stale, 30)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, -30), clamped, 5*time.Second)
}
