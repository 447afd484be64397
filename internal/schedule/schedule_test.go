package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeeklyContiguousOldestFirst(t *testing.T) {
	// A Wednesday afternoon.
	now := time.Date(2024, 7, 17, 15, 30, 0, 0, time.UTC)
	windows, err := Weekly(now, 10)
	require.NoError(t, err)
	require.Len(t, windows, 10)

	for i := 1; i < len(windows); i++ {
		assert.True(t, windows[i-1].End.Equal(windows[i].Start),
			"window %d must start where %d ends", i, i-1)
		assert.True(t, windows[i-1].Start.Before(windows[i].Start), "oldest first")
	}
	assert.True(t, windows[len(windows)-1].End.Equal(now), "last window truncated at now")
}

func TestWeeklyAlignedToMonday(t *testing.T) {
	now := time.Date(2024, 7, 17, 15, 30, 0, 0, time.UTC)
	windows, err := Weekly(now, 4)
	require.NoError(t, err)

	for i, w := range windows {
		assert.Equal(t, time.Monday, w.Start.Weekday(), "window %d start", i)
		assert.Equal(t, 0, w.Start.Hour())
		assert.Equal(t, 0, w.Start.Minute())
		assert.Equal(t, 0, w.Start.Second())
	}
	// All full windows span exactly one week.
	for i := 0; i < len(windows)-1; i++ {
		assert.Equal(t, Week, windows[i].End.Sub(windows[i].Start))
	}
	// The truncated tail is shorter than a week and ends mid-week.
	last := windows[len(windows)-1]
	assert.Less(t, last.End.Sub(last.Start), Week)
}

func TestWeeklyOnExactBoundary(t *testing.T) {
	// Monday 00:00:00 UTC.
	now := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, now.Weekday())

	windows, err := Weekly(now, 3)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	// Union is exactly [now-3w, now) with no truncation.
	assert.True(t, windows[0].Start.Equal(now.Add(-3*Week)))
	assert.True(t, windows[2].End.Equal(now))
	for _, w := range windows {
		assert.Equal(t, Week, w.End.Sub(w.Start))
	}
}

func TestWindowsUnionCoversHorizon(t *testing.T) {
	now := time.Date(2024, 7, 17, 15, 30, 0, 0, time.UTC)
	windows, err := Weekly(now, 6)
	require.NoError(t, err)

	// Every instant between the first start and now lives in exactly one window.
	for at := windows[0].Start; at.Before(now); at = at.Add(13 * time.Hour) {
		hits := 0
		for _, w := range windows {
			if w.Contains(at) {
				hits++
			}
		}
		assert.Equal(t, 1, hits, "instant %s", at)
	}
}

func TestWindowsSingle(t *testing.T) {
	now := time.Date(2024, 7, 17, 15, 30, 0, 0, time.UTC)
	windows, err := Weekly(now, 1)
	require.NoError(t, err)
	require.Len(t, windows, 1)
	assert.Equal(t, time.Monday, windows[0].Start.Weekday())
	assert.True(t, windows[0].End.Equal(now))
}

func TestWindowsInvalidInputs(t *testing.T) {
	now := time.Now()
	_, err := Weekly(now, 0)
	assert.Error(t, err)
	_, err = Windows(now, 3, 0)
	assert.Error(t, err)
}

func TestWindowContains(t *testing.T) {
	w := Window{
		Start: time.Date(2024, 7, 8, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, w.Contains(w.Start), "half-open: start included")
	assert.False(t, w.Contains(w.End), "half-open: end excluded")
	assert.True(t, w.Contains(w.Start.Add(3*24*time.Hour)))
}
