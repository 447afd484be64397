// Package schedule generates the ordered fetch windows for a backfill run.
package schedule

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

// Week is the default window period.
const Week = 7 * 24 * time.Hour

// Window is a half-open interval [Start, End) aligned to the period
// boundary. Immutable once generated.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format("2006-01-02"), w.End.Format("2006-01-02"))
}

// Windows returns n contiguous, non-overlapping windows of the given period
// ending at now, ordered oldest-first. Window boundaries are aligned to
// Monday 00:00:00 UTC; when now is not itself on a boundary the most recent
// window is truncated to end at now instead of extending into the future.
func Windows(now time.Time, n int, period time.Duration) ([]Window, error) {
	if n <= 0 {
		return nil, eris.Errorf("schedule: window count %d must be positive", n)
	}
	if period <= 0 {
		return nil, eris.Errorf("schedule: period %s must be positive", period)
	}

	now = now.UTC()
	boundary := alignToBoundary(now, period)

	windows := make([]Window, 0, n)
	// Walk backwards from the most recent boundary, then reverse into
	// oldest-first order by construction.
	lastStart := boundary
	if boundary.Equal(now) {
		lastStart = boundary.Add(-period)
	}
	for i := n - 1; i >= 0; i-- {
		start := lastStart.Add(-time.Duration(n-1-i) * period)
		end := start.Add(period)
		if end.After(now) {
			end = now
		}
		windows = append(windows, Window{Start: start, End: end})
	}

	// Reverse to oldest-first.
	for i, j := 0, len(windows)-1; i < j; i, j = i+1, j-1 {
		windows[i], windows[j] = windows[j], windows[i]
	}
	return windows, nil
}

// Weekly is Windows with the default 7-day period.
func Weekly(now time.Time, n int) ([]Window, error) {
	return Windows(now, n, Week)
}

// alignToBoundary truncates t to the most recent period boundary. Weekly
// periods align to Monday 00:00:00 UTC; other periods align to multiples of
// the period from the Unix epoch's week start.
func alignToBoundary(t time.Time, period time.Duration) time.Time {
	// 1970-01-05 was a Monday.
	epochMonday := time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)
	elapsed := t.Sub(epochMonday)
	aligned := elapsed - elapsed%period
	if elapsed < 0 && elapsed%period != 0 {
		aligned -= period
	}
	return epochMonday.Add(aligned)
}
