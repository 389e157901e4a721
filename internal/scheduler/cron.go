// Package scheduler drives cron and one-shot scheduled tasks (spec.md §4.H):
// a single background tick loop that fires due tasks through the agent engine.
package scheduler

import (
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

// ComputeNextRun returns the next time strictly after "after" that the 6-field
// cron expression (sec min hour dom mon dow) fires, in the named IANA timezone.
// An empty tz uses the process local timezone.
func ComputeNextRun(cronExpr, tz string, after time.Time) (time.Time, error) {
	loc := time.Local
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return time.Time{}, fmt.Errorf("scheduler: invalid timezone %q: %w", tz, err)
		}
		loc = l
	}
	localAfter := after.In(loc)

	next, err := gronx.NextTickAfter(cronExpr, localAfter, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("scheduler: invalid cron expression %q: %w", cronExpr, err)
	}
	return next.In(loc).UTC(), nil
}
