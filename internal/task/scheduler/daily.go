package scheduler

import (
	"fmt"
	"sync"
	"time"

	"countdownbot/internal/walltime"
)

// firstFireGrace absorbs the delay between computing the first fire and cron
// asking for it. Without it a timer registered exactly at local midnight
// would skip straight to the next day.
const firstFireGrace = time.Second

// DailySchedule fires once at First and then at every following local
// midnight in Location. It implements cron.Schedule.
type DailySchedule struct {
	First    time.Time
	Location *time.Location

	mu        sync.Mutex
	firstUsed bool
}

// Daily returns a schedule whose first fire is first (an absolute instant,
// normally a local midnight computed by the caller) and whose later fires
// land on each following 00:00 in loc.
func Daily(first time.Time, loc *time.Location) *DailySchedule {
	if loc == nil {
		loc = time.UTC
	}
	return &DailySchedule{First: first.UTC(), Location: loc}
}

func (d *DailySchedule) Next(t time.Time) time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.firstUsed && t.Before(d.First.Add(firstFireGrace)) {
		d.firstUsed = true
		return d.First
	}
	d.firstUsed = true
	return walltime.FollowingMidnight(t, d.Location).Instant()
}

func (d *DailySchedule) String() string {
	return fmt.Sprintf("daily 00:00 %s from %s", d.Location, walltime.At(d.First, d.Location).DateString())
}
