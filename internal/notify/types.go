package notify

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"countdownbot/internal/countdown"
	"countdownbot/internal/task/scheduler"
	"countdownbot/internal/walltime"
)

var (
	// ErrInvalidRecipient rejects an empty or malformed recipient before any
	// state is touched.
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrSchedulingFailure means the timer facility refused the new timer.
	// The previous registration, if any, stays active.
	ErrSchedulingFailure = errors.New("scheduling failure")
	// ErrDeliveryFailure wraps a failed send at fire time. It never affects
	// the registration.
	ErrDeliveryFailure = errors.New("delivery failure")
	// ErrSuppressed is returned by a Deliverer that deliberately skipped a
	// send, e.g. a second delivery for the same local day. It is not a failure.
	ErrSuppressed = errors.New("delivery suppressed")
)

// Deliverer sends text to a recipient. The scheduler does not retry. A send
// the Deliverer chose to skip returns an error wrapping ErrSuppressed.
type Deliverer interface {
	Send(ctx context.Context, recipient, text string) error
}

// Formatter renders the countdown result delivered at each fire.
type Formatter func(res countdown.Result) string

// Timers is the part of the timer facility the scheduler uses.
// *scheduler.Service implements it.
type Timers interface {
	Install(name string, sched cron.Schedule, timeout time.Duration, job func(ctx context.Context) error) (scheduler.Handle, error)
	Cancel(h scheduler.Handle) bool
	Lookup(name string) (scheduler.EntryInfo, bool)
}

type Config struct {
	// Location is the zone whose midnight triggers the daily fire.
	Location *time.Location
	// FireTimeout bounds one fire (countdown plus delivery). 0 means none.
	FireTimeout time.Duration
	// Format renders fire text. Required.
	Format Formatter
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Timer is the registry record of one recipient.
type Timer struct {
	Recipient  string
	Handle     scheduler.Handle
	Generation uint64
	// FireAt is the local wall-clock time of the first fire; it is always
	// 00:00 in Config.Location.
	FireAt       walltime.Local
	FirstFire    time.Time
	RegisteredAt time.Time
	// Next is the upcoming fire as reported by the timer facility. Filled by
	// Lookup and Snapshot only.
	Next time.Time
}

// Fire is the payload of one scheduled run.
type Fire struct {
	Recipient  string
	Generation uint64
}

// Stats counts fire outcomes since start.
type Stats struct {
	Registered int
	Fired      uint64
	Delivered  uint64
	Suppressed uint64
	Failed     uint64
	Stale      uint64
}
