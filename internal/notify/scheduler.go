// Package notify keeps one daily midnight notification per recipient.
//
// Register computes the next local midnight in the configured zone, installs
// a recurring timer for it and records the timer in the registry, replacing
// any earlier registration for the same recipient. At every fire the current
// countdown is computed and handed to the Deliverer.
//
// Registrations live in memory only; a restart loses them.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"countdownbot/internal/countdown"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/task/scheduler"
	"countdownbot/internal/walltime"
	logx "countdownbot/pkg/logx"
)

const (
	timerPrefix     = "notify:"
	maxRecipientLen = 128
)

type Scheduler struct {
	cd      countdown.Config
	cfg     Config
	timers  Timers
	deliver Deliverer
	log     logx.Logger
	bus     eventbus.Bus

	locks keyedMutex

	mu       sync.RWMutex
	registry map[string]*Timer
	gen      atomic.Uint64

	fired      atomic.Uint64
	delivered  atomic.Uint64
	suppressed atomic.Uint64
	failed     atomic.Uint64
	stale      atomic.Uint64
}

func New(cfg Config, cd countdown.Config, timers Timers, deliver Deliverer, log logx.Logger, bus eventbus.Bus) (*Scheduler, error) {
	if cd.IsZero() {
		return nil, fmt.Errorf("notify: countdown config required")
	}
	if timers == nil || deliver == nil || cfg.Format == nil {
		return nil, fmt.Errorf("notify: timers, deliverer and formatter are required")
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		cd:       cd,
		cfg:      cfg,
		timers:   timers,
		deliver:  deliver,
		log:      log,
		bus:      bus,
		registry: map[string]*Timer{},
	}, nil
}

// ValidRecipient reports whether r can be used as a recipient key.
func ValidRecipient(r string) bool {
	if r == "" || len(r) > maxRecipientLen {
		return false
	}
	for _, c := range r {
		if unicode.IsSpace(c) || unicode.IsControl(c) {
			return false
		}
	}
	return true
}

// Register (re)installs the daily notification for recipient.
//
// The first fire is the next local midnight at or after now: exactly 00:00
// fires immediately, any other time fires at the start of the next day.
// Concurrent calls for one recipient are serialized and the last one wins;
// calls for different recipients do not block each other.
func (s *Scheduler) Register(recipient string) (Timer, error) {
	if !ValidRecipient(recipient) {
		return Timer{}, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	unlock := s.locks.lock(recipient)
	defer unlock()

	now := s.cfg.Now()
	fireAt := walltime.NextMidnight(now, s.cfg.Location)
	first := fireAt.Instant()
	gen := s.gen.Add(1)

	payload := Fire{Recipient: recipient, Generation: gen}
	h, err := s.timers.Install(timerPrefix+recipient, scheduler.Daily(first, s.cfg.Location), s.cfg.FireTimeout, func(ctx context.Context) error {
		return s.dispatch(ctx, payload)
	})
	if err != nil {
		s.log.Error("register failed", logx.String("recipient", recipient), logx.Err(err))
		return Timer{}, fmt.Errorf("%w: %s: %w", ErrSchedulingFailure, recipient, err)
	}

	t := &Timer{
		Recipient:    recipient,
		Handle:       h,
		Generation:   gen,
		FireAt:       fireAt,
		FirstFire:    first,
		RegisteredAt: now,
	}

	s.mu.Lock()
	old := s.registry[recipient]
	s.registry[recipient] = t
	s.mu.Unlock()

	replaced := old != nil
	if replaced {
		// Install already superseded the old handle; this is a no-op unless
		// the facility keeps timers per handle.
		s.timers.Cancel(old.Handle)
	}

	s.log.Info("recipient registered",
		logx.String("recipient", recipient),
		logx.String("first_fire_local", fireAt.String()),
		logx.Time("first_fire", first),
		logx.Uint64("generation", gen),
		logx.Bool("replaced", replaced),
	)
	s.publish(eventbus.TypeRecipientRegistered, *t)
	return *t, nil
}

// Unregister cancels the recipient's timer. It reports whether one existed.
func (s *Scheduler) Unregister(recipient string) (bool, error) {
	if !ValidRecipient(recipient) {
		return false, fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	unlock := s.locks.lock(recipient)
	defer unlock()

	s.mu.Lock()
	t := s.registry[recipient]
	delete(s.registry, recipient)
	s.mu.Unlock()
	if t == nil {
		return false, nil
	}
	s.timers.Cancel(t.Handle)

	s.log.Info("recipient unregistered", logx.String("recipient", recipient))
	s.publish(eventbus.TypeRecipientUnregistered, *t)
	return true, nil
}

// Lookup returns the registration of recipient with its next fire filled in.
func (s *Scheduler) Lookup(recipient string) (Timer, bool) {
	s.mu.RLock()
	t := s.registry[recipient]
	s.mu.RUnlock()
	if t == nil {
		return Timer{}, false
	}
	out := *t
	if info, ok := s.timers.Lookup(timerPrefix + recipient); ok && info.Seq == t.Handle.Seq {
		out.Next = info.Next
	}
	return out, true
}

// Snapshot lists every registration ordered by recipient.
func (s *Scheduler) Snapshot() []Timer {
	s.mu.RLock()
	keys := make([]string, 0, len(s.registry))
	for k := range s.registry {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)

	out := make([]Timer, 0, len(keys))
	for _, k := range keys {
		if t, ok := s.Lookup(k); ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	n := len(s.registry)
	s.mu.RUnlock()
	return Stats{
		Registered: n,
		Fired:      s.fired.Load(),
		Delivered:  s.delivered.Load(),
		Suppressed: s.suppressed.Load(),
		Failed:     s.failed.Load(),
		Stale:      s.stale.Load(),
	}
}

// Remaining computes the countdown at the scheduler's current time.
func (s *Scheduler) Remaining() countdown.Result {
	return s.cd.Remaining(s.cfg.Now())
}

// Location is the zone whose midnight triggers fires.
func (s *Scheduler) Location() *time.Location { return s.cfg.Location }

// Send delivers the current countdown to recipient right away, outside of
// any timer.
func (s *Scheduler) Send(ctx context.Context, recipient string) error {
	if !ValidRecipient(recipient) {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, recipient)
	}
	return s.deliverNow(ctx, recipient)
}

// dispatch runs one fire. A fire whose generation is no longer registered
// belongs to a superseded timer and is dropped.
//
// The check takes the recipient lock so a fire that races its own Register
// (a midnight registration fires at once) waits for the registry update.
func (s *Scheduler) dispatch(ctx context.Context, f Fire) error {
	unlock := s.locks.lock(f.Recipient)
	s.mu.RLock()
	cur := s.registry[f.Recipient]
	s.mu.RUnlock()
	unlock()
	if cur == nil || cur.Generation != f.Generation {
		s.stale.Add(1)
		s.log.Debug("stale fire dropped", logx.String("recipient", f.Recipient), logx.Uint64("generation", f.Generation))
		return nil
	}
	s.fired.Add(1)
	return s.deliverNow(ctx, f.Recipient)
}

func (s *Scheduler) deliverNow(ctx context.Context, recipient string) error {
	start := time.Now()
	res := s.cd.Remaining(s.cfg.Now())
	text := s.cfg.Format(res)
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: %s: empty text", ErrDeliveryFailure, recipient)
	}

	err := s.deliver.Send(ctx, recipient, text)
	if errors.Is(err, ErrSuppressed) {
		s.suppressed.Add(1)
		s.log.Debug("delivery suppressed", logx.String("recipient", recipient), logx.Err(err))
		return nil
	}
	if err != nil {
		s.failed.Add(1)
		s.log.Warn("delivery failed", logx.String("recipient", recipient), logx.String("phase", res.Phase.String()), logx.Int("days", res.Days), logx.Err(err))
		s.publish(eventbus.TypeDeliveryFailed, Delivery{Recipient: recipient, Result: res, Took: time.Since(start), Error: err.Error()})
		return fmt.Errorf("%w: %s: %w", ErrDeliveryFailure, recipient, err)
	}
	s.delivered.Add(1)
	s.log.Debug("delivered", logx.String("recipient", recipient), logx.String("phase", res.Phase.String()), logx.Int("days", res.Days))
	s.publish(eventbus.TypeDeliverySent, Delivery{Recipient: recipient, Result: res, Took: time.Since(start)})
	return nil
}

// Delivery is the payload of delivery.* bus events.
type Delivery struct {
	Recipient string
	Result    countdown.Result
	Took      time.Duration
	Error     string
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
