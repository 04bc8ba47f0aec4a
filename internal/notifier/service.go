package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"countdownbot/internal/eventbus"
	"countdownbot/internal/notify"
	"countdownbot/internal/storage"
	kit "countdownbot/internal/transport"
	"countdownbot/internal/walltime"
	logx "countdownbot/pkg/logx"
)

var (
	ErrBadRecipient = errors.New("notifier: bad recipient")
	ErrEmptyText    = errors.New("notifier: empty text")
)

// Service implements notify.Deliverer. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	store  storage.Store
	now    func() time.Time

	// key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem

	sent    atomic.Uint64
	failed  atomic.Uint64
	deduped atomic.Uint64
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log,
		bus:    bus,
		store:  store,
		now:    time.Now,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s.cfg = cfg
	// Burst equals the per-second rate so a midnight spike is not serialized
	// more than necessary.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Send delivers text to recipient. A send suppressed by dedup returns an
// error wrapping notify.ErrSuppressed.
func (s *Service) Send(ctx context.Context, recipient, text string) error {
	to, err := kit.ParseTarget(recipient)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBadRecipient, err)
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	now := s.now()
	key := ""
	if cfg.DedupWindow > 0 {
		key = dedupKey(recipient, now, cfg.Location)
		until, ok := s.dedupReserve(ctx, key, now, cfg)
		if !ok {
			s.deduped.Add(1)
			s.log.Info("delivery deduped", logx.String("recipient", recipient), logx.String("key", key), logx.Time("until", until))
			s.publish(eventbus.TypeDeliveryDeduped, DedupEvent{Recipient: recipient, Key: key, Until: until})
			return fmt.Errorf("%w: %s already delivered for this day", notify.ErrSuppressed, recipient)
		}
	}

	err = s.send(ctx, lim, cfg.SendTimeout, to, text)
	s.appendHistory(HistoryItem{At: now, Recipient: recipient, Text: text, Error: errString(err)}, cfg.HistorySize)
	if err != nil {
		s.failed.Add(1)
		if key != "" {
			s.dedupRelease(key)
		}
		return err
	}
	s.sent.Add(1)
	if key != "" {
		s.persistDedup(ctx, key, now.Add(cfg.DedupWindow))
	}
	return nil
}

func (s *Service) send(ctx context.Context, lim *rate.Limiter, timeout time.Duration, to kit.ChatTarget, text string) error {
	if s.sender == nil {
		return errors.New("notifier: no sender")
	}
	if err := lim.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := s.sender.SendText(callCtx, to, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// dedupKey is recipient plus the local calendar date of now.
func dedupKey(recipient string, now time.Time, loc *time.Location) string {
	return recipient + "|" + walltime.At(now, loc).DateString()
}

// dedupReserve marks key unless an unexpired mark exists. It returns the
// existing suppression deadline when it refuses.
func (s *Service) dedupReserve(ctx context.Context, key string, now time.Time, cfg Config) (time.Time, bool) {
	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return until, false
	}
	s.dmu.Unlock()

	if s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err != nil {
			s.log.Debug("dedup lookup failed", logx.String("key", key), logx.Err(err))
		} else if ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return until, false
		}
	}

	s.dmu.Lock()
	defer s.dmu.Unlock()
	// Re-check: a concurrent send may have reserved meanwhile.
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return until, false
	}
	s.dedup[key] = now.Add(cfg.DedupWindow)
	s.pruneLocked(now, cfg.DedupMaxEntries)
	return time.Time{}, true
}

func (s *Service) dedupRelease(key string) {
	s.dmu.Lock()
	delete(s.dedup, key)
	s.dmu.Unlock()
}

func (s *Service) pruneLocked(now time.Time, max int) {
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > max {
		var (
			minKey string
			minT   time.Time
		)
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
}

func (s *Service) persistDedup(ctx context.Context, key string, until time.Time) {
	if s.store == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
	defer cancel()
	if err := s.store.PutDedup(cctx, key, until); err != nil {
		s.log.Warn("dedup persist failed", logx.String("key", key), logx.Err(err))
	}
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

// History returns recent sends, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) Stats() Stats {
	return Stats{Sent: s.sent.Load(), Failed: s.failed.Load(), Deduped: s.deduped.Load()}
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
