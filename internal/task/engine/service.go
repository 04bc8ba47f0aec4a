// Package engine executes triggered tasks.
//
// Each submitted task runs in its own supervised goroutine, so a slow task
// never delays another one. The engine keeps a bounded run history and
// publishes task.* events on the bus. Failed tasks are recorded, not retried.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"countdownbot/internal/eventbus"
	rtsup "countdownbot/internal/runtime/supervisor"
	logx "countdownbot/pkg/logx"
)

const defaultHistorySize = 200

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	sup *rtsup.Supervisor

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	started     atomic.Uint64
	failed      atomic.Uint64
	skipped     atomic.Uint64
	idSeq       atomic.Uint64

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	return &Service{cfg: cfg, log: log, bus: bus}
}

func (s *Service) Apply(cfg Config) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	s.log.Info("task engine started", logx.Duration("default_timeout", s.cfg.DefaultTimeout))
}

// Stop cancels running tasks and waits for them until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	if err := sup.Stop(ctx); err != nil && errors.Is(err, ctx.Err()) {
		s.log.Warn("task engine stop timed out", logx.Int("in_flight", int(s.inFlight.Load())))
		return
	}
	s.log.Info("task engine stopped")
}

// Supervisor exposes the goroutine stats of running tasks (nil when stopped).
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Submit starts t in a new goroutine and returns without waiting for it.
func (s *Service) Submit(t Task) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Run == nil || t.Name == "" {
		return ErrInvalidTask
	}
	now := time.Now()
	if t.ID == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	// Go0 runs under s.mu so Stop never races a late Submit on the same
	// supervisor.
	s.mu.Lock()
	defer s.mu.Unlock()
	sup := s.sup
	if sup == nil {
		return ErrStopped
	}

	track := t.Opt.Overlap == OverlapSkipIfRunning && t.State != nil
	if track && !t.State.tryAcquire() {
		s.skipped.Add(1)
		s.publish(eventbus.TypeTaskSkipped, TaskEvent{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
		s.log.Debug("task skipped due to overlap", logx.String("task", t.Name), logx.String("id", t.ID))
		return ErrOverlapSkip
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	sup.Go0(t.Name, func(ctx context.Context) {
		if track {
			defer t.State.release()
		}
		s.exec(ctx, t, timeout)
	})
	return nil
}

func (s *Service) exec(ctx context.Context, t Task, timeout time.Duration) {
	start := time.Now()
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	s.started.Add(1)
	s.publish(eventbus.TypeTaskStarted, TaskEvent{ID: t.ID, Name: t.Name, Started: start})
	s.log.Debug("task started", logx.String("task", t.Name), logx.String("id", t.ID))

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task panicked", logx.String("task", t.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return t.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: t.ID, Name: t.Name, Started: start, Duration: dur}
	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		s.log.Warn("task failed", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("took", dur), logx.Err(err))
	} else {
		s.log.Debug("task finished", logx.String("task", t.Name), logx.String("id", t.ID), logx.Duration("took", dur))
	}
	s.record(item)
	s.publish(eventbus.TypeTaskFinished, TaskEvent{ID: t.ID, Name: t.Name, Started: start, Duration: dur, Error: item.Error})
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	running := s.sup != nil
	timeout := s.cfg.DefaultTimeout
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:        running,
		InFlight:       int(s.inFlight.Load()),
		MaxInFlight:    int(s.maxInFlight.Load()),
		Started:        s.started.Load(),
		Failed:         s.failed.Load(),
		Skipped:        s.skipped.Load(),
		DefaultTimeout: timeout,
		History:        h,
	}
}
