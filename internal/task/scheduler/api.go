package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"countdownbot/internal/task/engine"
	logx "countdownbot/pkg/logx"
)

const submitWarnThrottle = 5 * time.Second

// Install arms sched under name and returns its Handle.
//
// An existing timer with the same name is replaced atomically: the new
// entry is added first and the old one removed afterwards, so a failed
// Install leaves the previous timer untouched. Fires of a replaced timer
// that were already due are dropped.
func (s *Service) Install(name string, sched cron.Schedule, timeout time.Duration, job func(ctx context.Context) error) (Handle, error) {
	return s.install(name, describe(sched), sched, timeout, job, false)
}

// AddSchedule parses spec (see ParseSchedule) and installs it as a
// housekeeping timer that does not count towards MaxEntries.
func (s *Service) AddSchedule(name, spec string, timeout time.Duration, job func(ctx context.Context) error) (Handle, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return Handle{}, err
	}
	var sched cron.Schedule
	switch ps.Kind {
	case SpecCron:
		sched, err = s.parser.Parse(ps.Cron)
		if err != nil {
			return Handle{}, fmt.Errorf("parse %q: %w", ps.Cron, err)
		}
	case SpecInterval:
		var jitter time.Duration
		sched, jitter = intervalWithSpread(ps.Every, time.Now(), name)
		s.log.Debug("interval schedule spread", logx.String("name", name), logx.Duration("jitter", jitter))
	default:
		return Handle{}, fmt.Errorf("unsupported schedule kind %d", ps.Kind)
	}
	return s.install(name, strings.TrimSpace(spec), sched, timeout, job, true)
}

func (s *Service) install(name, spec string, sched cron.Schedule, timeout time.Duration, job func(ctx context.Context) error, uncounted bool) (Handle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Handle{}, ErrNameRequired
	}
	if sched == nil || job == nil {
		return Handle{}, ErrJobRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.entries[name]
	if old == nil && !uncounted && s.cfg.MaxEntries > 0 && s.countedLocked() >= s.cfg.MaxEntries {
		return Handle{}, fmt.Errorf("%w (%d installed)", ErrCapacity, s.cfg.MaxEntries)
	}

	s.seq++
	e := &entry{
		handle:    Handle{Name: name, Seq: s.seq},
		spec:      spec,
		sched:     sched,
		timeout:   timeout,
		job:       job,
		state:     &engine.RunState{},
		uncounted: uncounted,
	}
	if old != nil {
		// Keep overlap gating across replacement: a fire of the old timer
		// that is still running blocks the new timer's fire.
		e.state = old.state
	}
	if s.c != nil {
		e.entryID = s.c.Schedule(sched, s.cronJob(e))
	}
	if old != nil && old.entryID != 0 && s.c != nil {
		s.c.Remove(old.entryID)
	}
	s.entries[name] = e

	if s.log.Enabled(logx.LevelDebug) {
		fields := []logx.Field{logx.String("name", name), logx.Uint64("seq", e.handle.Seq), logx.String("spec", spec), logx.Bool("replaced", old != nil)}
		if next := previewNext(sched, time.Now(), 3); next != "" {
			fields = append(fields, logx.String("next", next))
		}
		s.log.Debug("timer installed", fields...)
	}
	return e.handle, nil
}

// Cancel removes the timer installed as h. It returns false when h is no
// longer current (already cancelled or replaced); that is not an error.
func (s *Service) Cancel(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[h.Name]
	if e == nil || e.handle != h {
		return false
	}
	s.removeLocked(e)
	s.log.Debug("timer cancelled", logx.String("name", h.Name), logx.Uint64("seq", h.Seq))
	return true
}

// Remove removes whatever timer is installed under name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[strings.TrimSpace(name)]
	if e == nil {
		return false
	}
	s.removeLocked(e)
	return true
}

func (s *Service) removeLocked(e *entry) {
	if s.c != nil && e.entryID != 0 {
		s.c.Remove(e.entryID)
	}
	e.entryID = 0
	delete(s.entries, e.handle.Name)
}

// Lookup returns the current state of the timer installed under name.
func (s *Service) Lookup(name string) (EntryInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[strings.TrimSpace(name)]
	if e == nil {
		return EntryInfo{}, false
	}
	return s.infoLocked(e), true
}

// Current reports whether h is the installed handle for its name.
func (s *Service) Current(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[h.Name]
	return e != nil && e.handle == h
}

// Len returns the number of installed timers, housekeeping included.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Service) countedLocked() int {
	n := 0
	for _, e := range s.entries {
		if !e.uncounted {
			n++
		}
	}
	return n
}

func (s *Service) cronJob(e *entry) cron.Job {
	return cron.FuncJob(func() { s.fire(e) })
}

// fire hands one due run to the engine. Cron may still deliver a run for an
// entry that was replaced or cancelled a moment ago; those are dropped here.
func (s *Service) fire(e *entry) {
	s.mu.Lock()
	cur := s.entries[e.handle.Name]
	s.mu.Unlock()
	if cur != e {
		s.log.Debug("stale timer fire dropped", logx.String("name", e.handle.Name), logx.Uint64("seq", e.handle.Seq))
		return
	}
	if s.engine == nil {
		return
	}
	err := s.engine.Submit(engine.Task{
		Name:    e.handle.Name,
		Timeout: e.timeout,
		Run:     e.job,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State:   e.state,
	})
	if err != nil {
		s.reportSubmitError(e.handle.Name, err)
	}
}

func (s *Service) reportSubmitError(name string, err error) {
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("timer fire skipped", logx.String("name", name), logx.Err(err))
		return
	}

	now := time.Now()
	s.warnMu.Lock()
	last := s.lastWarn[name]
	if !last.IsZero() && now.Sub(last) < submitWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[name] = now
	s.warnMu.Unlock()

	s.log.Warn("timer fire not submitted", logx.String("name", name), logx.Err(err))
}

func sortEntries(items []EntryInfo) {
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
}

func describe(sched cron.Schedule) string {
	if st, ok := sched.(fmt.Stringer); ok {
		return st.String()
	}
	return fmt.Sprintf("%T", sched)
}

// previewNext lists the next n run times without advancing sched. Only
// stateless schedules are previewed; a Daily schedule tracks its first fire.
func previewNext(sched cron.Schedule, from time.Time, n int) string {
	if _, ok := sched.(*DailySchedule); ok {
		return ""
	}
	var b strings.Builder
	t := from
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(t.UTC().Format(time.RFC3339))
	}
	return b.String()
}
