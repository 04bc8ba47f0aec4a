package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"countdownbot/internal/eventbus"
	"countdownbot/internal/task/engine"
	logx "countdownbot/pkg/logx"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		engine: eng,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser:   cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries:  map[string]*entry{},
		lastWarn: map[string]time.Time{},
	}
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Start starts cron and arms every timer installed so far. Timers installed
// before Start compute their first fire when Start runs.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{log: s.log}),
	)
	for _, e := range s.entries {
		e.entryID = s.c.Schedule(e.sched, s.cronJob(e))
	}
	s.c.Start()
	s.log.Info("service started", logx.Int("timers", len(s.entries)))
}

// Stop stops cron. Installed timers are kept and re-armed by the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for _, e := range s.entries {
		e.entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Running: s.c != nil, MaxEntries: s.cfg.MaxEntries}
	for _, e := range s.entries {
		if !e.uncounted {
			snap.Installed++
		}
		snap.Entries = append(snap.Entries, s.infoLocked(e))
	}
	sortEntries(snap.Entries)
	return snap
}

func (s *Service) infoLocked(e *entry) EntryInfo {
	it := EntryInfo{Name: e.handle.Name, Seq: e.handle.Seq, Spec: e.spec, Timeout: e.timeout}
	if s.c != nil && e.entryID != 0 {
		ce := s.c.Entry(e.entryID)
		it.Next = ce.Next
		it.Prev = ce.Prev
	}
	return it
}

// cronLogger routes robfig/cron's internal logging into logx. Its chatty
// Info stream is kept at debug level.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	if !l.log.Enabled(logx.LevelDebug) {
		return
	}
	l.log.Debug("cron "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
