package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"countdownbot/internal/countdown"
	"countdownbot/internal/transport"
	"countdownbot/internal/walltime"
	logx "countdownbot/pkg/logx"
)

const (
	DefaultTimezone   = "Asia/Dubai"
	DefaultPeriodDays = 365
)

// Resolved holds checked, typed values. The rest of the bot never sees raw
// config strings.
type Resolved struct {
	Token       string
	PollTimeout time.Duration

	Logging logx.Config

	Countdown countdown.Config
	Location  *time.Location

	MaxRecipients   int
	FireTimeout     time.Duration
	Recipients      []string
	AnnounceOnStart bool
	RegisterOnJoin  bool

	TaskTimeout     time.Duration
	TaskHistorySize int

	RatePerSec      int
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	NotifyHistory   int

	StorageDriver      string
	StoragePath        string
	StorageBusyTimeout time.Duration
	StorageRetention   time.Duration

	HTTPAddr string
}

// Resolve validates cfg and applies defaults. All problems are reported
// together.
func Resolve(cfg *Config) (*Resolved, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	var errs []error
	fail := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	// dur reads a duration field; empty or zero selects def.
	dur := func(field, raw string, def time.Duration) time.Duration {
		d, err := parseDuration(field, raw)
		fail(err)
		if d <= 0 {
			return def
		}
		return d
	}

	r := &Resolved{}

	r.Token = strings.TrimSpace(cfg.Telegram.Token)
	if r.Token == "" {
		fail(errors.New("telegram.token is required"))
	}
	r.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)

	level := strings.TrimSpace(cfg.Logging.Level)
	if level != "" && !logx.ValidLevel(level) {
		fail(fmt.Errorf("logging.level: unknown level %q", level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		fail(errors.New("logging.file.path is required when file logging is enabled"))
	}
	r.Logging = logx.Config{
		Level:   level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: strings.TrimSpace(cfg.Logging.File.Path)},
	}

	cd, err := resolveCountdown(cfg.Countdown)
	fail(err)
	r.Countdown = cd

	tz := strings.TrimSpace(cfg.Schedule.Timezone)
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		fail(fmt.Errorf("schedule.timezone: %w", err))
	}
	r.Location = loc

	if cfg.Schedule.MaxRecipients < 0 {
		fail(errors.New("schedule.max_recipients must be >= 0"))
	}
	r.MaxRecipients = cfg.Schedule.MaxRecipients
	r.FireTimeout = dur("schedule.fire_timeout", cfg.Schedule.FireTimeout, 30*time.Second)
	seen := map[string]bool{}
	for i, raw := range cfg.Schedule.Recipients {
		t, err := transport.ParseTarget(raw)
		if err != nil {
			fail(fmt.Errorf("schedule.recipients[%d]: %w", i, err))
			continue
		}
		key := t.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		r.Recipients = append(r.Recipients, key)
	}
	r.AnnounceOnStart = cfg.Schedule.AnnounceOnStart
	r.RegisterOnJoin = cfg.Schedule.RegisterOnJoin == nil || *cfg.Schedule.RegisterOnJoin

	te := TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}
	r.TaskTimeout = dur("task_engine.default_timeout", te.DefaultTimeout, 30*time.Second)
	r.TaskHistorySize = positiveOr(te.HistorySize, 200)

	n := NotifierConfig{}
	if cfg.Notifier != nil {
		n = *cfg.Notifier
	}
	if n.RatePerSec < 0 || n.DedupMaxEntries < 0 || n.HistorySize < 0 {
		fail(errors.New("notifier: counts must be >= 0"))
	}
	r.RatePerSec = positiveOr(n.RatePerSec, 20)
	r.SendTimeout = dur("notifier.send_timeout", n.SendTimeout, 10*time.Second)
	if strings.TrimSpace(n.DedupWindow) == "" {
		r.DedupWindow = time.Hour
	} else {
		r.DedupWindow, err = parseDuration("notifier.dedup_window", n.DedupWindow)
		fail(err)
	}
	r.DedupMaxEntries = positiveOr(n.DedupMaxEntries, 2000)
	r.NotifyHistory = positiveOr(n.HistorySize, 100)

	if s := cfg.Storage; s != nil {
		r.StorageDriver = strings.ToLower(strings.TrimSpace(s.Driver))
		r.StoragePath = strings.TrimSpace(s.Path)
		switch r.StorageDriver {
		case "", "none":
			r.StorageDriver = "none"
		case "sqlite", "sqlite3":
			if r.StoragePath == "" {
				fail(errors.New("storage.path is required for sqlite"))
			}
		default:
			fail(fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		r.StorageBusyTimeout = dur("storage.busy_timeout", s.BusyTimeout, 5*time.Second)
		r.StorageRetention, err = parseDuration("storage.retention", s.Retention)
		fail(err)
	} else {
		r.StorageDriver = "none"
	}

	r.HTTPAddr = strings.TrimSpace(cfg.HTTP.Addr)

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return r, nil
}

func resolveCountdown(c CountdownConfig) (countdown.Config, error) {
	period := c.PeriodDays
	if period == 0 {
		period = DefaultPeriodDays
	}
	if period < 0 {
		return countdown.Config{}, fmt.Errorf("countdown.period_days must be > 0, got %d", period)
	}

	ref := strings.TrimSpace(c.Reference)
	date := strings.TrimSpace(c.ReferenceDate)
	var (
		at  time.Time
		err error
	)
	switch {
	case ref != "" && date != "":
		return countdown.Config{}, errors.New("countdown: set either reference or reference_date, not both")
	case ref != "":
		// The offset in the string defines the zone used for date math.
		at, err = time.Parse(time.RFC3339, ref)
		if err != nil {
			return countdown.Config{}, fmt.Errorf("countdown.reference: %w", err)
		}
	case date != "":
		tz := strings.TrimSpace(c.Timezone)
		if tz == "" {
			tz = DefaultTimezone
		}
		loc, lerr := time.LoadLocation(tz)
		if lerr != nil {
			return countdown.Config{}, fmt.Errorf("countdown.timezone: %w", lerr)
		}
		d, perr := time.Parse(time.DateOnly, date)
		if perr != nil {
			return countdown.Config{}, fmt.Errorf("countdown.reference_date: %w", perr)
		}
		at = walltime.Local{Year: d.Year(), Month: d.Month(), Day: d.Day(), Location: loc}.Instant().In(loc)
	default:
		return countdown.Config{}, errors.New("countdown.reference or countdown.reference_date is required")
	}

	cd, err := countdown.NewConfig(at, period)
	if err != nil {
		return countdown.Config{}, fmt.Errorf("countdown: %w", err)
	}
	return cd, nil
}

// parseDuration reads a Go duration string for the named field. Empty means
// zero; negative values are rejected.
func parseDuration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (e.g. 30s, 5m)", field, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %s", field, raw)
	}
	return d, nil
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
