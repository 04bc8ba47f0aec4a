package config

import (
	"reflect"
	"sort"

	logx "countdownbot/pkg/logx"
)

// Change summarizes the difference between two accepted configs.
type Change struct {
	// Sections lists every changed top-level section, sorted.
	Sections []string
	// RestartRequired lists changed sections that only take effect on restart.
	RestartRequired []string
	// Attrs are safe log fields; secrets are reported as set/unset only.
	Attrs []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// live sections are applied on reload without a restart.
var live = map[string]bool{"logging": true, "notifier": true, "task_engine": true}

// Diff compares two resolved configs.
func Diff(oldR, newR *Resolved) Change {
	if oldR == nil {
		oldR = &Resolved{}
	}
	if newR == nil {
		newR = &Resolved{}
	}
	var ch Change
	mark := func(section string, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		ch.Attrs = append(ch.Attrs, fields...)
		if !live[section] {
			ch.RestartRequired = append(ch.RestartRequired, section)
		}
	}

	if oldR.Token != newR.Token || oldR.PollTimeout != newR.PollTimeout {
		mark("telegram",
			logx.Bool("telegram.token_changed", oldR.Token != newR.Token),
			logx.Duration("telegram.poll_timeout", newR.PollTimeout),
		)
	}
	if !reflect.DeepEqual(oldR.Logging, newR.Logging) {
		mark("logging",
			logx.String("logging.level", newR.Logging.Level),
			logx.Bool("logging.console", newR.Logging.Console),
			logx.Bool("logging.file_enabled", newR.Logging.File.Enabled),
		)
	}
	if !oldR.Countdown.Equal(newR.Countdown) {
		mark("countdown",
			logx.Time("countdown.reference", newR.Countdown.Reference()),
			logx.Int("countdown.period_days", newR.Countdown.PeriodDays()),
		)
	}
	if locName(oldR) != locName(newR) ||
		oldR.MaxRecipients != newR.MaxRecipients ||
		oldR.FireTimeout != newR.FireTimeout ||
		!reflect.DeepEqual(oldR.Recipients, newR.Recipients) ||
		oldR.AnnounceOnStart != newR.AnnounceOnStart ||
		oldR.RegisterOnJoin != newR.RegisterOnJoin {
		mark("schedule",
			logx.String("schedule.timezone", locName(newR)),
			logx.Int("schedule.max_recipients", newR.MaxRecipients),
			logx.Int("schedule.recipients", len(newR.Recipients)),
		)
	}
	if oldR.TaskTimeout != newR.TaskTimeout || oldR.TaskHistorySize != newR.TaskHistorySize {
		mark("task_engine",
			logx.Duration("task_engine.default_timeout", newR.TaskTimeout),
			logx.Int("task_engine.history_size", newR.TaskHistorySize),
		)
	}
	if oldR.RatePerSec != newR.RatePerSec ||
		oldR.SendTimeout != newR.SendTimeout ||
		oldR.DedupWindow != newR.DedupWindow ||
		oldR.DedupMaxEntries != newR.DedupMaxEntries ||
		oldR.NotifyHistory != newR.NotifyHistory {
		mark("notifier",
			logx.Int("notifier.rate_per_sec", newR.RatePerSec),
			logx.Duration("notifier.dedup_window", newR.DedupWindow),
		)
	}
	if oldR.StorageDriver != newR.StorageDriver ||
		oldR.StoragePath != newR.StoragePath ||
		oldR.StorageBusyTimeout != newR.StorageBusyTimeout ||
		oldR.StorageRetention != newR.StorageRetention {
		mark("storage",
			logx.String("storage.driver", newR.StorageDriver),
			logx.Bool("storage.path_set", newR.StoragePath != ""),
		)
	}
	if oldR.HTTPAddr != newR.HTTPAddr {
		mark("http", logx.String("http.addr", newR.HTTPAddr))
	}

	sort.Strings(ch.Sections)
	sort.Strings(ch.RestartRequired)
	return ch
}

func locName(r *Resolved) string {
	if r.Location == nil {
		return ""
	}
	return r.Location.String()
}
