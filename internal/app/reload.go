package app

import (
	"context"
	"strings"

	"countdownbot/internal/config"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/task/engine"
	logx "countdownbot/pkg/logx"
)

// startReload applies accepted config changes. Logging, notifier and task
// engine settings apply live; everything else is reported as needing a
// restart and keeps running with the values it started with.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case l, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: only the newest config matters.
			drain:
				for {
					select {
					case newer, ok := <-sub:
						if !ok {
							return
						}
						l = newer
					default:
						break drain
					}
				}
				last = a.applyConfig(last, l.Resolved)
			}
		}
	})
}

// applyConfig applies the live sections of next and returns the config that
// is now in effect for them.
func (a *App) applyConfig(prev, next *config.Resolved) *config.Resolved {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return prev
	}

	if ch.Has("logging") {
		a.logs.Apply(next.Logging)
	}
	if ch.Has("task_engine") {
		a.engine.Apply(engine.Config{DefaultTimeout: next.TaskTimeout, HistorySize: next.TaskHistorySize})
	}
	if ch.Has("notifier") {
		cfg := notifierConfig(next)
		// The dedup calendar follows the zone the bot started with.
		cfg.Location = a.cfg.Location
		a.notif.Apply(cfg)
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(ch.RestartRequired, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Attrs...)
	a.log.Info("config reloaded", fields...)
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: ch.Sections})
	return next
}
