package app

import (
	"time"

	"countdownbot/internal/notifier"
	"countdownbot/internal/notify"
	rtsup "countdownbot/internal/runtime/supervisor"
)

// Status is the body of the health endpoint detail.
type Status struct {
	Phase      string                    `json:"phase"`
	Days       int                       `json:"days"`
	Target     time.Time                 `json:"target"`
	Timezone   string                    `json:"timezone"`
	Recipients int                       `json:"recipients"`
	Fires      notify.Stats              `json:"fires"`
	Delivery   notifier.Stats            `json:"delivery"`
	Timers     int                       `json:"timers"`
	Engine     EngineStatus              `json:"engine"`
	Goroutines map[string]rtsup.Snapshot `json:"supervisors"`
}

type EngineStatus struct {
	Running  bool   `json:"running"`
	InFlight int    `json:"in_flight"`
	Started  uint64 `json:"started"`
	Failed   uint64 `json:"failed"`
	Skipped  uint64 `json:"skipped"`
}

// Status reports the current countdown and component health.
func (a *App) Status() any {
	res := a.core.Remaining()
	stats := a.core.Stats()
	es := a.engine.Snapshot()
	return Status{
		Phase:      res.Phase.String(),
		Days:       res.Days,
		Target:     res.Target,
		Timezone:   a.core.Location().String(),
		Recipients: stats.Registered,
		Fires:      stats,
		Delivery:   a.notif.Stats(),
		Timers:     a.sched.Len(),
		Engine: EngineStatus{
			Running:  es.Running,
			InFlight: es.InFlight,
			Started:  es.Started,
			Failed:   es.Failed,
			Skipped:  es.Skipped,
		},
		Goroutines: a.sups.Snapshots(),
	}
}
