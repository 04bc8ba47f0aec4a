package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"countdownbot/internal/eventbus"
	"countdownbot/internal/task/engine"
	logx "countdownbot/pkg/logx"
)

var (
	ErrNameRequired = errors.New("scheduler: name required")
	ErrJobRequired  = errors.New("scheduler: job and schedule required")
	// ErrCapacity is returned when MaxEntries timers are already installed.
	ErrCapacity = errors.New("scheduler: timer capacity exhausted")
)

// Config controls the timer facility.
type Config struct {
	// MaxEntries bounds the number of timers installed with Install.
	// Housekeeping schedules added with AddSchedule are not counted.
	// 0 means unlimited.
	MaxEntries int
}

// Handle identifies one installation of a named timer. A later Install
// under the same name yields a different Handle; cancelling the old one is
// then a no-op.
type Handle struct {
	Name string
	Seq  uint64
}

func (h Handle) IsZero() bool { return h.Name == "" && h.Seq == 0 }

type entry struct {
	handle    Handle
	spec      string
	sched     cron.Schedule
	timeout   time.Duration
	job       func(ctx context.Context) error
	state     *engine.RunState
	entryID   cron.EntryID
	uncounted bool
}

// Service owns the cron instance. Cron runs in UTC: every schedule returns
// absolute instants and local-time reasoning stays inside the schedules.
type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	bus eventbus.Bus

	engine *engine.Service

	parser  cron.Parser
	c       *cron.Cron
	entries map[string]*entry
	seq     uint64

	// Submit error throttling, keyed by timer name.
	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

type EntryInfo struct {
	Name    string
	Seq     uint64
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
}

type Snapshot struct {
	Running    bool
	MaxEntries int
	Installed  int
	Entries    []EntryInfo
}
