package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

type AuditKind string

const (
	AuditRegister   AuditKind = "register"
	AuditUnregister AuditKind = "unregister"
	AuditDelivery   AuditKind = "delivery"
)

// AuditEntry records one registration change or delivery attempt.
type AuditEntry struct {
	At        time.Time
	Kind      AuditKind
	Recipient string
	ActorID   int64
	Phase     string
	Days      int
	OK        bool
	Error     string
	TookMS    int64
}
