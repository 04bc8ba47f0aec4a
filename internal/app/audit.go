package app

import (
	"context"
	"time"

	"countdownbot/internal/eventbus"
	"countdownbot/internal/notify"
	"countdownbot/internal/storage"
	logx "countdownbot/pkg/logx"
)

const pruneEvery = "1h"

// auditEntry maps a bus event to an audit row. Events that are not audited
// return false.
func auditEntry(e eventbus.Event) (storage.AuditEntry, bool) {
	at := e.Time
	if at.IsZero() {
		at = time.Now()
	}
	switch e.Type {
	case eventbus.TypeRecipientRegistered, eventbus.TypeRecipientUnregistered:
		t, ok := e.Data.(notify.Timer)
		if !ok {
			return storage.AuditEntry{}, false
		}
		kind := storage.AuditRegister
		if e.Type == eventbus.TypeRecipientUnregistered {
			kind = storage.AuditUnregister
		}
		return storage.AuditEntry{At: at, Kind: kind, Recipient: t.Recipient, OK: true}, true
	case eventbus.TypeDeliverySent, eventbus.TypeDeliveryFailed:
		d, ok := e.Data.(notify.Delivery)
		if !ok {
			return storage.AuditEntry{}, false
		}
		return storage.AuditEntry{
			At:        at,
			Kind:      storage.AuditDelivery,
			Recipient: d.Recipient,
			Phase:     d.Result.Phase.String(),
			Days:      d.Result.Days,
			OK:        e.Type == eventbus.TypeDeliverySent,
			Error:     d.Error,
			TookMS:    d.Took.Milliseconds(),
		}, true
	}
	return storage.AuditEntry{}, false
}

// startAudit logs bus events at debug level and writes registration and
// delivery outcomes to the store when one is configured.
func (a *App) startAudit() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.audit", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				if a.store == nil {
					continue
				}
				entry, ok := auditEntry(e)
				if !ok {
					continue
				}
				wctx, cancel := context.WithTimeout(context.WithoutCancel(c), 2*time.Second)
				if err := a.store.AppendAudit(wctx, entry); err != nil {
					a.log.Warn("audit write failed", logx.String("kind", string(entry.Kind)), logx.String("recipient", entry.Recipient), logx.Err(err))
				}
				cancel()
			}
		}
	})
}

// startPrune installs the hourly housekeeping job that drops audit rows
// older than the retention and expired dedup marks.
func (a *App) startPrune() {
	if a.store == nil {
		return
	}
	retention := a.cfg.StorageRetention
	_, err := a.sched.AddSchedule("storage.prune", pruneEvery, 30*time.Second, func(ctx context.Context) error {
		var before time.Time
		if retention > 0 {
			before = time.Now().Add(-retention)
		}
		n, err := a.store.PruneAudit(ctx, before)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.Info("audit pruned", logx.Int64("rows", n), logx.Duration("retention", retention))
		}
		return nil
	})
	if err != nil {
		a.log.Warn("storage prune not scheduled", logx.Err(err))
	}
}
