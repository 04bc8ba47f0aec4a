// Package storage keeps an optional audit trail of registrations and
// deliveries, plus the notifier's dedup marks so a restart right after
// midnight does not send the same day twice.
//
// Registrations themselves are never restored from here.
package storage
