package notifier

import (
	"context"
	"time"

	kit "countdownbot/internal/transport"
)

type Config struct {
	RatePerSec      int
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
	// Location defines the calendar day used by dedup keys.
	Location *time.Location
}

// Sender is the part of the transport adapter the notifier uses.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type HistoryItem struct {
	At        time.Time
	Recipient string
	Text      string
	Error     string
}

// DedupEvent is the payload of delivery.deduped events.
type DedupEvent struct {
	Recipient string    `json:"recipient"`
	Key       string    `json:"key"`
	Until     time.Time `json:"until"`
}

type Stats struct {
	Sent    uint64
	Failed  uint64
	Deduped uint64
}
