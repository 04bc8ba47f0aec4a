package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"countdownbot/internal/countdown"
	"countdownbot/internal/eventbus"
	"countdownbot/internal/notify"
	"countdownbot/internal/storage"
	kit "countdownbot/internal/transport"
	"countdownbot/internal/transport/telegram"
	logx "countdownbot/pkg/logx"
)

type sentText struct {
	to   kit.ChatTarget
	text string
}

type fakeTransport struct {
	mu   sync.Mutex
	out  chan<- kit.Update
	sent chan sentText
	menu []kit.BotCommand
	stop bool
}

func newFakeTransport() *fakeTransport { return &fakeTransport{sent: make(chan sentText, 32)} }

func (f *fakeTransport) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Stop(context.Context) error {
	f.mu.Lock()
	f.stop = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.sent <- sentText{to: to, text: text}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeTransport) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) push(u kit.Update) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- u
}

func (f *fakeTransport) next(t *testing.T) sentText {
	t.Helper()
	select {
	case s := <-f.sent:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a sent message")
		return sentText{}
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func testConfig(dbPath string) string {
	return `
telegram:
  token: "123:test"
logging:
  level: "error"
countdown:
  reference_date: "2024-06-16"
  timezone: "Asia/Dubai"
  period_days: 365
schedule:
  timezone: "Asia/Dubai"
  recipients: ["-100:7"]
  announce_on_start: true
storage:
  driver: "sqlite"
  path: "` + dbPath + `"
`
}

func TestAppLifecycle(t *testing.T) {
	var (
		notifyMu sync.Mutex
		states   []string
	)
	prev := sdNotify
	sdNotify = func(_ bool, state string) (bool, error) {
		notifyMu.Lock()
		states = append(states, state)
		notifyMu.Unlock()
		return false, nil
	}
	defer func() { sdNotify = prev }()

	ft := newFakeTransport()
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	path := writeConfig(t, testConfig(filepath.Join(t.TempDir(), "audit.db")))

	a, err := New(path,
		WithTransport(func(telegram.Config, logx.Logger) (Transport, error) { return ft, nil }),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Startup recipient is registered and announced.
	if _, ok := a.Scheduler().Lookup("-100:7"); !ok {
		t.Fatal("startup recipient not registered")
	}
	got := ft.next(t)
	if got.to != (kit.ChatTarget{ChatID: -100, ThreadID: 7}) || got.text != "Осталось 350 дней до дембеля." {
		t.Fatalf("announce = %+v", got)
	}

	// A command round-trips through the router.
	ft.push(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, FromID: 1, Text: "/countdown"}})
	got = ft.next(t)
	if got.to.ChatID != 42 || !strings.Contains(got.text, "350") {
		t.Fatalf("countdown reply = %+v", got)
	}

	st, ok := a.Status().(Status)
	if !ok || st.Recipients != 1 || st.Phase != countdown.PhasePost.String() || st.Days != 350 {
		t.Fatalf("status = %+v", a.Status())
	}

	// Registration and delivery are audited.
	deadline := time.Now().Add(3 * time.Second)
	for {
		rows, err := a.store.RecentAudit(context.Background(), "-100:7", 10)
		if err != nil {
			t.Fatalf("RecentAudit: %v", err)
		}
		kinds := map[storage.AuditKind]bool{}
		for _, r := range rows {
			kinds[r.Kind] = true
		}
		if kinds[storage.AuditRegister] && kinds[storage.AuditDelivery] {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit rows = %+v", rows)
		}
		time.Sleep(20 * time.Millisecond)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	ft.mu.Lock()
	stopped, menu := ft.stop, len(ft.menu)
	ft.mu.Unlock()
	if !stopped {
		t.Fatal("transport not stopped")
	}
	if menu == 0 {
		t.Fatal("command menu not published")
	}
	notifyMu.Lock()
	defer notifyMu.Unlock()
	if strings.Join(states, ",") != "READY=1,STOPPING=1" {
		t.Fatalf("sd_notify states = %v", states)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "telegram:\n  token: \"\"\n")
	_, err := New(path, WithTransport(func(telegram.Config, logx.Logger) (Transport, error) {
		return nil, errors.New("must not be called")
	}))
	if err == nil || !strings.Contains(err.Error(), "telegram.token") {
		t.Fatalf("err = %v", err)
	}
}

func TestAuditEntry(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 7, 1, 20, 0, 0, 0, time.UTC)
	res := countdown.Result{Phase: countdown.PhasePost, Days: 350}
	cases := []struct {
		name string
		ev   eventbus.Event
		want storage.AuditEntry
		ok   bool
	}{
		{
			name: "registered",
			ev:   eventbus.Event{Type: eventbus.TypeRecipientRegistered, Time: at, Data: notify.Timer{Recipient: "42"}},
			want: storage.AuditEntry{At: at, Kind: storage.AuditRegister, Recipient: "42", OK: true},
			ok:   true,
		},
		{
			name: "unregistered",
			ev:   eventbus.Event{Type: eventbus.TypeRecipientUnregistered, Time: at, Data: notify.Timer{Recipient: "42"}},
			want: storage.AuditEntry{At: at, Kind: storage.AuditUnregister, Recipient: "42", OK: true},
			ok:   true,
		},
		{
			name: "delivered",
			ev:   eventbus.Event{Type: eventbus.TypeDeliverySent, Time: at, Data: notify.Delivery{Recipient: "42", Result: res, Took: 15 * time.Millisecond}},
			want: storage.AuditEntry{At: at, Kind: storage.AuditDelivery, Recipient: "42", Phase: "POST", Days: 350, OK: true, TookMS: 15},
			ok:   true,
		},
		{
			name: "failed",
			ev:   eventbus.Event{Type: eventbus.TypeDeliveryFailed, Time: at, Data: notify.Delivery{Recipient: "42", Result: res, Error: "boom"}},
			want: storage.AuditEntry{At: at, Kind: storage.AuditDelivery, Recipient: "42", Phase: "POST", Days: 350, Error: "boom"},
			ok:   true,
		},
		{
			name: "other event",
			ev:   eventbus.Event{Type: eventbus.TypeTaskStarted, Time: at},
		},
		{
			name: "wrong payload",
			ev:   eventbus.Event{Type: eventbus.TypeDeliverySent, Time: at, Data: "x"},
		},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := auditEntry(tc.ev)
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if got != tc.want {
				t.Fatalf("entry = %+v, want %+v", got, tc.want)
			}
		})
	}
}
