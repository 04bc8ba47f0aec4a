package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"countdownbot/internal/countdown"
	logx "countdownbot/pkg/logx"
)

const minimalYAML = `
telegram:
  token: "123:abc"
countdown:
  reference: "2024-06-16T00:00:00+04:00"
  period_days: 365
schedule:
  timezone: "Asia/Dubai"
`

func TestParseBytesYAMLDefaults(t *testing.T) {
	t.Parallel()

	l, err := ParseBytes("config.yaml", []byte(minimalYAML))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	r := l.Resolved
	if r.Token != "123:abc" {
		t.Fatalf("token=%q", r.Token)
	}
	if r.Location.String() != "Asia/Dubai" {
		t.Fatalf("location=%s", r.Location)
	}
	if r.PollTimeout != 10*time.Second || r.FireTimeout != 30*time.Second {
		t.Fatalf("poll=%s fire=%s", r.PollTimeout, r.FireTimeout)
	}
	if r.RatePerSec != 20 || r.DedupWindow != time.Hour || r.DedupMaxEntries != 2000 {
		t.Fatalf("notifier defaults: %+v", r)
	}
	if r.StorageDriver != "none" {
		t.Fatalf("storage driver=%q", r.StorageDriver)
	}
	if !r.RegisterOnJoin {
		t.Fatalf("register_on_join should default to true")
	}

	// 2024-07-01 12:00 Dubai, 350 days before 2025-06-16.
	now := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	got := r.Countdown.Remaining(now)
	if got.Phase != countdown.PhasePost || got.Days != 350 {
		t.Fatalf("remaining=%s", got)
	}
}

func TestParseBytesJSON(t *testing.T) {
	t.Parallel()

	in := `{"telegram":{"token":"t"},"countdown":{"reference_date":"2024-06-16","timezone":"Asia/Dubai"},"schedule":{"recipients":["-100:7"," -100:7","42"]}}`
	l, err := ParseBytes("config.json", []byte(in))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if got := strings.Join(l.Resolved.Recipients, ","); got != "-100:7,42" {
		t.Fatalf("recipients=%q", got)
	}
	ref := l.Resolved.Countdown.Reference()
	want := time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC)
	if !ref.Equal(want) {
		t.Fatalf("reference=%s want %s", ref, want)
	}
	if l.Resolved.Countdown.PeriodDays() != DefaultPeriodDays {
		t.Fatalf("period=%d", l.Resolved.Countdown.PeriodDays())
	}
}

func TestParseBytesUnquotedYAMLDates(t *testing.T) {
	t.Parallel()

	want := time.Date(2024, 6, 15, 20, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		in   string
	}{
		{"reference_date", "telegram:\n  token: t\ncountdown:\n  reference_date: 2024-06-16\n  timezone: Asia/Dubai\n"},
		{"reference with offset", "telegram:\n  token: t\ncountdown:\n  reference: 2024-06-16T00:00:00+04:00\n"},
		{"quoted reference_date", "telegram:\n  token: t\ncountdown:\n  reference_date: \"2024-06-16\"\n  timezone: Asia/Dubai\n"},
		{"merge key", "telegram:\n  token: t\ncountdown:\n  <<: {reference_date: 2024-06-16, timezone: Asia/Dubai}\n  period_days: 365\n"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			l, err := ParseBytes("c.yaml", []byte(tc.in))
			if err != nil {
				t.Fatalf("ParseBytes: %v", err)
			}
			if ref := l.Resolved.Countdown.Reference(); !ref.Equal(want) {
				t.Fatalf("reference=%s want %s", ref, want)
			}
		})
	}
}

func TestParseBytesRejects(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		path string
		in   string
		want string
	}{
		{"unknown field", "c.json", `{"telegram":{"token":"t"},"bogus":1}`, "unknown field"},
		{"trailing data", "c.json", `{"telegram":{"token":"t"},"countdown":{"reference_date":"2024-06-16"}}{}`, "trailing"},
		{"missing token", "c.yaml", "countdown:\n  reference_date: 2024-06-16\n", "telegram.token"},
		{"missing reference", "c.yaml", "telegram:\n  token: t\n", "countdown.reference"},
		{"both references", "c.yaml", "telegram:\n  token: t\ncountdown:\n  reference: 2024-06-16T00:00:00Z\n  reference_date: 2024-06-16\n", "either"},
		{"negative period", "c.yaml", "telegram:\n  token: t\ncountdown:\n  reference_date: 2024-06-16\n  period_days: -1\n", "period_days"},
		{"bad timezone", "c.yaml", "telegram:\n  token: t\ncountdown:\n  reference_date: 2024-06-16\nschedule:\n  timezone: Mars/Olympus\n", "schedule.timezone"},
		{"bad recipient", "c.yaml", "telegram:\n  token: t\ncountdown:\n  reference_date: 2024-06-16\nschedule:\n  recipients: [\"abc\"]\n", "recipients[0]"},
		{"bad duration", "c.yaml", "telegram:\n  token: t\ncountdown:\n  reference_date: 2024-06-16\nnotifier:\n  send_timeout: soon\n", "notifier.send_timeout"},
		{"bad level", "c.yaml", "telegram:\n  token: t\nlogging:\n  level: loud\ncountdown:\n  reference_date: 2024-06-16\n", "logging.level"},
		{"unknown storage", "c.yaml", "telegram:\n  token: t\ncountdown:\n  reference_date: 2024-06-16\nstorage:\n  driver: mongo\n", "storage.driver"},
		{"sqlite without path", "c.yaml", "telegram:\n  token: t\ncountdown:\n  reference_date: 2024-06-16\nstorage:\n  driver: sqlite\n", "storage.path"},
		{"empty document", "c.yaml", "", "telegram.token"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseBytes(tc.path, []byte(tc.in))
			if err == nil {
				t.Fatalf("expected error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr string
	}{
		{"", 0, ""},
		{"  45s ", 45 * time.Second, ""},
		{"0s", 0, ""},
		{"720h", 720 * time.Hour, ""},
		{"-1m", 0, "must not be negative"},
		{"soon", 0, "not a duration"},
	}
	for _, tt := range tests {
		got, err := parseDuration("storage.retention", tt.raw)
		if tt.wantErr != "" {
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) || !strings.HasPrefix(err.Error(), "storage.retention:") {
				t.Fatalf("parseDuration(%q) err = %v, want %q", tt.raw, err, tt.wantErr)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("parseDuration(%q) = %s, %v; want %s", tt.raw, got, err, tt.want)
		}
	}
}

func TestParseBytesEnvExpansion(t *testing.T) {
	t.Setenv("COUNTDOWN_TEST_TOKEN", "999:xyz")

	in := "telegram:\n  token: ${COUNTDOWN_TEST_TOKEN}\ncountdown:\n  reference_date: 2024-06-16\n"
	l, err := ParseBytes("c.yaml", []byte(in))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if l.Resolved.Token != "999:xyz" {
		t.Fatalf("token=%q", l.Resolved.Token)
	}

	in = "telegram:\n  token: ${COUNTDOWN_TEST_UNSET_VAR}\ncountdown:\n  reference_date: 2024-06-16\n"
	_, err = ParseBytes("c.yaml", []byte(in))
	if err == nil || !strings.Contains(err.Error(), "COUNTDOWN_TEST_UNSET_VAR") {
		t.Fatalf("expected undefined variable error, got %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()

	ok, err := LoadDotEnv(filepath.Join(dir, "missing.env"))
	if err != nil || ok {
		t.Fatalf("missing file: ok=%v err=%v", ok, err)
	}

	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("COUNTDOWN_DOTENV_TEST=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COUNTDOWN_DOTENV_TEST", "")
	os.Unsetenv("COUNTDOWN_DOTENV_TEST")

	ok, err = LoadDotEnv(p)
	if err != nil || !ok {
		t.Fatalf("LoadDotEnv: ok=%v err=%v", ok, err)
	}
	if got := os.Getenv("COUNTDOWN_DOTENV_TEST"); got != "from-file" {
		t.Fatalf("env=%q", got)
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	a, err := ParseBytes("c.yaml", []byte(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	b, err := ParseBytes("c.yaml", []byte(minimalYAML+"logging:\n  level: debug\nhttp:\n  addr: \":8080\"\n"))
	if err != nil {
		t.Fatal(err)
	}

	if ch := Diff(a.Resolved, a.Resolved); !ch.Empty() {
		t.Fatalf("same config diff: %+v", ch.Sections)
	}
	ch := Diff(a.Resolved, b.Resolved)
	if got := strings.Join(ch.Sections, ","); got != "http,logging" {
		t.Fatalf("sections=%q", got)
	}
	if got := strings.Join(ch.RestartRequired, ","); got != "http" {
		t.Fatalf("restart=%q", got)
	}
	if !ch.Has("logging") || ch.Has("telegram") {
		t.Fatalf("Has mismatch: %+v", ch.Sections)
	}
	if len(ch.Attrs) == 0 {
		t.Fatalf("expected log attrs for changed sections")
	}
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o600); err != nil {
		t.Fatal(err)
	}

	m := NewManager(path, logx.Nop())
	m.debounce = 20 * time.Millisecond
	first, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	wrote := false
	for {
		select {
		case l := <-ch:
			if l.Resolved.Logging.Level != "debug" {
				t.Fatalf("unexpected published config: %+v", l.Resolved.Logging)
			}
			if m.Get() != l || m.Get() == first {
				t.Fatalf("manager did not commit the new config")
			}
			cancel()
			<-done
			return
		case <-tick.C:
			// Invalid content is rejected first; the valid rewrite is repeated
			// because writes before the watcher is ready are missed.
			if !wrote {
				_ = os.WriteFile(path, []byte("telegram: ["), 0o600)
				wrote = true
				continue
			}
			_ = os.WriteFile(path, []byte(minimalYAML+"logging:\n  level: debug\n"), 0o600)
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}
