package bot

import (
	"testing"

	"countdownbot/internal/countdown"
)

func TestPlural(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want string
	}{
		{0, "дней"}, {1, "день"}, {2, "дня"}, {4, "дня"}, {5, "дней"},
		{11, "дней"}, {12, "дней"}, {14, "дней"}, {15, "дней"},
		{21, "день"}, {22, "дня"}, {25, "дней"}, {101, "день"}, {111, "дней"},
		{365, "дней"}, {-1, "день"}, {-3, "дня"},
	}
	for _, tc := range tests {
		if got := plural(tc.n, "день", "дня", "дней"); got != tc.want {
			t.Fatalf("plural(%d) = %q, want %q", tc.n, got, tc.want)
		}
	}
}

func TestFormatCountdown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		res  countdown.Result
		want string
	}{
		{countdown.Result{Phase: countdown.PhasePre, Days: 15}, "Осталось 15 дней до армии."},
		{countdown.Result{Phase: countdown.PhasePre, Days: 1}, "Остался 1 день до армии."},
		{countdown.Result{Phase: countdown.PhasePre, Days: 0}, "Осталось 0 дней до армии."},
		{countdown.Result{Phase: countdown.PhasePost, Days: 365}, "Осталось 365 дней до дембеля."},
		{countdown.Result{Phase: countdown.PhasePost, Days: 21}, "Остался 21 день до дембеля."},
		{countdown.Result{Phase: countdown.PhasePost, Days: 3}, "Осталось 3 дня до дембеля."},
		{countdown.Result{Phase: countdown.PhasePost, Days: 0}, "Дембель сегодня!"},
		{countdown.Result{Phase: countdown.PhasePost, Days: -1}, "Дембель был 1 день назад."},
		{countdown.Result{Phase: countdown.PhasePost, Days: -12}, "Дембель был 12 дней назад."},
	}
	for _, tc := range tests {
		if got := FormatCountdown(tc.res); got != tc.want {
			t.Fatalf("FormatCountdown(%v) = %q, want %q", tc.res, got, tc.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		name string
		args int
		ok   bool
	}{
		{"/status", "status", 0, true},
		{"  /Set_Timer@ArmyCountdownBot  ", "set_timer", 0, true},
		{"/help set_timer", "help", 1, true},
		{"hello", "", 0, false},
		{"/", "", 0, false},
		{"/@bot", "", 0, false},
	}
	for _, tc := range tests {
		name, args, ok := parseCommand(tc.in)
		if ok != tc.ok || name != tc.name || len(args) != tc.args {
			t.Fatalf("parseCommand(%q) = %q, %v, %v", tc.in, name, args, ok)
		}
	}
}
