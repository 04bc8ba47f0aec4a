package scheduler

import (
	"testing"
	"time"
	_ "time/tzdata"
)

func loadLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func TestDailyFirstThenEveryMidnight(t *testing.T) {
	t.Parallel()

	dubai := loadLoc(t, "Asia/Dubai")
	// Registered 2024-01-01 10:00 Dubai; first fire 2024-01-02 00:00 Dubai.
	first := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	d := Daily(first, dubai)

	registered := time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC)
	if got := d.Next(registered); !got.Equal(first) {
		t.Fatalf("first Next = %s, want %s", got, first)
	}

	// Cron asks again right after the fire.
	fired := first.Add(3 * time.Millisecond)
	want := time.Date(2024, 1, 2, 20, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		got := d.Next(fired)
		if !got.Equal(want) {
			t.Fatalf("fire %d: Next = %s, want %s", i, got, want)
		}
		fired = got.Add(2 * time.Millisecond)
		want = want.Add(24 * time.Hour)
	}
}

func TestDailyExactMidnightFiresImmediately(t *testing.T) {
	t.Parallel()

	dubai := loadLoc(t, "Asia/Dubai")
	mid := time.Date(2024, 6, 16, 0, 0, 0, 0, dubai)
	d := Daily(mid, dubai)

	// Cron computes Next slightly after the caller computed the midnight.
	if got := d.Next(mid.Add(200 * time.Millisecond)); !got.Equal(mid) {
		t.Fatalf("Next = %s, want immediate %s", got, mid)
	}
	if got := d.Next(mid.Add(300 * time.Millisecond)); !got.Equal(mid.Add(24 * time.Hour)) {
		t.Fatalf("second Next = %s, want next midnight", got)
	}
}

func TestDailyLateStartSkipsToFollowingMidnight(t *testing.T) {
	t.Parallel()

	dubai := loadLoc(t, "Asia/Dubai")
	first := time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)
	d := Daily(first, dubai)

	// Cron started well after the planned first fire.
	got := d.Next(first.Add(time.Hour))
	want := first.Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Fatalf("Next = %s, want %s", got, want)
	}
}

func TestDailyFollowsLocalMidnightAcrossDST(t *testing.T) {
	t.Parallel()

	berlin := loadLoc(t, "Europe/Berlin")
	first := time.Date(2024, 3, 29, 23, 0, 0, 0, time.UTC) // 2024-03-30 00:00 CET
	d := Daily(first, berlin)

	wants := []time.Time{
		first,
		time.Date(2024, 3, 30, 23, 0, 0, 0, time.UTC), // 03-31 00:00 CET, DST starts at 02:00
		time.Date(2024, 3, 31, 22, 0, 0, 0, time.UTC), // 04-01 00:00 CEST
		time.Date(2024, 4, 1, 22, 0, 0, 0, time.UTC),
	}
	now := first.Add(-time.Hour)
	for i, want := range wants {
		got := d.Next(now)
		if !got.Equal(want) {
			t.Fatalf("step %d: Next = %s, want %s", i, got, want)
		}
		if gap := got.Sub(now); i > 0 && gap > 24*time.Hour {
			t.Fatalf("step %d: gap %s exceeds a day", i, gap)
		}
		now = got
	}
}

func TestDailyString(t *testing.T) {
	t.Parallel()

	dubai := loadLoc(t, "Asia/Dubai")
	d := Daily(time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC), dubai)
	if got, want := d.String(), "daily 00:00 Asia/Dubai from 2024-01-02"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
