// Package scheduler is the timer facility.
//
// It wraps a robfig/cron instance running in UTC and keeps one entry per
// name. The scheduler only triggers: every due run is submitted to the task
// engine, which executes it in its own goroutine.
//
// Daily builds the per-recipient midnight schedule; AddSchedule accepts cron
// or interval strings for housekeeping jobs.
package scheduler
