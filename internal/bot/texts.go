package bot

import (
	"fmt"
	"strings"
	"time"

	"countdownbot/internal/countdown"
	"countdownbot/internal/notify"
	"countdownbot/internal/walltime"
)

const (
	textGreeting     = "Привет! Я бот для отсчета дней до армии и дембеля.\nИспользуй /status для проверки текущего статуса."
	textJoinGreeting = "Привет! Я буду отсчитывать дни до армии, а затем до дембеля."
	textUnknown      = "Неизвестная команда. Попробуй /help"
	textBusy         = "Бот занят, попробуй чуть позже."
	textTimerSet     = "Ежедневные уведомления настроены!"
	textTimerUnset   = "Ежедневные уведомления отключены."
	textTimerNone    = "Ежедневные уведомления не были настроены."
	textBadChat      = "Не удалось определить чат."
	textScheduleFail = "Не удалось настроить уведомления, попробуй позже."
	textInternal     = "Что-то пошло не так, попробуй позже."
)

// plural picks the Russian noun form for n: one (1, 21), few (2-4, 22-24),
// many (0, 5-20, 25-30).
func plural(n int, one, few, many string) string {
	if n < 0 {
		n = -n
	}
	n100 := n % 100
	n10 := n % 10
	switch {
	case n100 >= 11 && n100 <= 14:
		return many
	case n10 == 1:
		return one
	case n10 >= 2 && n10 <= 4:
		return few
	default:
		return many
	}
}

func days(n int) string {
	return fmt.Sprintf("%d %s", n, plural(n, "день", "дня", "дней"))
}

// left agrees the verb with the count: "Остался 1 день", "Осталось 5 дней".
func left(n int) string {
	if plural(n, "one", "few", "many") == "one" {
		return "Остался"
	}
	return "Осталось"
}

// FormatCountdown renders a countdown result as the daily notification text.
func FormatCountdown(res countdown.Result) string {
	switch {
	case res.Phase == countdown.PhasePre:
		return fmt.Sprintf("%s %s до армии.", left(res.Days), days(res.Days))
	case res.Days > 0:
		return fmt.Sprintf("%s %s до дембеля.", left(res.Days), days(res.Days))
	case res.Days == 0:
		return "Дембель сегодня!"
	default:
		return fmt.Sprintf("Дембель был %s назад.", days(-res.Days))
	}
}

func formatLocal(l walltime.Local) string {
	return fmt.Sprintf("%02d.%02d.%04d %02d:%02d", l.Day, int(l.Month), l.Year, l.Hour, l.Minute)
}

func formatNext(next time.Time, loc *time.Location) string {
	return formatLocal(walltime.At(next, loc)) + " (" + loc.String() + ")"
}

func statusText(res countdown.Result, t notify.Timer, registered bool, loc *time.Location) string {
	var b strings.Builder
	b.WriteString(FormatCountdown(res))
	b.WriteString("\n\n")
	if !registered {
		b.WriteString("Ежедневные уведомления выключены. Включить: /set_timer")
		return b.String()
	}
	next := t.Next
	if next.IsZero() {
		next = t.FirstFire
	}
	b.WriteString("Ежедневные уведомления включены, следующее: ")
	b.WriteString(formatNext(next, loc))
	return b.String()
}
