package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	tele "gopkg.in/telebot.v4"

	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

func TestSplitTextShort(t *testing.T) {
	t.Parallel()

	got := splitText("Осталось 15 дней до армии", 0)
	if len(got) != 1 || got[0] != "Осталось 15 дней до армии" {
		t.Fatalf("split = %q", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	line := strings.Repeat("д", 30)
	s := strings.Join([]string{line, line, line, line}, "\n")
	got := splitText(s, 70)
	if len(got) != 2 {
		t.Fatalf("chunks = %d (%q)", len(got), got)
	}
	for _, c := range got {
		if n := utf8.RuneCountInString(c); n > 70 {
			t.Fatalf("chunk has %d runes", n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %q has edge newline", c)
		}
	}
	if strings.Join(got, "\n") != s {
		t.Fatalf("chunks do not rejoin to input")
	}
}

func TestSplitTextHardCut(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("я", 25)
	got := splitText(s, 10)
	if len(got) != 3 || got[2] != strings.Repeat("я", 5) {
		t.Fatalf("split = %q", got)
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks do not rejoin to input")
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestConvertMessage(t *testing.T) {
	t.Parallel()

	if convertMessage(nil) != nil {
		t.Fatalf("nil message converted")
	}

	m := &tele.Message{
		ID:       7,
		Text:     "/status",
		ThreadID: 3,
		Chat:     &tele.Chat{ID: -100, Type: tele.ChatSuperGroup, Title: "Отряд"},
		Sender:   &tele.User{ID: 42, Username: "ivan"},
	}
	got := convertMessage(m)
	want := kit.Message{ID: 7, ChatID: -100, ThreadID: 3, FromID: 42, FromUsername: "ivan", Text: "/status", IsGroup: true, ChatTitle: "Отряд"}
	if *got != want {
		t.Fatalf("convertMessage = %+v, want %+v", *got, want)
	}
	if got.Target() != (kit.ChatTarget{ChatID: -100, ThreadID: 3}) {
		t.Fatalf("Target() = %+v", got.Target())
	}

	private := convertMessage(&tele.Message{Chat: &tele.Chat{ID: 5, Type: tele.ChatPrivate}})
	if private.IsGroup || private.FromID != 0 {
		t.Fatalf("private = %+v", *private)
	}
}

func TestMenuHashChangesWithContent(t *testing.T) {
	t.Parallel()

	a := menuHash([]kit.BotCommand{{Command: "status", Description: "x"}})
	b := menuHash([]kit.BotCommand{{Command: "status", Description: "y"}})
	if a == b {
		t.Fatalf("hash ignores description")
	}
}
