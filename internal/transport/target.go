package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrBadTarget = errors.New("bad chat target")

// ChatTarget addresses a chat, optionally a forum topic inside it.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// String encodes the target as a recipient key: "chatID" or
// "chatID:threadID".
func (t ChatTarget) String() string {
	if t.ThreadID == 0 {
		return strconv.FormatInt(t.ChatID, 10)
	}
	return strconv.FormatInt(t.ChatID, 10) + ":" + strconv.Itoa(t.ThreadID)
}

// ParseTarget is the inverse of ChatTarget.String.
func ParseTarget(key string) (ChatTarget, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return ChatTarget{}, fmt.Errorf("%w: empty", ErrBadTarget)
	}
	chatPart, threadPart, hasThread := strings.Cut(key, ":")
	chatID, err := strconv.ParseInt(chatPart, 10, 64)
	if err != nil || chatID == 0 {
		return ChatTarget{}, fmt.Errorf("%w: chat id %q", ErrBadTarget, chatPart)
	}
	t := ChatTarget{ChatID: chatID}
	if hasThread {
		thread, err := strconv.Atoi(threadPart)
		if err != nil || thread <= 0 {
			return ChatTarget{}, fmt.Errorf("%w: thread id %q", ErrBadTarget, threadPart)
		}
		t.ThreadID = thread
	}
	return t, nil
}
