package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"countdownbot/internal/countdown"
	"countdownbot/internal/notify"
	logx "countdownbot/pkg/logx"
)

// Countdown is the notification core as seen by command handlers.
// *notify.Scheduler implements it.
type Countdown interface {
	Register(recipient string) (notify.Timer, error)
	Unregister(recipient string) (bool, error)
	Lookup(recipient string) (notify.Timer, bool)
	Remaining() countdown.Result
	Location() *time.Location
}

type Options struct {
	// RegisterOnJoin registers the daily notification for a group the bot is
	// added to.
	RegisterOnJoin bool
}

type Handlers struct {
	cd  Countdown
	opt Options
}

func NewHandlers(cd Countdown, opt Options) *Handlers {
	return &Handlers{cd: cd, opt: opt}
}

// Commands returns the command set; help is rendered from the same list.
func (h *Handlers) Commands() []Command {
	cmds := []Command{
		{Name: "start", Description: "приветствие и текущий отсчет", Handle: h.start},
		{Name: "status", Description: "текущий статус и уведомления", Handle: h.status},
		{Name: "countdown", Description: "сколько дней осталось", Handle: h.countdown},
		{Name: "set_timer", Aliases: []string{"settimer"}, Description: "включить ежедневные уведомления в 00:00", Handle: h.setTimer},
		{Name: "setchat", Description: "уведомлять этот чат", Hidden: true, Handle: h.setChat},
		{Name: "unset_timer", Aliases: []string{"unsettimer", "stop"}, Description: "выключить ежедневные уведомления", Handle: h.unsetTimer},
	}
	help := Command{Name: "help", Aliases: []string{"h"}, Description: "список команд"}
	help.Handle = func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, helpText(append(cmds, help)))
	}
	return append(cmds, help)
}

func helpText(cmds []Command) string {
	var b strings.Builder
	b.WriteString("Команды:")
	for _, c := range cmds {
		if c.Hidden {
			continue
		}
		fmt.Fprintf(&b, "\n/%s - %s", c.Name, c.Description)
	}
	return b.String()
}

func (h *Handlers) start(ctx context.Context, req *Request) error {
	return req.Reply(ctx, textGreeting+"\n\n"+FormatCountdown(h.cd.Remaining()))
}

func (h *Handlers) countdown(ctx context.Context, req *Request) error {
	return req.Reply(ctx, FormatCountdown(h.cd.Remaining()))
}

func (h *Handlers) status(ctx context.Context, req *Request) error {
	t, ok := h.cd.Lookup(req.Recipient())
	return req.Reply(ctx, statusText(h.cd.Remaining(), t, ok, h.cd.Location()))
}

func (h *Handlers) setTimer(ctx context.Context, req *Request) error {
	t, err := h.cd.Register(req.Recipient())
	if err != nil {
		return h.replyError(ctx, req, err)
	}
	return req.Reply(ctx, textTimerSet+"\nПервое уведомление: "+formatLocal(t.FireAt)+" ("+h.cd.Location().String()+")")
}

func (h *Handlers) setChat(ctx context.Context, req *Request) error {
	if _, err := h.cd.Register(req.Recipient()); err != nil {
		return h.replyError(ctx, req, err)
	}
	return req.Reply(ctx, "Chat ID установлен: "+req.Recipient()+"\n\n"+FormatCountdown(h.cd.Remaining()))
}

func (h *Handlers) unsetTimer(ctx context.Context, req *Request) error {
	removed, err := h.cd.Unregister(req.Recipient())
	if err != nil {
		return h.replyError(ctx, req, err)
	}
	if !removed {
		return req.Reply(ctx, textTimerNone)
	}
	return req.Reply(ctx, textTimerUnset)
}

// Join greets a group the bot was added to.
func (h *Handlers) Join(ctx context.Context, req *Request) error {
	text := textJoinGreeting + "\n\n" + FormatCountdown(h.cd.Remaining())
	if h.opt.RegisterOnJoin {
		if _, err := h.cd.Register(req.Recipient()); err != nil {
			req.Logger.Warn("register on join failed", logx.Err(err))
			_ = req.Reply(ctx, text)
			return err
		}
	}
	return req.Reply(ctx, text)
}

// replyError tells the user what went wrong and returns err for the request
// log.
func (h *Handlers) replyError(ctx context.Context, req *Request, err error) error {
	msg := textInternal
	switch {
	case errors.Is(err, notify.ErrInvalidRecipient):
		msg = textBadChat
	case errors.Is(err, notify.ErrSchedulingFailure):
		msg = textScheduleFail
	}
	_ = req.Reply(ctx, msg)
	return err
}
