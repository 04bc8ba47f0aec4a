package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	rtsup "countdownbot/internal/runtime/supervisor"
	kit "countdownbot/internal/transport"
	logx "countdownbot/pkg/logx"
)

// Replier sends replies. The transport adapter implements it.
type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Command struct {
	Name        string
	Aliases     []string
	Description string
	// Hidden commands work but are left out of /help and the menu.
	Hidden  bool
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	replier Replier
}

// Recipient is the notification key of the chat the request came from.
func (r *Request) Recipient() string { return r.Chat.String() }

func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.replier.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Router turns updates into command handler calls on a bounded worker pool.
type Router struct {
	mu     sync.RWMutex
	byName map[string]*Command
	list   []Command
	onJoin HandlerFunc

	log     logx.Logger
	replier Replier
	timeout time.Duration

	runMu   sync.Mutex
	running bool
	sup     *rtsup.Supervisor
	jobs    chan func()
}

func NewRouter(log logx.Logger, replier Replier, defaultTimeout time.Duration) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		byName:  map[string]*Command{},
		log:     log,
		replier: replier,
		timeout: defaultTimeout,
		jobs:    make(chan func(), 256),
	}
}

// SetRegistry replaces the command set. onJoin handles the bot being added
// to a group; nil ignores such updates.
func (r *Router) SetRegistry(cmds []Command, onJoin HandlerFunc) {
	byName := map[string]*Command{}
	list := make([]Command, 0, len(cmds))
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		cc.Name = name
		list = append(list, cc)
	}
	for i := range list {
		byName[list[i].Name] = &list[i]
	}
	// Aliases never shadow a real command name.
	for i := range list {
		for _, a := range list[i].Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if _, exists := byName[a]; a == "" || exists {
				continue
			}
			byName[a] = &list[i]
		}
	}

	r.mu.Lock()
	r.byName = byName
	r.list = list
	r.onJoin = onJoin
	r.mu.Unlock()
}

// Commands lists the visible commands sorted by name.
func (r *Router) Commands() []Command {
	r.mu.RLock()
	out := make([]Command, 0, len(r.list))
	for _, c := range r.list {
		if !c.Hidden {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PublishMenu pushes the visible commands to the platform menu if the
// replier supports it.
func (r *Router) PublishMenu(ctx context.Context) error {
	up, ok := r.replier.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	cmds := r.Commands()
	menu := make([]kit.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		menu = append(menu, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return up.UpdateMenuCommands(cctx, menu)
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}
	return r.sup
}

func (r *Router) setSupervisor(sup *rtsup.Supervisor, running bool) {
	r.runMu.Lock()
	r.sup = sup
	r.running = running
	r.runMu.Unlock()
}

// tryEnqueue tolerates the jobs channel being closed during shutdown.
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)

	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	r.setSupervisor(sup, true)
	r.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(r.jobs)))

	var closeOnce sync.Once
	closeJobs := func() {
		closeOnce.Do(func() {
			r.setSupervisor(sup, false)
			close(r.jobs)
		})
	}

	for i := 0; i < workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-r.jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		},
			rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			rtsup.WithPublishFirstError(true),
		)
	}

	defer func() {
		closeJobs()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.setSupervisor(nil, false)
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) route(ctx context.Context, up kit.Update) {
	if up.Message == nil {
		return
	}
	switch up.Kind {
	case kit.UpdateMessage:
		r.routeMessage(ctx, up)
	case kit.UpdateAddedToGroup:
		r.mu.RLock()
		h := r.onJoin
		r.mu.RUnlock()
		if h != nil {
			r.enqueue(ctx, up, "join", nil, h, 0)
		}
	}
}

// parseCommand splits "/name@bot arg1 arg2" into lower-case name and args.
// ok is false for text that is not a command.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	parts := strings.Fields(text)
	name = strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), parts[1:], true
}

func (r *Router) routeMessage(ctx context.Context, up kit.Update) {
	name, args, ok := parseCommand(up.Message.Text)
	if !ok {
		return
	}

	r.mu.RLock()
	cmd := r.byName[name]
	r.mu.RUnlock()
	if cmd == nil {
		// Group chats see commands meant for other bots; stay quiet there.
		if !up.Message.IsGroup {
			_, _ = r.replier.SendText(ctx, up.Message.Target(), textUnknown, nil)
		}
		return
	}
	r.enqueue(ctx, up, cmd.Name, args, cmd.Handle, cmd.Timeout)
}

func (r *Router) enqueue(ctx context.Context, up kit.Update, command string, args []string, h HandlerFunc, timeout time.Duration) {
	msg := up.Message
	if timeout <= 0 {
		timeout = r.timeout
	}
	rid := newReqID()
	req := &Request{
		Update:  up,
		Chat:    msg.Target(),
		FromID:  msg.FromID,
		Command: command,
		Args:    args,
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", command),
		),
		replier: r.replier,
	}

	final := Chain(h,
		MWPanicRecover(),
		MWRequestLog(),
		MWTimeout(timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.replier.SendText(ctx, req.Chat, textBusy, nil)
	}
}

var ridSeq atomic.Uint64

// newReqID is a short, log-friendly request id: base36 time plus a sequence.
func newReqID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36) + "-" + strconv.FormatUint(ridSeq.Add(1), 36)
}
