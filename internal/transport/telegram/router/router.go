// Package router turns transport updates into calls on the bot's services.
package router

import (
	"context"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	rtsup "newsbot/internal/runtime/supervisor"
	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

// Transport is what the router itself sends.
type Transport interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

type Broadcaster interface {
	HandleMessage(ctx context.Context, m *kit.Message) error
	HandleCallback(ctx context.Context, cb *kit.Callback) (string, error)
	Cancel(ctx context.Context, chatID, userID int64) (bool, error)
}

type Onboarder interface {
	Begin(ctx context.Context, m *kit.Message) error
	Active(chatID, userID int64) bool
	HandleMessage(ctx context.Context, m *kit.Message) (bool, error)
	Cancel(ctx context.Context, m *kit.Message) (bool, error)
}

type Subscriptions interface {
	Subscribe(chatID int64) bool
	Unsubscribe(chatID int64) bool
	Migrate(from, to int64) bool
}

type Config struct {
	Workers   int
	QueueSize int
	// BotName is the bot's username; commands addressed to other bots are ignored.
	BotName string
}

type Router struct {
	cfg     Config
	t       Transport
	bcast   Broadcaster
	onboard Onboarder
	subs    Subscriptions
	log     logx.Logger

	cmds map[string]Command

	runMu  sync.Mutex
	sup    *rtsup.Supervisor
	queues []chan func()
}

func New(cfg Config, t Transport, b Broadcaster, o Onboarder, s Subscriptions, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	r := &Router{
		cfg:     cfg,
		t:       t,
		bcast:   b,
		onboard: o,
		subs:    s,
		log:     log.With(logx.String("comp", "telegram.router")),
		cmds:    map[string]Command{},
	}
	for _, c := range r.commands() {
		r.cmds[c.Name] = c
	}
	return r
}

// Supervisor returns the worker pool supervisor (nil if not running).
func (r *Router) Supervisor() *rtsup.Supervisor {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	return r.sup
}

// DispatchLoop consumes updates until ctx is done or updates is closed.
//
// Updates are sharded by chat id so one chat's updates run in arrival order
// while different chats proceed in parallel. A full shard blocks the loop
// until its worker catches up; no update is dropped.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	queues := make([]chan func(), r.cfg.Workers)
	for i := range queues {
		queues[i] = make(chan func(), r.cfg.QueueSize)
	}
	r.runMu.Lock()
	r.sup, r.queues = sup, queues
	r.runMu.Unlock()

	for i := range queues {
		idx := i
		jobs := queues[i]
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job, ok := <-jobs:
					if !ok {
						return nil
					}
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in router job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	sup.Go0("router.menu", r.publishMenu)
	r.log.Info("dispatcher started", logx.Int("workers", len(queues)), logx.Int("queue_cap", r.cfg.QueueSize))

	defer func() {
		r.runMu.Lock()
		r.queues = nil
		r.runMu.Unlock()
		for _, q := range queues {
			close(q)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.enqueue(ctx, up)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, up kit.Update) {
	r.runMu.Lock()
	queues := r.queues
	r.runMu.Unlock()
	if len(queues) == 0 {
		return
	}
	chat := chatOf(up)
	shard := int(uint64(chat) % uint64(len(queues)))

	job := func() { r.Handle(ctx, up) }
	select {
	case queues[shard] <- job:
		return
	default:
	}
	// Full shard: hold the intake back rather than lose a membership or
	// migration update. The adapter and the update channel buffer meanwhile.
	r.log.Debug("dispatch queue full; waiting", logx.Int64("chat_id", chat), logx.String("kind", string(up.Kind)))
	select {
	case queues[shard] <- job:
	case <-ctx.Done():
	}
}

func chatOf(up kit.Update) int64 {
	switch {
	case up.Message != nil:
		return up.Message.ChatID
	case up.Callback != nil:
		return up.Callback.ChatID
	case up.Member != nil:
		return up.Member.ChatID
	case up.Migration != nil:
		return up.Migration.From
	}
	return 0
}

// Handle processes one update synchronously.
func (r *Router) Handle(ctx context.Context, up kit.Update) {
	req, h, timeout := r.route(up)
	if h == nil {
		return
	}
	req.ReqID = uuid.NewString()
	req.Logger = r.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", req.Chat.ChatID),
		logx.Int64("from_id", req.FromID),
		logx.String("route", req.Route),
	)
	final := Chain(h,
		MWServerError(r.t),
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	_ = final(ctx, req)
}

func (r *Router) route(up kit.Update) (*Request, HandlerFunc, time.Duration) {
	req := &Request{Update: up}
	switch up.Kind {
	case kit.UpdateMessage:
		m := up.Message
		if m == nil {
			return nil, nil, 0
		}
		req.Message = m
		req.Chat = kit.ChatTarget{ChatID: m.ChatID}
		req.FromID = m.FromID

		if name := parseCommand(m.Text, r.cfg.BotName); name != "" {
			cmd, ok := r.cmds[name]
			if !ok {
				return nil, nil, 0
			}
			req.Route = "/" + cmd.Name
			return req, cmd.Handle, cmd.Timeout
		}
		if r.onboard.Active(m.ChatID, m.FromID) {
			req.Route = "onboarding"
			return req, r.onboarding, 0
		}
		if m.Private && m.Contact == nil && (m.Text != "" || m.HasMedia) {
			req.Route = "broadcast.message"
			return req, r.broadcastMessage, 0
		}

	case kit.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil, nil, 0
		}
		req.Chat = kit.ChatTarget{ChatID: cb.ChatID}
		req.FromID = cb.FromID
		req.Route = "broadcast.callback"
		return req, r.callback, 0

	case kit.UpdateMember:
		if up.Member == nil {
			return nil, nil, 0
		}
		req.FromID = up.Member.UserID
		req.Route = "membership"
		return req, r.membership, 30 * time.Second

	case kit.UpdateMigration:
		if up.Migration == nil {
			return nil, nil, 0
		}
		req.Route = "migration"
		return req, r.migration, 30 * time.Second
	}
	return nil, nil, 0
}

func (r *Router) onboarding(ctx context.Context, req *Request) error {
	_, err := r.onboard.HandleMessage(ctx, req.Message)
	return err
}

func (r *Router) broadcastMessage(ctx context.Context, req *Request) error {
	return r.bcast.HandleMessage(ctx, req.Message)
}

func (r *Router) callback(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	answer, err := r.bcast.HandleCallback(ctx, cb)
	// Always answer so the client stops its spinner.
	if aerr := r.t.AnswerCallback(context.WithoutCancel(ctx), cb.ID, answer); aerr != nil {
		req.Logger.Debug("callback answer failed", logx.Err(aerr))
	}
	return err
}

// membership subscribes a chat on any join and unsubscribes it on any leave,
// including another member leaving; the next join subscribes it again.
// Private chats are never destinations.
func (r *Router) membership(_ context.Context, req *Request) error {
	ev := req.Update.Member
	if ev.ChatID >= 0 {
		return nil
	}
	var changed bool
	if ev.Joined {
		changed = r.subs.Subscribe(ev.ChatID)
	} else {
		changed = r.subs.Unsubscribe(ev.ChatID)
	}
	req.Logger.Debug("membership", logx.Bool("joined", ev.Joined), logx.Bool("self", ev.Self), logx.Bool("changed", changed))
	return nil
}

func (r *Router) migration(_ context.Context, req *Request) error {
	mg := req.Update.Migration
	if mg.From == 0 || mg.To == 0 {
		return nil
	}
	r.subs.Migrate(mg.From, mg.To)
	return nil
}
