package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "newsbot/internal/runtime/supervisor"
	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

var (
	_ kit.Adapter            = (*Adapter)(nil)
	_ kit.CommandMenuUpdater = (*Adapter)(nil)
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Pointer[sink]
	runMu   sync.Mutex
	running bool

	// sup owns adapter goroutines (poll loop, backlog reporter, stop watcher).
	sup *rtsup.Supervisor

	// stalled counts updates that had to wait for room in the dispatcher channel.
	stalled atomic.Uint64

	menuMu   sync.Mutex
	menuHash uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	a.registerHandlers()
	return a, nil
}

// Username returns the bot's own username.
func (a *Adapter) Username() string {
	if a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

// Supervisor returns the adapter's internal supervisor (nil if not started).
func (a *Adapter) Supervisor() *rtsup.Supervisor {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	return a.sup
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	onMessage := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil || m.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: convertMessage(m)})
		return nil
	}
	a.bot.Handle(tele.OnText, onMessage)
	a.bot.Handle(tele.OnMedia, onMessage)
	a.bot.Handle(tele.OnContact, onMessage)

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		if cb == nil || cb.Message == nil || cb.Message.Chat == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:        cb.ID,
				FromID:    cb.Sender.ID,
				ChatID:    cb.Message.Chat.ID,
				MessageID: cb.Message.ID,
				Data:      strings.TrimSpace(cb.Data),
			},
		})
		return nil
	})

	joined := func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		ev := &kit.MemberEvent{ChatID: m.Chat.ID, Joined: true, Self: true}
		if m.UserJoined != nil {
			ev.UserID = m.UserJoined.ID
			ev.Self = a.isSelf(m.UserJoined)
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMember, Member: ev})
		return nil
	}
	a.bot.Handle(tele.OnUserJoined, joined)
	a.bot.Handle(tele.OnAddedToGroup, joined)
	a.bot.Handle(tele.OnGroupCreated, joined)
	a.bot.Handle(tele.OnSuperGroupCreated, joined)

	a.bot.Handle(tele.OnUserLeft, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil || m.UserLeft == nil {
			return nil
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMember, Member: &kit.MemberEvent{
			ChatID: m.Chat.ID,
			UserID: m.UserLeft.ID,
			Self:   a.isSelf(m.UserLeft),
		}})
		return nil
	})

	// my_chat_member covers removals that produce no service message (kicked
	// from a channel-linked group, banned while offline, ...).
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		u := c.ChatMember()
		if u == nil || u.Chat == nil || u.NewChatMember == nil {
			return nil
		}
		ev := &kit.MemberEvent{ChatID: u.Chat.ID, Self: true}
		switch u.NewChatMember.Role {
		case tele.Left, tele.Kicked:
		default:
			ev.Joined = true
		}
		if u.NewChatMember.User != nil {
			ev.UserID = u.NewChatMember.User.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMember, Member: ev})
		return nil
	})

	a.bot.Handle(tele.OnMigration, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.MigrateTo == 0 {
			return nil
		}
		from := m.MigrateFrom
		if from == 0 && m.Chat != nil {
			from = m.Chat.ID
		}
		a.sendUpdate(kit.Update{Kind: kit.UpdateMigration, Migration: &kit.Migration{From: from, To: m.MigrateTo}})
		return nil
	})
}

func (a *Adapter) isSelf(u *tele.User) bool {
	return u != nil && a.bot.Me != nil && u.ID == a.bot.Me.ID
}

func convertMessage(m *tele.Message) *kit.Message {
	out := &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
		Private:      m.Chat.Type == tele.ChatPrivate,
		HasMedia:     m.Media() != nil,
	}
	if m.Contact != nil {
		out.Contact = &kit.Contact{
			UserID:    m.Contact.UserID,
			FirstName: m.Contact.FirstName,
			Phone:     m.Contact.PhoneNumber,
		}
	}
	return out
}

// sink is where converted updates go while the adapter runs.
type sink struct {
	ch   chan<- kit.Update
	done <-chan struct{}
}

// sendUpdate blocks until the dispatcher takes up or the adapter stops.
// telebot runs each handler in its own goroutine, so a full channel slows
// intake down instead of losing membership or migration updates.
func (a *Adapter) sendUpdate(up kit.Update) bool {
	s := a.out.Load()
	if s == nil {
		return false
	}
	select {
	case s.ch <- up:
		return true
	default:
	}
	a.stalled.Add(1)
	select {
	case s.ch <- up:
		return true
	case <-s.done:
		a.log.Warn("update discarded on shutdown", logx.String("kind", string(up.Kind)))
		return false
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app.
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.out.Store(&sink{ch: out, done: sup.Context().Done()})
	a.runMu.Unlock()

	sup.Go0("updates.backlog_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.Done():
				return
			case <-ticker.C:
				a.reportStalled(cap(out))
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// telebot's Start() can return unexpectedly; keep it under a restart loop.
	sup.GoRestart0("telebot.poll", func(c context.Context) {
		a.log.Info("polling started", logx.String("bot", a.bot.Me.Username))
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportStalled(capacity int) {
	if n := a.stalled.Swap(0); n > 0 {
		a.log.Warn("dispatcher backlog: updates waited for room", logx.Uint64("count", n), logx.Int("chan_cap", capacity))
	}
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.out.Store(nil)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	sup.Cancel()
	go a.bot.Stop()

	// Never block shutdown for long on a pending getUpdates long-poll.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	chat := &tele.Chat{ID: to.ChatID}
	msg, err := a.bot.Send(chat, text, sendOptions(chat, opt))
	if err != nil {
		return kit.MessageRef{}, classify(to.ChatID, err)
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chat := &tele.Chat{ID: ref.ChatID}
	_, err := a.bot.Edit(stored(ref), text, sendOptions(chat, opt))
	if errors.Is(err, tele.ErrSameMessageContent) {
		return nil
	}
	return classify(ref.ChatID, err)
}

func (a *Adapter) DeleteMessage(ctx context.Context, ref kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return classify(ref.ChatID, a.bot.Delete(stored(ref)))
}

func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, stored(from))
	return classify(to.ChatID, err)
}

func (a *Adapter) ChatTitle(ctx context.Context, chatID int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ch, err := a.bot.ChatByID(chatID)
	if err != nil {
		return "", classify(chatID, err)
	}
	switch {
	case strings.TrimSpace(ch.Title) != "":
		return ch.Title, nil
	case strings.TrimSpace(ch.FirstName) != "":
		return strings.TrimSpace(ch.FirstName + " " + ch.LastName), nil
	case ch.Username != "":
		return "@" + ch.Username, nil
	}
	return strconv.FormatInt(chatID, 10), nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

// UpdateMenuCommands publishes the command list shown in Telegram's menu.
// The network call is skipped when the list did not change.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	h := fnv.New64a()
	out := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		h.Write([]byte(c.Command))
		h.Write([]byte{0})
		h.Write([]byte(c.Description))
		h.Write([]byte{0})
		out = append(out, tele.Command{Text: c.Command, Description: c.Description})
	}
	sum := h.Sum64()
	if sum == a.menuHash {
		return nil
	}
	if err := a.bot.SetCommands(out); err != nil {
		return err
	}
	a.menuHash = sum
	return nil
}

func stored(ref kit.MessageRef) *tele.StoredMessage {
	return &tele.StoredMessage{MessageID: strconv.Itoa(ref.MessageID), ChatID: ref.ChatID}
}

func sendOptions(chat *tele.Chat, opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if opt.ReplyTo > 0 {
		so.ReplyTo = &tele.Message{ID: opt.ReplyTo, Chat: chat}
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok && rm != nil {
		so.ReplyMarkup = rm
	}
	return so
}

// Unmapped Bot API errors come back as plain "telegram: <description> (<code>)" strings.
var codeSuffix = regexp.MustCompile(`\((\d{3})\)\s*$`)

// classify maps telebot errors onto the transport error taxonomy:
// migration -> *kit.MigratedError, 400/403 -> kit.ErrRejected, everything else unchanged.
func classify(chatID int64, err error) error {
	if err == nil {
		return nil
	}
	var ge tele.GroupError
	if errors.As(err, &ge) && ge.MigratedTo != 0 {
		return &kit.MigratedError{From: chatID, To: ge.MigratedTo}
	}
	var gep *tele.GroupError
	if errors.As(err, &gep) && gep != nil && gep.MigratedTo != 0 {
		return &kit.MigratedError{From: chatID, To: gep.MigratedTo}
	}
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		if te.Code == 400 || te.Code == 403 {
			return kit.Rejected(err)
		}
		return err
	}
	if m := codeSuffix.FindStringSubmatch(err.Error()); m != nil && (m[1] == "400" || m[1] == "403") {
		return kit.Rejected(err)
	}
	return err
}
