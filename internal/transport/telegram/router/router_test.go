package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"newsbot/internal/broadcast"
	"newsbot/internal/onboarding"
	"newsbot/internal/registry"
	"newsbot/internal/storage"
	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

type sent struct {
	Chat int64
	Text string
}

// fakeTransport implements Transport, broadcast.Messenger and onboarding.Replier.
type fakeTransport struct {
	mu      sync.Mutex
	seq     int
	sent    []sent
	answers map[string]string
	menu    []kit.BotCommand
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{answers: map[string]string{}}
}

func (f *fakeTransport) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.sent = append(f.sent, sent{Chat: to.ChatID, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: 900 + f.seq}, nil
}

func (f *fakeTransport) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeTransport) DeleteMessage(context.Context, kit.MessageRef) error { return nil }

func (f *fakeTransport) CopyMessage(context.Context, kit.ChatTarget, kit.MessageRef) error {
	return nil
}

func (f *fakeTransport) ChatTitle(context.Context, int64) (string, error) { return "group", nil }

func (f *fakeTransport) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[id] = text
	return nil
}

func (f *fakeTransport) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeTransport) texts(chat int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.sent {
		if s.Chat == chat {
			out = append(out, s.Text)
		}
	}
	return out
}

const staff = int64(10)

type fixture struct {
	r     *Router
	t     *fakeTransport
	store *registry.Store
}

func newFixture(t *testing.T, groups []int64) fixture {
	t.Helper()
	st, err := registry.Open(context.Background(),
		storage.NewMemoryWith(storage.Snapshot{Groups: groups, Staff: []int64{staff}}),
		registry.Options{})
	require.NoError(t, err)

	tr := newFakeTransport()
	bc := broadcast.NewService(tr, st, broadcast.Options{Engine: broadcast.EngineConfig{RatePerSec: -1}})
	ob := onboarding.NewService(st, tr, logx.Nop())
	return fixture{r: New(Config{BotName: "newsbot"}, tr, bc, ob, st, logx.Nop()), t: tr, store: st}
}

func private(from int64, id int, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: id, ChatID: from, FromID: from, Text: text, Private: true}}
}

func TestStartCommand(t *testing.T) {
	f := newFixture(t, nil)
	f.r.Handle(context.Background(), private(5, 1, "/start"))
	require.Equal(t, []string{TextStart}, f.t.texts(5))
}

func TestUnknownCommandIgnored(t *testing.T) {
	f := newFixture(t, []int64{-1})
	f.r.Handle(context.Background(), private(staff, 1, "/help"))
	f.r.Handle(context.Background(), private(staff, 2, "/start@otherbot"))
	require.Empty(t, f.t.texts(staff))
}

func TestMembership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	member := func(chat int64, joined, self bool) kit.Update {
		return kit.Update{Kind: kit.UpdateMember, Member: &kit.MemberEvent{ChatID: chat, UserID: 77, Joined: joined, Self: self}}
	}

	f.r.Handle(ctx, member(-100, true, true))
	f.r.Handle(ctx, member(-100, true, false))
	require.Equal(t, []int64{-100}, f.store.Destinations())

	f.r.Handle(ctx, member(-100, false, false))
	require.Empty(t, f.store.Destinations(), "any member leaving unsubscribes")

	f.r.Handle(ctx, member(-100, true, false))
	require.Equal(t, []int64{-100}, f.store.Destinations())

	f.r.Handle(ctx, member(-100, false, true))
	require.Empty(t, f.store.Destinations())

	f.r.Handle(ctx, member(-100, false, true))
	require.Empty(t, f.store.Destinations())

	f.r.Handle(ctx, member(55, true, true))
	require.Empty(t, f.store.Destinations(), "private chats are not destinations")
}

func TestMigrationUpdate(t *testing.T) {
	f := newFixture(t, []int64{-1, -2})
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMigration, Migration: &kit.Migration{From: -1, To: -1001}})
	require.Equal(t, []int64{-2, -1001}, f.store.Destinations())
}

func TestAddStaffViaRouter(t *testing.T) {
	f := newFixture(t, []int64{-1})
	ctx := context.Background()

	f.r.Handle(ctx, private(staff, 1, "/addstaff"))
	f.r.Handle(ctx, private(staff, 2, "not a contact"))

	contact := private(staff, 3, "")
	contact.Message.Contact = &kit.Contact{UserID: 99, FirstName: "New"}
	f.r.Handle(ctx, contact)

	require.Equal(t, []string{
		onboarding.TextAskContact,
		onboarding.TextRetry,
		onboarding.TextAdded,
	}, f.t.texts(staff), "onboarding input never reaches the broadcast flow")
	require.True(t, f.store.IsStaff(99))
}

func TestAddStaffRejectedForNonStaff(t *testing.T) {
	f := newFixture(t, []int64{-1})
	f.r.Handle(context.Background(), private(5, 1, "/addstaff"))
	require.Equal(t, []string{onboarding.TextNotAuthorized}, f.t.texts(5))
}

func TestCancelCommand(t *testing.T) {
	f := newFixture(t, []int64{-1})
	ctx := context.Background()

	f.r.Handle(ctx, private(staff, 1, "/cancel"))
	require.Equal(t, []string{TextNothing}, f.t.texts(staff))

	f.r.Handle(ctx, private(staff, 2, "/addstaff"))
	f.r.Handle(ctx, private(staff, 3, "/cancel"))
	require.Equal(t, onboarding.TextCancelled, f.t.texts(staff)[2])
}

func TestBroadcastMessageAndCallback(t *testing.T) {
	f := newFixture(t, []int64{-1})
	ctx := context.Background()

	f.r.Handle(ctx, private(staff, 1, "news"))
	require.Equal(t, []string{broadcast.TextChooseGroups}, f.t.texts(staff))

	f.r.Handle(ctx, kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{
		ID: "q1", FromID: staff, ChatID: staff, MessageID: 901, Data: "send_to_all",
	}})
	f.t.mu.Lock()
	answer, ok := f.t.answers["q1"]
	f.t.mu.Unlock()
	require.True(t, ok)
	require.Empty(t, answer)
}

func TestGroupMessagesAreNotBroadcast(t *testing.T) {
	f := newFixture(t, []int64{-1})
	f.r.Handle(context.Background(), kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: 1, ChatID: -1, FromID: staff, Text: "hi"}})
	require.Empty(t, f.t.texts(-1))
	require.Empty(t, f.t.texts(staff))
}

func TestNonStaffBroadcastIsNotAServerError(t *testing.T) {
	f := newFixture(t, []int64{-1})
	f.r.Handle(context.Background(), private(5, 1, "hello"))
	require.Equal(t, []string{broadcast.TextNotAuthorized}, f.t.texts(5))
}

type failingBroadcaster struct{ panics bool }

func (b failingBroadcaster) HandleMessage(context.Context, *kit.Message) error {
	if b.panics {
		panic("boom")
	}
	return errors.New("transport exploded")
}

func (failingBroadcaster) HandleCallback(context.Context, *kit.Callback) (string, error) {
	return "", nil
}

func (failingBroadcaster) Cancel(context.Context, int64, int64) (bool, error) { return false, nil }

func TestServerErrorNotice(t *testing.T) {
	for _, panics := range []bool{false, true} {
		f := newFixture(t, []int64{-1})
		r := New(Config{}, f.t, failingBroadcaster{panics: panics}, onboarding.NewService(f.store, f.t, logx.Nop()), f.store, logx.Nop())
		r.Handle(context.Background(), private(staff, 1, "news"))
		require.Equal(t, []string{TextServerError}, f.t.texts(staff))
	}
}

func TestDispatchLoop(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 4)
	done := make(chan error, 1)
	go func() { done <- f.r.DispatchLoop(ctx, updates) }()

	updates <- private(5, 1, "/start")
	updates <- kit.Update{Kind: kit.UpdateMember, Member: &kit.MemberEvent{ChatID: -3, Joined: true, Self: true}}

	require.Eventually(t, func() bool {
		return len(f.t.texts(5)) == 1 && len(f.store.Destinations()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		f.t.mu.Lock()
		defer f.t.mu.Unlock()
		return len(f.t.menu) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.Nil(t, f.r.Supervisor())
}

func TestParseCommand(t *testing.T) {
	require.Equal(t, "start", parseCommand("/start", ""))
	require.Equal(t, "addstaff", parseCommand("  /AddStaff now", ""))
	require.Equal(t, "cancel", parseCommand("/cancel@NewsBot", "newsbot"))
	require.Equal(t, "", parseCommand("/cancel@other_bot", "newsbot"))
	require.Equal(t, "", parseCommand("hello", ""))
}

func TestMenuCommands(t *testing.T) {
	cmds := menuCommands([]Command{{Name: "add-staff", Description: " add "}, {Name: "??"}})
	require.Equal(t, []kit.BotCommand{{Command: "add_staff", Description: "add"}}, cmds)
}

func TestMiddlewareChain(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *Request) error {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}
	h := Chain(func(ctx context.Context, _ *Request) error {
		_, ok := ctx.Deadline()
		require.True(t, ok)
		return nil
	}, mw("outer"), mw("inner"), MWTimeout(time.Second))
	require.NoError(t, h(context.Background(), &Request{}))
	require.Equal(t, []string{"outer", "inner"}, order)

	p := Chain(func(context.Context, *Request) error { panic("x") }, MWPanicRecover(logx.Nop()))
	require.ErrorIs(t, p(context.Background(), &Request{}), ErrPanic)
}

// blockingBroadcaster holds every message until release is closed.
type blockingBroadcaster struct {
	failingBroadcaster
	entered chan struct{}
	release chan struct{}
}

func (b blockingBroadcaster) HandleMessage(ctx context.Context, _ *kit.Message) error {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return nil
}

func TestFullQueueKeepsMembershipUpdates(t *testing.T) {
	f := newFixture(t, nil)
	bc := blockingBroadcaster{entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := New(Config{Workers: 1, QueueSize: 1}, f.t, bc, onboarding.NewService(f.store, f.t, logx.Nop()), f.store, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 8)
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	updates <- private(staff, 1, "news")
	<-bc.entered
	updates <- private(staff, 2, "more news")
	updates <- kit.Update{Kind: kit.UpdateMember, Member: &kit.MemberEvent{ChatID: -42, Joined: true, Self: true}}
	updates <- kit.Update{Kind: kit.UpdateMigration, Migration: &kit.Migration{From: -42, To: -1042}}

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, f.store.Destinations())
	close(bc.release)

	require.Eventually(t, func() bool {
		d := f.store.Destinations()
		return len(d) == 1 && d[0] == -1042
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
