package broadcast

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"newsbot/internal/registry"
	"newsbot/internal/storage"
	kit "newsbot/internal/transport"
)

type sentText struct {
	Chat int64
	Text string
	Opt  *kit.SendOptions
	Ref  kit.MessageRef
}

type editText struct {
	Ref  kit.MessageRef
	Text string
	Opt  *kit.SendOptions
}

type copyCall struct {
	To   int64
	From kit.MessageRef
}

// fakeMessenger records every call. copyErr, when set, decides the result of
// each CopyMessage attempt.
type fakeMessenger struct {
	mu      sync.Mutex
	nextID  int
	sent    []sentText
	edits   []editText
	deleted []kit.MessageRef
	copies  []copyCall
	titles  map[int64]string
	copyErr func(to int64, msgID int) error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 1000, titles: map[int64]string{}}
}

func (f *fakeMessenger) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	ref := kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}
	f.sent = append(f.sent, sentText{Chat: to.ChatID, Text: text, Opt: opt, Ref: ref})
	return ref, nil
}

func (f *fakeMessenger) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, editText{Ref: ref, Text: text, Opt: opt})
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeMessenger) CopyMessage(_ context.Context, to kit.ChatTarget, from kit.MessageRef) error {
	f.mu.Lock()
	fn := f.copyErr
	f.mu.Unlock()
	if fn != nil {
		if err := fn(to.ChatID, from.MessageID); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.copies = append(f.copies, copyCall{To: to.ChatID, From: from})
	f.mu.Unlock()
	return nil
}

func (f *fakeMessenger) ChatTitle(_ context.Context, chatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.titles[chatID]; ok {
		return t, nil
	}
	return "", fmt.Errorf("chat %d not found", chatID)
}

func (f *fakeMessenger) lastSent() sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeMessenger) lastEdit() editText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[len(f.edits)-1]
}

func (f *fakeMessenger) copyLog() []copyCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]copyCall(nil), f.copies...)
}

func (f *fakeMessenger) textsTo(chat int64) []string {
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

func newStore(t *testing.T, groups, staff []int64) *registry.Store {
	t.Helper()
	st, err := registry.Open(context.Background(),
		storage.NewMemoryWith(storage.Snapshot{Groups: groups, Staff: staff}),
		registry.Options{})
	require.NoError(t, err)
	return st
}

// buttonData flattens an inline keyboard into rows of callback payloads.
func buttonData(t *testing.T, opt *kit.SendOptions) [][]string {
	t.Helper()
	require.NotNil(t, opt)
	rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup)
	require.True(t, ok, "expected *tele.ReplyMarkup, got %T", opt.ReplyMarkupAdapter)
	var rows [][]string
	for _, row := range rm.InlineKeyboard {
		var r []string
		for _, b := range row {
			r = append(r, b.Data)
		}
		rows = append(rows, r)
	}
	return rows
}
