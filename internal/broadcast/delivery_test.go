package broadcast

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	kit "newsbot/internal/transport"
	logx "newsbot/pkg/logx"
)

var errTest = errors.New("network down")

const initiator = int64(100)

func newEngine(msgr *fakeMessenger, dir Directory, maxMig int) *Engine {
	return NewEngine(EngineConfig{RatePerSec: -1, MaxMigrations: maxMig}, msgr, dir, logx.Nop(), nil)
}

func TestDeliverOrder(t *testing.T) {
	msgr := newFakeMessenger()
	st := newStore(t, []int64{-1, -2}, nil)

	out, err := newEngine(msgr, st, 0).Deliver(context.Background(), initiator, []int64{-1, -2}, []int{10, 11})
	require.NoError(t, err)
	require.Equal(t, Outcome{Attempted: 2, Delivered: 2}, out)
	require.Equal(t, []copyCall{
		{To: -1, From: kit.MessageRef{ChatID: initiator, MessageID: 10}},
		{To: -1, From: kit.MessageRef{ChatID: initiator, MessageID: 11}},
		{To: -2, From: kit.MessageRef{ChatID: initiator, MessageID: 10}},
		{To: -2, From: kit.MessageRef{ChatID: initiator, MessageID: 11}},
	}, msgr.copyLog())
}

func TestDeliverFollowsMigration(t *testing.T) {
	msgr := newFakeMessenger()
	msgr.copyErr = func(to int64, _ int) error {
		if to == -1 {
			return &kit.MigratedError{From: -1, To: -1001}
		}
		return nil
	}
	st := newStore(t, []int64{-1, -2}, nil)

	out, err := newEngine(msgr, st, 0).Deliver(context.Background(), initiator, []int64{-1, -2}, []int{10, 11})
	require.NoError(t, err)
	require.Equal(t, 1, out.Migrations, "later messages go straight to the new id")
	require.Equal(t, 2, out.Delivered)

	var to []int64
	for _, c := range msgr.copyLog() {
		to = append(to, c.To)
	}
	require.Equal(t, []int64{-1001, -1001, -2, -2}, to)

	require.False(t, st.HasDestination(-1))
	require.True(t, st.HasDestination(-1001))
	require.True(t, st.Dirty())
}

func TestDeliverIsolatesRejectedTarget(t *testing.T) {
	msgr := newFakeMessenger()
	msgr.titles[-1] = "Group <A>"
	msgr.copyErr = func(to int64, _ int) error {
		if to == -1 {
			return kit.Rejected(errors.New("Forbidden: bot was kicked from the group chat"))
		}
		return nil
	}
	st := newStore(t, []int64{-1, -2}, nil)

	out, err := newEngine(msgr, st, 0).Deliver(context.Background(), initiator, []int64{-1, -2}, []int{10, 11})
	require.NoError(t, err)
	require.Equal(t, Outcome{Attempted: 2, Delivered: 1, Failed: 1, FailedTargets: []int64{-1}}, out)

	for _, c := range msgr.copyLog() {
		require.Equal(t, int64(-2), c.To)
	}
	require.Len(t, msgr.copyLog(), 2)

	notices := msgr.textsTo(initiator)
	require.Len(t, notices, 1)
	require.Contains(t, notices[0], "Failed to send news to <b>Group &lt;A&gt;</b>")
	require.Equal(t, "HTML", msgr.lastSent().Opt.ParseMode)
}

func TestDeliverMigrationBound(t *testing.T) {
	msgr := newFakeMessenger()
	// Every attempt reports yet another id.
	msgr.copyErr = func(to int64, _ int) error {
		if to > -1000 {
			return &kit.MigratedError{From: to, To: to - 1}
		}
		return nil
	}
	st := newStore(t, []int64{-1}, nil)

	out, err := newEngine(msgr, st, 3).Deliver(context.Background(), initiator, []int64{-1}, []int{10})
	require.NoError(t, err)
	require.Equal(t, 3, out.Migrations)
	require.Equal(t, 1, out.Failed)
	require.Equal(t, []int64{-4}, st.Destinations())
	require.Empty(t, msgr.copyLog())
	require.Contains(t, msgr.textsTo(initiator)[0], "keeps changing its id")
}

func TestDeliverUnboundedMigrations(t *testing.T) {
	msgr := newFakeMessenger()
	msgr.copyErr = func(to int64, _ int) error {
		if to > -20 {
			return &kit.MigratedError{From: to, To: to - 1}
		}
		return nil
	}
	st := newStore(t, []int64{-1}, nil)

	out, err := newEngine(msgr, st, -1).Deliver(context.Background(), initiator, []int64{-1}, []int{10})
	require.NoError(t, err)
	require.Equal(t, 19, out.Migrations)
	require.Equal(t, 1, out.Delivered)
	require.Equal(t, []int64{-20}, st.Destinations())
}

func TestDeliverPropagatesUnclassifiedError(t *testing.T) {
	msgr := newFakeMessenger()
	msgr.copyErr = func(to int64, _ int) error {
		if to == -2 {
			return errTest
		}
		return nil
	}
	st := newStore(t, []int64{-1, -2, -3}, nil)

	out, err := newEngine(msgr, st, 0).Deliver(context.Background(), initiator, []int64{-1, -2, -3}, []int{10})
	require.ErrorIs(t, err, errTest)
	require.Equal(t, 1, out.Delivered)
	require.Len(t, msgr.copyLog(), 1)
	require.Empty(t, msgr.textsTo(initiator))
}
