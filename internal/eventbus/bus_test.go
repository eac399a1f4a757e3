package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFanoutAndUnsubscribe(t *testing.T) {
	bus := New()
	a, unsubA := bus.Subscribe(1)
	b, unsubB := bus.Subscribe(1)
	defer unsubB()

	Emit(bus, TypeSubscribed, DestinationChange{ChatID: -1})
	ea, eb := <-a, <-b
	require.Equal(t, TypeSubscribed, ea.Type)
	require.False(t, ea.Time.IsZero())
	require.Equal(t, DestinationChange{ChatID: -1}, eb.Data)

	unsubA()
	unsubA()
	_, ok := <-a
	require.False(t, ok)

	Emit(bus, TypeFlushed, nil)
	require.Equal(t, TypeFlushed, (<-b).Type)
}

func TestPublishNeverBlocks(t *testing.T) {
	bus := New()
	ch, unsub := bus.Subscribe(1)
	defer unsub()

	Emit(bus, TypeMigrated, nil)
	Emit(bus, TypeUnsubscribed, nil)
	require.Len(t, ch, 1)
	require.Equal(t, TypeMigrated, (<-ch).Type)
	require.Equal(t, uint64(1), Dropped(bus))

	Emit(nil, TypeFlushed, nil)
}
