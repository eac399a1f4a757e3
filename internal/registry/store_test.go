package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"newsbot/internal/eventbus"
	"newsbot/internal/storage"
)

type flakyBackend struct {
	*storage.Memory
	mu   sync.Mutex
	fail bool
}

func (b *flakyBackend) setFail(v bool) {
	b.mu.Lock()
	b.fail = v
	b.mu.Unlock()
}

func (b *flakyBackend) Save(ctx context.Context, snap storage.Snapshot) error {
	b.mu.Lock()
	fail := b.fail
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.Memory.Save(ctx, snap)
}

type StoreSuite struct {
	suite.Suite
	ctx     context.Context
	backend *storage.Memory
	store   *Store
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.backend = storage.NewMemoryWith(storage.Snapshot{Groups: []int64{-1, -2}, Staff: []int64{10}})
	st, err := Open(s.ctx, s.backend, Options{})
	s.Require().NoError(err)
	s.store = st
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) TestLoadedState() {
	s.Equal([]int64{-1, -2}, s.store.Destinations())
	s.True(s.store.IsStaff(10))
	s.False(s.store.IsStaff(11))
	s.False(s.store.Dirty())
}

func (s *StoreSuite) TestSubscribeIsIdempotent() {
	s.True(s.store.Subscribe(-3))
	s.False(s.store.Subscribe(-3))
	s.Equal([]int64{-1, -2, -3}, s.store.Destinations())
	s.True(s.store.Dirty())
}

func (s *StoreSuite) TestUnsubscribeAbsentIsNoop() {
	s.False(s.store.Unsubscribe(-99))
	s.Equal([]int64{-1, -2}, s.store.Destinations())
	s.False(s.store.Dirty())

	s.True(s.store.Unsubscribe(-1))
	s.Equal([]int64{-2}, s.store.Destinations())
}

func (s *StoreSuite) TestMigrate() {
	s.True(s.store.Migrate(-1, -1001))
	s.Equal([]int64{-2, -1001}, s.store.Destinations())

	// Old id already gone, new id already present.
	s.False(s.store.Migrate(-1, -1001))
	s.False(s.store.Migrate(-5, -5))
}

func (s *StoreSuite) TestAddStaff() {
	s.True(s.store.AddStaff(11))
	s.False(s.store.AddStaff(11))
	s.True(s.store.IsStaff(11))
	s.Equal([]int64{10, 11}, s.store.Snapshot().Staff)
}

func (s *StoreSuite) TestFlushOnlyWhenDirty() {
	s.NoError(s.store.Flush(s.ctx))
	s.Equal(0, s.backend.Saves())

	s.store.Subscribe(-3)
	s.NoError(s.store.Flush(s.ctx))
	s.Equal(1, s.backend.Saves())
	s.False(s.store.Dirty())

	snap, found, err := s.backend.Load(s.ctx)
	s.NoError(err)
	s.True(found)
	s.Equal([]int64{-1, -2, -3}, snap.Groups)
}

func (s *StoreSuite) TestEventsPublished() {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	s.store.bus = bus

	s.store.Subscribe(-7)
	ev := <-ch
	s.Equal(eventbus.TypeSubscribed, ev.Type)
	s.Equal(eventbus.DestinationChange{ChatID: -7}, ev.Data)
}

func TestOpenEmptyBackendMarksDirty(t *testing.T) {
	backend := storage.NewMemory()
	st, err := Open(context.Background(), backend, Options{SeedStaff: []int64{5, 0, 5}})
	require.NoError(t, err)
	require.True(t, st.Dirty())
	require.True(t, st.IsStaff(5))
	require.Empty(t, st.Destinations())

	require.NoError(t, st.Flush(context.Background()))
	snap, found, err := backend.Load(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []int64{5}, snap.Staff)
	require.Empty(t, snap.Groups)
}

type brokenBackend struct{ storage.Backend }

func (brokenBackend) Load(context.Context) (storage.Snapshot, bool, error) {
	return storage.Snapshot{}, false, errors.New("corrupt")
}

func TestOpenLoadFailure(t *testing.T) {
	_, err := Open(context.Background(), brokenBackend{}, Options{})
	require.Error(t, err)
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	backend := &flakyBackend{Memory: storage.NewMemory()}
	st, err := Open(context.Background(), backend, Options{})
	require.NoError(t, err)

	backend.setFail(true)
	st.Subscribe(-1)
	require.Error(t, st.Flush(context.Background()))
	require.True(t, st.Dirty())
	require.Equal(t, []int64{-1}, st.Destinations(), "memory stays authoritative")

	backend.setFail(false)
	require.NoError(t, st.Flush(context.Background()))
	require.False(t, st.Dirty())
	require.Equal(t, 1, backend.Saves())
}

func TestRunFlushesPeriodicallyAndOnExit(t *testing.T) {
	backend := storage.NewMemory()
	st, err := Open(context.Background(), backend, Options{FlushInterval: time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = st.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return backend.Saves() >= 1 }, 5*time.Second, 20*time.Millisecond)

	st.Subscribe(-42)
	cancel()
	<-done

	snap, _, err := backend.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, []int64{-42}, snap.Groups)
}

func TestConcurrentMutations(t *testing.T) {
	st, err := Open(context.Background(), storage.NewMemory(), Options{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := int64(0); i < 100; i++ {
				st.Subscribe(-i)
				_ = st.Flush(context.Background())
				_ = st.Destinations()
			}
		}()
	}
	wg.Wait()
	require.Len(t, st.Destinations(), 100)
}
