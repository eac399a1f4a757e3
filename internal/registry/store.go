package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"newsbot/internal/eventbus"
	"newsbot/internal/storage"
	logx "newsbot/pkg/logx"
)

const DefaultFlushInterval = time.Second

type Options struct {
	FlushInterval time.Duration
	// SeedStaff is merged into the staff set at startup.
	SeedStaff []int64
	Log       logx.Logger
	Bus       eventbus.Bus
	Metrics   *Metrics
}

// Store guards the Registry with a single mutex and persists it from a
// background cycle when dirty.
type Store struct {
	mu  sync.Mutex
	reg *Registry

	backend  storage.Backend
	interval time.Duration
	log      logx.Logger
	bus      eventbus.Bus
	metrics  *Metrics
}

// Open loads the registry from backend. A load error is returned as is; the
// caller is expected to treat it as fatal.
func Open(ctx context.Context, backend storage.Backend, opt Options) (*Store, error) {
	if backend == nil {
		return nil, errors.New("registry: nil backend")
	}
	if opt.Log.IsZero() {
		opt.Log = logx.Nop()
	}
	if opt.Metrics == nil {
		opt.Metrics = NewMetrics(nil)
	}
	if opt.FlushInterval <= 0 {
		opt.FlushInterval = DefaultFlushInterval
	}

	snap, found, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	reg := newRegistry(snap.Groups, snap.Staff)
	if !found {
		// Create the storage on the first cycle.
		reg.MarkDirty()
	}
	for _, id := range opt.SeedStaff {
		if id != 0 {
			reg.AddStaff(id)
		}
	}

	s := &Store{
		reg:      reg,
		backend:  backend,
		interval: opt.FlushInterval,
		log:      opt.Log.With(logx.String("comp", "registry")),
		bus:      opt.Bus,
		metrics:  opt.Metrics,
	}
	s.updateGauges(reg)
	s.log.Info("registry loaded",
		logx.Bool("found", found),
		logx.Int("destinations", len(reg.destinations)),
		logx.Int("staff", len(reg.staff)),
	)
	return s, nil
}

// WithLock runs fn with exclusive access to the Registry.
func (s *Store) WithLock(fn func(r *Registry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.reg)
	s.updateGauges(s.reg)
}

func (s *Store) MarkDirty() {
	s.WithLock(func(r *Registry) { r.MarkDirty() })
}

func (s *Store) IsStaff(id int64) (ok bool) {
	s.WithLock(func(r *Registry) { ok = r.IsStaff(id) })
	return ok
}

func (s *Store) Destinations() (out []int64) {
	s.WithLock(func(r *Registry) { out = r.Destinations() })
	return out
}

func (s *Store) HasDestination(id int64) (ok bool) {
	s.WithLock(func(r *Registry) { ok = r.HasDestination(id) })
	return ok
}

// Subscribe adds chatID. Duplicate-safe.
func (s *Store) Subscribe(chatID int64) (added bool) {
	s.WithLock(func(r *Registry) { added = r.AddDestination(chatID) })
	if added {
		s.log.Info("destination subscribed", logx.Int64("chat_id", chatID))
		eventbus.Emit(s.bus, eventbus.TypeSubscribed, eventbus.DestinationChange{ChatID: chatID})
	}
	return added
}

// Unsubscribe removes chatID. Absent ids are a no-op.
func (s *Store) Unsubscribe(chatID int64) (removed bool) {
	s.WithLock(func(r *Registry) { removed = r.RemoveDestination(chatID) })
	if removed {
		s.log.Info("destination unsubscribed", logx.Int64("chat_id", chatID))
		eventbus.Emit(s.bus, eventbus.TypeUnsubscribed, eventbus.DestinationChange{ChatID: chatID})
	}
	return removed
}

// Migrate moves a destination to its new identifier.
func (s *Store) Migrate(from, to int64) (changed bool) {
	if from == to {
		return false
	}
	s.WithLock(func(r *Registry) { changed = r.ReplaceDestination(from, to) })
	if changed {
		s.log.Info("destination migrated", logx.Int64("from", from), logx.Int64("to", to))
		eventbus.Emit(s.bus, eventbus.TypeMigrated, eventbus.DestinationChange{ChatID: from, NewChatID: to})
	}
	return changed
}

func (s *Store) AddStaff(userID int64) (added bool) {
	s.WithLock(func(r *Registry) { added = r.AddStaff(userID) })
	if added {
		s.log.Info("staff added", logx.Int64("user_id", userID))
		eventbus.Emit(s.bus, eventbus.TypeStaffAdded, userID)
	}
	return added
}

// Snapshot returns the persisted form of the current state.
func (s *Store) Snapshot() (snap storage.Snapshot) {
	s.WithLock(func(r *Registry) {
		snap = storage.Snapshot{Groups: r.Destinations(), Staff: r.Staff()}
	})
	return snap
}

// Dirty reports whether a write is pending.
func (s *Store) Dirty() (d bool) {
	s.WithLock(func(r *Registry) { d = r.dirty })
	return d
}

// Flush writes the registry if dirty. The lock is held across the write so
// the snapshot cannot change underneath it. On failure the dirty flag stays
// set and the next cycle retries.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.reg.dirty {
		return nil
	}

	snap := storage.Snapshot{Groups: s.reg.Destinations(), Staff: s.reg.Staff()}
	start := time.Now()
	if err := s.backend.Save(ctx, snap); err != nil {
		s.metrics.Flushes.WithLabelValues("error").Inc()
		s.log.Warn("registry flush failed", logx.Err(err))
		eventbus.Emit(s.bus, eventbus.TypeFlushFailed, err.Error())
		return err
	}
	s.reg.dirty = false
	s.metrics.Flushes.WithLabelValues("ok").Inc()
	s.log.Debug("registry flushed",
		logx.Int("destinations", len(snap.Groups)),
		logx.Int("staff", len(snap.Staff)),
		logx.Duration("took", time.Since(start)),
	)
	eventbus.Emit(s.bus, eventbus.TypeFlushed, nil)
	return nil
}

// Run drives the persistence cycle until ctx is done, then flushes once more.
func (s *Store) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+s.interval.String(), func() { _ = s.Flush(ctx) }); err != nil {
		return fmt.Errorf("schedule registry flush: %w", err)
	}
	c.Start()
	s.log.Debug("persistence cycle started", logx.Duration("interval", s.interval))

	<-ctx.Done()
	<-c.Stop().Done()

	fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Flush(fctx); err != nil {
		s.log.Error("final registry flush failed", logx.Err(err))
	}
	return nil
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) updateGauges(r *Registry) {
	s.metrics.Destinations.Set(float64(len(r.destinations)))
	s.metrics.Staff.Set(float64(len(r.staff)))
}
