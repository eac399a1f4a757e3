package broadcast

import "sync"

// Key identifies a broadcast session: the initiator in a given chat.
type Key struct {
	ChatID int64
	UserID int64
}

type session struct {
	mu    sync.Mutex
	state State
}

// Sessions is the keyed session store. Each session carries its own mutex so
// handlers of one initiator are serialized without blocking other initiators.
type Sessions struct {
	mu sync.Mutex
	m  map[Key]*session
}

func NewSessions() *Sessions {
	return &Sessions{m: map[Key]*session{}}
}

func (s *Sessions) get(k Key) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[k]
	if !ok {
		sess = &session{}
		s.m[k] = sess
	}
	return sess
}

func (s *Sessions) lookup(k Key) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[k]
	return sess, ok
}

// State returns a copy of the session state for k, if the session exists.
func (s *Sessions) State(k Key) (State, bool) {
	sess, ok := s.lookup(k)
	if !ok {
		return State{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state, true
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
