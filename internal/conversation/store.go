package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Scope decides whether sessions get their own log or share one.
type Scope string

const (
	// ScopeSession keys a log per session so connections never see each
	// other's turns.
	ScopeSession Scope = "session"
	// ScopeGlobal shares one log across every connection, for single-user
	// deployments.
	ScopeGlobal Scope = "global"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopeSession, ScopeGlobal:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("unknown context scope %q (want %q or %q)", s, ScopeSession, ScopeGlobal)
	}
}

type entry struct {
	log      *Log
	conns    int
	lastSeen time.Time
}

// Store owns every conversation log of the process.
type Store struct {
	mu       sync.Mutex
	scope    Scope
	maxTurns int
	sessions map[uuid.UUID]*entry
	global   *Log
	now      func() time.Time
}

func NewStore(scope Scope, maxTurns int) *Store {
	s := &Store{
		scope:    scope,
		maxTurns: maxTurns,
		sessions: make(map[uuid.UUID]*entry),
		now:      time.Now,
	}
	if scope == ScopeGlobal {
		s.global = NewLog(maxTurns)
	}
	return s
}

func (s *Store) Scope() Scope { return s.scope }

// Attach records a live connection for the session and returns its log,
// creating the session when it is new.
func (s *Store) Attach(id uuid.UUID) *Log {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(id)
	e.conns++
	e.lastSeen = s.now()
	return s.logOf(e)
}

// Detach records that a connection of the session went away. The log stays
// until the janitor evicts the idle session.
func (s *Store) Detach(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[id]; ok {
		if e.conns > 0 {
			e.conns--
		}
		e.lastSeen = s.now()
	}
}

// Log returns the session's log, creating the session if it was evicted while
// a prompt for it was still queued.
func (s *Store) Log(id uuid.UUID) *Log {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(id)
	e.lastSeen = s.now()
	return s.logOf(e)
}

// Lookup returns the session's log without creating it.
func (s *Store) Lookup(id uuid.UUID) (*Log, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return s.logOf(e), true
}

// Len returns the number of known sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions without connections that were idle for longer than
// idle. It returns the number of evicted sessions.
func (s *Store) Sweep(idle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	evicted := 0
	for id, e := range s.sessions {
		if e.conns == 0 && now.Sub(e.lastSeen) > idle {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// RunJanitor sweeps idle sessions every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval, idle time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(idle); n > 0 {
				logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}

func (s *Store) entryLocked(id uuid.UUID) *entry {
	e, ok := s.sessions[id]
	if !ok {
		e = &entry{}
		if s.scope != ScopeGlobal {
			e.log = NewLog(s.maxTurns)
		}
		s.sessions[id] = e
	}
	return e
}

func (s *Store) logOf(e *entry) *Log {
	if s.scope == ScopeGlobal {
		return s.global
	}
	return e.log
}
