// Package conversation keeps the turn history that gives the model short-term
// memory, keyed by session.
package conversation

import (
	"sync"

	"relay-backend/internal/models"
)

// Log is an ordered, optionally bounded sequence of turns.
type Log struct {
	mu       sync.Mutex
	turns    []models.Turn
	maxTurns int
}

// NewLog returns an empty log. maxTurns <= 0 means unbounded.
func NewLog(maxTurns int) *Log {
	return &Log{maxTurns: maxTurns}
}

func (l *Log) Append(turn models.Turn) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(turn)
}

// AppendAndSnapshot appends turn and returns the resulting log in one step, so
// the snapshot always ends with the appended turn.
func (l *Log) AppendAndSnapshot(turn models.Turn) []models.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appendLocked(turn)
	return l.snapshotLocked()
}

func (l *Log) Snapshot() []models.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

func (l *Log) appendLocked(turn models.Turn) {
	l.turns = append(l.turns, turn)
	if l.maxTurns <= 0 || len(l.turns) <= l.maxTurns {
		return
	}

	drop := len(l.turns) - l.maxTurns
	// Context must open with a user turn.
	for drop < len(l.turns)-1 && l.turns[drop].Role == models.RoleModel {
		drop++
	}
	kept := make([]models.Turn, len(l.turns)-drop)
	copy(kept, l.turns[drop:])
	l.turns = kept
}

func (l *Log) snapshotLocked() []models.Turn {
	out := make([]models.Turn, len(l.turns))
	copy(out, l.turns)
	return out
}
