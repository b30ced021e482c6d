// Package audit provides the in-memory append-only audit event log shared by
// the execution ledger and the risk limit registry.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Audit event kinds
const (
	KindTrade         = "TRADE"
	KindLimitOverride = "LIMIT_OVERRIDE"
	KindOrderRejected = "ORDER_REJECTED"
)

// Event is a single audit record. Events are value types; readers always
// receive copies and cannot mutate the log.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	Kind      string         `json:"kind"`
	Entity    string         `json:"entity"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Log is an append-only, in-memory audit trail.
type Log struct {
	mu     sync.RWMutex
	events []Event
}

func NewLog() *Log {
	return &Log{}
}

// Append records an event and assigns its id and timestamp.
func (l *Log) Append(kind, entity string, details map[string]any) Event {
	ev := Event{
		ID:        uuid.New(),
		Kind:      kind,
		Entity:    entity,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return ev
}

// Events returns a copy of the full event list, oldest first.
func (l *Log) Events() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// EventsByKind returns a copy of all events of the given kind.
func (l *Log) EventsByKind(kind string) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Event
	for _, ev := range l.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Len reports the number of recorded events.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
