package presence

import (
	"sync"

	"github.com/signalsfoundry/geofence/model"
)

// Log is the append-only record of accepted registrations.
type Log struct {
	mu      sync.RWMutex
	entries []model.Registration
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

func (l *Log) append(r model.Registration) {
	l.mu.Lock()
	l.entries = append(l.entries, r)
	l.mu.Unlock()
}

// List returns a copy of all registrations in acceptance order.
func (l *Log) List() []model.Registration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Registration, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of registrations.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
