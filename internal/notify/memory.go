package notify

import (
	"context"
	"sync"
)

// MemoryNotifier collects emitted events in memory. It's the default
// Notifier for callers that haven't configured Slack; Events and
// CountByName let a caller inspect what was emitted.
type MemoryNotifier struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

func (m *MemoryNotifier) Emit(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a snapshot of everything emitted so far.
func (m *MemoryNotifier) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// CountByName returns how many events of the given name have been emitted.
func (m *MemoryNotifier) CountByName(name EventName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Name == name {
			n++
		}
	}
	return n
}
