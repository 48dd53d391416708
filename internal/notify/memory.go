package notify

import (
	"context"
	"sync"
)

// MemoryNotifier records events for inspection in tests and dry runs.
type MemoryNotifier struct {
	mu     sync.RWMutex
	events []CompletionEvent
}

// NewMemoryNotifier returns an empty MemoryNotifier.
func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{}
}

// NotifyCompletion records the event.
func (n *MemoryNotifier) NotifyCompletion(_ context.Context, event CompletionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (n *MemoryNotifier) Events() []CompletionEvent {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]CompletionEvent, len(n.events))
	copy(out, n.events)
	return out
}
