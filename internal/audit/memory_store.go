package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory append-only audit log for tests and local
// development.
type MemoryStore struct {
	mu     sync.Mutex
	events []*Event
	next   int

	// FailAppend makes every Append return an error; used to exercise
	// error isolation in callers.
	FailAppend bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend {
		return errors.New("audit store unavailable")
	}
	s.next++
	event.ID = fmt.Sprintf("audit-%d", s.next)
	event.CreatedAt = time.Now().UTC()
	cp := *event
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Event
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].AgentID == agentID {
			cp := *s.events[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

// All returns every appended event in insertion order.
func (s *MemoryStore) All() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	for i, e := range s.events {
		cp := *e
		out[i] = &cp
	}
	return out
}
