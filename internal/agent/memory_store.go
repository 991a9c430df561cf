package agent

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory agent/tenant store for tests and local
// development. It mirrors the atomic semantics of the Postgres store: counter
// increments and conditional status updates happen under one lock.
type MemoryStore struct {
	mu      sync.Mutex
	agents  map[string]*Agent
	tenants map[string]*Tenant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:  make(map[string]*Agent),
		tenants: make(map[string]*Tenant),
	}
}

func (s *MemoryStore) PutAgent(a *Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.ID] = &cp
}

func (s *MemoryStore) PutTenant(t *Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetForTenant(ctx context.Context, tenantID, id string) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Agent
	for _, a := range s.agents {
		for _, st := range statuses {
			if a.Status == st {
				cp := *a
				out = append(out, &cp)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) IncrementMonthlyTokens(ctx context.Context, id string, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return ErrAgentNotFound
	}
	a.MonthlyTokensUsed += tokens
	return nil
}

func (s *MemoryStore) UpdateStatusIf(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if a.Status == st {
			a.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) ResetMonthlyCounters(ctx context.Context, resetAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, a := range s.agents {
		if a.MonthlyTokensUsed > 0 {
			a.MonthlyTokensUsed = 0
			a.TokenQuotaResetAt = resetAt
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}
