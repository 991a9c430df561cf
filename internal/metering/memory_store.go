package metering

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-memory usage record store for tests and local
// development, with the same upsert-increment semantics as Postgres.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
	next    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func recordKey(agentID string, date time.Time, provider string) string {
	return fmt.Sprintf("%s|%s|%s", agentID, date.Format("2006-01-02"), provider)
}

func (s *MemoryStore) UpsertIncrement(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := recordKey(rec.AgentID, rec.Date, rec.Provider)
	existing, ok := s.records[key]
	if !ok {
		s.next++
		cp := *rec
		cp.ID = fmt.Sprintf("rec-%d", s.next)
		s.records[key] = &cp
		rec.ID = cp.ID
		return nil
	}

	existing.InputTokens += rec.InputTokens
	existing.OutputTokens += rec.OutputTokens
	existing.ThinkingTokens += rec.ThinkingTokens
	existing.CacheReadTokens += rec.CacheReadTokens
	existing.ToolInvocations += rec.ToolInvocations
	existing.EstimatedCostUSD += rec.EstimatedCostUSD
	existing.Model = rec.Model
	rec.ID = existing.ID
	return nil
}

func (s *MemoryStore) SummarizeByAgent(ctx context.Context, agentID string, from, to time.Time) (*Summary, error) {
	return s.summarize(func(r *Record) bool { return r.AgentID == agentID }, from, to), nil
}

func (s *MemoryStore) SummarizeByTenant(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error) {
	return s.summarize(func(r *Record) bool { return r.TenantID == tenantID }, from, to), nil
}

func (s *MemoryStore) summarize(match func(*Record) bool, from, to time.Time) *Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sum Summary
	for _, r := range s.records {
		if !match(r) || r.Date.Before(from) || r.Date.After(to) {
			continue
		}
		sum.InputTokens += r.InputTokens
		sum.OutputTokens += r.OutputTokens
		sum.ThinkingTokens += r.ThinkingTokens
		sum.CacheReadTokens += r.CacheReadTokens
		sum.ToolInvocations += r.ToolInvocations
		sum.EstimatedCostUSD += r.EstimatedCostUSD
	}
	return &sum
}

// Get returns the stored record for the key, or nil.
func (s *MemoryStore) Get(agentID string, date time.Time, provider string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[recordKey(agentID, date, provider)]
	if !ok {
		return nil
	}
	cp := *r
	return &cp
}

// Len returns the number of distinct (agent, date, provider) rows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
