package pricing

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory rate card for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	rates []*Rate
}

func NewMemoryStore(rates ...*Rate) *MemoryStore {
	return &MemoryStore{rates: rates}
}

func (s *MemoryStore) Add(rate *Rate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates = append(s.rates, rate)
}

func (s *MemoryStore) FindRate(ctx context.Context, provider, model string, at time.Time) (*Rate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *Rate
	for _, r := range s.rates {
		if r.Provider != provider || r.Model != model {
			continue
		}
		if r.EffectiveFrom.After(at) {
			continue
		}
		if r.EffectiveTo != nil && r.EffectiveTo.Before(at) {
			continue
		}
		if best == nil || r.EffectiveFrom.After(best.EffectiveFrom) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrRateNotFound
	}
	out := *best
	return &out, nil
}
