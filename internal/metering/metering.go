// Package metering aggregates normalized usage into durable daily records
// and keeps each agent's running monthly token counter.
package metering

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/agentmeter/internal/agent"
	"github.com/vnmchuo/agentmeter/internal/metrics"
	"github.com/vnmchuo/agentmeter/internal/pricing"
	"github.com/vnmchuo/agentmeter/internal/usage"
)

// Record is the durable daily aggregate: exactly one row per
// (agent, date, provider). Rows are only ever incremented, never overwritten,
// apart from Model which tracks the latest value seen that day.
type Record struct {
	ID               string
	AgentID          string
	TenantID         string
	Date             time.Time // calendar day, time-zeroed UTC
	InputTokens      int64
	OutputTokens     int64
	ThinkingTokens   int64
	CacheReadTokens  int64
	ToolInvocations  int64
	Provider         string
	Model            string
	EstimatedCostUSD float64
}

// Summary is the shape returned by both agent- and tenant-scoped range
// queries. Zero matching rows yields an all-zero summary.
type Summary struct {
	InputTokens      int64
	OutputTokens     int64
	ThinkingTokens   int64
	CacheReadTokens  int64
	ToolInvocations  int64
	EstimatedCostUSD float64
}

type Store interface {
	// UpsertIncrement creates the row for (agent, date, provider) on first
	// use and otherwise increments every numeric field. The increment must
	// be applied atomically at the storage layer so concurrent deliveries
	// are never lost.
	UpsertIncrement(ctx context.Context, rec *Record) error
	SummarizeByAgent(ctx context.Context, agentID string, from, to time.Time) (*Summary, error)
	SummarizeByTenant(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error)
}

// Service records usage events and answers range queries. RecordUsage is
// invoked once per completed provider call and is safe to retry in full:
// both writes are increments, not overwrites.
type Service struct {
	records Store
	agents  agent.Store
	pricing *pricing.Resolver
	metrics *metrics.Collector
	tracer  trace.Tracer
	log     zerolog.Logger
	now     func() time.Time
}

func NewService(records Store, agents agent.Store, resolver *pricing.Resolver, collector *metrics.Collector, tracer trace.Tracer, log zerolog.Logger) *Service {
	return &Service{
		records: records,
		agents:  agents,
		pricing: resolver,
		metrics: collector,
		tracer:  tracer,
		log:     log,
		now:     time.Now,
	}
}

// WithNow overrides the clock; used by tests and the monthly reset.
func (s *Service) WithNow(now func() time.Time) *Service {
	s.now = now
	return s
}

// RecordUsage merges one usage event into the daily aggregate and bumps the
// agent's monthly counter. A nil usage record (a call that produced no token
// accounting) is a no-op. Cache-read tokens are stored but excluded from the
// monthly counter: they represent reuse, not new consumption.
func (s *Service) RecordUsage(ctx context.Context, agentID, tenantID string, u *usage.Normalized, toolInvocations int64) error {
	if u == nil {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "metering.record_usage")
	defer span.End()
	span.SetAttributes(
		attribute.String("agent_id", agentID),
		attribute.String("tenant_id", tenantID),
		attribute.String("provider", string(u.Provider)),
	)

	day := midnightUTC(s.now())
	rates := s.pricing.Resolve(ctx, string(u.Provider), u.Model, day)
	cost := pricing.CalculateCost(u, rates)

	rec := &Record{
		AgentID:          agentID,
		TenantID:         tenantID,
		Date:             day,
		InputTokens:      u.InputTokens,
		OutputTokens:     u.OutputTokens,
		ThinkingTokens:   u.ThinkingTokens,
		CacheReadTokens:  u.CacheReadTokens,
		ToolInvocations:  toolInvocations,
		Provider:         string(u.Provider),
		Model:            u.Model,
		EstimatedCostUSD: cost.TotalCost,
	}
	if err := s.records.UpsertIncrement(ctx, rec); err != nil {
		return err
	}

	if err := s.agents.IncrementMonthlyTokens(ctx, agentID, u.TotalBillableTokens()); err != nil {
		return err
	}

	s.metrics.ObserveUsage(string(u.Provider), u)
	s.log.Debug().
		Str("agent_id", agentID).
		Str("provider", string(u.Provider)).
		Str("model", u.Model).
		Int64("input_tokens", u.InputTokens).
		Int64("output_tokens", u.OutputTokens).
		Float64("cost_usd", cost.TotalCost).
		Msg("usage recorded")
	return nil
}

// GetAgentUsage sums all daily records for the agent in [from, to].
func (s *Service) GetAgentUsage(ctx context.Context, agentID string, from, to time.Time) (*Summary, error) {
	sum, err := s.records.SummarizeByAgent(ctx, agentID, from, to)
	if err != nil {
		return nil, err
	}
	sum.EstimatedCostUSD = pricing.Round2(sum.EstimatedCostUSD)
	return sum, nil
}

// GetTenantUsage sums all daily records for the tenant in [from, to].
func (s *Service) GetTenantUsage(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error) {
	sum, err := s.records.SummarizeByTenant(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	sum.EstimatedCostUSD = pricing.Round2(sum.EstimatedCostUSD)
	return sum, nil
}

// ResetMonthlyCounters zeroes every nonzero monthly counter and stamps the
// next reset date, the first day of the following calendar month. Safe to
// run more than once in the same period.
func (s *Service) ResetMonthlyCounters(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "metering.reset_monthly_counters")
	defer span.End()

	count, err := s.agents.ResetMonthlyCounters(ctx, NextMonthStart(s.now()))
	if err != nil {
		return 0, err
	}

	s.metrics.ObserveMonthlyReset(count)
	s.log.Info().Int64("agents_reset", count).Msg("monthly token counters reset")
	return count, nil
}

// NextMonthStart returns the first day of the month after t, UTC midnight.
// December rolls over into January of the next year.
func NextMonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
