package quota

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/agentmeter/internal/agent"
	"github.com/vnmchuo/agentmeter/internal/metrics"
)

// SweepResult summarizes one run of the daily warning check.
type SweepResult struct {
	Checked     int `json:"checked"`
	Warnings    int `json:"warnings"`
	RateLimited int `json:"rate_limited"`
	Paused      int `json:"paused"`
}

// Sweeper runs the daily quota check across all active and idle agents.
// Agents already suspended, paused, erroring, or provisioning are skipped:
// they are not consuming, and re-evaluating an already-paused agent would be
// wrong.
type Sweeper struct {
	agents   agent.Store
	enforcer *Enforcer
	tracer   trace.Tracer
	metrics  *metrics.Collector
	log      zerolog.Logger
}

func NewSweeper(agents agent.Store, enforcer *Enforcer, tracer trace.Tracer, collector *metrics.Collector, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		agents:   agents,
		enforcer: enforcer,
		tracer:   tracer,
		metrics:  collector,
		log:      log,
	}
}

// RunDailyWarningCheck evaluates every eligible agent and applies the
// resulting threshold action. One agent's failure never stops the rest of
// the sweep. The sweep is idempotent over settled state: re-running it
// produces duplicate audit entries at worst, never incorrect agent state.
func (s *Sweeper) RunDailyWarningCheck(ctx context.Context) (*SweepResult, error) {
	ctx, span := s.tracer.Start(ctx, "quota.daily_warning_check")
	defer span.End()

	start := time.Now()

	agents, err := s.agents.ListByStatus(ctx, agent.StatusActive, agent.StatusIdle)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, a := range agents {
		result.Checked++

		check, err := s.enforcer.CheckAgentQuota(ctx, a.ID)
		if err != nil {
			s.log.Error().Err(err).Str("agent_id", a.ID).Msg("quota check failed, skipping agent")
			continue
		}
		if err := s.enforcer.ApplyThresholdAction(ctx, a.ID, a.TenantID, check.Threshold); err != nil {
			s.log.Error().Err(err).Str("agent_id", a.ID).Msg("threshold action failed, skipping agent")
			continue
		}

		switch check.Threshold {
		case ThresholdWarning, ThresholdGrace:
			result.Warnings++
		case ThresholdRateLimited:
			result.RateLimited++
		case ThresholdPaused:
			result.Paused++
		}
	}

	span.SetAttributes(
		attribute.Int("agents.checked", result.Checked),
		attribute.Int("agents.paused", result.Paused),
	)
	s.metrics.ObserveSweep(time.Since(start), result.Checked)
	s.log.Info().
		Int("checked", result.Checked).
		Int("warnings", result.Warnings).
		Int("rate_limited", result.RateLimited).
		Int("paused", result.Paused).
		Msg("daily quota warning check completed")

	return result, nil
}
