package quota

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/vnmchuo/agentmeter/internal/agent"
	"github.com/vnmchuo/agentmeter/internal/audit"
	"github.com/vnmchuo/agentmeter/internal/metrics"
)

// ErrAgentNotPaused is returned when acknowledge-and-resume targets an agent
// that is not currently paused.
var ErrAgentNotPaused = errors.New("agent is not paused")

// Check is the result of evaluating an agent against its monthly quota.
type Check struct {
	Threshold   Threshold
	PercentUsed float64
	Quota       int64
	Used        int64
}

// ResumeResult is returned by AcknowledgeAndResume.
type ResumeResult struct {
	Resumed bool
	AgentID string
}

// Enforcer evaluates agents against quota policy and applies the threshold
// side effects: audit entries, and for the paused threshold the one
// tenant-visible status mutation this service performs.
type Enforcer struct {
	agents       agent.Store
	tenants      agent.TenantStore
	audit        audit.Store
	defaultQuota int64
	metrics      *metrics.Collector
	log          zerolog.Logger
}

func NewEnforcer(agents agent.Store, tenants agent.TenantStore, auditStore audit.Store, defaultQuota int64, collector *metrics.Collector, log zerolog.Logger) *Enforcer {
	return &Enforcer{
		agents:       agents,
		tenants:      tenants,
		audit:        auditStore,
		defaultQuota: defaultQuota,
		metrics:      collector,
		log:          log,
	}
}

// CheckAgentQuota loads fresh usage and tenant state and determines the
// agent's threshold. Fails with agent.ErrAgentNotFound for unknown agents.
func (e *Enforcer) CheckAgentQuota(ctx context.Context, agentID string) (*Check, error) {
	a, err := e.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}

	overage := false
	tenant, err := e.tenants.GetTenant(ctx, a.TenantID)
	if err == nil {
		overage = tenant.OverageBillingEnabled
	} else if !errors.Is(err, agent.ErrTenantNotFound) {
		return nil, err
	}

	quota := e.defaultQuota
	if a.MonthlyTokenQuotaOverride != nil {
		quota = *a.MonthlyTokenQuotaOverride
	}

	percent := math.Round(float64(a.MonthlyTokensUsed) / float64(quota) * 100)

	return &Check{
		Threshold:   DetermineThreshold(percent, overage),
		PercentUsed: percent,
		Quota:       quota,
		Used:        a.MonthlyTokensUsed,
	}, nil
}

// ApplyThresholdAction applies the side effects for a threshold. The normal
// state is deliberately silent to keep the audit log free of noise. Only the
// paused threshold mutates the agent: a conditional active/idle -> paused
// transition, so a concurrent operator resume is never clobbered.
func (e *Enforcer) ApplyThresholdAction(ctx context.Context, agentID, tenantID string, threshold Threshold) error {
	if threshold == ThresholdNormal {
		return nil
	}

	var severity audit.Severity
	var action string
	switch threshold {
	case ThresholdWarning:
		action, severity = audit.ActionQuotaWarning, audit.SeverityWarning
	case ThresholdGrace:
		action, severity = audit.ActionQuotaGrace, audit.SeverityWarning
	case ThresholdRateLimited:
		// Rate limiting itself is enforced at request time by consulting
		// stored state; here it is recorded only.
		action, severity = audit.ActionQuotaRateLimited, audit.SeverityError
	case ThresholdPaused:
		action, severity = audit.ActionQuotaPaused, audit.SeverityError
		changed, err := e.agents.UpdateStatusIf(ctx, agentID,
			[]agent.Status{agent.StatusActive, agent.StatusIdle}, agent.StatusPaused)
		if err != nil {
			return err
		}
		if changed {
			e.log.Warn().
				Str("agent_id", agentID).
				Str("tenant_id", tenantID).
				Msg("agent paused for exceeding token quota")
		}
	}

	e.metrics.ObserveQuotaAction(string(threshold))

	return e.audit.Append(ctx, &audit.Event{
		Action:     action,
		TargetType: "agent",
		TargetID:   agentID,
		Severity:   severity,
		TenantID:   tenantID,
		AgentID:    agentID,
	})
}

// AcknowledgeAndResume lets an operator resume a paused agent. The resume is
// a conditional paused -> active update so it cannot race the sweep into a
// lost update.
func (e *Enforcer) AcknowledgeAndResume(ctx context.Context, tenantID, agentID string) (*ResumeResult, error) {
	a, err := e.agents.GetForTenant(ctx, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	if a.Status != agent.StatusPaused {
		return nil, ErrAgentNotPaused
	}

	changed, err := e.agents.UpdateStatusIf(ctx, agentID,
		[]agent.Status{agent.StatusPaused}, agent.StatusActive)
	if err != nil {
		return nil, err
	}
	if !changed {
		// Lost the race: someone else already moved the agent out of paused.
		return nil, ErrAgentNotPaused
	}

	err = e.audit.Append(ctx, &audit.Event{
		Action:     audit.ActionQuotaAcknowledged,
		TargetType: "agent",
		TargetID:   agentID,
		Severity:   audit.SeverityInfo,
		TenantID:   tenantID,
		AgentID:    agentID,
		Details:    map[string]any{"resumed": true},
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("agent_id", agentID).
		Str("tenant_id", tenantID).
		Msg("paused agent acknowledged and resumed")

	return &ResumeResult{Resumed: true, AgentID: agentID}, nil
}
