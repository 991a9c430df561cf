// Package api binds the metering and quota operations to HTTP for the
// surrounding platform. Handlers are thin: parse, scope to the tenant,
// delegate, encode.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vnmchuo/agentmeter/internal/agent"
	"github.com/vnmchuo/agentmeter/internal/auth"
	"github.com/vnmchuo/agentmeter/internal/metering"
	"github.com/vnmchuo/agentmeter/internal/quota"
	"github.com/vnmchuo/agentmeter/internal/usage"
	"github.com/vnmchuo/agentmeter/pkg/ratelimit"
)

type Handler struct {
	metering   *metering.Service
	enforcer   *quota.Enforcer
	sweeper    *quota.Sweeper
	normalizer *usage.Normalizer
	agents     agent.Store
	limiter    *ratelimit.Limiter
	tracer     trace.Tracer
	log        zerolog.Logger
}

func NewHandler(
	meteringSvc *metering.Service,
	enforcer *quota.Enforcer,
	sweeper *quota.Sweeper,
	normalizer *usage.Normalizer,
	agents agent.Store,
	limiter *ratelimit.Limiter,
	tracer trace.Tracer,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		metering:   meteringSvc,
		enforcer:   enforcer,
		sweeper:    sweeper,
		normalizer: normalizer,
		agents:     agents,
		limiter:    limiter,
		tracer:     tracer,
		log:        log,
	}
}

type recordUsageRequest struct {
	AgentID         string          `json:"agent_id"`
	Model           string          `json:"model"`
	ToolInvocations int64           `json:"tool_invocations"`
	Response        json.RawMessage `json:"response"`
}

// HandleRecordUsage ingests one completed provider call for an agent.
func (h *Handler) HandleRecordUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.limiter != nil {
		allowed, err := h.limiter.Allow(ctx, tenantID, 1)
		if err != nil || !allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
	}

	var req recordUsageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AgentID == "" || req.Model == "" {
		writeError(w, http.StatusBadRequest, "agent_id and model are required")
		return
	}

	ctx, span := h.tracer.Start(ctx, "api.record_usage")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("agent_id", req.AgentID),
		attribute.String("model", req.Model),
	)

	if _, err := h.agents.GetForTenant(ctx, tenantID, req.AgentID); err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	u := h.normalizer.Normalize(req.Response, req.Model)
	if u == nil {
		// A call without token accounting is valid; nothing to record.
		writeJSON(w, http.StatusAccepted, map[string]any{"recorded": false})
		return
	}

	if err := h.metering.RecordUsage(ctx, req.AgentID, tenantID, u, req.ToolInvocations); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"recorded": true,
		"provider": u.Provider,
		"model":    u.Model,
	})
}

// HandleAgentUsage returns the agent's usage summary over a date range.
func (h *Handler) HandleAgentUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	agentID := chi.URLParam(r, "agentID")

	if _, err := h.agents.GetForTenant(ctx, tenantID, agentID); err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.metering.GetAgentUsage(ctx, agentID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSummary(w, sum, from, to)
}

// HandleTenantUsage returns the authenticated tenant's usage summary.
func (h *Handler) HandleTenantUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	from, to, err := parseRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.metering.GetTenantUsage(ctx, tenantID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSummary(w, sum, from, to)
}

// HandleQuotaCheck evaluates the agent against its monthly quota.
func (h *Handler) HandleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	agentID := chi.URLParam(r, "agentID")

	if _, err := h.agents.GetForTenant(ctx, tenantID, agentID); err != nil {
		if errors.Is(err, agent.ErrAgentNotFound) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	check, err := h.enforcer.CheckAgentQuota(ctx, agentID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"threshold":    check.Threshold,
		"percent_used": check.PercentUsed,
		"quota":        check.Quota,
		"used":         check.Used,
	})
}

// HandleResume acknowledges a quota pause and resumes the agent.
func (h *Handler) HandleResume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	agentID := chi.URLParam(r, "agentID")

	res, err := h.enforcer.AcknowledgeAndResume(ctx, tenantID, agentID)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrAgentNotFound):
			writeError(w, http.StatusNotFound, "agent not found")
		case errors.Is(err, quota.ErrAgentNotPaused):
			writeError(w, http.StatusBadRequest, "agent is not paused")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"resumed":  res.Resumed,
		"agent_id": res.AgentID,
	})
}

// HandleSweep triggers the daily warning check. Normally fired by the
// scheduler; exposed for operators behind the admin token.
func (h *Handler) HandleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.sweeper.RunDailyWarningCheck(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleReset triggers the monthly counter reset, also behind the admin token.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	count, err := h.metering.ResetMonthlyCounters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents_reset": count})
}

// AdminOnly guards the internal trigger endpoints with a shared token.
func AdminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Admin-Token") != token {
				writeError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if s := r.URL.Query().Get("from"); s != "" {
		var err error
		from, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'from' date format (use RFC3339)")
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		var err error
		to, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("invalid 'to' date format (use RFC3339)")
		}
	}
	return from, to, nil
}

func writeSummary(w http.ResponseWriter, sum *metering.Summary, from, to time.Time) {
	writeJSON(w, http.StatusOK, map[string]any{
		"from": from.Format(time.RFC3339),
		"to":   to.Format(time.RFC3339),
		"usage": map[string]any{
			"input_tokens":       sum.InputTokens,
			"output_tokens":      sum.OutputTokens,
			"thinking_tokens":    sum.ThinkingTokens,
			"cache_read_tokens":  sum.CacheReadTokens,
			"tool_invocations":   sum.ToolInvocations,
			"estimated_cost_usd": sum.EstimatedCostUSD,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
