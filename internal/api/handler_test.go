package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/agentmeter/internal/agent"
	"github.com/vnmchuo/agentmeter/internal/audit"
	"github.com/vnmchuo/agentmeter/internal/auth"
	"github.com/vnmchuo/agentmeter/internal/metering"
	"github.com/vnmchuo/agentmeter/internal/pricing"
	"github.com/vnmchuo/agentmeter/internal/quota"
	"github.com/vnmchuo/agentmeter/internal/usage"
)

type testEnv struct {
	router  http.Handler
	agents  *agent.MemoryStore
	audits  *audit.MemoryStore
	records *metering.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	agents := agent.NewMemoryStore()
	audits := audit.NewMemoryStore()
	records := metering.NewMemoryStore()

	log := zerolog.Nop()
	tracer := noop.NewTracerProvider().Tracer("test")
	resolver := pricing.NewResolver(pricing.NewMemoryStore(), nil, log)
	meteringSvc := metering.NewService(records, agents, resolver, nil, tracer, log)
	enforcer := quota.NewEnforcer(agents, agents, audits, 10_000_000, nil, log)
	sweeper := quota.NewSweeper(agents, enforcer, tracer, nil, log)
	normalizer := usage.NewNormalizer(log)

	h := NewHandler(meteringSvc, enforcer, sweeper, normalizer, agents, nil, tracer, log)

	r := chi.NewRouter()
	// Inject the tenant the way the auth middleware would.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if tenant := req.Header.Get("X-Test-Tenant"); tenant != "" {
				req = req.WithContext(auth.WithTenantID(req.Context(), tenant))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Post("/v1/usage", h.HandleRecordUsage)
	r.Get("/v1/usage", h.HandleTenantUsage)
	r.Get("/v1/agents/{agentID}/usage", h.HandleAgentUsage)
	r.Get("/v1/agents/{agentID}/quota", h.HandleQuotaCheck)
	r.Post("/v1/agents/{agentID}/resume", h.HandleResume)

	return &testEnv{router: r, agents: agents, audits: audits, records: records}
}

func (e *testEnv) do(t *testing.T, method, path, tenant string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if tenant != "" {
		req.Header.Set("X-Test-Tenant", tenant)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHandleRecordUsage(t *testing.T) {
	env := newTestEnv(t)
	env.agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "t1", Status: agent.StatusActive})

	body := map[string]any{
		"agent_id": "a1",
		"model":    "anthropic/claude-sonnet-4-5",
		"response": map[string]any{
			"usage": map[string]any{
				"input_tokens":  500,
				"output_tokens": 200,
			},
		},
	}
	rec := env.do(t, http.MethodPost, "/v1/usage", "t1", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["recorded"] != true {
		t.Errorf("expected recorded=true, got %v", resp)
	}

	a, _ := env.agents.Get(context.Background(), "a1")
	if a.MonthlyTokensUsed != 700 {
		t.Errorf("expected monthly counter 700, got %d", a.MonthlyTokensUsed)
	}
}

func TestHandleRecordUsage_NoUsageBlock(t *testing.T) {
	env := newTestEnv(t)
	env.agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "t1", Status: agent.StatusActive})

	body := map[string]any{
		"agent_id": "a1",
		"model":    "gpt-4o",
		"response": map[string]any{"id": "resp-1"},
	}
	rec := env.do(t, http.MethodPost, "/v1/usage", "t1", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}

	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["recorded"] != false {
		t.Errorf("expected recorded=false for response without usage, got %v", resp)
	}
	if env.records.Len() != 0 {
		t.Errorf("expected no records, got %d", env.records.Len())
	}
}

func TestHandleRecordUsage_ForeignAgent(t *testing.T) {
	env := newTestEnv(t)
	env.agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "other", Status: agent.StatusActive})

	body := map[string]any{"agent_id": "a1", "model": "gpt-4o"}
	rec := env.do(t, http.MethodPost, "/v1/usage", "t1", body)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign agent, got %d", rec.Code)
	}
}

func TestHandleRecordUsage_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/usage", "", map[string]any{"agent_id": "a1", "model": "gpt-4o"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestHandleAgentUsage(t *testing.T) {
	env := newTestEnv(t)
	env.agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "t1", Status: agent.StatusActive})

	body := map[string]any{
		"agent_id": "a1",
		"model":    "anthropic/claude-sonnet-4-5",
		"response": map[string]any{
			"usage": map[string]any{"input_tokens": 100, "output_tokens": 40},
		},
	}
	if rec := env.do(t, http.MethodPost, "/v1/usage", "t1", body); rec.Code != http.StatusAccepted {
		t.Fatalf("record failed: %d", rec.Code)
	}

	from := time.Now().UTC().AddDate(0, 0, -1).Format(time.RFC3339)
	to := time.Now().UTC().AddDate(0, 0, 1).Format(time.RFC3339)
	rec := env.do(t, http.MethodGet, "/v1/agents/a1/usage?from="+from+"&to="+to, "t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Usage.InputTokens != 100 || resp.Usage.OutputTokens != 40 {
		t.Errorf("unexpected summary: %+v", resp.Usage)
	}
}

func TestHandleAgentUsage_BadRange(t *testing.T) {
	env := newTestEnv(t)
	env.agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "t1", Status: agent.StatusActive})

	rec := env.do(t, http.MethodGet, "/v1/agents/a1/usage?from=yesterday", "t1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestHandleQuotaCheck(t *testing.T) {
	env := newTestEnv(t)
	env.agents.PutTenant(&agent.Tenant{ID: "t1", Plan: "pro"})
	env.agents.PutAgent(&agent.Agent{
		ID: "a1", TenantID: "t1", Status: agent.StatusActive,
		MonthlyTokensUsed: 9_000_000,
	})

	rec := env.do(t, http.MethodGet, "/v1/agents/a1/quota", "t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Threshold   string  `json:"threshold"`
		PercentUsed float64 `json:"percent_used"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Threshold != "warning" || resp.PercentUsed != 90 {
		t.Errorf("unexpected quota check: %+v", resp)
	}
}

func TestHandleResume(t *testing.T) {
	env := newTestEnv(t)
	env.agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "t1", Status: agent.StatusPaused})

	rec := env.do(t, http.MethodPost, "/v1/agents/a1/resume", "t1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp["resumed"] != true || resp["agent_id"] != "a1" {
		t.Errorf("unexpected response: %v", resp)
	}

	// Second resume: the agent is no longer paused.
	rec = env.do(t, http.MethodPost, "/v1/agents/a1/resume", "t1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-paused agent, got %d", rec.Code)
	}
}

func TestHandleResume_NotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/v1/agents/ghost/resume", "t1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAdminOnly(t *testing.T) {
	handler := AdminOnly("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d", rec.Code)
	}
}
