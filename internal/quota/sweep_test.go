package quota

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/agentmeter/internal/agent"
	"github.com/vnmchuo/agentmeter/internal/audit"
)

func newTestSweeper(agents *agent.MemoryStore, auditStore *audit.MemoryStore) *Sweeper {
	enforcer := newTestEnforcer(agents, auditStore)
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewSweeper(agents, enforcer, tracer, nil, zerolog.Nop())
}

func pct(p int64) int64 {
	// testDefaultQuota tokens = 100%.
	return testDefaultQuota / 100 * p
}

func TestRunDailyWarningCheck_Tallies(t *testing.T) {
	agents := agent.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	seedTenant(agents, "t1", false)

	agents.PutAgent(&agent.Agent{ID: "a-normal", TenantID: "t1", Status: agent.StatusActive, MonthlyTokensUsed: pct(50)})
	agents.PutAgent(&agent.Agent{ID: "a-warning", TenantID: "t1", Status: agent.StatusActive, MonthlyTokensUsed: pct(90)})
	agents.PutAgent(&agent.Agent{ID: "b-grace", TenantID: "t1", Status: agent.StatusIdle, MonthlyTokensUsed: pct(110)})
	agents.PutAgent(&agent.Agent{ID: "c-limited", TenantID: "t1", Status: agent.StatusActive, MonthlyTokensUsed: pct(130)})
	agents.PutAgent(&agent.Agent{ID: "d-paused", TenantID: "t1", Status: agent.StatusActive, MonthlyTokensUsed: pct(160)})
	// Excluded from the sweep regardless of usage.
	agents.PutAgent(&agent.Agent{ID: "e-already-paused", TenantID: "t1", Status: agent.StatusPaused, MonthlyTokensUsed: pct(300)})
	agents.PutAgent(&agent.Agent{ID: "f-suspended", TenantID: "t1", Status: agent.StatusSuspended, MonthlyTokensUsed: pct(300)})
	agents.PutAgent(&agent.Agent{ID: "g-provisioning", TenantID: "t1", Status: agent.StatusProvisioning})

	s := newTestSweeper(agents, auditStore)
	res, err := s.RunDailyWarningCheck(context.Background())
	if err != nil {
		t.Fatalf("RunDailyWarningCheck failed: %v", err)
	}

	if res.Checked != 5 {
		t.Errorf("expected 5 agents checked, got %d", res.Checked)
	}
	if res.Warnings != 2 {
		t.Errorf("warnings tally counts warning and grace, expected 2, got %d", res.Warnings)
	}
	if res.RateLimited != 1 {
		t.Errorf("expected 1 rate limited, got %d", res.RateLimited)
	}
	if res.Paused != 1 {
		t.Errorf("expected 1 paused, got %d", res.Paused)
	}

	a, _ := agents.Get(context.Background(), "d-paused")
	if a.Status != agent.StatusPaused {
		t.Errorf("expected d-paused paused, got %s", a.Status)
	}
	a, _ = agents.Get(context.Background(), "a-normal")
	if a.Status != agent.StatusActive {
		t.Errorf("normal agent must be untouched, got %s", a.Status)
	}
}

func TestRunDailyWarningCheck_OverageTenant(t *testing.T) {
	agents := agent.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	seedTenant(agents, "t1", true)
	agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "t1", Status: agent.StatusActive, MonthlyTokensUsed: pct(160)})

	s := newTestSweeper(agents, auditStore)
	res, err := s.RunDailyWarningCheck(context.Background())
	if err != nil {
		t.Fatalf("RunDailyWarningCheck failed: %v", err)
	}
	if res.Paused != 0 || res.Warnings != 1 {
		t.Errorf("overage tenant at 160%% must land in grace: %+v", res)
	}

	a, _ := agents.Get(context.Background(), "a1")
	if a.Status != agent.StatusActive {
		t.Errorf("overage tenant agent must not be paused, got %s", a.Status)
	}
}

func TestRunDailyWarningCheck_ErrorIsolation(t *testing.T) {
	agents := agent.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	seedTenant(agents, "t1", false)
	agents.PutAgent(&agent.Agent{ID: "a1", TenantID: "t1", Status: agent.StatusActive, MonthlyTokensUsed: pct(90)})
	agents.PutAgent(&agent.Agent{ID: "a2", TenantID: "t1", Status: agent.StatusActive, MonthlyTokensUsed: pct(90)})

	// Audit writes fail for everyone, but the sweep must still evaluate
	// every agent and report what it checked.
	auditStore.FailAppend = true

	s := newTestSweeper(agents, auditStore)
	res, err := s.RunDailyWarningCheck(context.Background())
	if err != nil {
		t.Fatalf("one agent's failure must not abort the sweep: %v", err)
	}
	if res.Checked != 2 {
		t.Errorf("expected both agents checked, got %d", res.Checked)
	}
	if res.Warnings != 0 {
		t.Errorf("failed actions are not tallied, got %d warnings", res.Warnings)
	}
}

func TestRunDailyWarningCheck_EmptyFleet(t *testing.T) {
	s := newTestSweeper(agent.NewMemoryStore(), audit.NewMemoryStore())
	res, err := s.RunDailyWarningCheck(context.Background())
	if err != nil {
		t.Fatalf("RunDailyWarningCheck failed: %v", err)
	}
	if *res != (SweepResult{}) {
		t.Errorf("expected zero result for empty fleet, got %+v", res)
	}
}
