// Package agent provides read/limited-write access to agents and tenants.
// Agents are owned by the tenant-management service; this service only reads
// quota fields and writes monthly_tokens_used (increment-only) and status
// (pause/resume transitions).
package agent

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAgentNotFound  = errors.New("agent not found")
	ErrTenantNotFound = errors.New("tenant not found")
)

type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusSuspended    Status = "suspended"
	StatusPaused       Status = "paused"
	StatusError        Status = "error"
	StatusProvisioning Status = "provisioning"
)

type Agent struct {
	ID                        string
	TenantID                  string
	Status                    Status
	MonthlyTokensUsed         int64
	MonthlyTokenQuotaOverride *int64
	TokenQuotaResetAt         time.Time
	CreatedAt                 time.Time
}

type Tenant struct {
	ID                    string
	Plan                  string
	OverageBillingEnabled bool
}

type Store interface {
	Get(ctx context.Context, id string) (*Agent, error)
	// GetForTenant fails with ErrAgentNotFound when the agent does not
	// exist or belongs to another tenant.
	GetForTenant(ctx context.Context, tenantID, id string) (*Agent, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Agent, error)
	// IncrementMonthlyTokens applies an atomic counter increment; callers
	// never read-modify-write so concurrent increments are never lost.
	IncrementMonthlyTokens(ctx context.Context, id string, tokens int64) error
	// UpdateStatusIf transitions status only when the current status is
	// one of from, and reports whether a row changed. The conditional
	// update is what keeps an operator resume and a sweep pause from
	// racing into a lost update.
	UpdateStatusIf(ctx context.Context, id string, from []Status, to Status) (bool, error)
	// ResetMonthlyCounters zeroes monthly_tokens_used for every agent with
	// a nonzero counter, stamps the next reset time, and returns the
	// number of agents reset. Re-running in the same period is a no-op.
	ResetMonthlyCounters(ctx context.Context, resetAt time.Time) (int64, error)
}

type TenantStore interface {
	GetTenant(ctx context.Context, id string) (*Tenant, error)
}
