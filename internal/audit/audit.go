// Package audit appends entries to the platform audit log. Entries are
// append-only; this service never mutates or deletes them.
package audit

import (
	"context"
	"time"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Quota enforcement actions.
const (
	ActionQuotaWarning      = "token_quota_warning"
	ActionQuotaGrace        = "token_quota_grace"
	ActionQuotaRateLimited  = "token_quota_rate_limited"
	ActionQuotaPaused       = "token_quota_paused"
	ActionQuotaAcknowledged = "token_quota_acknowledged"
)

type Event struct {
	ID         string
	Action     string
	TargetType string
	TargetID   string
	Severity   Severity
	TenantID   string
	AgentID    string
	Details    map[string]any
	CreatedAt  time.Time
}

type Store interface {
	Append(ctx context.Context, event *Event) error
	ListByAgent(ctx context.Context, agentID string, limit int) ([]*Event, error)
}
