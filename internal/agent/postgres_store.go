package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const agentColumns = `id, tenant_id, status, monthly_tokens_used, monthly_token_quota_override, token_quota_reset_at, created_at`

func scanAgent(row pgx.Row) (*Agent, error) {
	var a Agent
	err := row.Scan(
		&a.ID, &a.TenantID, &a.Status,
		&a.MonthlyTokensUsed, &a.MonthlyTokenQuotaOverride,
		&a.TokenQuotaResetAt, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1`, agentColumns)
	return scanAgent(s.db.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetForTenant(ctx context.Context, tenantID, id string) (*Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE id = $1 AND tenant_id = $2`, agentColumns)
	return scanAgent(s.db.QueryRow(ctx, query, id, tenantID))
}

func (s *PostgresStore) ListByStatus(ctx context.Context, statuses ...Status) ([]*Agent, error) {
	query := fmt.Sprintf(`SELECT %s FROM agents WHERE status = ANY($1) ORDER BY id`, agentColumns)

	list := make([]string, len(statuses))
	for i, st := range statuses {
		list[i] = string(st)
	}

	rows, err := s.db.Query(ctx, query, list)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return agents, nil
}

func (s *PostgresStore) IncrementMonthlyTokens(ctx context.Context, id string, tokens int64) error {
	query := `UPDATE agents SET monthly_tokens_used = monthly_tokens_used + $2 WHERE id = $1`
	tag, err := s.db.Exec(ctx, query, id, tokens)
	if err != nil {
		return fmt.Errorf("failed to increment monthly tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateStatusIf(ctx context.Context, id string, from []Status, to Status) (bool, error) {
	query := `UPDATE agents SET status = $2 WHERE id = $1 AND status = ANY($3)`

	list := make([]string, len(from))
	for i, st := range from {
		list[i] = string(st)
	}

	tag, err := s.db.Exec(ctx, query, id, string(to), list)
	if err != nil {
		return false, fmt.Errorf("failed to update agent status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ResetMonthlyCounters(ctx context.Context, resetAt time.Time) (int64, error) {
	query := `
		UPDATE agents
		SET monthly_tokens_used = 0, token_quota_reset_at = $1
		WHERE monthly_tokens_used > 0
	`
	tag, err := s.db.Exec(ctx, query, resetAt)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	query := `SELECT id, plan, overage_billing_enabled FROM tenants WHERE id = $1`

	var t Tenant
	err := s.db.QueryRow(ctx, query, id).Scan(&t.ID, &t.Plan, &t.OverageBillingEnabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}
