package metering

import (
	"context"
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

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

// UpsertIncrement relies on the UNIQUE(agent_id, usage_date, provider)
// constraint: the conflict arm adds the new counts to the stored ones inside
// a single statement, so concurrent deliveries serialize at the row.
func (s *PostgresStore) UpsertIncrement(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO usage_records (
			agent_id, tenant_id, usage_date,
			input_tokens, output_tokens, thinking_tokens, cache_read_tokens,
			tool_invocations, provider, model, estimated_cost_usd
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (agent_id, usage_date, provider) DO UPDATE SET
			input_tokens       = usage_records.input_tokens + EXCLUDED.input_tokens,
			output_tokens      = usage_records.output_tokens + EXCLUDED.output_tokens,
			thinking_tokens    = usage_records.thinking_tokens + EXCLUDED.thinking_tokens,
			cache_read_tokens  = usage_records.cache_read_tokens + EXCLUDED.cache_read_tokens,
			tool_invocations   = usage_records.tool_invocations + EXCLUDED.tool_invocations,
			estimated_cost_usd = usage_records.estimated_cost_usd + EXCLUDED.estimated_cost_usd,
			model              = EXCLUDED.model
		RETURNING id
	`
	err := s.db.QueryRow(ctx, query,
		rec.AgentID, rec.TenantID, rec.Date,
		rec.InputTokens, rec.OutputTokens, rec.ThinkingTokens, rec.CacheReadTokens,
		rec.ToolInvocations, rec.Provider, rec.Model, rec.EstimatedCostUSD,
	).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert usage record: %w", err)
	}
	return nil
}

const summaryColumns = `
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_tokens), 0),
	COALESCE(SUM(thinking_tokens), 0),
	COALESCE(SUM(cache_read_tokens), 0),
	COALESCE(SUM(tool_invocations), 0),
	COALESCE(SUM(estimated_cost_usd), 0)
`

func (s *PostgresStore) SummarizeByAgent(ctx context.Context, agentID string, from, to time.Time) (*Summary, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM usage_records
		WHERE agent_id = $1 AND usage_date BETWEEN $2 AND $3
	`, summaryColumns)
	return s.scanSummary(s.db.QueryRow(ctx, query, agentID, from, to))
}

func (s *PostgresStore) SummarizeByTenant(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM usage_records
		WHERE tenant_id = $1 AND usage_date BETWEEN $2 AND $3
	`, summaryColumns)
	return s.scanSummary(s.db.QueryRow(ctx, query, tenantID, from, to))
}

func (s *PostgresStore) scanSummary(row pgx.Row) (*Summary, error) {
	var sum Summary
	err := row.Scan(
		&sum.InputTokens, &sum.OutputTokens, &sum.ThinkingTokens,
		&sum.CacheReadTokens, &sum.ToolInvocations, &sum.EstimatedCostUSD,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize usage: %w", err)
	}
	return &sum, nil
}
