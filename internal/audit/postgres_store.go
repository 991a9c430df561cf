package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event *Event) error {
	var details []byte
	if event.Details != nil {
		var err error
		details, err = json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	query := `
		INSERT INTO audit_events (action, target_type, target_id, severity, tenant_id, agent_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		event.Action, event.TargetType, event.TargetID,
		string(event.Severity), event.TenantID, event.AgentID, details,
	).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*Event, error) {
	query := `
		SELECT id, action, target_type, target_id, severity, tenant_id, agent_id, details, created_at
		FROM audit_events
		WHERE agent_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			e       Event
			details []byte
		)
		err := rows.Scan(
			&e.ID, &e.Action, &e.TargetType, &e.TargetID,
			&e.Severity, &e.TenantID, &e.AgentID, &details, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit details: %w", err)
			}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit events: %w", err)
	}
	return events, nil
}
