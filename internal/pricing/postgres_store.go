package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindRate(ctx context.Context, provider, model string, at time.Time) (*Rate, error) {
	query := `
		SELECT id, provider, model, input_per_1m, output_per_1m, thinking_per_1m, effective_from, effective_to
		FROM pricing_rates
		WHERE provider = $1 AND model = $2
		  AND effective_from <= $3
		  AND (effective_to IS NULL OR effective_to >= $3)
		ORDER BY effective_from DESC
		LIMIT 1
	`

	var r Rate
	err := s.db.QueryRow(ctx, query, provider, model, at).Scan(
		&r.ID, &r.Provider, &r.Model,
		&r.InputPer1M, &r.OutputPer1M, &r.ThinkingPer1M,
		&r.EffectiveFrom, &r.EffectiveTo,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRateNotFound
		}
		return nil, fmt.Errorf("failed to find pricing rate: %w", err)
	}

	return &r, nil
}
