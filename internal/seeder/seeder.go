package seeder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/vnmchuo/agentmeter/internal/auth"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestTenantID = "00000000-0000-0000-0000-000000000001"
	TestAgentID  = "00000000-0000-0000-0000-0000000000aa"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SeedDemoData inserts a demo tenant, one agent, and a test API key so a
// fresh install can take traffic immediately. Every insert is a no-op when
// the row already exists.
func SeedDemoData(ctx context.Context, db DB, keys auth.Store, log zerolog.Logger) {
	_, err := db.Exec(ctx, `
		INSERT INTO tenants (id, plan, overage_billing_enabled)
		VALUES ($1, 'pro', false)
		ON CONFLICT (id) DO NOTHING`,
		TestTenantID,
	)
	if err != nil {
		log.Warn().Err(err).Msg("seeder: tenant insert failed")
		return
	}

	_, err = db.Exec(ctx, `
		INSERT INTO agents (id, tenant_id, status)
		VALUES ($1, $2, 'active')
		ON CONFLICT (id) DO NOTHING`,
		TestAgentID, TestTenantID,
	)
	if err != nil {
		log.Warn().Err(err).Msg("seeder: agent insert failed")
		return
	}

	h := sha256.Sum256([]byte(TestAPIKey))
	apiKey := &auth.APIKey{
		TenantID: TestTenantID,
		KeyHash:  hex.EncodeToString(h[:]),
		Active:   true,
	}
	if err := keys.Create(ctx, apiKey); err != nil {
		log.Debug().Err(err).Msg("seeder: api key may already exist, skipping")
		return
	}

	log.Info().
		Str("tenant_id", TestTenantID).
		Str("agent_id", TestAgentID).
		Str("api_key", TestAPIKey).
		Msg("seeder: demo data created")
}
