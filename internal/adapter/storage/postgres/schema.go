package postgres

import (
	"context"
	"fmt"
)

// schema is idempotent. Attempts reference clients by MSISDN without a
// foreign key because a client row only exists after its first success.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS gateway_clients (
		msisdn              TEXT PRIMARY KEY,
		country             TEXT NOT NULL DEFAULT '',
		operator            TEXT NOT NULL DEFAULT '',
		operator_code       TEXT NOT NULL DEFAULT '',
		protocols           TEXT[] NOT NULL DEFAULT '{}',
		last_published_date TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gateway_clients_country ON gateway_clients (lower(country))`,
	`CREATE TABLE IF NOT EXISTS reliability_tests (
		id                BIGSERIAL PRIMARY KEY,
		msisdn            TEXT NOT NULL,
		start_time        TIMESTAMPTZ NOT NULL,
		sms_received_time TIMESTAMPTZ,
		sms_routed_time   TIMESTAMPTZ,
		sms_sent_time     TIMESTAMPTZ,
		status            TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'success', 'timedout'))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_reliability_tests_msisdn ON reliability_tests (msisdn, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_reliability_tests_pending ON reliability_tests (start_time) WHERE status = 'pending'`,
}

// Migrate creates the tables and indexes when they are missing.
func Migrate(ctx context.Context, pool Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}
