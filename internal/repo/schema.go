package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — таблица schedule_records и индексы.
// Идемпотентна: безопасно выполнять при каждом старте.
const schema = `
CREATE TABLE IF NOT EXISTS schedule_records (
    id                uuid PRIMARY KEY,
    owning_user_id    text        NOT NULL,
    target_account_id text        NOT NULL,
    scheduled_at      timestamptz NOT NULL,
    content           jsonb       NOT NULL DEFAULT '{}'::jsonb,
    recurrence        boolean     NOT NULL DEFAULT false,
    status            text        NOT NULL DEFAULT 'pending'
                      CHECK (status IN ('pending', 'fired', 'cancelled')),
    job_generation    bigint      NOT NULL DEFAULT 0,
    fired_at          timestamptz,
    cancelled_at      timestamptz,
    created_at        timestamptz NOT NULL DEFAULT now(),
    updated_at        timestamptz NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_schedule_records_pending
    ON schedule_records (scheduled_at, id) WHERE status = 'pending';

CREATE INDEX IF NOT EXISTS idx_schedule_records_owner
    ON schedule_records (owning_user_id, target_account_id, created_at DESC);
`

// EnsureSchema создаёт таблицы, если их ещё нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
