package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the full DDL. The partial unique index on approval_requests
// is what makes the single-pending-per-entity invariant atomic; the
// pre-check in the gate only exists for a friendlier error message.
const Schema = `
CREATE TABLE IF NOT EXISTS lg_records (
    id                 UUID PRIMARY KEY,
    lg_number          TEXT NOT NULL UNIQUE,
    customer_id        UUID NOT NULL,
    beneficiary_code   TEXT NOT NULL,
    beneficiary_name   TEXT NOT NULL,
    category_code      TEXT NOT NULL,
    lg_type            TEXT NOT NULL,
    amount             NUMERIC(18,2) NOT NULL,
    currency           TEXT NOT NULL,
    issuing_bank       TEXT NOT NULL,
    communication_bank TEXT NOT NULL DEFAULT '',
    status             TEXT NOT NULL,
    operational_status TEXT NOT NULL,
    auto_renewal       BOOLEAN NOT NULL DEFAULT FALSE,
    issue_date         TIMESTAMPTZ NOT NULL,
    expiry_date        TIMESTAMPTZ NOT NULL,
    period_days        INT NOT NULL,
    conditions         TEXT NOT NULL DEFAULT '',
    owner_contact_id   UUID NOT NULL,
    sequence_number    INT NOT NULL,
    reminder_tier      INT NOT NULL DEFAULT 0,
    deleted            BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS lg_records_customer ON lg_records (customer_id);
CREATE INDEX IF NOT EXISTS lg_records_owner ON lg_records (owner_contact_id);
CREATE INDEX IF NOT EXISTS lg_records_expiry ON lg_records (expiry_date) WHERE status = 'VALID';

CREATE TABLE IF NOT EXISTS beneficiary_sequences (
    customer_id      UUID NOT NULL,
    beneficiary_code TEXT NOT NULL,
    seq              INT NOT NULL,
    PRIMARY KEY (customer_id, beneficiary_code)
);

CREATE TABLE IF NOT EXISTS lg_instructions (
    id                  UUID PRIMARY KEY,
    lg_id               UUID NOT NULL REFERENCES lg_records (id),
    customer_id         UUID NOT NULL,
    type                TEXT NOT NULL,
    serial              TEXT NOT NULL,
    global_seq          INT NOT NULL,
    type_seq            INT NOT NULL,
    sub_code            TEXT NOT NULL,
    details             JSONB NOT NULL,
    delta               JSONB NOT NULL,
    approval_request_id UUID,
    actor_id            TEXT NOT NULL,
    letter              BYTEA,
    is_printed          BOOLEAN NOT NULL DEFAULT FALSE,
    cancelled           BOOLEAN NOT NULL DEFAULT FALSE,
    cancel_reason       TEXT NOT NULL DEFAULT '',
    delivered_at        TIMESTAMPTZ,
    bank_reply_at       TIMESTAMPTZ,
    issued_at           TIMESTAMPTZ NOT NULL,
    UNIQUE (lg_id, serial),
    UNIQUE (lg_id, global_seq)
);
CREATE INDEX IF NOT EXISTS lg_instructions_lg ON lg_instructions (lg_id, global_seq);

CREATE TABLE IF NOT EXISTS approval_requests (
    id             UUID PRIMARY KEY,
    customer_id    UUID NOT NULL,
    entity_type    TEXT NOT NULL,
    entity_id      UUID NOT NULL,
    action         TEXT NOT NULL,
    payload        JSONB NOT NULL,
    snapshot       JSONB NOT NULL,
    document_id    UUID,
    status         TEXT NOT NULL,
    maker_id       TEXT NOT NULL,
    checker_id     TEXT,
    reason         TEXT NOT NULL DEFAULT '',
    follow_up      TEXT NOT NULL DEFAULT 'NONE',
    instruction_id UUID,
    created_at     TIMESTAMPTZ NOT NULL,
    resolved_at    TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS approval_requests_one_pending
    ON approval_requests (entity_type, entity_id) WHERE status = 'PENDING';
CREATE INDEX IF NOT EXISTS approval_requests_customer ON approval_requests (customer_id, status);

CREATE TABLE IF NOT EXISTS owner_contacts (
    id            UUID PRIMARY KEY,
    customer_id   UUID NOT NULL,
    email         TEXT NOT NULL,
    phone         TEXT NOT NULL DEFAULT '',
    manager_email TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    UNIQUE (customer_id, email)
);

CREATE TABLE IF NOT EXISTS audit_log (
    id          UUID PRIMARY KEY,
    actor_id    TEXT NOT NULL,
    action_type TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id   UUID NOT NULL,
    customer_id UUID NOT NULL,
    details     JSONB NOT NULL,
    at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_entity ON audit_log (entity_id, action_type, at);
`

// Migrate applies the schema. Idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
