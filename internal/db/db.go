// internal/db/db.go
package db

import (
    "database/sql"
    "log"

    _ "github.com/lib/pq"
)

func Connect(dsn string) (*sql.DB, error) {
    conn, err := sql.Open("postgres", dsn)
    if err != nil {
        return nil, err
    }
    if err := conn.Ping(); err != nil {
        return nil, err
    }
    log.Println("✅ Connected to database")
    return conn, nil
}

// Migrate creates all tables if they do not exist. Statements are idempotent
// so every process can run this at startup.
func Migrate(conn *sql.DB) error {
    for _, stmt := range schema {
        if _, err := conn.Exec(stmt); err != nil {
            return err
        }
    }
    log.Println("✅ Schema up to date")
    return nil
}

var schema = []string{
    `CREATE TABLE IF NOT EXISTS tenants (
        id TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        provider_number TEXT UNIQUE,
        owner_phone_number TEXT NOT NULL DEFAULT '',
        timezone TEXT NOT NULL DEFAULT 'America/Los_Angeles',
        business_hours_start INT NOT NULL DEFAULT 8,
        business_hours_end INT NOT NULL DEFAULT 21,
        ai_enabled BOOLEAN NOT NULL DEFAULT TRUE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
    `CREATE TABLE IF NOT EXISTS send_jobs (
        id TEXT PRIMARY KEY,
        tenant_id TEXT,
        external_key TEXT UNIQUE,
        recipient TEXT NOT NULL,
        body TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'pending',
        attempts INT NOT NULL DEFAULT 0,
        last_error TEXT NOT NULL DEFAULT '',
        provider_message_id TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        last_attempt_at TIMESTAMPTZ,
        locked_at TIMESTAMPTZ,
        scheduled_for TIMESTAMPTZ,
        sent_at TIMESTAMPTZ
    )`,
    `CREATE INDEX IF NOT EXISTS idx_send_jobs_status_created ON send_jobs (status, created_at)`,
    `CREATE INDEX IF NOT EXISTS idx_send_jobs_recipient ON send_jobs (recipient)`,
    `CREATE TABLE IF NOT EXISTS leads (
        id TEXT PRIMARY KEY,
        tenant_id TEXT,
        phone TEXT NOT NULL,
        status TEXT NOT NULL DEFAULT 'new',
        intent TEXT NOT NULL DEFAULT '',
        opt_out BOOLEAN NOT NULL DEFAULT FALSE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (tenant_id, phone)
    )`,
    `CREATE INDEX IF NOT EXISTS idx_leads_phone ON leads (phone)`,
    `CREATE TABLE IF NOT EXISTS conversation_logs (
        id TEXT PRIMARY KEY,
        tenant_id TEXT,
        lead_id TEXT NOT NULL,
        direction TEXT NOT NULL,
        body TEXT NOT NULL,
        external_id TEXT UNIQUE,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
    `CREATE TABLE IF NOT EXISTS consent_records (
        id TEXT PRIMARY KEY,
        tenant_id TEXT,
        phone TEXT NOT NULL,
        consent_type TEXT NOT NULL,
        consent_source TEXT NOT NULL,
        consented_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        expires_at TIMESTAMPTZ,
        revoked_at TIMESTAMPTZ,
        revocation_reason TEXT NOT NULL DEFAULT ''
    )`,
    `CREATE INDEX IF NOT EXISTS idx_consent_phone ON consent_records (phone)`,
    `CREATE TABLE IF NOT EXISTS webhook_events (
        id TEXT PRIMARY KEY,
        provider_id TEXT UNIQUE NOT NULL,
        event_type TEXT NOT NULL,
        tenant_id TEXT,
        internal_id TEXT NOT NULL,
        processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )`,
    `CREATE TABLE IF NOT EXISTS alert_buffer (
        id BIGSERIAL PRIMARY KEY,
        tenant_id TEXT NOT NULL,
        customer_phone TEXT NOT NULL,
        owner_phone TEXT NOT NULL,
        messages_text TEXT NOT NULL,
        message_count INT NOT NULL DEFAULT 1,
        send_at TIMESTAMPTZ NOT NULL,
        created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
        UNIQUE (tenant_id, customer_phone)
    )`,
}
