// internal/repository/lead_repository.go
package repository

import (
    "database/sql"
    "log"

    "github.com/google/uuid"

    "github.com/plumbline/leadrelay-backend/internal/model"
    "github.com/plumbline/leadrelay-backend/internal/security"
)

type LeadRepository struct {
    DB *sql.DB
}

func NewLeadRepository(db *sql.DB) *LeadRepository {
    return &LeadRepository{DB: db}
}

// Upsert creates the lead if it is new and returns its ID either way.
func (r *LeadRepository) Upsert(phone, tenantID, source string) (string, error) {
    var id string
    err := r.DB.QueryRow(`
        INSERT INTO leads (id, tenant_id, phone, intent, created_at, updated_at)
        VALUES ($1, NULLIF($2, ''), $3, $4, now(), now())
        ON CONFLICT (tenant_id, phone) DO UPDATE SET updated_at = now()
        RETURNING id`,
        uuid.NewString(), tenantID, phone, source,
    ).Scan(&id)
    return id, err
}

// SetOptOut flips the global opt-out flag for phone. Opting out also cancels
// every in-flight job to the number in the same transaction, so nothing
// queued before the STOP can still go out.
func (r *LeadRepository) SetOptOut(phone string, optOut bool) error {
    tx, err := r.DB.Begin()
    if err != nil {
        return err
    }
    defer tx.Rollback()

    if _, err := tx.Exec(
        `UPDATE leads SET opt_out = $2, updated_at = now() WHERE phone = $1`,
        phone, optOut,
    ); err != nil {
        return err
    }

    if optOut {
        res, err := tx.Exec(`
            UPDATE send_jobs
            SET status = $2, locked_at = NULL
            WHERE recipient = $1 AND status IN ('pending', 'processing')`,
            phone, model.JobStatusFailedOptOut,
        )
        if err != nil {
            return err
        }
        if n, _ := res.RowsAffected(); n > 0 {
            log.Printf("🛑 opt-out: cancelled %d queued job(s) for %s", n, security.MaskPhone(phone))
        }
    }
    return tx.Commit()
}

// IsOptedOut reports whether any lead row for phone has opted out. Opt-out is
// global across tenants.
func (r *LeadRepository) IsOptedOut(phone string) (bool, error) {
    var blocked bool
    err := r.DB.QueryRow(
        `SELECT EXISTS (SELECT 1 FROM leads WHERE phone = $1 AND opt_out = TRUE)`, phone,
    ).Scan(&blocked)
    return blocked, err
}

func (r *LeadRepository) UpdateStatus(phone, status, tenantID string) error {
    _, err := r.DB.Exec(`
        UPDATE leads SET status = $2, updated_at = now()
        WHERE phone = $1 AND ($3 = '' OR tenant_id = $3)`,
        phone, status, tenantID,
    )
    return err
}

// LogConversation appends one message to the lead's history, creating the
// lead if needed. A duplicate externalID is silently skipped.
func (r *LeadRepository) LogConversation(phone, tenantID, direction, body, externalID string) error {
    leadID, err := r.Upsert(phone, tenantID, "")
    if err != nil {
        return err
    }
    _, err = r.DB.Exec(`
        INSERT INTO conversation_logs (id, tenant_id, lead_id, direction, body, external_id)
        VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''))
        ON CONFLICT (external_id) DO NOTHING`,
        uuid.NewString(), tenantID, leadID, direction, body, externalID,
    )
    return err
}
