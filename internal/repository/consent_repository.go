// internal/repository/consent_repository.go
package repository

import (
    "database/sql"
    "time"

    "github.com/google/uuid"

    "github.com/plumbline/leadrelay-backend/internal/model"
)

type ConsentRepository struct {
    DB *sql.DB
}

func NewConsentRepository(db *sql.DB) *ConsentRepository {
    return &ConsentRepository{DB: db}
}

// Record writes a new consent record. Implied consent expires after two
// years; express consent never expires.
func (r *ConsentRepository) Record(phone, consentType, source, tenantID string) (*model.ConsentRecord, error) {
    rec := &model.ConsentRecord{
        ID:          uuid.NewString(),
        TenantID:    tenantID,
        Phone:       phone,
        Type:        consentType,
        Source:      source,
        ConsentedAt: time.Now(),
    }
    if consentType == model.ConsentImplied {
        exp := rec.ConsentedAt.Add(model.ImpliedConsentTTL)
        rec.ExpiresAt = &exp
    }
    _, err := r.DB.Exec(`
        INSERT INTO consent_records (id, tenant_id, phone, consent_type, consent_source, consented_at, expires_at)
        VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)`,
        rec.ID, rec.TenantID, rec.Phone, rec.Type, rec.Source, rec.ConsentedAt, rec.ExpiresAt,
    )
    if err != nil {
        return nil, err
    }
    return rec, nil
}

// VerifyValid returns the newest consent record for phone that is neither
// revoked nor expired, or nil if none exists. A tenantID narrows the search;
// empty matches any tenant.
func (r *ConsentRepository) VerifyValid(phone, tenantID string) (*model.ConsentRecord, error) {
    row := r.DB.QueryRow(`
        SELECT id, COALESCE(tenant_id, ''), phone, consent_type, consent_source,
            consented_at, expires_at, revoked_at, revocation_reason
        FROM consent_records
        WHERE phone = $1
            AND ($2 = '' OR tenant_id = $2)
            AND revoked_at IS NULL
            AND (expires_at IS NULL OR expires_at > now())
        ORDER BY consented_at DESC
        LIMIT 1`,
        phone, tenantID,
    )

    var rec model.ConsentRecord
    var expiresAt, revokedAt sql.NullTime
    err := row.Scan(
        &rec.ID, &rec.TenantID, &rec.Phone, &rec.Type, &rec.Source,
        &rec.ConsentedAt, &expiresAt, &revokedAt, &rec.RevocationReason,
    )
    if err == sql.ErrNoRows {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    if expiresAt.Valid {
        rec.ExpiresAt = &expiresAt.Time
    }
    if revokedAt.Valid {
        rec.RevokedAt = &revokedAt.Time
    }
    return &rec, nil
}

// Revoke marks every active consent record for phone as revoked. Revocation
// is global, not per tenant: STOP means stop.
func (r *ConsentRepository) Revoke(phone, reason, tenantID string) error {
    _, err := r.DB.Exec(`
        UPDATE consent_records
        SET revoked_at = now(), revocation_reason = $2
        WHERE phone = $1 AND revoked_at IS NULL`,
        phone, reason,
    )
    return err
}
