// internal/model/consent.go
package model

import "time"

const (
    // ConsentImplied: the recipient initiated contact (called or texted first).
    // Expires after ImpliedConsentTTL.
    ConsentImplied = "implied"
    // ConsentExpress: the recipient explicitly agreed. Does not expire.
    ConsentExpress = "express"
)

// ImpliedConsentTTL is the retention window for implied consent (2 years).
const ImpliedConsentTTL = 730 * 24 * time.Hour

// ConsentRecord is proof that a recipient may be messaged. Valid iff not
// revoked and not expired. Revocation is permanent until a new record is
// created.
type ConsentRecord struct {
    ID               string     `db:"id" json:"id"`
    TenantID         string     `db:"tenant_id" json:"tenant_id,omitempty"`
    Phone            string     `db:"phone" json:"phone"`
    Type             string     `db:"consent_type" json:"consent_type"`
    Source           string     `db:"consent_source" json:"consent_source"`
    ConsentedAt      time.Time  `db:"consented_at" json:"consented_at"`
    ExpiresAt        *time.Time `db:"expires_at" json:"expires_at,omitempty"`
    RevokedAt        *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
    RevocationReason string     `db:"revocation_reason" json:"revocation_reason,omitempty"`
}
