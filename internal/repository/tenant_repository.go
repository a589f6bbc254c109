// internal/repository/tenant_repository.go
package repository

import (
    "database/sql"

    "github.com/plumbline/leadrelay-backend/internal/model"
)

type TenantRepository struct {
    DB *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
    return &TenantRepository{DB: db}
}

const tenantColumns = `id, name, COALESCE(provider_number, ''), owner_phone_number,
    timezone, business_hours_start, business_hours_end, ai_enabled, created_at`

func (r *TenantRepository) GetByID(id string) (*model.Tenant, error) {
    row := r.DB.QueryRow(`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
    return scanTenant(row)
}

// GetByProviderNumber resolves the tenant that owns an inbound number.
func (r *TenantRepository) GetByProviderNumber(number string) (*model.Tenant, error) {
    row := r.DB.QueryRow(`SELECT `+tenantColumns+` FROM tenants WHERE provider_number = $1`, number)
    return scanTenant(row)
}

func (r *TenantRepository) Create(t *model.Tenant) error {
    _, err := r.DB.Exec(`
        INSERT INTO tenants (id, name, provider_number, owner_phone_number, timezone,
            business_hours_start, business_hours_end, ai_enabled)
        VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)`,
        t.ID, t.Name, t.ProviderNumber, t.OwnerPhoneNumber, t.Timezone,
        t.BusinessHoursStart, t.BusinessHoursEnd, t.AIEnabled,
    )
    return err
}

// SetAIEnabled is the per-tenant kill switch for automated replies.
func (r *TenantRepository) SetAIEnabled(id string, enabled bool) error {
    _, err := r.DB.Exec(`UPDATE tenants SET ai_enabled = $2 WHERE id = $1`, id, enabled)
    return err
}

func scanTenant(row *sql.Row) (*model.Tenant, error) {
    var t model.Tenant
    err := row.Scan(
        &t.ID, &t.Name, &t.ProviderNumber, &t.OwnerPhoneNumber, &t.Timezone,
        &t.BusinessHoursStart, &t.BusinessHoursEnd, &t.AIEnabled, &t.CreatedAt,
    )
    if err == sql.ErrNoRows {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    return &t, nil
}
