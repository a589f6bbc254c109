// internal/model/tenant.go
package model

import "time"

// Tenant is one service business using the platform. ProviderNumber is the
// inbound number customers reach; OwnerPhoneNumber receives operator alerts.
type Tenant struct {
    ID                 string    `db:"id" json:"id"`
    Name               string    `db:"name" json:"name"`
    ProviderNumber     string    `db:"provider_number" json:"provider_number"`
    OwnerPhoneNumber   string    `db:"owner_phone_number" json:"owner_phone_number"`
    Timezone           string    `db:"timezone" json:"timezone"`
    BusinessHoursStart int       `db:"business_hours_start" json:"business_hours_start"`
    BusinessHoursEnd   int       `db:"business_hours_end" json:"business_hours_end"`
    AIEnabled          bool      `db:"ai_enabled" json:"ai_enabled"`
    CreatedAt          time.Time `db:"created_at" json:"created_at"`
}
