// internal/model/event.go
package model

import "time"

// WebhookEvent records one processed external event. ProviderID is unique, so
// a redelivered webhook can be detected and skipped.
type WebhookEvent struct {
    ID          string    `db:"id" json:"id"`
    ProviderID  string    `db:"provider_id" json:"provider_id"`
    EventType   string    `db:"event_type" json:"event_type"` // sms, voice, status
    TenantID    string    `db:"tenant_id" json:"tenant_id,omitempty"`
    InternalID  string    `db:"internal_id" json:"internal_id"`
    ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}
