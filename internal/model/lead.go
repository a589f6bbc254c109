// internal/model/lead.go
package model

import "time"

const (
    LeadStatusNew       = "new"
    LeadStatusContacted = "contacted"
    LeadStatusReplied   = "replied"
    LeadStatusBooked    = "booked"
    LeadStatusLost      = "lost"
)

// Lead is a counterparty the system has exchanged messages with. OptOut is
// global: once true, no tenant may message the phone until an explicit
// opt-back-in.
type Lead struct {
    ID        string    `db:"id" json:"id"`
    TenantID  string    `db:"tenant_id" json:"tenant_id,omitempty"`
    Phone     string    `db:"phone" json:"phone"`
    Status    string    `db:"status" json:"status"`
    Intent    string    `db:"intent" json:"intent,omitempty"`
    OptOut    bool      `db:"opt_out" json:"opt_out"`
    CreatedAt time.Time `db:"created_at" json:"created_at"`
    UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ConversationLog is one inbound or outbound message attached to a lead.
type ConversationLog struct {
    ID         string    `db:"id" json:"id"`
    TenantID   string    `db:"tenant_id" json:"tenant_id,omitempty"`
    LeadID     string    `db:"lead_id" json:"lead_id"`
    Direction  string    `db:"direction" json:"direction"` // inbound, outbound
    Body       string    `db:"body" json:"body"`
    ExternalID string    `db:"external_id" json:"external_id,omitempty"`
    CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
