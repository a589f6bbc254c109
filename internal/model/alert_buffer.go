// internal/model/alert_buffer.go
package model

import "time"

// AlertBufferEntry coalesces rapid owner alerts for one (tenant, customer)
// pair. Every new message appends to MessagesText and pushes SendAt forward;
// the entry is deleted once flushed into a Job.
type AlertBufferEntry struct {
    ID            int64     `db:"id" json:"id"`
    TenantID      string    `db:"tenant_id" json:"tenant_id"`
    CustomerPhone string    `db:"customer_phone" json:"customer_phone"`
    OwnerPhone    string    `db:"owner_phone" json:"owner_phone"`
    MessagesText  string    `db:"messages_text" json:"messages_text"`
    MessageCount  int       `db:"message_count" json:"message_count"`
    SendAt        time.Time `db:"send_at" json:"send_at"`
    CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
