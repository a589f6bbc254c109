// internal/model/job.go
package model

import "time"

// Job statuses. pending -> processing -> {sent | pending (retry) | failed_*}.
// sent, cancelled and failed_* are terminal.
const (
    JobStatusPending          = "pending"
    JobStatusProcessing       = "processing"
    JobStatusSent             = "sent"
    JobStatusCancelled        = "cancelled"
    JobStatusFailedPermanent  = "failed_permanent"
    JobStatusFailedSafety     = "failed_safety"
    JobStatusFailedCompliance = "failed_compliance"
    JobStatusFailedOptOut     = "failed_optout"
)

// Job is one queued outbound message.
type Job struct {
    ID                string     `db:"id" json:"id"`
    TenantID          string     `db:"tenant_id" json:"tenant_id,omitempty"`
    ExternalKey       string     `db:"external_key" json:"external_key,omitempty"`
    Recipient         string     `db:"recipient" json:"recipient"`
    Body              string     `db:"body" json:"body"`
    Status            string     `db:"status" json:"status"`
    Attempts          int        `db:"attempts" json:"attempts"`
    LastError         string     `db:"last_error" json:"last_error,omitempty"`
    ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
    CreatedAt         time.Time  `db:"created_at" json:"created_at"`
    LastAttemptAt     *time.Time `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
    LockedAt          *time.Time `db:"locked_at" json:"locked_at,omitempty"`
    ScheduledFor      *time.Time `db:"scheduled_for" json:"scheduled_for,omitempty"`
    SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

// Terminal reports whether the job may no longer be mutated.
func (j *Job) Terminal() bool {
    switch j.Status {
    case JobStatusSent, JobStatusCancelled, JobStatusFailedPermanent,
        JobStatusFailedSafety, JobStatusFailedCompliance, JobStatusFailedOptOut:
        return true
    }
    return false
}
