// internal/service/stores.go
package service

import (
    "time"

    "github.com/plumbline/leadrelay-backend/internal/model"
)

// Storage interfaces consumed by the services. internal/repository provides
// the Postgres implementations; tests substitute in-memory fakes.

type JobStore interface {
    Enqueue(job *model.Job, delay time.Duration) error
    Claim(limit int, staleAfter time.Duration) ([]*model.Job, error)
    MarkSent(id, providerMessageID string, attempts int) error
    ScheduleRetry(id string, attempts int, lastErr string) error
    MarkFailed(id, status string, attempts int, lastErr string) error
    Reschedule(id string, at time.Time) error
    UpdateBody(id, body string) error
    CancelByExternalKeyPrefix(prefix string) (int64, error)
    ExternalKeyExists(key string) (bool, error)
}

type ConsentStore interface {
    Record(phone, consentType, source, tenantID string) (*model.ConsentRecord, error)
    VerifyValid(phone, tenantID string) (*model.ConsentRecord, error)
    Revoke(phone, reason, tenantID string) error
}

type LeadStore interface {
    Upsert(phone, tenantID, source string) (string, error)
    SetOptOut(phone string, optOut bool) error
    IsOptedOut(phone string) (bool, error)
    UpdateStatus(phone, status, tenantID string) error
    LogConversation(phone, tenantID, direction, body, externalID string) error
}

type TenantStore interface {
    GetByID(id string) (*model.Tenant, error)
    GetByProviderNumber(number string) (*model.Tenant, error)
}

type EventStore interface {
    CheckAndRecord(providerID, eventType, tenantID string) (bool, string, error)
}

type AlertBufferStore interface {
    Upsert(tenantID, customerPhone, ownerPhone, text string, window time.Duration) error
    Due(now time.Time) ([]*model.AlertBufferEntry, error)
    Delete(id int64) error
}

type JobStatsStore interface {
    CountStuckPending(olderThan time.Time) (int, error)
    CountFailedSince(since time.Time) (int, error)
    CountSentSince(since time.Time) (int, error)
    SentByTenantSince(since time.Time) (map[string]int, error)
}
