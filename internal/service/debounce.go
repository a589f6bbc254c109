// internal/service/debounce.go
package service

import (
    "fmt"
    "log"
    "time"

    appErrors "github.com/plumbline/leadrelay-backend/internal/errors"
    "github.com/plumbline/leadrelay-backend/internal/model"
    "github.com/plumbline/leadrelay-backend/internal/security"
)

// AlertBuffer debounces owner notifications. Rapid-fire customer messages
// land in one buffer row per (tenant, customer); each arrival pushes the
// flush time out by Window, so the owner gets one summary instead of five
// pings.
type AlertBuffer struct {
    Store  AlertBufferStore
    Jobs   JobStore
    Gate   SafetyGate
    Window time.Duration

    Now func() time.Time
}

func (b *AlertBuffer) now() time.Time {
    if b.Now != nil {
        return b.Now()
    }
    return time.Now()
}

// Buffer queues one alert line for the owner. The text is buffered, never
// sent directly.
func (b *AlertBuffer) Buffer(tenantID, customerPhone, ownerPhone, text string) error {
    if ownerPhone == "" {
        log.Printf("⚠️ no owner number for tenant %s, dropping alert", tenantID)
        return nil
    }
    return b.Store.Upsert(tenantID, customerPhone, ownerPhone, text, b.Window)
}

// FlushDue turns every expired buffer entry into an outbound job. An entry
// is deleted only after its job is safely enqueued; any failure leaves it
// for the next sweep. Returns how many entries flushed.
func (b *AlertBuffer) FlushDue() (int, error) {
    entries, err := b.Store.Due(b.now())
    if err != nil {
        return 0, err
    }

    flushed := 0
    for _, e := range entries {
        job := &model.Job{
            TenantID:    e.TenantID,
            Recipient:   e.OwnerPhone,
            Body:        summarize(e),
            ExternalKey: fmt.Sprintf("buf_%d_%d", e.ID, e.SendAt.Unix()),
        }

        if b.Gate != nil {
            decision := b.Gate.CheckSendSafety(job.Recipient, job.Body, job.ExternalKey, job.TenantID, true)
            if !decision.Allowed {
                log.Printf("⚠️ buffered alert %d blocked (%s), will retry next sweep", e.ID, decision.Code)
                continue
            }
        }

        err := b.Jobs.Enqueue(job, 0)
        if err != nil && !appErrors.IsDuplicateJob(err) {
            log.Printf("⚠️ could not enqueue buffered alert %d: %v", e.ID, err)
            continue
        }

        if err := b.Store.Delete(e.ID); err != nil {
            // job is enqueued; the unique external key absorbs the re-flush
            log.Printf("⚠️ could not delete flushed buffer entry %d: %v", e.ID, err)
            continue
        }
        flushed++
        log.Printf("📬 flushed %d buffered message(s) for %s", e.MessageCount, security.MaskPhone(e.CustomerPhone))
    }
    return flushed, nil
}

// Run sweeps the buffer on a fixed cadence until ctx is done.
func (b *AlertBuffer) Run(stop <-chan struct{}, interval time.Duration) {
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-stop:
            return
        case <-ticker.C:
            if _, err := b.FlushDue(); err != nil {
                log.Printf("⚠️ alert buffer sweep failed: %v", err)
            }
        }
    }
}

// summarize builds the owner-facing text. The customer number stays unmasked
// here: the owner needs it to call back. Masking applies to logs only.
func summarize(e *model.AlertBufferEntry) string {
    if e.MessageCount > 1 {
        return fmt.Sprintf("New lead %s sent %d messages:\n---\n%s\n---\nReply to them directly to take over.",
            e.CustomerPhone, e.MessageCount, e.MessagesText)
    }
    return fmt.Sprintf("New lead %s:\n%s\nReply to them directly to take over.", e.CustomerPhone, e.MessagesText)
}
