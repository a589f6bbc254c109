// internal/service/dispatch.go
package service

import (
    "context"
    "fmt"
    "log"
    "strings"
    "sync"
    "time"

    "github.com/plumbline/leadrelay-backend/internal/model"
    "github.com/plumbline/leadrelay-backend/internal/security"
)

const (
    pollMin   = 100 * time.Millisecond
    pollMax   = 2 * time.Second
    errorWait = 10 * time.Second
    // after loopFailureLimit consecutive batch errors the worker alerts and
    // cools off for a minute instead of hammering a broken database
    loopFailureLimit = 3
    loopFailureWait  = 60 * time.Second
    // hard ceiling on one SMS body (provider limit for concatenated messages)
    maxBodyLen = 1600
)

var disclosureMarkers = []string{"stop", "unsubscribe", "cancel", "opt out", "opt-out"}

type DispatcherConfig struct {
    MaxAttempts int
    BatchSize   int
    StaleAfter  time.Duration

    // OwnerPhone marks the platform operator; messages to it are internal.
    OwnerPhone string

    // KillSwitch pauses claiming while true. Consulted before every poll;
    // how dynamic it is depends on what the closure reads.
    KillSwitch func() bool
}

// Dispatcher drains the job queue: claim a batch, gate each job, send,
// record the outcome. One Dispatcher runs per worker process; correctness
// with multiple processes comes from the store's atomic claim.
type Dispatcher struct {
    Jobs    JobStore
    Leads   LeadStore
    Tenants TenantStore
    Gate    SafetyGate
    Sender  Sender
    Alerter Alerter
    Config  DispatcherConfig

    // Now is swappable for tests; defaults to time.Now.
    Now func() time.Time

    mu      sync.Mutex
    stopCh  chan struct{}
    running bool
}

func (d *Dispatcher) now() time.Time {
    if d.Now != nil {
        return d.Now()
    }
    return time.Now()
}

// Start launches the polling loop. Stop or ctx cancellation ends it.
func (d *Dispatcher) Start(ctx context.Context) {
    d.mu.Lock()
    if d.running {
        d.mu.Unlock()
        return
    }
    d.running = true
    d.stopCh = make(chan struct{})
    d.mu.Unlock()

    go d.run(ctx)
}

func (d *Dispatcher) Stop() {
    d.mu.Lock()
    defer d.mu.Unlock()
    if d.running {
        close(d.stopCh)
        d.running = false
    }
}

func (d *Dispatcher) run(ctx context.Context) {
    log.Println("🚀 dispatcher started")
    wait := pollMin
    failures := 0

    for {
        select {
        case <-ctx.Done():
            log.Println("dispatcher stopped:", ctx.Err())
            return
        case <-d.stopCh:
            log.Println("dispatcher stopped")
            return
        default:
        }

        if d.Config.KillSwitch != nil && d.Config.KillSwitch() {
            if !d.sleep(ctx, errorWait) {
                return
            }
            continue
        }

        n, err := d.ProcessBatch()
        switch {
        case err != nil:
            failures++
            log.Printf("⚠️ dispatch batch failed (%d consecutive): %v", failures, err)
            wait = errorWait
            if failures >= loopFailureLimit {
                d.alert("Dispatch worker failing",
                    fmt.Sprintf("%d consecutive batch errors, last: %v", failures, err))
                wait = loopFailureWait
                failures = 0
            }
        case n > 0:
            failures = 0
            wait = pollMin
        default:
            failures = 0
            // idle: back off gradually so an empty queue costs little
            wait = time.Duration(float64(wait) * 1.5)
            if wait > pollMax {
                wait = pollMax
            }
        }

        if !d.sleep(ctx, wait) {
            return
        }
    }
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) bool {
    select {
    case <-ctx.Done():
        return false
    case <-d.stopCh:
        return false
    case <-time.After(dur):
        return true
    }
}

// ProcessBatch claims one batch of due jobs and works through it. Returns
// how many jobs were claimed.
func (d *Dispatcher) ProcessBatch() (int, error) {
    jobs, err := d.Jobs.Claim(d.Config.BatchSize, d.Config.StaleAfter)
    if err != nil {
        return 0, err
    }
    for _, job := range jobs {
        d.processJob(job)
    }
    return len(jobs), nil
}

// processJob handles exactly one claimed job. A panic anywhere inside is
// contained here: the job dead-letters and the loop moves on.
func (d *Dispatcher) processJob(job *model.Job) {
    defer func() {
        if r := recover(); r != nil {
            log.Printf("💥 panic processing job %s: %v", job.ID, r)
            if err := d.Jobs.MarkFailed(job.ID, model.JobStatusFailedPermanent, job.Attempts, fmt.Sprintf("panic: %v", r)); err != nil {
                log.Printf("🚨 could not dead-letter panicked job %s: %v", job.ID, err)
            }
            d.alert("Job processing panic", fmt.Sprintf("job %s: %v", job.ID, r))
        }
    }()

    masked := security.MaskPhone(job.Recipient)
    isInternal := d.isInternal(job)

    // no external key here: the claimed job's own row would match the
    // duplicate lookup, and the table's unique constraint already deduped
    // at enqueue time
    decision := d.Gate.CheckSendSafety(job.Recipient, job.Body, "", job.TenantID, isInternal)
    if !decision.Allowed {
        d.handleDenial(job, decision)
        return
    }

    // attempts already exhausted before this claim (stale reclaim path)
    if job.Attempts >= d.Config.MaxAttempts {
        d.deadLetter(job, job.Attempts, "max attempts exhausted")
        return
    }

    if !isInternal && !hasDisclosure(job.Body) {
        job.Body = job.Body + "\n\nReply STOP to unsubscribe."
        if err := d.Jobs.UpdateBody(job.ID, job.Body); err != nil {
            log.Printf("⚠️ could not persist amended body for job %s: %v", job.ID, err)
        }
    }
    if len(job.Body) > maxBodyLen {
        if err := d.Jobs.MarkFailed(job.ID, model.JobStatusFailedCompliance, job.Attempts, "body exceeds maximum message length"); err != nil {
            log.Printf("🚨 could not fail oversized job %s: %v", job.ID, err)
        }
        return
    }

    attempt := job.Attempts + 1
    res := d.Sender.Send(job.Recipient, job.Body)
    switch res.Outcome {
    case SendOK:
        if err := d.Jobs.MarkSent(job.ID, res.ProviderMessageID, attempt); err != nil {
            // the message left but we cannot record it; dead-letter rather
            // than risk a duplicate send on reclaim
            log.Printf("🚨 sent but could not mark job %s: %v", job.ID, err)
            if err2 := d.Jobs.MarkFailed(job.ID, model.JobStatusFailedPermanent, attempt, "sent but status update failed: "+err.Error()); err2 != nil {
                log.Printf("🚨 defensive dead-letter also failed for job %s: %v", job.ID, err2)
            }
            d.alert("Status update failure", fmt.Sprintf("job %s sent but unrecorded", job.ID))
            return
        }
        log.Printf("📤 sent job %s to %s (attempt %d)", job.ID, masked, attempt)
        if !isInternal {
            if err := d.Leads.LogConversation(job.Recipient, job.TenantID, "outbound", job.Body, "out_"+job.ID); err != nil {
                log.Printf("⚠️ could not log conversation for job %s: %v", job.ID, err)
            }
            if err := d.Leads.UpdateStatus(job.Recipient, model.LeadStatusContacted, job.TenantID); err != nil {
                log.Printf("⚠️ could not update lead status for %s: %v", masked, err)
            }
        }

    case SendRetryable:
        errMsg := "retryable send failure"
        if res.Err != nil {
            errMsg = res.Err.Error()
        }
        if attempt >= d.Config.MaxAttempts {
            d.deadLetter(job, attempt, errMsg)
            return
        }
        if err := d.Jobs.ScheduleRetry(job.ID, attempt, errMsg); err != nil {
            log.Printf("🚨 could not schedule retry for job %s: %v", job.ID, err)
            return
        }
        log.Printf("🔁 job %s attempt %d failed, will retry: %s", job.ID, attempt, errMsg)

    case SendPermanent:
        errMsg := "permanent send failure"
        if res.Err != nil {
            errMsg = res.Err.Error()
        }
        d.deadLetter(job, attempt, errMsg)
    }
}

func (d *Dispatcher) handleDenial(job *model.Job, decision Decision) {
    switch decision.Code {
    case DenyQuietHours:
        at := nextSendWindow(d.Tenants, job.TenantID, d.now())
        if err := d.Jobs.Reschedule(job.ID, at); err != nil {
            log.Printf("🚨 could not hold job %s for quiet hours: %v", job.ID, err)
            return
        }
        log.Printf("🌙 job %s held until %s (quiet hours)", job.ID, at.Format(time.RFC3339))
    case DenyOptedOut:
        if err := d.Jobs.MarkFailed(job.ID, model.JobStatusFailedOptOut, job.Attempts, decision.Reason); err != nil {
            log.Printf("🚨 could not fail job %s: %v", job.ID, err)
        }
    default:
        if err := d.Jobs.MarkFailed(job.ID, model.JobStatusFailedSafety, job.Attempts, decision.Reason); err != nil {
            log.Printf("🚨 could not fail job %s: %v", job.ID, err)
        }
    }
}

// nextSendWindow computes the next business-hours opening in the tenant's
// timezone. Unknown tenant or timezone falls back to an hour from now.
func nextSendWindow(tenants TenantStore, tenantID string, now time.Time) time.Time {
    fallback := now.Add(time.Hour)
    if tenantID == "" {
        return fallback
    }
    tenant, err := tenants.GetByID(tenantID)
    if err != nil || tenant == nil {
        return fallback
    }
    loc, err := time.LoadLocation(tenant.Timezone)
    if err != nil {
        return fallback
    }
    local := now.In(loc)
    open := time.Date(local.Year(), local.Month(), local.Day(), tenant.BusinessHoursStart, 0, 0, 0, loc)
    if !local.Before(open) {
        open = open.AddDate(0, 0, 1)
    }
    return open
}

func (d *Dispatcher) deadLetter(job *model.Job, attempts int, lastErr string) {
    if err := d.Jobs.MarkFailed(job.ID, model.JobStatusFailedPermanent, attempts, lastErr); err != nil {
        log.Printf("🚨 could not dead-letter job %s: %v", job.ID, err)
        return
    }
    masked := security.MaskPhone(job.Recipient)
    log.Printf("☠️ job %s dead-lettered after %d attempt(s): %s", job.ID, attempts, lastErr)
    d.alert("Message delivery failed permanently",
        fmt.Sprintf("job %s to %s failed after %d attempt(s): %s", job.ID, masked, attempts, lastErr))
}

func (d *Dispatcher) isInternal(job *model.Job) bool {
    if d.Config.OwnerPhone != "" && job.Recipient == d.Config.OwnerPhone {
        return true
    }
    if job.TenantID == "" {
        return false
    }
    tenant, err := d.Tenants.GetByID(job.TenantID)
    if err != nil || tenant == nil {
        return false
    }
    return tenant.OwnerPhoneNumber != "" && job.Recipient == tenant.OwnerPhoneNumber
}

func (d *Dispatcher) alert(title, details string) {
    if d.Alerter != nil {
        d.Alerter.Alert(title, details)
    }
}

func hasDisclosure(body string) bool {
    lower := strings.ToLower(body)
    for _, marker := range disclosureMarkers {
        if strings.Contains(lower, marker) {
            return true
        }
    }
    return false
}
