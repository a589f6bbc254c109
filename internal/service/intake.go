// internal/service/intake.go
package service

import (
    "fmt"
    "log"
    "strings"
    "time"

    "github.com/google/uuid"

    "github.com/plumbline/leadrelay-backend/internal/cache"
    appErrors "github.com/plumbline/leadrelay-backend/internal/errors"
    "github.com/plumbline/leadrelay-backend/internal/model"
    "github.com/plumbline/leadrelay-backend/internal/security"
)

// InboundEvent is one provider webhook, normalized.
type InboundEvent struct {
    ProviderID string `json:"provider_id"`
    Type       string `json:"type"` // sms, voice
    To         string `json:"to"`   // tenant's provider number
    From       string `json:"from"` // customer
    Body       string `json:"body"`
}

// Requeuer parks an event for later replay when storage fails mid-intake.
type Requeuer interface {
    Requeue(ev InboundEvent)
}

var stopKeywords = map[string]bool{
    "STOP": true, "STOPALL": true, "UNSUBSCRIBE": true,
    "CANCEL": true, "END": true, "QUIT": true,
}

var startKeywords = map[string]bool{
    "START": true, "UNSTOP": true, "YES": true,
}

// optOutConfirmation is the mandated acknowledgement for a STOP. The safety
// gate recognizes this exact body and lets it through the consent and
// opt-out checks it would otherwise fail.
const optOutConfirmation = "You have been unsubscribed and will receive no further messages."

// Intake turns inbound webhooks into state changes and queued replies. It is
// the write path of the system: everything it produces goes through the job
// store, nothing is sent inline. Storage errors fail open (the event is
// processed and requeued) because dropping a lead is worse than double
// processing an already-idempotent flow.
type Intake struct {
    Events   EventStore
    Jobs     JobStore
    Leads    LeadStore
    Consents ConsentStore
    Tenants  TenantStore
    Gate     SafetyGate
    Buffer   *AlertBuffer
    Requeuer Requeuer
    Alerter  Alerter

    // EventCache fronts the webhook_events table for recent provider IDs.
    EventCache *cache.LRU
    // OptOutCache is shared with the safety gate; STOP updates it directly.
    OptOutCache *cache.LRU

    NudgeDelay time.Duration

    // Now is swappable for tests; defaults to time.Now.
    Now func() time.Time
}

func (s *Intake) now() time.Time {
    if s.Now != nil {
        return s.Now()
    }
    return time.Now()
}

// HandleInbound processes one webhook event end to end. It returns an error
// only for malformed input; operational failures are absorbed so the
// provider always gets a 2xx and never retries forever.
func (s *Intake) HandleInbound(ev InboundEvent) error {
    if ev.ProviderID == "" || ev.From == "" {
        return fmt.Errorf("inbound event missing provider id or sender")
    }
    maskedFrom := security.MaskPhone(ev.From)

    tenant, err := s.Tenants.GetByProviderNumber(ev.To)
    if err != nil {
        log.Printf("🚨 tenant lookup failed for %s: %v", ev.To, err)
        s.requeue(ev)
        return nil
    }
    if tenant == nil {
        log.Printf("⚠️ inbound %s for unknown number %s, ignoring", ev.ProviderID, ev.To)
        return nil
    }

    // idempotency: cache first, then the durable ledger
    if _, hit := s.EventCache.Get(ev.ProviderID); hit {
        log.Printf("⏭️ duplicate event %s (cached), skipping", ev.ProviderID)
        return nil
    }
    duplicate, internalID, err := s.Events.CheckAndRecord(ev.ProviderID, ev.Type, tenant.ID)
    if err != nil {
        // fail open: process anyway, park a copy for replay
        log.Printf("🚨 event ledger unavailable for %s, processing anyway: %v", ev.ProviderID, err)
        s.requeue(ev)
        internalID = uuid.NewString()
    } else if duplicate {
        log.Printf("⏭️ duplicate event %s, skipping", ev.ProviderID)
        s.EventCache.Add(ev.ProviderID, internalID)
        return nil
    }
    s.EventCache.Add(ev.ProviderID, internalID)

    if ev.Type == "sms" {
        if handled := s.handleKeywords(ev, tenant, internalID, maskedFrom); handled {
            return nil
        }
    }

    s.recordLead(ev, tenant, internalID, maskedFrom)

    // customer replied; any scheduled follow-up nudge is now stale
    if n, err := s.Jobs.CancelByExternalKeyPrefix("nudge_" + ev.From); err != nil {
        log.Printf("⚠️ could not cancel nudges for %s: %v", maskedFrom, err)
    } else if n > 0 {
        log.Printf("🗑️ cancelled %d stale nudge(s) for %s", n, maskedFrom)
    }

    if tenant.AIEnabled {
        s.enqueueReply(ev, tenant, internalID)
        s.enqueueNudge(ev, tenant, internalID)
    } else {
        log.Printf("🤖 automated replies off for tenant %s, alerting owner only", tenant.ID)
    }

    s.notifyOwner(ev, tenant)
    return nil
}

// handleKeywords processes STOP/START messages. Returns true when the event
// was a keyword and needs no further handling.
func (s *Intake) handleKeywords(ev InboundEvent, tenant *model.Tenant, internalID, maskedFrom string) bool {
    keyword := strings.ToUpper(strings.TrimSpace(ev.Body))

    if stopKeywords[keyword] {
        log.Printf("🛑 opt-out from %s (%s)", maskedFrom, keyword)
        if err := s.Leads.SetOptOut(ev.From, true); err != nil {
            log.Printf("🚨 could not record opt-out for %s: %v", maskedFrom, err)
            s.alert("Opt-out write failed", fmt.Sprintf("phone %s keyword %s", maskedFrom, keyword))
        }
        s.OptOutCache.Add(ev.From, "blocked")
        if err := s.Consents.Revoke(ev.From, "keyword:"+keyword, tenant.ID); err != nil {
            log.Printf("⚠️ could not revoke consent for %s: %v", maskedFrom, err)
        }
        if err := s.Leads.LogConversation(ev.From, tenant.ID, "inbound", ev.Body, "in_"+internalID); err != nil {
            log.Printf("⚠️ could not log opt-out message: %v", err)
        }
        // the one compliance message still owed to the number
        s.enqueueChecked(&model.Job{
            TenantID:    tenant.ID,
            Recipient:   ev.From,
            Body:        optOutConfirmation,
            ExternalKey: "stopack_" + internalID,
        }, 0)
        return true
    }

    if startKeywords[keyword] {
        log.Printf("▶️ opt-in from %s (%s)", maskedFrom, keyword)
        if err := s.Leads.SetOptOut(ev.From, false); err != nil {
            log.Printf("🚨 could not clear opt-out for %s: %v", maskedFrom, err)
            return true
        }
        s.OptOutCache.Remove(ev.From)
        // explicit opt back in is express consent
        if _, err := s.Consents.Record(ev.From, model.ConsentExpress, "keyword:"+keyword, tenant.ID); err != nil {
            log.Printf("⚠️ could not record consent for %s: %v", maskedFrom, err)
        }
        if err := s.Leads.LogConversation(ev.From, tenant.ID, "inbound", ev.Body, "in_"+internalID); err != nil {
            log.Printf("⚠️ could not log opt-in message: %v", err)
        }
        return true
    }

    return false
}

func (s *Intake) recordLead(ev InboundEvent, tenant *model.Tenant, internalID, maskedFrom string) {
    if _, err := s.Leads.Upsert(ev.From, tenant.ID, ev.Type); err != nil {
        log.Printf("⚠️ could not upsert lead %s: %v", maskedFrom, err)
    }
    // contacting us first grants implied consent
    if _, err := s.Consents.Record(ev.From, model.ConsentImplied, "inbound_"+ev.Type, tenant.ID); err != nil {
        log.Printf("⚠️ could not record consent for %s: %v", maskedFrom, err)
    }
    body := ev.Body
    if ev.Type == "voice" {
        body = "(missed call)"
    }
    if err := s.Leads.LogConversation(ev.From, tenant.ID, "inbound", body, "in_"+internalID); err != nil {
        log.Printf("⚠️ could not log inbound message: %v", err)
    }
    if ev.Type == "sms" {
        if err := s.Leads.UpdateStatus(ev.From, model.LeadStatusReplied, tenant.ID); err != nil {
            log.Printf("⚠️ could not update lead status: %v", err)
        }
    }
}

// enqueueReply queues the immediate acknowledgement. The gate runs at
// enqueue time and again at send time; quiet hours holds the reply for the
// next window, any other denial drops it.
func (s *Intake) enqueueReply(ev InboundEvent, tenant *model.Tenant, internalID string) {
    var body string
    if ev.Type == "voice" {
        body = fmt.Sprintf("Hi! This is the automated assistant for %s. Sorry we missed your call. How can we help? Reply here and we'll get right back to you.", tenant.Name)
    } else {
        body = fmt.Sprintf("Thanks for reaching out to %s! This is our automated assistant. We've got your message and someone will follow up shortly.", tenant.Name)
    }
    s.enqueueChecked(&model.Job{
        TenantID:    tenant.ID,
        Recipient:   ev.From,
        Body:        body,
        ExternalKey: "ack_" + internalID,
    }, 0)
}

// enqueueNudge schedules a delayed follow-up that gets cancelled if the
// customer replies first.
func (s *Intake) enqueueNudge(ev InboundEvent, tenant *model.Tenant, internalID string) {
    if s.NudgeDelay <= 0 {
        return
    }
    body := fmt.Sprintf("Just checking in from %s's assistant. Still need a hand? Reply here anytime.", tenant.Name)
    s.enqueueChecked(&model.Job{
        TenantID:    tenant.ID,
        Recipient:   ev.From,
        Body:        body,
        ExternalKey: fmt.Sprintf("nudge_%s_%s", ev.From, internalID),
    }, s.NudgeDelay)
}

func (s *Intake) enqueueChecked(job *model.Job, delay time.Duration) {
    decision := s.Gate.CheckSendSafety(job.Recipient, job.Body, job.ExternalKey, job.TenantID, false)
    if !decision.Allowed {
        if decision.Code != DenyQuietHours {
            log.Printf("🚫 not enqueuing %s: %s", job.ExternalKey, decision.Code)
            return
        }
        // after hours is a scheduling condition, not a refusal: hold the
        // reply until the tenant's window opens instead of dropping it
        now := s.now()
        if at := nextSendWindow(s.Tenants, job.TenantID, now); at.After(now.Add(delay)) {
            job.ScheduledFor = &at
            delay = 0
            log.Printf("🌙 holding %s until %s (quiet hours)", job.ExternalKey, at.Format(time.RFC3339))
        }
    }
    if err := s.Jobs.Enqueue(job, delay); err != nil {
        if appErrors.IsDuplicateJob(err) {
            log.Printf("⏭️ job %s already enqueued", job.ExternalKey)
            return
        }
        log.Printf("🚨 could not enqueue %s: %v", job.ExternalKey, err)
    }
}

func (s *Intake) notifyOwner(ev InboundEvent, tenant *model.Tenant) {
    if s.Buffer == nil {
        return
    }
    var text string
    if ev.Type == "voice" {
        text = "missed call"
    } else {
        text = ev.Body
    }
    if err := s.Buffer.Buffer(tenant.ID, ev.From, tenant.OwnerPhoneNumber, text); err != nil {
        log.Printf("⚠️ could not buffer owner alert: %v", err)
    }
}

func (s *Intake) requeue(ev InboundEvent) {
    if s.Requeuer != nil {
        s.Requeuer.Requeue(ev)
    }
}

func (s *Intake) alert(title, details string) {
    if s.Alerter != nil {
        s.Alerter.Alert(title, details)
    }
}

// QueueRequeuer publishes failed events to the retry queue.
type QueueRequeuer struct {
    Publish func(queueName string, payload any) error
    Queue   string
}

func (q *QueueRequeuer) Requeue(ev InboundEvent) {
    if q == nil || q.Publish == nil {
        return
    }
    if err := q.Publish(q.Queue, ev); err != nil {
        log.Printf("🚨 could not requeue event %s: %v", ev.ProviderID, err)
    }
}
