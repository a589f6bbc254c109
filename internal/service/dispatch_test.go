package service

import (
    "errors"
    "strings"
    "testing"
    "time"

    "github.com/plumbline/leadrelay-backend/internal/model"
)

func newDispatcher(jobs *fakeJobStore, sender Sender, gate SafetyGate) (*Dispatcher, *fakeLeadStore, *fakeAlerter) {
    leads := newFakeLeadStore()
    alerter := &fakeAlerter{}
    d := &Dispatcher{
        Jobs:    jobs,
        Leads:   leads,
        Tenants: newFakeTenantStore(businessHoursTenant()),
        Gate:    gate,
        Sender:  sender,
        Alerter: alerter,
        Config: DispatcherConfig{
            MaxAttempts: 5,
            BatchSize:   10,
            StaleAfter:  5 * time.Minute,
        },
    }
    return d, leads, alerter
}

func TestDispatchSuccess(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{Recipient: customerPhone, Body: "Hi there", TenantID: tenantID})
    sender := &fakeSender{}
    d, leads, _ := newDispatcher(jobs, sender, allowAllGate{})

    n, err := d.ProcessBatch()
    if err != nil || n != 1 {
        t.Fatalf("ProcessBatch = %d, %v", n, err)
    }

    sent := jobs.byStatus(model.JobStatusSent)
    if len(sent) != 1 {
        t.Fatalf("sent jobs = %d, want 1", len(sent))
    }
    if sent[0].Attempts != 1 {
        t.Errorf("Attempts = %d, want 1", sent[0].Attempts)
    }
    if sent[0].ProviderMessageID == "" {
        t.Error("provider message id not recorded")
    }
    if len(leads.conversations) != 1 || !strings.HasPrefix(leads.conversations[0], "outbound:") {
        t.Errorf("conversation log = %v", leads.conversations)
    }
    if leads.statuses[customerPhone] != model.LeadStatusContacted {
        t.Errorf("lead status = %q, want contacted", leads.statuses[customerPhone])
    }
}

func TestDispatchAppendsDisclosureOnce(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi there", TenantID: tenantID})
    sender := &fakeSender{}
    d, _, _ := newDispatcher(jobs, sender, allowAllGate{})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }

    body := jobs.get("j1").Body
    if !strings.Contains(body, "Reply STOP to unsubscribe.") {
        t.Fatalf("disclosure missing from %q", body)
    }
    if strings.Count(strings.ToLower(body), "stop") != 1 {
        t.Errorf("disclosure stacked: %q", body)
    }
    if len(sender.sent) != 1 || !strings.Contains(sender.sent[0], "Reply STOP") {
        t.Errorf("sent without disclosure: %v", sender.sent)
    }
}

func TestDispatchRetryableFailure(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi", TenantID: tenantID})
    sender := &fakeSender{results: []SendResult{
        {Outcome: SendRetryable, Err: errors.New("rate limited")},
    }}
    d, _, alerter := newDispatcher(jobs, sender, allowAllGate{})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }

    j := jobs.get("j1")
    if j.Status != model.JobStatusPending {
        t.Fatalf("status = %q, want pending", j.Status)
    }
    if j.Attempts != 1 {
        t.Errorf("Attempts = %d, want 1", j.Attempts)
    }
    if j.LastError != "rate limited" {
        t.Errorf("LastError = %q", j.LastError)
    }
    if alerter.count() != 0 {
        t.Errorf("retryable failure should not alert, got %d", alerter.count())
    }
}

func TestDispatchDeadLettersAtMaxAttempts(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi", TenantID: tenantID, Attempts: 4})
    sender := &fakeSender{results: []SendResult{
        {Outcome: SendRetryable, Err: errors.New("timeout")},
    }}
    d, _, alerter := newDispatcher(jobs, sender, allowAllGate{})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }

    j := jobs.get("j1")
    if j.Status != model.JobStatusFailedPermanent {
        t.Fatalf("status = %q, want failed_permanent", j.Status)
    }
    if j.Attempts != 5 {
        t.Errorf("Attempts = %d, want 5", j.Attempts)
    }
    if alerter.count() != 1 {
        t.Errorf("dead letter should alert once, got %d", alerter.count())
    }
}

func TestDispatchPermanentFailure(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi", TenantID: tenantID})
    sender := &fakeSender{results: []SendResult{
        {Outcome: SendPermanent, Err: errors.New("invalid number")},
    }}
    d, _, alerter := newDispatcher(jobs, sender, allowAllGate{})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }

    j := jobs.get("j1")
    if j.Status != model.JobStatusFailedPermanent {
        t.Fatalf("status = %q, want failed_permanent after one attempt", j.Status)
    }
    if j.Attempts != 1 {
        t.Errorf("Attempts = %d, want 1 (no pointless retries)", j.Attempts)
    }
    if alerter.count() != 1 {
        t.Errorf("permanent failure should alert, got %d", alerter.count())
    }
}

func TestDispatchGateDenialFailsSafety(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi", TenantID: tenantID})
    sender := &fakeSender{}
    d, _, _ := newDispatcher(jobs, sender, fixedGate{Decision{Code: DenyNoConsent, Reason: "no consent"}})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }
    j := jobs.get("j1")
    if j.Status != model.JobStatusFailedSafety {
        t.Fatalf("status = %q, want failed_safety", j.Status)
    }
    if len(sender.sent) != 0 {
        t.Error("denied job must not be sent")
    }
}

func TestDispatchOptOutDenialUsesOptOutStatus(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi", TenantID: tenantID})
    d, _, _ := newDispatcher(jobs, &fakeSender{}, fixedGate{Decision{Code: DenyOptedOut, Reason: "unsubscribed"}})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }
    if got := jobs.get("j1").Status; got != model.JobStatusFailedOptOut {
        t.Fatalf("status = %q, want failed_optout", got)
    }
}

func TestDispatchQuietHoursReschedules(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi", TenantID: tenantID})
    d, _, _ := newDispatcher(jobs, &fakeSender{}, fixedGate{Decision{Code: DenyQuietHours, Reason: "after hours"}})
    d.Now = func() time.Time {
        return time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
    }

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }

    j := jobs.get("j1")
    if j.Status != model.JobStatusPending {
        t.Fatalf("status = %q, want pending (held, not failed)", j.Status)
    }
    if j.Attempts != 0 {
        t.Errorf("Attempts = %d, holding must not burn an attempt", j.Attempts)
    }
    want := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
    if j.ScheduledFor == nil || !j.ScheduledFor.Equal(want) {
        t.Errorf("ScheduledFor = %v, want %v", j.ScheduledFor, want)
    }
}

func TestDispatchOversizedBodyFailsCompliance(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: strings.Repeat("x", 1700), TenantID: tenantID})
    sender := &fakeSender{}
    d, _, _ := newDispatcher(jobs, sender, allowAllGate{})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }
    if got := jobs.get("j1").Status; got != model.JobStatusFailedCompliance {
        t.Fatalf("status = %q, want failed_compliance", got)
    }
    if len(sender.sent) != 0 {
        t.Error("oversized job must not be sent")
    }
}

func TestDispatchPanicIsContained(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "boom", TenantID: tenantID})
    jobs.seed(&model.Job{ID: "j2", Recipient: customerPhone, Body: "fine", TenantID: tenantID})
    sender := SendFunc(func(recipient, body string) SendResult {
        if strings.Contains(body, "boom") {
            panic("sender exploded")
        }
        return SendResult{Outcome: SendOK, ProviderMessageID: "pm-2"}
    })
    d, _, alerter := newDispatcher(jobs, sender, allowAllGate{})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }

    if got := jobs.get("j1").Status; got != model.JobStatusFailedPermanent {
        t.Errorf("panicked job status = %q, want failed_permanent", got)
    }
    if got := jobs.get("j2").Status; got != model.JobStatusSent {
        t.Errorf("sibling job status = %q, want sent", got)
    }
    if alerter.count() != 1 {
        t.Errorf("panic should alert once, got %d", alerter.count())
    }
}

func TestDispatchStatusUpdateFailureDeadLetters(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.seed(&model.Job{ID: "j1", Recipient: customerPhone, Body: "Hi", TenantID: tenantID})
    jobs.markErr = errors.New("db gone")
    d, _, alerter := newDispatcher(jobs, &fakeSender{}, allowAllGate{})

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }
    // both MarkSent and the defensive MarkFailed error out; all we can do is
    // alert loudly so the claim does not resend silently
    if alerter.count() != 1 {
        t.Errorf("expected one alert, got %d", alerter.count())
    }
}

func TestDispatchClaimErrorPropagates(t *testing.T) {
    jobs := newFakeJobStore()
    jobs.claimErr = errors.New("connection refused")
    d, _, _ := newDispatcher(jobs, &fakeSender{}, allowAllGate{})

    if _, err := d.ProcessBatch(); err == nil {
        t.Fatal("expected claim error to propagate")
    }
}

func TestDispatchKeyedJobSendsUnderRealGate(t *testing.T) {
    // enqueue -> claim -> send with the production gate: the job's own
    // idempotency key must not read back as a duplicate at send time
    g, consents, _, jobs := newGate()
    consents.Record(customerPhone, model.ConsentImplied, "inbound_sms", tenantID)
    if err := jobs.Enqueue(&model.Job{
        TenantID:    tenantID,
        Recipient:   customerPhone,
        Body:        "Thanks for reaching out! This is our automated assistant.",
        ExternalKey: "ack_evt-1",
    }, 0); err != nil {
        t.Fatal(err)
    }

    sender := &fakeSender{}
    d, _, _ := newDispatcher(jobs, sender, g)
    d.Now = g.Now

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }

    if denied := jobs.byStatus(model.JobStatusFailedSafety); len(denied) != 0 {
        t.Fatalf("keyed job denied at send time: %q", denied[0].LastError)
    }
    if sent := jobs.byStatus(model.JobStatusSent); len(sent) != 1 {
        t.Fatalf("sent jobs = %d, want 1", len(sent))
    }
    if len(sender.sent) != 1 {
        t.Fatalf("sender calls = %d, want 1", len(sender.sent))
    }
}

func TestDispatchInternalSkipsDisclosureAndLeadTracking(t *testing.T) {
    jobs := newFakeJobStore()
    owner := "+15559998888"
    jobs.seed(&model.Job{ID: "j1", Recipient: owner, Body: "queue backlog", TenantID: tenantID})
    sender := &fakeSender{}
    d, leads, _ := newDispatcher(jobs, sender, allowAllGate{})
    d.Config.OwnerPhone = owner

    if _, err := d.ProcessBatch(); err != nil {
        t.Fatal(err)
    }
    if body := jobs.get("j1").Body; strings.Contains(body, "unsubscribe") {
        t.Errorf("internal alert got a compliance footer: %q", body)
    }
    if len(leads.conversations) != 0 {
        t.Errorf("internal send should not touch lead history: %v", leads.conversations)
    }
}
