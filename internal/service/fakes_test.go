package service

import (
    "fmt"
    "strings"
    "sync"
    "time"

    appErrors "github.com/plumbline/leadrelay-backend/internal/errors"
    "github.com/plumbline/leadrelay-backend/internal/model"
)

// In-memory stand-ins for the repository layer. They mirror the documented
// store contracts closely enough for the services not to notice.

type fakeJobStore struct {
    mu         sync.Mutex
    seq        int
    jobs       map[string]*model.Job
    enqueueErr error
    markErr    error
    claimErr   error
}

func newFakeJobStore() *fakeJobStore {
    return &fakeJobStore{jobs: make(map[string]*model.Job)}
}

func (f *fakeJobStore) Enqueue(job *model.Job, delay time.Duration) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.enqueueErr != nil {
        return f.enqueueErr
    }
    if job.ExternalKey != "" {
        for _, j := range f.jobs {
            if j.ExternalKey == job.ExternalKey {
                return appErrors.NewDuplicateJob(job.ExternalKey)
            }
        }
    }
    f.seq++
    job.ID = fmt.Sprintf("job-%d", f.seq)
    job.Status = model.JobStatusPending
    job.CreatedAt = time.Now()
    if delay > 0 {
        at := job.CreatedAt.Add(delay)
        job.ScheduledFor = &at
    }
    cp := *job
    f.jobs[job.ID] = &cp
    return nil
}

func (f *fakeJobStore) Claim(limit int, staleAfter time.Duration) ([]*model.Job, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.claimErr != nil {
        return nil, f.claimErr
    }
    now := time.Now()
    var claimed []*model.Job
    for _, j := range f.jobs {
        if len(claimed) >= limit {
            break
        }
        if j.Status != model.JobStatusPending {
            continue
        }
        if j.ScheduledFor != nil && j.ScheduledFor.After(now) {
            continue
        }
        j.Status = model.JobStatusProcessing
        j.LockedAt = &now
        cp := *j
        claimed = append(claimed, &cp)
    }
    return claimed, nil
}

func (f *fakeJobStore) MarkSent(id, providerMessageID string, attempts int) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.markErr != nil {
        return f.markErr
    }
    j, ok := f.jobs[id]
    if !ok || j.Status != model.JobStatusProcessing {
        return nil
    }
    now := time.Now()
    j.Status = model.JobStatusSent
    j.ProviderMessageID = providerMessageID
    j.Attempts = attempts
    j.SentAt = &now
    j.LockedAt = nil
    return nil
}

func (f *fakeJobStore) ScheduleRetry(id string, attempts int, lastErr string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    j, ok := f.jobs[id]
    if !ok || j.Status != model.JobStatusProcessing {
        return nil
    }
    now := time.Now()
    j.Status = model.JobStatusPending
    j.Attempts = attempts
    j.LastError = lastErr
    j.LastAttemptAt = &now
    j.LockedAt = nil
    // keep retried jobs out of the next fake Claim pass
    j.ScheduledFor = ptrTime(now.Add(time.Hour))
    return nil
}

func (f *fakeJobStore) MarkFailed(id, status string, attempts int, lastErr string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.markErr != nil {
        return f.markErr
    }
    j, ok := f.jobs[id]
    if !ok || j.Status != model.JobStatusProcessing {
        return nil
    }
    j.Status = status
    j.Attempts = attempts
    j.LastError = lastErr
    j.LockedAt = nil
    return nil
}

func (f *fakeJobStore) Reschedule(id string, at time.Time) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    j, ok := f.jobs[id]
    if !ok || j.Status != model.JobStatusProcessing {
        return nil
    }
    j.Status = model.JobStatusPending
    j.ScheduledFor = &at
    j.LockedAt = nil
    return nil
}

func (f *fakeJobStore) UpdateBody(id, body string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if j, ok := f.jobs[id]; ok {
        j.Body = body
    }
    return nil
}

func (f *fakeJobStore) CancelByExternalKeyPrefix(prefix string) (int64, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    var n int64
    for _, j := range f.jobs {
        if strings.HasPrefix(j.ExternalKey, prefix) &&
            (j.Status == model.JobStatusPending || j.Status == model.JobStatusProcessing) {
            j.Status = model.JobStatusCancelled
            n++
        }
    }
    return n, nil
}

func (f *fakeJobStore) ExternalKeyExists(key string) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    for _, j := range f.jobs {
        if j.ExternalKey == key {
            return true, nil
        }
    }
    return false, nil
}

// seed inserts a job directly, bypassing Enqueue bookkeeping.
func (f *fakeJobStore) seed(j *model.Job) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.seq++
    if j.ID == "" {
        j.ID = fmt.Sprintf("job-%d", f.seq)
    }
    if j.Status == "" {
        j.Status = model.JobStatusPending
    }
    f.jobs[j.ID] = j
}

func (f *fakeJobStore) get(id string) *model.Job {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.jobs[id]
}

func (f *fakeJobStore) byStatus(status string) []*model.Job {
    f.mu.Lock()
    defer f.mu.Unlock()
    var out []*model.Job
    for _, j := range f.jobs {
        if j.Status == status {
            out = append(out, j)
        }
    }
    return out
}

type fakeLeadStore struct {
    mu            sync.Mutex
    optOut        map[string]bool
    statuses      map[string]string
    conversations []string // "direction:body"
    optOutErr     error
}

func newFakeLeadStore() *fakeLeadStore {
    return &fakeLeadStore{optOut: make(map[string]bool), statuses: make(map[string]string)}
}

func (f *fakeLeadStore) Upsert(phone, tenantID, source string) (string, error) {
    return "lead-" + phone, nil
}

func (f *fakeLeadStore) SetOptOut(phone string, optOut bool) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.optOutErr != nil {
        return f.optOutErr
    }
    f.optOut[phone] = optOut
    return nil
}

func (f *fakeLeadStore) IsOptedOut(phone string) (bool, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    return f.optOut[phone], nil
}

func (f *fakeLeadStore) UpdateStatus(phone, status, tenantID string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.statuses[phone] = status
    return nil
}

func (f *fakeLeadStore) LogConversation(phone, tenantID, direction, body, externalID string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.conversations = append(f.conversations, direction+":"+body)
    return nil
}

type fakeConsentStore struct {
    mu        sync.Mutex
    records   map[string][]*model.ConsentRecord
    verifyErr error
}

func newFakeConsentStore() *fakeConsentStore {
    return &fakeConsentStore{records: make(map[string][]*model.ConsentRecord)}
}

func (f *fakeConsentStore) Record(phone, consentType, source, tenantID string) (*model.ConsentRecord, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    rec := &model.ConsentRecord{
        ID: fmt.Sprintf("c-%d", len(f.records[phone])+1), TenantID: tenantID,
        Phone: phone, Type: consentType, Source: source, ConsentedAt: time.Now(),
    }
    if consentType == model.ConsentImplied {
        exp := rec.ConsentedAt.Add(model.ImpliedConsentTTL)
        rec.ExpiresAt = &exp
    }
    f.records[phone] = append(f.records[phone], rec)
    return rec, nil
}

func (f *fakeConsentStore) VerifyValid(phone, tenantID string) (*model.ConsentRecord, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.verifyErr != nil {
        return nil, f.verifyErr
    }
    now := time.Now()
    for i := len(f.records[phone]) - 1; i >= 0; i-- {
        rec := f.records[phone][i]
        if rec.RevokedAt != nil {
            continue
        }
        if rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
            continue
        }
        return rec, nil
    }
    return nil, nil
}

func (f *fakeConsentStore) Revoke(phone, reason, tenantID string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    now := time.Now()
    for _, rec := range f.records[phone] {
        if rec.RevokedAt == nil {
            rec.RevokedAt = &now
            rec.RevocationReason = reason
        }
    }
    return nil
}

type fakeTenantStore struct {
    tenants map[string]*model.Tenant
}

func newFakeTenantStore(tenants ...*model.Tenant) *fakeTenantStore {
    f := &fakeTenantStore{tenants: make(map[string]*model.Tenant)}
    for _, t := range tenants {
        f.tenants[t.ID] = t
    }
    return f
}

func (f *fakeTenantStore) GetByID(id string) (*model.Tenant, error) {
    return f.tenants[id], nil
}

func (f *fakeTenantStore) GetByProviderNumber(number string) (*model.Tenant, error) {
    for _, t := range f.tenants {
        if t.ProviderNumber == number {
            return t, nil
        }
    }
    return nil, nil
}

type fakeEventStore struct {
    mu   sync.Mutex
    seen map[string]string
    err  error
}

func newFakeEventStore() *fakeEventStore {
    return &fakeEventStore{seen: make(map[string]string)}
}

func (f *fakeEventStore) CheckAndRecord(providerID, eventType, tenantID string) (bool, string, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.err != nil {
        return false, "", f.err
    }
    if id, ok := f.seen[providerID]; ok {
        return true, id, nil
    }
    id := fmt.Sprintf("internal-%d", len(f.seen)+1)
    f.seen[providerID] = id
    return false, id, nil
}

type fakeAlertBufferStore struct {
    mu      sync.Mutex
    seq     int64
    entries map[string]*model.AlertBufferEntry
    now     func() time.Time
    delErr  error
}

func newFakeAlertBufferStore() *fakeAlertBufferStore {
    return &fakeAlertBufferStore{entries: make(map[string]*model.AlertBufferEntry), now: time.Now}
}

func (f *fakeAlertBufferStore) Upsert(tenantID, customerPhone, ownerPhone, text string, window time.Duration) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    key := tenantID + "|" + customerPhone
    sendAt := f.now().Add(window)
    if e, ok := f.entries[key]; ok {
        e.MessagesText += "\n" + text
        e.MessageCount++
        e.SendAt = sendAt
        return nil
    }
    f.seq++
    f.entries[key] = &model.AlertBufferEntry{
        ID: f.seq, TenantID: tenantID, CustomerPhone: customerPhone,
        OwnerPhone: ownerPhone, MessagesText: text, MessageCount: 1,
        SendAt: sendAt, CreatedAt: f.now(),
    }
    return nil
}

func (f *fakeAlertBufferStore) Due(now time.Time) ([]*model.AlertBufferEntry, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    var due []*model.AlertBufferEntry
    for _, e := range f.entries {
        if !e.SendAt.After(now) {
            cp := *e
            due = append(due, &cp)
        }
    }
    return due, nil
}

func (f *fakeAlertBufferStore) Delete(id int64) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    if f.delErr != nil {
        return f.delErr
    }
    for key, e := range f.entries {
        if e.ID == id {
            delete(f.entries, key)
        }
    }
    return nil
}

type fakeAlerter struct {
    mu     sync.Mutex
    titles []string
}

func (f *fakeAlerter) Alert(title, details string) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.titles = append(f.titles, title)
}

func (f *fakeAlerter) count() int {
    f.mu.Lock()
    defer f.mu.Unlock()
    return len(f.titles)
}

type fakeSender struct {
    mu      sync.Mutex
    results []SendResult
    sent    []string // recipient|body
}

func (f *fakeSender) Send(recipient, body string) SendResult {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.sent = append(f.sent, recipient+"|"+body)
    if len(f.results) == 0 {
        return SendResult{Outcome: SendOK, ProviderMessageID: "pm-1"}
    }
    res := f.results[0]
    if len(f.results) > 1 {
        f.results = f.results[1:]
    }
    return res
}

// allowAllGate bypasses safety checks in tests that target dispatch logic.
type allowAllGate struct{}

func (allowAllGate) CheckSendSafety(recipient, body, externalKey, tenantID string, isInternal bool) Decision {
    return Decision{Allowed: true}
}

type fixedGate struct{ d Decision }

func (g fixedGate) CheckSendSafety(recipient, body, externalKey, tenantID string, isInternal bool) Decision {
    return g.d
}

func ptrTime(t time.Time) *time.Time { return &t }
