// internal/repository/job_repository.go
package repository

import (
    "database/sql"
    "log"
    "time"

    "github.com/google/uuid"

    appErrors "github.com/plumbline/leadrelay-backend/internal/errors"
    "github.com/plumbline/leadrelay-backend/internal/model"
)

type JobRepository struct {
    DB *sql.DB
}

func NewJobRepository(db *sql.DB) *JobRepository {
    return &JobRepository{DB: db}
}

const jobColumns = `id, tenant_id, COALESCE(external_key, ''), recipient, body, status,
    attempts, last_error, provider_message_id, created_at, last_attempt_at,
    locked_at, scheduled_for, sent_at`

// Enqueue inserts a new pending job. If job.ExternalKey is set and a job with
// that key already exists, nothing is inserted and ErrDuplicateJob is
// returned; callers may rely on this for idempotent enqueue.
func (r *JobRepository) Enqueue(job *model.Job, delay time.Duration) error {
    if job.ID == "" {
        job.ID = uuid.NewString()
    }
    job.Status = model.JobStatusPending
    job.CreatedAt = time.Now()
    if delay > 0 {
        at := job.CreatedAt.Add(delay)
        job.ScheduledFor = &at
    }

    query := `
        INSERT INTO send_jobs (id, tenant_id, external_key, recipient, body, status, attempts, created_at, scheduled_for)
        VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, 0, $7, $8)
        ON CONFLICT (external_key) DO NOTHING`
    res, err := r.DB.Exec(query,
        job.ID, job.TenantID, job.ExternalKey, job.Recipient, job.Body,
        job.Status, job.CreatedAt, job.ScheduledFor,
    )
    if err != nil {
        return err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        return appErrors.NewDuplicateJob(job.ExternalKey)
    }
    return nil
}

// Claim atomically moves up to limit due jobs to processing and returns them.
// A job is due when it is pending, its backoff window has elapsed and any
// scheduled_for time has passed. Jobs stuck in processing longer than
// staleAfter are reclaimed too, so a crashed worker heals on the next poll.
// FOR UPDATE SKIP LOCKED guarantees no two workers claim the same row.
func (r *JobRepository) Claim(limit int, staleAfter time.Duration) ([]*model.Job, error) {
    now := time.Now()
    query := `
        UPDATE send_jobs
        SET status = 'processing', locked_at = $1
        WHERE id IN (
            SELECT id FROM send_jobs
            WHERE (
                status = 'pending'
                AND (
                    attempts = 0
                    OR (attempts = 1 AND last_attempt_at <= $2)
                    OR (attempts = 2 AND last_attempt_at <= $3)
                    OR (attempts = 3 AND last_attempt_at <= $4)
                    OR (attempts = 4 AND last_attempt_at <= $5)
                    OR (attempts >= 5 AND last_attempt_at <= $6)
                )
                AND (scheduled_for IS NULL OR scheduled_for <= $1)
            ) OR (
                status = 'processing'
                AND (locked_at IS NULL OR locked_at <= $7)
            )
            ORDER BY created_at ASC
            LIMIT $8
            FOR UPDATE SKIP LOCKED
        )
        RETURNING ` + jobColumns
    rows, err := r.DB.Query(query,
        now,
        now.Add(-RetryDelay(1)),
        now.Add(-RetryDelay(2)),
        now.Add(-RetryDelay(3)),
        now.Add(-RetryDelay(4)),
        now.Add(-RetryDelay(5)),
        now.Add(-staleAfter),
        limit,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var jobs []*model.Job
    for rows.Next() {
        job, err := scanJob(rows)
        if err != nil {
            return nil, err
        }
        jobs = append(jobs, job)
    }
    return jobs, rows.Err()
}

func (r *JobRepository) GetByID(id string) (*model.Job, error) {
    row := r.DB.QueryRow(`SELECT `+jobColumns+` FROM send_jobs WHERE id = $1`, id)
    job, err := scanJobRow(row)
    if err == sql.ErrNoRows {
        return nil, nil
    }
    if err != nil {
        return nil, err
    }
    return job, nil
}

// MarkSent finalizes a successful send. Only a job still in processing is
// updated; a concurrent cancel wins and the result is logged, not overwritten.
func (r *JobRepository) MarkSent(id, providerMessageID string, attempts int) error {
    res, err := r.DB.Exec(`
        UPDATE send_jobs
        SET status = 'sent', provider_message_id = $2, attempts = $3,
            last_attempt_at = now(), sent_at = now(), locked_at = NULL
        WHERE id = $1 AND status = 'processing'`,
        id, providerMessageID, attempts,
    )
    if err != nil {
        return err
    }
    return warnIfRaced(res, id, "sent")
}

// ScheduleRetry returns a failed job to pending with an incremented attempt
// count. Claim enforces the backoff delay via last_attempt_at.
func (r *JobRepository) ScheduleRetry(id string, attempts int, lastErr string) error {
    res, err := r.DB.Exec(`
        UPDATE send_jobs
        SET status = 'pending', attempts = $2, last_error = $3,
            last_attempt_at = now(), locked_at = NULL
        WHERE id = $1 AND status = 'processing'`,
        id, attempts, truncateErr(lastErr),
    )
    if err != nil {
        return err
    }
    return warnIfRaced(res, id, "retry")
}

// MarkFailed moves a job to a terminal failure status.
func (r *JobRepository) MarkFailed(id, status string, attempts int, lastErr string) error {
    res, err := r.DB.Exec(`
        UPDATE send_jobs
        SET status = $2, attempts = $3, last_error = $4,
            last_attempt_at = now(), locked_at = NULL
        WHERE id = $1 AND status = 'processing'`,
        id, status, attempts, truncateErr(lastErr),
    )
    if err != nil {
        return err
    }
    return warnIfRaced(res, id, status)
}

// Reschedule holds a claimed job until at (quiet hours). Attempts are not
// incremented: waiting for the send window is not a failure.
func (r *JobRepository) Reschedule(id string, at time.Time) error {
    res, err := r.DB.Exec(`
        UPDATE send_jobs
        SET status = 'pending', scheduled_for = $2, locked_at = NULL
        WHERE id = $1 AND status = 'processing'`,
        id, at,
    )
    if err != nil {
        return err
    }
    return warnIfRaced(res, id, "rescheduled")
}

// UpdateBody persists an amended body (compliance footer) so a later retry
// does not append it twice.
func (r *JobRepository) UpdateBody(id, body string) error {
    _, err := r.DB.Exec(`UPDATE send_jobs SET body = $2 WHERE id = $1`, id, body)
    return err
}

// CancelByExternalKeyPrefix cancels every non-terminal job whose external key
// starts with prefix. Used to drop scheduled nudges once a customer replies.
func (r *JobRepository) CancelByExternalKeyPrefix(prefix string) (int64, error) {
    res, err := r.DB.Exec(`
        UPDATE send_jobs
        SET status = 'cancelled', locked_at = NULL
        WHERE external_key LIKE $1 || '%' AND status IN ('pending', 'processing')`,
        prefix,
    )
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}

// CancelByRecipient cancels every non-terminal job addressed to phone with
// the given terminal status. Used on opt-out.
func (r *JobRepository) CancelByRecipient(phone, status string) (int64, error) {
    res, err := r.DB.Exec(`
        UPDATE send_jobs
        SET status = $2, locked_at = NULL
        WHERE recipient = $1 AND status IN ('pending', 'processing')`,
        phone, status,
    )
    if err != nil {
        return 0, err
    }
    return res.RowsAffected()
}

func (r *JobRepository) ExternalKeyExists(key string) (bool, error) {
    var exists bool
    err := r.DB.QueryRow(
        `SELECT EXISTS (SELECT 1 FROM send_jobs WHERE external_key = $1)`, key,
    ).Scan(&exists)
    return exists, err
}

// --- monitor queries ---

// CountStuckPending counts pending jobs that have waited longer than olderThan
// without ever being attempted.
func (r *JobRepository) CountStuckPending(olderThan time.Time) (int, error) {
    var n int
    err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM send_jobs
        WHERE status = 'pending' AND last_attempt_at IS NULL AND created_at < $1`,
        olderThan,
    ).Scan(&n)
    return n, err
}

func (r *JobRepository) CountFailedSince(since time.Time) (int, error) {
    var n int
    err := r.DB.QueryRow(`
        SELECT COUNT(*) FROM send_jobs
        WHERE status LIKE 'failed%' AND last_attempt_at >= $1`,
        since,
    ).Scan(&n)
    return n, err
}

func (r *JobRepository) CountSentSince(since time.Time) (int, error) {
    var n int
    err := r.DB.QueryRow(
        `SELECT COUNT(*) FROM send_jobs WHERE status = 'sent' AND sent_at >= $1`,
        since,
    ).Scan(&n)
    return n, err
}

func (r *JobRepository) SentByTenantSince(since time.Time) (map[string]int, error) {
    rows, err := r.DB.Query(`
        SELECT COALESCE(tenant_id, ''), COUNT(*) FROM send_jobs
        WHERE status = 'sent' AND sent_at >= $1
        GROUP BY tenant_id`,
        since,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    counts := make(map[string]int)
    for rows.Next() {
        var tenantID string
        var n int
        if err := rows.Scan(&tenantID, &n); err != nil {
            return nil, err
        }
        counts[tenantID] = n
    }
    return counts, rows.Err()
}

// --- scan helpers ---

type rowScanner interface {
    Scan(dest ...interface{}) error
}

func scanJobRow(row rowScanner) (*model.Job, error) {
    var job model.Job
    var tenantID, lastErr, providerID sql.NullString
    var lastAttemptAt, lockedAt, scheduledFor, sentAt sql.NullTime
    err := row.Scan(
        &job.ID, &tenantID, &job.ExternalKey, &job.Recipient, &job.Body,
        &job.Status, &job.Attempts, &lastErr, &providerID, &job.CreatedAt,
        &lastAttemptAt, &lockedAt, &scheduledFor, &sentAt,
    )
    if err != nil {
        return nil, err
    }
    job.TenantID = tenantID.String
    job.LastError = lastErr.String
    job.ProviderMessageID = providerID.String
    if lastAttemptAt.Valid {
        job.LastAttemptAt = &lastAttemptAt.Time
    }
    if lockedAt.Valid {
        job.LockedAt = &lockedAt.Time
    }
    if scheduledFor.Valid {
        job.ScheduledFor = &scheduledFor.Time
    }
    if sentAt.Valid {
        job.SentAt = &sentAt.Time
    }
    return &job, nil
}

func scanJob(rows *sql.Rows) (*model.Job, error) {
    return scanJobRow(rows)
}

func warnIfRaced(res sql.Result, id, action string) error {
    n, err := res.RowsAffected()
    if err != nil {
        return err
    }
    if n == 0 {
        // job left processing underneath us (cancel or opt-out won the race)
        log.Printf("⚠️ job %s no longer processing, %s update skipped", id, action)
    }
    return nil
}

func truncateErr(s string) string {
    if len(s) > 500 {
        return s[:500]
    }
    return s
}
