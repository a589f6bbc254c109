// internal/errors/errors.go
package appErrors

import "fmt"

// ErrDuplicateJob is a sentinel error returned when an external key was
// already enqueued
type ErrDuplicateJob struct {
    ExternalKey string
}

func (e *ErrDuplicateJob) Error() string {
    return fmt.Sprintf("job with external key %q already exists", e.ExternalKey)
}

// Helper constructor
func NewDuplicateJob(key string) error {
    return &ErrDuplicateJob{ExternalKey: key}
}

// IsDuplicateJob reports whether err is an ErrDuplicateJob
func IsDuplicateJob(err error) bool {
    _, ok := err.(*ErrDuplicateJob)
    return ok
}

// ErrJobNotFound is a sentinel error
type ErrJobNotFound struct {
    JobID string
}

func (e *ErrJobNotFound) Error() string {
    return fmt.Sprintf("job with ID %s not found", e.JobID)
}

func NewJobNotFound(id string) error {
    return &ErrJobNotFound{JobID: id}
}

// ErrTenantNotFound is a sentinel error
type ErrTenantNotFound struct {
    TenantID string
}

func (e *ErrTenantNotFound) Error() string {
    return fmt.Sprintf("tenant with ID %s not found", e.TenantID)
}

func NewTenantNotFound(id string) error {
    return &ErrTenantNotFound{TenantID: id}
}
