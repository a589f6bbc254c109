// internal/repository/backoff.go
package repository

import "time"

// retrySchedule is the fixed backoff ladder, indexed by attempt count.
// Attempt 0 is immediate; everything past the table reuses the last entry.
var retrySchedule = []time.Duration{
    0,
    5 * time.Second,
    30 * time.Second,
    120 * time.Second,
    600 * time.Second,
    1800 * time.Second,
}

// RetryDelay returns how long a job with the given attempt count must wait
// after its last attempt before it becomes claimable again.
func RetryDelay(attempts int) time.Duration {
    if attempts < 0 {
        return 0
    }
    if attempts >= len(retrySchedule) {
        return retrySchedule[len(retrySchedule)-1]
    }
    return retrySchedule[attempts]
}
