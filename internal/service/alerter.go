// internal/service/alerter.go
package service

import (
    "log"
    "time"

    "github.com/plumbline/leadrelay-backend/internal/queue"
)

// QueueAlerter publishes operator alerts onto the broker. Failures are logged
// and swallowed: alerting must never take down sending.
type QueueAlerter struct {
    Pub *queue.Publisher
}

type alertPayload struct {
    Title   string    `json:"title"`
    Details string    `json:"details"`
    At      time.Time `json:"at"`
}

func (a *QueueAlerter) Alert(title, details string) {
    if a == nil || a.Pub == nil {
        log.Printf("🚨 ALERT (no broker): %s - %s", title, details)
        return
    }
    err := a.Pub.Publish(queue.AlertQueue, alertPayload{
        Title:   title,
        Details: details,
        At:      time.Now(),
    })
    if err != nil {
        log.Printf("⚠️ failed to publish alert %q: %v", title, err)
        log.Printf("🚨 ALERT: %s - %s", title, details)
    }
}

// LogAlerter is the fallback when no broker is configured.
type LogAlerter struct{}

func (LogAlerter) Alert(title, details string) {
    log.Printf("🚨 ALERT: %s - %s", title, details)
}
