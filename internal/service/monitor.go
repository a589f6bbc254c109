// internal/service/monitor.go
package service

import (
    "fmt"
    "log"
    "time"
)

// Monitor is the watchdog: it inspects queue health and send volume on a
// cadence and alerts the operator when something drifts. It only reads, so a
// monitor crash can never corrupt dispatch state.
type Monitor struct {
    Stats   JobStatsStore
    Alerter Alerter

    // StuckThreshold is how many never-attempted pending jobs older than
    // StuckAge trigger an alert.
    StuckThreshold int
    StuckAge       time.Duration
    // FailureThreshold is the failed-jobs-per-hour alarm line.
    FailureThreshold int

    // Daily volume guardrails. Zero disables a limit.
    GlobalDailyLimit int
    TenantDailyLimit int

    Now func() time.Time

    lastVolumeCheck time.Time
}

func (m *Monitor) now() time.Time {
    if m.Now != nil {
        return m.Now()
    }
    return time.Now()
}

// CheckHealth runs one watchdog pass.
func (m *Monitor) CheckHealth() {
    now := m.now()

    stuckAge := m.StuckAge
    if stuckAge <= 0 {
        stuckAge = 10 * time.Minute
    }
    stuck, err := m.Stats.CountStuckPending(now.Add(-stuckAge))
    if err != nil {
        log.Printf("⚠️ watchdog: stuck-job query failed: %v", err)
    } else if m.StuckThreshold > 0 && stuck >= m.StuckThreshold {
        m.Alerter.Alert("Queue backlog",
            fmt.Sprintf("%d job(s) pending for over %s without an attempt; is the worker running?", stuck, stuckAge))
    }

    failed, err := m.Stats.CountFailedSince(now.Add(-time.Hour))
    if err != nil {
        log.Printf("⚠️ watchdog: failure-count query failed: %v", err)
    } else if m.FailureThreshold > 0 && failed >= m.FailureThreshold {
        m.Alerter.Alert("Elevated failure rate",
            fmt.Sprintf("%d job(s) failed in the last hour", failed))
    }

    // volume guardrails run at most hourly
    if now.Sub(m.lastVolumeCheck) >= time.Hour {
        m.lastVolumeCheck = now
        m.checkVolume(now)
    }
}

func (m *Monitor) checkVolume(now time.Time) {
    dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

    if m.GlobalDailyLimit > 0 {
        sent, err := m.Stats.CountSentSince(dayStart)
        if err != nil {
            log.Printf("⚠️ watchdog: sent-count query failed: %v", err)
        } else if sent >= m.GlobalDailyLimit {
            m.Alerter.Alert("Daily send limit reached",
                fmt.Sprintf("%d message(s) sent today, limit %d; check for a runaway loop", sent, m.GlobalDailyLimit))
        }
    }

    if m.TenantDailyLimit > 0 {
        byTenant, err := m.Stats.SentByTenantSince(dayStart)
        if err != nil {
            log.Printf("⚠️ watchdog: per-tenant query failed: %v", err)
            return
        }
        for tenantID, n := range byTenant {
            if n >= m.TenantDailyLimit {
                m.Alerter.Alert("Tenant send limit reached",
                    fmt.Sprintf("tenant %s sent %d message(s) today, limit %d", tenantID, n, m.TenantDailyLimit))
            }
        }
    }
}

// Run executes CheckHealth on a fixed cadence until stop closes.
func (m *Monitor) Run(stop <-chan struct{}, interval time.Duration) {
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    log.Println("👀 watchdog started")
    for {
        select {
        case <-stop:
            return
        case <-ticker.C:
            m.CheckHealth()
        }
    }
}
