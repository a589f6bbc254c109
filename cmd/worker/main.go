// cmd/worker/main.go
package main

import (
    "context"
    "encoding/json"
    "log"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/google/uuid"
    "github.com/joho/godotenv"

    "github.com/plumbline/leadrelay-backend/internal/cache"
    "github.com/plumbline/leadrelay-backend/internal/config"
    "github.com/plumbline/leadrelay-backend/internal/db"
    "github.com/plumbline/leadrelay-backend/internal/queue"
    "github.com/plumbline/leadrelay-backend/internal/repository"
    "github.com/plumbline/leadrelay-backend/internal/security"
    "github.com/plumbline/leadrelay-backend/internal/service"
)

func main() {
    if err := godotenv.Load(); err != nil {
        log.Println("⚠️ No .env file found, relying on OS environment variables")
    }
    cfg := config.Load()

    conn, err := db.Connect(cfg.DatabaseURL)
    if err != nil {
        log.Fatal("failed to connect to DB: ", err)
    }
    if err := db.Migrate(conn); err != nil {
        log.Fatal("failed to migrate schema: ", err)
    }

    jobRepo := repository.NewJobRepository(conn)
    leadRepo := repository.NewLeadRepository(conn)
    consentRepo := repository.NewConsentRepository(conn)
    tenantRepo := repository.NewTenantRepository(conn)
    bufferRepo := repository.NewAlertBufferRepository(conn)

    var alerter service.Alerter = service.LogAlerter{}
    pub, err := queue.Dial(cfg.AMQPURL)
    if err != nil {
        log.Println("⚠️ broker unavailable, alerts degrade to logs:", err)
    } else {
        defer pub.Close()
        alerter = &service.QueueAlerter{Pub: pub}
    }

    optOutCache := cache.New(1000)
    gate := &service.Gate{
        Consents:    consentRepo,
        Leads:       leadRepo,
        Jobs:        jobRepo,
        Tenants:     tenantRepo,
        OptOutCache: optOutCache,
    }

    dispatcher := &service.Dispatcher{
        Jobs:    jobRepo,
        Leads:   leadRepo,
        Tenants: tenantRepo,
        Gate:    gate,
        Sender:  consoleSender(),
        Alerter: alerter,
        Config: service.DispatcherConfig{
            MaxAttempts: cfg.MaxSendAttempts,
            BatchSize:   cfg.ClaimBatchSize,
            StaleAfter:  cfg.ClaimStaleAfter,
            OwnerPhone:  cfg.OwnerPhoneNumber,
            // env is read once at startup, so flipping this means a restart
            KillSwitch:  func() bool { return cfg.KillSwitch },
        },
    }

    buffer := &service.AlertBuffer{
        Store:  bufferRepo,
        Jobs:   jobRepo,
        Gate:   gate,
        Window: cfg.DebounceWindow,
    }

    monitor := &service.Monitor{
        Stats:            jobRepo,
        Alerter:          alerter,
        StuckThreshold:   10,
        StuckAge:         10 * time.Minute,
        FailureThreshold: 5,
        GlobalDailyLimit: cfg.GlobalDailyLimit,
        TenantDailyLimit: cfg.TenantDailyLimit,
    }

    ctx, cancel := context.WithCancel(context.Background())
    stop := make(chan struct{})

    dispatcher.Start(ctx)
    go buffer.Run(stop, 5*time.Second)
    go monitor.Run(stop, time.Minute)

    if pub != nil {
        intake := &service.Intake{
            Events:      repository.NewEventRepository(conn),
            Jobs:        jobRepo,
            Leads:       leadRepo,
            Consents:    consentRepo,
            Tenants:     tenantRepo,
            Gate:        gate,
            Buffer:      buffer,
            Requeuer:    &service.QueueRequeuer{Publish: pub.Publish, Queue: queue.RetryQueue},
            Alerter:     alerter,
            EventCache:  cache.New(1000),
            OptOutCache: optOutCache,
            NudgeDelay:  cfg.NudgeDelay,
        }
        go replayParkedEvents(pub, intake)
    }

    sig := make(chan os.Signal, 1)
    signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
    <-sig

    log.Println("shutting down...")
    close(stop)
    cancel()
    dispatcher.Stop()
}

// consoleSender logs instead of calling a provider.
// TODO: replace with the real provider client once API credentials are
// provisioned for this environment.
func consoleSender() service.Sender {
    return service.SendFunc(func(recipient, body string) service.SendResult {
        log.Printf("📨 SEND to %s: %q", security.MaskPhone(recipient), body)
        return service.SendResult{
            Outcome:           service.SendOK,
            ProviderMessageID: "console_" + uuid.NewString(),
        }
    })
}

// replayParkedEvents drains events that intake parked during a storage
// outage and runs them through the normal inbound path. The flow is
// idempotent end to end, so replaying an event that half-processed is safe.
func replayParkedEvents(pub *queue.Publisher, intake *service.Intake) {
    msgs, err := pub.Consume(queue.RetryQueue)
    if err != nil {
        log.Println("⚠️ cannot consume retry queue:", err)
        return
    }
    for d := range msgs {
        var ev service.InboundEvent
        if err := json.Unmarshal(d.Body, &ev); err != nil {
            log.Println("⚠️ bad parked event:", err)
            continue
        }
        log.Printf("📦 replaying parked inbound event %s", ev.ProviderID)
        if err := intake.HandleInbound(ev); err != nil {
            log.Printf("⚠️ replay of %s rejected: %v", ev.ProviderID, err)
        }
        // pace the replay so a burst does not slam a recovering database
        time.Sleep(200 * time.Millisecond)
    }
}
