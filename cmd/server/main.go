// cmd/server/main.go
package main

import (
    "log"
    "net/http"

    "github.com/go-chi/chi/v5"
    "github.com/joho/godotenv"

    "github.com/plumbline/leadrelay-backend/internal/cache"
    "github.com/plumbline/leadrelay-backend/internal/config"
    "github.com/plumbline/leadrelay-backend/internal/controller"
    "github.com/plumbline/leadrelay-backend/internal/db"
    "github.com/plumbline/leadrelay-backend/internal/queue"
    "github.com/plumbline/leadrelay-backend/internal/repository"
    "github.com/plumbline/leadrelay-backend/internal/service"
)

func main() {
    // Load .env
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
    eventRepo := repository.NewEventRepository(conn)
    bufferRepo := repository.NewAlertBufferRepository(conn)

    // broker is optional for the server; alerts degrade to log lines
    var alerter service.Alerter = service.LogAlerter{}
    var requeuer service.Requeuer
    pub, err := queue.Dial(cfg.AMQPURL)
    if err != nil {
        log.Println("⚠️ broker unavailable, alerts degrade to logs:", err)
    } else {
        defer pub.Close()
        alerter = &service.QueueAlerter{Pub: pub}
        requeuer = &service.QueueRequeuer{Publish: pub.Publish, Queue: queue.RetryQueue}
    }

    optOutCache := cache.New(1000)
    eventCache := cache.New(1000)

    gate := &service.Gate{
        Consents:    consentRepo,
        Leads:       leadRepo,
        Jobs:        jobRepo,
        Tenants:     tenantRepo,
        OptOutCache: optOutCache,
    }

    buffer := &service.AlertBuffer{
        Store:  bufferRepo,
        Jobs:   jobRepo,
        Gate:   gate,
        Window: cfg.DebounceWindow,
    }

    intake := &service.Intake{
        Events:      eventRepo,
        Jobs:        jobRepo,
        Leads:       leadRepo,
        Consents:    consentRepo,
        Tenants:     tenantRepo,
        Gate:        gate,
        Buffer:      buffer,
        Requeuer:    requeuer,
        Alerter:     alerter,
        EventCache:  eventCache,
        OptOutCache: optOutCache,
        NudgeDelay:  cfg.NudgeDelay,
    }

    webhookController := &controller.WebhookController{Intake: intake}
    jobController := &controller.JobController{Jobs: jobRepo}

    r := chi.NewRouter()

    // Provider webhook routes
    r.Post("/webhooks/sms", webhookController.HandleSMS)
    r.Post("/webhooks/voice", webhookController.HandleVoice)

    // Operator routes
    r.Get("/jobs/{id}", jobController.GetJob)
    r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
        if err := conn.Ping(); err != nil {
            http.Error(w, "db unreachable", http.StatusServiceUnavailable)
            return
        }
        w.Write([]byte("ok"))
    })

    log.Println("🚀 Server running on :" + cfg.Port)
    log.Fatal(http.ListenAndServe(":"+cfg.Port, r))
}
