//cmd/seeder/main.go
package main

import (
    "flag"
    "fmt"
    "log"

    "github.com/google/uuid"
    "github.com/joho/godotenv"

    "github.com/plumbline/leadrelay-backend/internal/config"
    "github.com/plumbline/leadrelay-backend/internal/db"
    "github.com/plumbline/leadrelay-backend/internal/model"
    "github.com/plumbline/leadrelay-backend/internal/repository"
)

// Seeds one tenant so a fresh environment can take webhooks immediately.
func main() {
    name := flag.String("name", "Demo Plumbing Co", "tenant display name")
    number := flag.String("number", "+15550001111", "inbound provider number")
    owner := flag.String("owner", "+15559998888", "owner alert number")
    tz := flag.String("tz", "America/Los_Angeles", "tenant timezone")
    flag.Parse()

    if err := godotenv.Load(); err != nil {
        log.Println("⚠️ No .env file found, relying on OS environment variables")
    }
    cfg := config.Load()

    conn, err := db.Connect(cfg.DatabaseURL)
    if err != nil {
        log.Fatal(err)
    }
    defer conn.Close()
    if err := db.Migrate(conn); err != nil {
        log.Fatal(err)
    }

    tenantRepo := repository.NewTenantRepository(conn)
    tenant := &model.Tenant{
        ID:                 uuid.NewString(),
        Name:               *name,
        ProviderNumber:     *number,
        OwnerPhoneNumber:   *owner,
        Timezone:           *tz,
        BusinessHoursStart: 8,
        BusinessHoursEnd:   21,
        AIEnabled:          true,
    }
    if err := tenantRepo.Create(tenant); err != nil {
        log.Fatalf("failed to seed tenant: %v", err)
    }

    fmt.Printf("Seeded tenant %s (%s) on %s\n", tenant.Name, tenant.ID, tenant.ProviderNumber)
}
