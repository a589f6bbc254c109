// internal/repository/event_repository.go
package repository

import (
    "database/sql"

    "github.com/google/uuid"
)

type EventRepository struct {
    DB *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
    return &EventRepository{DB: db}
}

// CheckAndRecord atomically records that providerID was processed. It returns
// (true, existingInternalID) if the event was seen before, otherwise
// (false, newInternalID). Insert-then-readback keeps the check race-free
// across processes: exactly one caller wins the insert.
func (r *EventRepository) CheckAndRecord(providerID, eventType, tenantID string) (bool, string, error) {
    internalID := uuid.NewString()
    res, err := r.DB.Exec(`
        INSERT INTO webhook_events (id, provider_id, event_type, tenant_id, internal_id)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5)
        ON CONFLICT (provider_id) DO NOTHING`,
        uuid.NewString(), providerID, eventType, tenantID, internalID,
    )
    if err != nil {
        return false, "", err
    }
    n, err := res.RowsAffected()
    if err != nil {
        return false, "", err
    }
    if n > 0 {
        return false, internalID, nil
    }

    var existing string
    err = r.DB.QueryRow(
        `SELECT internal_id FROM webhook_events WHERE provider_id = $1`, providerID,
    ).Scan(&existing)
    if err == sql.ErrNoRows {
        // insert lost the conflict but the winner's row is gone; treat as new
        return false, internalID, nil
    }
    if err != nil {
        return false, "", err
    }
    return true, existing, nil
}
