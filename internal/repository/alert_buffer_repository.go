// internal/repository/alert_buffer_repository.go
package repository

import (
    "database/sql"
    "time"

    "github.com/plumbline/leadrelay-backend/internal/model"
)

type AlertBufferRepository struct {
    DB *sql.DB
}

func NewAlertBufferRepository(db *sql.DB) *AlertBufferRepository {
    return &AlertBufferRepository{DB: db}
}

// Upsert buffers one alert line for (tenantID, customerPhone). A second call
// within the window appends the text, bumps the count and pushes send_at out
// to now+window again, so a burst of messages flushes as one summary.
func (r *AlertBufferRepository) Upsert(tenantID, customerPhone, ownerPhone, text string, window time.Duration) error {
    _, err := r.DB.Exec(`
        INSERT INTO alert_buffer (tenant_id, customer_phone, owner_phone, messages_text, message_count, send_at)
        VALUES ($1, $2, $3, $4, 1, $5)
        ON CONFLICT (tenant_id, customer_phone) DO UPDATE SET
            messages_text = alert_buffer.messages_text || E'\n' || EXCLUDED.messages_text,
            message_count = alert_buffer.message_count + 1,
            send_at = EXCLUDED.send_at`,
        tenantID, customerPhone, ownerPhone, text, time.Now().Add(window),
    )
    return err
}

// Due returns every buffered entry whose send_at has passed.
func (r *AlertBufferRepository) Due(now time.Time) ([]*model.AlertBufferEntry, error) {
    rows, err := r.DB.Query(`
        SELECT id, tenant_id, customer_phone, owner_phone, messages_text, message_count, send_at, created_at
        FROM alert_buffer
        WHERE send_at <= $1
        ORDER BY send_at ASC`,
        now,
    )
    if err != nil {
        return nil, err
    }
    defer rows.Close()

    var entries []*model.AlertBufferEntry
    for rows.Next() {
        var e model.AlertBufferEntry
        if err := rows.Scan(
            &e.ID, &e.TenantID, &e.CustomerPhone, &e.OwnerPhone,
            &e.MessagesText, &e.MessageCount, &e.SendAt, &e.CreatedAt,
        ); err != nil {
            return nil, err
        }
        entries = append(entries, &e)
    }
    return entries, rows.Err()
}

func (r *AlertBufferRepository) Delete(id int64) error {
    _, err := r.DB.Exec(`DELETE FROM alert_buffer WHERE id = $1`, id)
    return err
}
