package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/vidaalinhada/alinhada/internal/checkout/domain"
)

// EventRepository persists webhook delivery records for replay dedup.
type EventRepository interface {
	// InsertEvent writes the delivery record unless the same
	// (provider, provider_event_id) was already seen. Returns true when
	// a new row was written.
	InsertEvent(ctx context.Context, db *gorm.DB, ev *domain.WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}

type repo struct{}

func Provide() EventRepository {
	return &repo{}
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, ev *domain.WebhookEvent) (bool, error) {
	res := db.WithContext(ctx).Exec(`
		INSERT INTO payment_webhook_events (
			id, provider, provider_event_id, event_type,
			payment_id, payload, processed, received_at
		) VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT (provider, provider_event_id) DO NOTHING
	`,
		ev.ID, ev.Provider, ev.ProviderEventID, ev.EventType,
		ev.PaymentID, ev.Payload, ev.Processed, ev.ReceivedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}

	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(`
		UPDATE payment_webhook_events
		SET processed = ?, processed_at = ?
		WHERE id = ?
	`, true, now, id).Error
}
