package repository

import (
	"context"

	"github.com/smallbiznis/pixorder/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, d *domain.WebhookDelivery) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payment_webhook_events (
			id, provider, data_id, request_id, event_type, order_id, outcome, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.Provider,
		d.DataID,
		d.RequestID,
		d.EventType,
		d.OrderID,
		d.Outcome,
		d.Payload,
		d.ReceivedAt,
	).Error
}

func (r *repo) ListDeliveries(ctx context.Context, db *gorm.DB, provider, dataID string) ([]domain.WebhookDelivery, error) {
	var items []domain.WebhookDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, data_id, request_id, event_type, order_id, outcome, payload, received_at
		 FROM payment_webhook_events
		 WHERE provider = ? AND data_id = ?
		 ORDER BY id ASC`,
		provider,
		dataID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
