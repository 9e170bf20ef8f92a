package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresNotificationDispatcher persists in-app notifications; delivery to
// connected clients is the notification service's concern, not the engine's.
type PostgresNotificationDispatcher struct {
	db *pgxpool.Pool
}

var _ NotificationDispatcher = (*PostgresNotificationDispatcher)(nil)

// NewPostgresNotificationDispatcher creates a new dispatcher.
func NewPostgresNotificationDispatcher(db *pgxpool.Pool) *PostgresNotificationDispatcher {
	return &PostgresNotificationDispatcher{db: db}
}

// Notify inserts a notification row.
func (s *PostgresNotificationDispatcher) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO notifications (id, tenant_id, recipient_id, recipient_type, channel, title, message, payload, read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, false, $9)`,
		uuid.New().String(), n.TenantID, n.RecipientID, n.RecipientType, n.Channel,
		n.Title, n.Message, payload, time.Now().UTC())
	return err
}
