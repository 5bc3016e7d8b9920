package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/linemk/reseller-shop/internal/domain/models"
)

// NotificationStorage - хранилище уведомлений, только добавление и чтение.
type NotificationStorage interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListByRecipient(ctx context.Context, recipientID int64, limit, offset int) ([]*models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) NotificationStorage {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `INSERT INTO notifications (recipient_id, type, message, order_id)
	          VALUES ($1, $2, $3, $4) RETURNING id, created_at`
	err := r.db.QueryRowContext(ctx, query, n.RecipientID, n.Type, n.Message, n.OrderID).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepository) ListByRecipient(ctx context.Context, recipientID int64, limit, offset int) ([]*models.Notification, error) {
	query := `
		SELECT id, recipient_id, type, message, order_id, is_read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, recipientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]*models.Notification, 0)
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Type, &n.Message, &n.OrderID, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}
