package repository

import (
	"context"
	"database/sql"
	"errors"

	"agendahub/pkg/logger"
	"agendahub/store"

	"github.com/google/uuid"
)

type NotificationRepository struct {
	DB *sql.DB
}

func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{DB: db}
}

// CreateNotification persists n and returns it with its store-assigned ID and timestamp.
func (r *NotificationRepository) CreateNotification(ctx context.Context, n store.Notification) (store.Notification, error) {
	err := r.DB.QueryRowContext(ctx, `
		INSERT INTO notifications (recipient_id, title, body, link, read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW())
		RETURNING id, created_at`,
		n.RecipientID, n.Title, n.Body, n.Link,
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		logger.Sugar.Errorf("Failed to create notification for %s: %v", n.RecipientID, err)
		return store.Notification{}, err
	}
	n.Read = false
	return n, nil
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]store.Notification, error) {
	query := `SELECT id, recipient_id, title, body, link, read, created_at FROM notifications WHERE recipient_id = $1`
	if unreadOnly {
		query += " AND read = FALSE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.DB.QueryContext(ctx, query, recipientID)
	if err != nil {
		logger.Sugar.Errorf("Failed to list notifications for %s: %v", recipientID, err)
		return nil, err
	}
	defer rows.Close()

	out := []store.Notification{}
	for rows.Next() {
		var n store.Notification
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flips the read flag. Only the recipient may do so; any other
// caller sees ErrNotFound.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrNotFound
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read = TRUE WHERE id = $1 AND recipient_id = $2`, id, recipientID)
	if err != nil {
		logger.Sugar.Errorf("Failed to mark notification %s read: %v", id, err)
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err means the notification does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
