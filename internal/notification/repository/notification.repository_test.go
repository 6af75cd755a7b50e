package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"agendahub/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nid = "2d1f0e9c-8b7a-4c6d-9e5f-4a3b2c1d0e9f"

func TestCreateNotification(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewNotificationRepository(db)
	now := time.Now()

	mock.ExpectQuery(`INSERT INTO notifications (.+) RETURNING id, created_at`).
		WithArgs("u2", "New message", "u1: hi", "/project/p1#messages").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(nid, now))

	n, err := repo.CreateNotification(context.Background(), store.Notification{
		RecipientID: "u2", Title: "New message", Body: "u1: hi", Link: "/project/p1#messages",
	})
	require.NoError(t, err)
	assert.Equal(t, nid, n.ID)
	assert.False(t, n.Read)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNotificationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(`INSERT INTO notifications`).WillReturnError(errors.New("disk full"))
	_, err = repo.CreateNotification(context.Background(), store.Notification{RecipientID: "u2"})
	assert.Error(t, err)
}

func TestListByRecipientUnreadOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewNotificationRepository(db)
	now := time.Now()

	mock.ExpectQuery(`SELECT (.+) FROM notifications WHERE recipient_id = \$1 AND read = FALSE ORDER BY created_at DESC`).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "recipient_id", "title", "body", "link", "read", "created_at"}).
			AddRow(nid, "u2", "t", "b", "/agenda/a1", false, now))

	list, err := repo.ListByRecipient(context.Background(), "u2", true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "/agenda/a1", list[0].Link)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRead(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewNotificationRepository(db)

	mock.ExpectExec(`UPDATE notifications SET read = TRUE WHERE id = \$1 AND recipient_id = \$2`).
		WithArgs(nid, "u2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkRead(context.Background(), nid, "u2"))

	mock.ExpectExec(`UPDATE notifications SET read = TRUE`).
		WithArgs(nid, "u3").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.MarkRead(context.Background(), nid, "u3")
	assert.True(t, IsNotFound(err))

	assert.ErrorIs(t, repo.MarkRead(context.Background(), "bad-id", "u2"), store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
