package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"agendahub/internal/notification/service"
	"agendahub/internal/visibility"
	"agendahub/middleware"
	"agendahub/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	items []store.Notification
}

func (m *memRepo) ListByRecipient(_ context.Context, recipientID string, unreadOnly bool) ([]store.Notification, error) {
	out := []store.Notification{}
	for _, n := range m.items {
		if n.RecipientID == recipientID && (!unreadOnly || !n.Read) {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memRepo) MarkRead(_ context.Context, id, recipientID string) error {
	for i := range m.items {
		if m.items[i].ID == id && m.items[i].RecipientID == recipientID {
			m.items[i].Read = true
			return nil
		}
	}
	return store.ErrNotFound
}

func newHandler() (*NotificationHandler, *memRepo) {
	repo := &memRepo{items: []store.Notification{
		{ID: "n1", RecipientID: "u1", Title: "a"},
		{ID: "n2", RecipientID: "u1", Title: "b", Read: true},
		{ID: "n3", RecipientID: "u2", Title: "c"},
	}}
	return NewNotificationHandler(service.NewNotificationService(repo)), repo
}

func as(r *http.Request, id string) *http.Request {
	return r.WithContext(middleware.WithActor(r.Context(), visibility.Actor{ID: id}))
}

func TestGetNotificationsOnlyOwn(t *testing.T) {
	h, _ := newHandler()
	rec := httptest.NewRecorder()
	h.GetNotifications(rec, as(httptest.NewRequest(http.MethodGet, "/api/notifications?unread=true", nil), "u1"))

	require.Equal(t, http.StatusOK, rec.Code)
	var list []store.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "n1", list[0].ID)
}

func TestMarkReadOtherRecipientIsNotFound(t *testing.T) {
	h, repo := newHandler()

	rec := httptest.NewRecorder()
	h.MarkRead(rec, as(httptest.NewRequest(http.MethodPut, "/api/notifications/read?id=n3", nil), "u1"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, repo.items[2].Read)

	rec = httptest.NewRecorder()
	h.MarkRead(rec, as(httptest.NewRequest(http.MethodPut, "/api/notifications/read?id=n1", nil), "u1"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, repo.items[0].Read)
}
