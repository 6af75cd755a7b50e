package service

import (
	"context"

	"agendahub/internal/visibility"
	"agendahub/store"
)

type Repository interface {
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool) ([]store.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
}

// NotificationService exposes an actor's own notifications. Nobody reads or
// acknowledges another actor's notifications, admins included.
type NotificationService struct {
	Repo Repository
}

func NewNotificationService(repo Repository) *NotificationService {
	return &NotificationService{Repo: repo}
}

func (s *NotificationService) List(ctx context.Context, actor visibility.Actor, unreadOnly bool) ([]store.Notification, error) {
	return s.Repo.ListByRecipient(ctx, actor.ID, unreadOnly)
}

func (s *NotificationService) MarkRead(ctx context.Context, actor visibility.Actor, id string) error {
	return s.Repo.MarkRead(ctx, id, actor.ID)
}
