package notification

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Store persists inbox notifications.
type Store interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Notification, int, error)
	MarkRead(ctx context.Context, userID string, id uuid.UUID) (bool, error)
}

// InboxSink writes every message to the user's inbox.
type InboxSink struct {
	store Store
}

func NewInboxSink(store Store) *InboxSink {
	return &InboxSink{store: store}
}

func (s *InboxSink) Notify(ctx context.Context, userID, message string) error {
	if err := s.store.Create(ctx, &Notification{UserID: userID, Message: message}); err != nil {
		return fmt.Errorf("%w: inbox: %w", ErrNotificationFailed, err)
	}
	return nil
}
