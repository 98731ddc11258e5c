// Package notify is the outbound-notification port. Forced checkouts use it
// to inform the affected user; the default implementation persists a
// notification row for the dashboard to pick up.
package notify

import (
	"context"

	"github.com/atriumhr/telework-engine/internal/model"
)

type Notification struct {
	UserID  string
	Kind    string
	Title   string
	Message string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, n model.Notification) error
}

type StoreNotifier struct {
	store NotificationStore
}

func NewStoreNotifier(store NotificationStore) *StoreNotifier {
	return &StoreNotifier{store: store}
}

func (s *StoreNotifier) Notify(ctx context.Context, n Notification) error {
	return s.store.CreateNotification(ctx, model.Notification{
		UserID:  n.UserID,
		Kind:    n.Kind,
		Title:   n.Title,
		Message: n.Message,
	})
}
