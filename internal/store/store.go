// Package store defines the persistence contracts for hazard events,
// subscribers and notifications, plus an in-memory implementation used by
// tests and single-process deployments. Durable backends live in the sqlite
// and postgres subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventQuery filters ListEvents. Zero values mean "no filter".
type EventQuery struct {
	Kind  domain.Kind
	Since time.Time // ObservedAt >= Since
	Limit int
}

// HazardStore persists merged hazard events keyed by identity key.
type HazardStore interface {
	// UpsertEvent inserts or replaces the event and reports whether the
	// identity key was new to the store.
	UpsertEvent(ctx context.Context, e domain.HazardEvent) (created bool, err error)
	GetEvent(ctx context.Context, identityKey string) (domain.HazardEvent, error)
	// ListEvents returns matching events, most recently observed first.
	ListEvents(ctx context.Context, q EventQuery) ([]domain.HazardEvent, error)
	DeleteSyntheticEvents(ctx context.Context) (int64, error)
}

// SubscriberStore persists subscriber alert settings.
type SubscriberStore interface {
	PutSubscriber(ctx context.Context, s domain.Subscriber) error
	GetSubscriber(ctx context.Context, id string) (domain.Subscriber, error)
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
}

// NotificationStore persists notifications. (SubscriberID, IdentityKey) is
// unique: InsertNotificationIfAbsent is the only write path and is atomic
// per pair.
type NotificationStore interface {
	// InsertNotificationIfAbsent stores n unless a notification for the same
	// subscriber and identity key exists. inserted is false, with a nil
	// error, when the pair was already present.
	InsertNotificationIfAbsent(ctx context.Context, n domain.Notification) (inserted bool, err error)
	// ListNotifications returns a subscriber's notifications, newest first.
	// limit <= 0 returns all of them.
	ListNotifications(ctx context.Context, subscriberID string, limit int) ([]domain.Notification, error)
	CountUnread(ctx context.Context, subscriberID string) (int, error)
	MarkRead(ctx context.Context, subscriberID, notificationID string) error
	MarkAllRead(ctx context.Context, subscriberID string) (int64, error)
	DeleteNotification(ctx context.Context, subscriberID, notificationID string) error
	DeleteSyntheticNotifications(ctx context.Context) (int64, error)
}

// Store is a complete backend.
type Store interface {
	HazardStore
	SubscriberStore
	NotificationStore
	Ping(ctx context.Context) error
	Close() error
}
