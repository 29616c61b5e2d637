package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

type pairKey struct {
	subscriberID string
	identityKey  string
}

// Memory is a Store held in process memory. It is safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	events        map[string]domain.HazardEvent
	subscribers   map[string]domain.Subscriber
	notifications map[string]domain.Notification
	pairs         map[pairKey]string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		events:        make(map[string]domain.HazardEvent),
		subscribers:   make(map[string]domain.Subscriber),
		notifications: make(map[string]domain.Notification),
		pairs:         make(map[pairKey]string),
	}
}

func (m *Memory) UpsertEvent(_ context.Context, e domain.HazardEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.events[e.IdentityKey]
	m.events[e.IdentityKey] = e.Clone()
	return !exists, nil
}

func (m *Memory) GetEvent(_ context.Context, identityKey string) (domain.HazardEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[identityKey]
	if !ok {
		return domain.HazardEvent{}, ErrNotFound
	}
	return e.Clone(), nil
}

func (m *Memory) ListEvents(_ context.Context, q EventQuery) ([]domain.HazardEvent, error) {
	m.mu.RLock()
	out := make([]domain.HazardEvent, 0, len(m.events))
	for _, e := range m.events {
		if q.Kind != "" && e.Kind != q.Kind {
			continue
		}
		if !q.Since.IsZero() && e.ObservedAt.Before(q.Since) {
			continue
		}
		out = append(out, e.Clone())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.HazardEvent) int {
		if c := b.ObservedAt.Compare(a.ObservedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.IdentityKey, b.IdentityKey)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *Memory) DeleteSyntheticEvents(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.events {
		if e.IsSynthetic {
			delete(m.events, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PutSubscriber(_ context.Context, s domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Kinds = slices.Clone(s.Kinds)
	if s.Geofence != nil {
		g := *s.Geofence
		s.Geofence = &g
	}
	m.subscribers[s.ID] = s
	return nil
}

func (m *Memory) GetSubscriber(_ context.Context, id string) (domain.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subscribers[id]
	if !ok {
		return domain.Subscriber{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListSubscribers(_ context.Context) ([]domain.Subscriber, error) {
	m.mu.RLock()
	out := make([]domain.Subscriber, 0, len(m.subscribers))
	for _, s := range m.subscribers {
		out = append(out, s)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Subscriber) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) InsertNotificationIfAbsent(_ context.Context, n domain.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey{n.SubscriberID, n.IdentityKey}
	if _, exists := m.pairs[key]; exists {
		return false, nil
	}
	m.pairs[key] = n.ID
	m.notifications[n.ID] = n
	return true, nil
}

func (m *Memory) ListNotifications(_ context.Context, subscriberID string, limit int) ([]domain.Notification, error) {
	m.mu.RLock()
	var out []domain.Notification
	for _, n := range m.notifications {
		if n.SubscriberID == subscriberID {
			out = append(out, n)
		}
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountUnread(_ context.Context, subscriberID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.SubscriberID == subscriberID && !n.Read {
			count++
		}
	}
	return count, nil
}

func (m *Memory) MarkRead(_ context.Context, subscriberID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok || n.SubscriberID != subscriberID {
		return ErrNotFound
	}
	n.Read = true
	m.notifications[notificationID] = n
	return nil
}

func (m *Memory) MarkAllRead(_ context.Context, subscriberID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	for id, n := range m.notifications {
		if n.SubscriberID == subscriberID && !n.Read {
			n.Read = true
			m.notifications[id] = n
			changed++
		}
	}
	return changed, nil
}

func (m *Memory) DeleteNotification(_ context.Context, subscriberID, notificationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[notificationID]
	if !ok || n.SubscriberID != subscriberID {
		return ErrNotFound
	}
	delete(m.notifications, notificationID)
	delete(m.pairs, pairKey{n.SubscriberID, n.IdentityKey})
	return nil
}

func (m *Memory) DeleteSyntheticNotifications(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, n := range m.notifications {
		if n.Synthetic {
			delete(m.notifications, id)
			delete(m.pairs, pairKey{n.SubscriberID, n.IdentityKey})
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
