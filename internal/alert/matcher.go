// Package alert matches newly seen hazard events against subscriber alert
// settings and records at most one notification per subscriber and event.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/observability"
	"github.com/couchcryptid/hazard-alert-service/internal/severity"
)

// Policy holds the matching switches that are product decisions rather than
// part of the matching algorithm.
type Policy struct {
	// NotifyAllWhenUnconfigured sends every event to every known subscriber
	// while no subscriber has set a threshold or geofence.
	NotifyAllWhenUnconfigured bool
}

// Store is the persistence the matcher needs.
type Store interface {
	ListSubscribers(ctx context.Context) ([]domain.Subscriber, error)
	InsertNotificationIfAbsent(ctx context.Context, n domain.Notification) (bool, error)
}

// NotificationPublisher streams created notifications downstream.
type NotificationPublisher interface {
	PublishNotifications(ctx context.Context, notifications []domain.Notification) error
}

// Result counts the outcome of one Process call.
type Result struct {
	Matched int
	Created int
	Deduped int
}

// Matcher evaluates events against subscriber settings.
type Matcher struct {
	store     Store
	policy    Policy
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	publisher NotificationPublisher
	newID     func() string
}

// NewMatcher creates a Matcher. publisher may be nil.
func NewMatcher(s Store, policy Policy, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, publisher NotificationPublisher) *Matcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Matcher{
		store:     s,
		policy:    policy,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		publisher: publisher,
		newID:     uuid.NewString,
	}
}

// Evaluate returns the notifications event should produce for subscribers.
// It does not touch the store; IDs are assigned and CreatedAt stamped.
func (m *Matcher) Evaluate(event domain.HazardEvent, subscribers []domain.Subscriber) []domain.Notification {
	broadcast := m.policy.NotifyAllWhenUnconfigured && !anyConfigured(subscribers)
	now := m.clock.Now().UTC()

	var out []domain.Notification
	for _, sub := range subscribers {
		if !sub.Enabled {
			continue
		}
		var distance *float64
		if !broadcast {
			if !sub.WantsKind(event.Kind) || !meetsThreshold(event, sub.MinMagnitude) {
				continue
			}
			if sub.Geofence != nil {
				d := severity.HaversineKm(sub.Geofence.Latitude, sub.Geofence.Longitude,
					event.Location.Latitude, event.Location.Longitude)
				if d > sub.Geofence.RadiusKm {
					continue
				}
				distance = &d
			}
		}

		var signal *int
		if event.Kind == domain.KindStorm && distance != nil {
			s := severity.StormSignalNumber(event.Category, *distance)
			signal = &s
		}
		out = append(out, domain.Notification{
			ID:           m.newID(),
			SubscriberID: sub.ID,
			IdentityKey:  event.IdentityKey,
			Kind:         event.Kind,
			Severity:     event.Severity,
			Message:      Message(event, distance, signal),
			DistanceKm:   distance,
			Signal:       signal,
			Synthetic:    event.IsSynthetic,
			CreatedAt:    now,
		})
	}
	return out
}

// Process matches every event against the current subscribers and inserts
// the resulting notifications. A pair that already has a notification is
// skipped. Insert failures do not stop the batch; they are joined into the
// returned error so the caller can retry, which is safe because inserts
// are idempotent per pair.
func (m *Matcher) Process(ctx context.Context, events []domain.HazardEvent) (Result, error) {
	var res Result
	if len(events) == 0 {
		return res, nil
	}
	subscribers, err := m.store.ListSubscribers(ctx)
	if err != nil {
		return res, fmt.Errorf("list subscribers: %w", err)
	}

	var (
		created []domain.Notification
		errs    []error
	)
	for _, event := range events {
		for _, n := range m.Evaluate(event, subscribers) {
			res.Matched++
			inserted, err := m.store.InsertNotificationIfAbsent(ctx, n)
			if err != nil {
				errs = append(errs, fmt.Errorf("insert notification for %s/%s: %w", n.SubscriberID, n.IdentityKey, err))
				continue
			}
			if !inserted {
				res.Deduped++
				m.metrics.NotificationsDeduped.WithLabelValues(string(n.Kind)).Inc()
				continue
			}
			res.Created++
			m.metrics.NotificationsCreated.WithLabelValues(string(n.Kind)).Inc()
			created = append(created, n)
		}
	}

	if len(created) > 0 && m.publisher != nil {
		if err := m.publisher.PublishNotifications(ctx, created); err != nil {
			m.logger.Warn("publish notifications failed", "error", err, "notifications", len(created))
		}
	}
	m.logger.Info("alerts evaluated",
		"events", len(events),
		"subscribers", len(subscribers),
		"created", res.Created,
		"deduplicated", res.Deduped,
	)
	return res, errors.Join(errs...)
}

func anyConfigured(subscribers []domain.Subscriber) bool {
	for _, s := range subscribers {
		if s.Configured() {
			return true
		}
	}
	return false
}

// meetsThreshold compares quakes by magnitude. Storms and floods have no
// magnitude, so their tier is compared with the tier of a quake at the
// subscriber's minimum.
func meetsThreshold(event domain.HazardEvent, minMagnitude float64) bool {
	if minMagnitude <= 0 {
		return true
	}
	if event.Kind == domain.KindEarthquake {
		return event.MagnitudeOrIntensity >= minMagnitude
	}
	return event.Severity >= severity.QuakeTier(minMagnitude)
}
