// Package storetest holds behavioural tests shared by every store.Store
// implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/severity"
	"github.com/couchcryptid/hazard-alert-service/internal/store"
)

var base = time.Date(2026, 3, 21, 6, 0, 0, 0, time.UTC)

// Event returns a quake with the given key observed offset after a fixed base time.
func Event(key string, offset time.Duration) domain.HazardEvent {
	depth := 10.0
	return domain.HazardEvent{
		IdentityKey:          key,
		Kind:                 domain.KindEarthquake,
		Title:                "M6.2 earthquake",
		ObservedAt:           base.Add(offset),
		IngestedAt:           base.Add(offset + time.Minute),
		Location:             domain.Location{Latitude: 14.6, Longitude: 121.0, DepthKm: &depth},
		MagnitudeOrIntensity: 6.2,
		Severity:             severity.TierHigh,
		SourceProvenance:     []string{"phivolcs", "usgs"},
	}
}

// Notification returns an unread notification created offset after the base time.
func Notification(id, subscriberID, identityKey string, offset time.Duration) domain.Notification {
	return domain.Notification{
		ID:           id,
		SubscriberID: subscriberID,
		IdentityKey:  identityKey,
		Kind:         domain.KindEarthquake,
		Severity:     severity.TierHigh,
		Message:      "Magnitude 6.2 earthquake",
		CreatedAt:    base.Add(offset),
	}
}

// Run exercises the full store contract against stores built by open.
// Every subtest gets a fresh store.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	t.Run("upsert reports creation once", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		created, err := s.UpsertEvent(ctx, Event("quake-a", 0))
		require.NoError(t, err)
		assert.True(t, created)

		updated := Event("quake-a", 0)
		updated.MagnitudeOrIntensity = 6.4
		created, err = s.UpsertEvent(ctx, updated)
		require.NoError(t, err)
		assert.False(t, created)

		got, err := s.GetEvent(ctx, "quake-a")
		require.NoError(t, err)
		if diff := cmp.Diff(updated, got); diff != "" {
			t.Errorf("stored event mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("get missing event", func(t *testing.T) {
		_, err := open(t).GetEvent(context.Background(), "nope")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("list events filters and orders", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		storm := Event("storm-a", 2*time.Hour)
		storm.Kind = domain.KindStorm
		for _, e := range []domain.HazardEvent{
			Event("quake-old", -48*time.Hour),
			Event("quake-a", time.Hour),
			Event("quake-b", 3*time.Hour),
			storm,
		} {
			_, err := s.UpsertEvent(ctx, e)
			require.NoError(t, err)
		}

		quakes, err := s.ListEvents(ctx, store.EventQuery{Kind: domain.KindEarthquake, Since: base.Add(-24 * time.Hour)})
		require.NoError(t, err)
		assert.Equal(t, []string{"quake-b", "quake-a"}, keys(quakes))

		all, err := s.ListEvents(ctx, store.EventQuery{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, []string{"quake-b", "storm-a"}, keys(all))
	})

	t.Run("delete synthetic events", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		test := Event("quake-test", 0)
		test.IsSynthetic = true
		for _, e := range []domain.HazardEvent{Event("quake-real", 0), test} {
			_, err := s.UpsertEvent(ctx, e)
			require.NoError(t, err)
		}

		n, err := s.DeleteSyntheticEvents(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = s.GetEvent(ctx, "quake-test")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = s.GetEvent(ctx, "quake-real")
		require.NoError(t, err)
	})

	t.Run("subscribers round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		sub := domain.Subscriber{
			ID:           "sub-1",
			MinMagnitude: 5,
			Geofence:     &domain.Geofence{Latitude: 14, Longitude: 121, RadiusKm: 50},
			Kinds:        []domain.Kind{domain.KindEarthquake, domain.KindStorm},
			Enabled:      true,
			UpdatedAt:    base,
		}
		require.NoError(t, s.PutSubscriber(ctx, sub))
		require.NoError(t, s.PutSubscriber(ctx, domain.Subscriber{ID: "sub-0", Enabled: false, UpdatedAt: base}))

		got, err := s.GetSubscriber(ctx, "sub-1")
		require.NoError(t, err)
		if diff := cmp.Diff(sub, got); diff != "" {
			t.Errorf("subscriber mismatch (-want +got):\n%s", diff)
		}

		sub.MinMagnitude = 6
		sub.Geofence = nil
		require.NoError(t, s.PutSubscriber(ctx, sub))

		list, err := s.ListSubscribers(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "sub-0", list[0].ID)
		assert.InDelta(t, 6.0, list[1].MinMagnitude, 1e-9)
		assert.Nil(t, list[1].Geofence)

		_, err = s.GetSubscriber(ctx, "ghost")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("notification dedup", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		inserted, err := s.InsertNotificationIfAbsent(ctx, Notification("n1", "sub-1", "quake-a", 0))
		require.NoError(t, err)
		assert.True(t, inserted)

		inserted, err = s.InsertNotificationIfAbsent(ctx, Notification("n2", "sub-1", "quake-a", time.Minute))
		require.NoError(t, err)
		assert.False(t, inserted)

		inserted, err = s.InsertNotificationIfAbsent(ctx, Notification("n3", "sub-2", "quake-a", 0))
		require.NoError(t, err)
		assert.True(t, inserted)

		list, err := s.ListNotifications(ctx, "sub-1", 0)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "n1", list[0].ID)
	})

	t.Run("concurrent inserts of one pair keep one row", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.InsertNotificationIfAbsent(ctx, Notification(fmt.Sprintf("n%d", i), "sub-1", "quake-a", 0))
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), wins.Load())
		list, err := s.ListNotifications(ctx, "sub-1", 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("read state", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		for i, key := range []string{"quake-a", "quake-b", "quake-c"} {
			_, err := s.InsertNotificationIfAbsent(ctx, Notification(fmt.Sprintf("n%d", i), "sub-1", key, time.Duration(i)*time.Minute))
			require.NoError(t, err)
		}

		list, err := s.ListNotifications(ctx, "sub-1", 2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "n2", list[0].ID, "newest first")

		unread, err := s.CountUnread(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, 3, unread)

		require.NoError(t, s.MarkRead(ctx, "sub-1", "n0"))
		assert.ErrorIs(t, s.MarkRead(ctx, "sub-2", "n1"), store.ErrNotFound)
		assert.ErrorIs(t, s.MarkRead(ctx, "sub-1", "missing"), store.ErrNotFound)

		unread, err = s.CountUnread(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, 2, unread)

		changed, err := s.MarkAllRead(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), changed)

		unread, err = s.CountUnread(ctx, "sub-1")
		require.NoError(t, err)
		assert.Zero(t, unread)
	})

	t.Run("delete notifications", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		synthetic := Notification("n-test", "sub-1", "quake-test", 0)
		synthetic.Synthetic = true
		for _, n := range []domain.Notification{Notification("n-real", "sub-1", "quake-a", 0), synthetic} {
			_, err := s.InsertNotificationIfAbsent(ctx, n)
			require.NoError(t, err)
		}

		assert.ErrorIs(t, s.DeleteNotification(ctx, "sub-2", "n-real"), store.ErrNotFound)
		require.NoError(t, s.DeleteNotification(ctx, "sub-1", "n-real"))

		removed, err := s.DeleteSyntheticNotifications(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), removed)

		list, err := s.ListNotifications(ctx, "sub-1", 0)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, open(t).Ping(context.Background()))
	})
}

func keys(events []domain.HazardEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.IdentityKey
	}
	return out
}
