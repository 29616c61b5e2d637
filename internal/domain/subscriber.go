package domain

import (
	"slices"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/severity"
)

// Geofence limits alerts to events within RadiusKm of a point.
type Geofence struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RadiusKm  float64 `json:"radius_km"`
}

// Subscriber holds one user's alert settings. A nil Geofence matches events
// everywhere; an empty Kinds list matches every hazard kind.
type Subscriber struct {
	ID           string    `json:"id"`
	MinMagnitude float64   `json:"min_magnitude"`
	Geofence     *Geofence `json:"geofence,omitempty"`
	Kinds        []Kind    `json:"kinds,omitempty"`
	Enabled      bool      `json:"enabled"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Configured reports whether the subscriber has set a threshold or geofence.
func (s Subscriber) Configured() bool {
	return s.MinMagnitude > 0 || s.Geofence != nil
}

// WantsKind reports whether the subscriber has opted in to kind.
func (s Subscriber) WantsKind(kind Kind) bool {
	return len(s.Kinds) == 0 || slices.Contains(s.Kinds, kind)
}

// Notification is one alert delivered to one subscriber about one event.
// (SubscriberID, IdentityKey) is unique.
type Notification struct {
	ID           string        `json:"id"`
	SubscriberID string        `json:"subscriber_id"`
	IdentityKey  string        `json:"identity_key"`
	Kind         Kind          `json:"kind"`
	Severity     severity.Tier `json:"severity"`
	Message      string        `json:"message"`
	DistanceKm   *float64      `json:"distance_km,omitempty"`
	Signal       *int          `json:"signal,omitempty"`
	Read         bool          `json:"read"`
	Synthetic    bool          `json:"synthetic"`
	CreatedAt    time.Time     `json:"created_at"`
}
