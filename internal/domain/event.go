package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/severity"
)

// Kind is the hazard type an event describes.
type Kind string

const (
	KindEarthquake Kind = "earthquake"
	KindStorm      Kind = "storm"
	KindFlood      Kind = "flood"
)

// Kinds lists every hazard kind in polling order.
var Kinds = []Kind{KindEarthquake, KindStorm, KindFlood}

// ParseKind accepts the canonical names plus "quake" and "typhoon".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "earthquake", "quake":
		return KindEarthquake, nil
	case "storm", "typhoon", "cyclone":
		return KindStorm, nil
	case "flood":
		return KindFlood, nil
	}
	return "", fmt.Errorf("unknown hazard kind %q", s)
}

// Location is a WGS-84 point. DepthKm is only set for earthquakes.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	DepthKm   *float64 `json:"depth_km,omitempty"`
}

// HazardEvent is the canonical record every source is normalized into.
type HazardEvent struct {
	IdentityKey string    `json:"identity_key"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Place       string    `json:"place,omitempty"`
	Name        string    `json:"name,omitempty"`  // storm name
	Basin       string    `json:"basin,omitempty"` // river basin
	ObservedAt  time.Time `json:"observed_at"`
	IngestedAt  time.Time `json:"ingested_at"`
	Location    Location  `json:"location"`

	// MagnitudeOrIntensity is the quake magnitude, the storm's sustained wind
	// in km/h, or the flood discharge ratio.
	MagnitudeOrIntensity float64           `json:"magnitude_or_intensity"`
	Severity             severity.Tier     `json:"severity"`
	Category             severity.Category `json:"category,omitempty"`

	// SourceProvenance lists contributing source ids, most authoritative first.
	SourceProvenance []string `json:"source_provenance"`
	IsSynthetic      bool     `json:"is_synthetic"`
}

// Classify returns the severity tier for an intensity value of the given kind.
func Classify(kind Kind, value float64) severity.Tier {
	switch kind {
	case KindEarthquake:
		return severity.QuakeTier(value)
	case KindStorm:
		return severity.StormTier(value)
	case KindFlood:
		tier, _ := severity.FloodSeverity(value)
		return tier
	default:
		return severity.TierNone
	}
}

// Reclassify recomputes the derived severity fields from the intensity.
func (e *HazardEvent) Reclassify() {
	e.Severity = Classify(e.Kind, e.MagnitudeOrIntensity)
	if e.Kind == KindStorm {
		e.Category = severity.CategoryFromWindKmh(e.MagnitudeOrIntensity)
	}
}

// Significance is a coarse ranking score used to order events of mixed kinds.
func (e HazardEvent) Significance() int {
	if e.Kind == KindEarthquake {
		return severity.QuakeSignificance(e.MagnitudeOrIntensity)
	}
	return int(e.Severity) * 100
}

// Clone returns a copy that shares no slices or pointers with e.
func (e HazardEvent) Clone() HazardEvent {
	e.SourceProvenance = slices.Clone(e.SourceProvenance)
	if e.Location.DepthKm != nil {
		d := *e.Location.DepthKm
		e.Location.DepthKm = &d
	}
	return e
}

// ProvisionalRecord is one adapter's raw, not-yet-normalized extraction.
// Numeric fields hold the text the provider published.
type ProvisionalRecord struct {
	Provider   string
	UpstreamID string // provider's own event id, when it publishes one
	Title      string
	Place      string
	Name       string // storm name
	Basin      string // flood basin

	Latitude  string
	Longitude string
	Depth     string

	Magnitude     string
	WindSpeed     string
	WindUnit      string // "kt", "m/s", "mph" or "km/h"
	Category      string
	Discharge     string
	MeanDischarge string

	// Time is parsed with TimeLayouts (RFC 3339 is always tried first).
	// Layouts without a zone are read at UTC+UTCOffsetSeconds.
	Time             string
	TimeLayouts      []string
	UTCOffsetSeconds int

	// ObservedAt overrides Time when the adapter already holds an instant.
	ObservedAt time.Time
	Synthetic  bool
}
