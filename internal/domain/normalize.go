package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/severity"
)

var (
	// ErrInvalidRecord marks a provisional record missing a required field
	// after parsing (coordinates, time, intensity, storm name, basin).
	ErrInvalidRecord = errors.New("invalid provisional record")

	// ErrNotHazard marks a reading below the hazard threshold, such as a flood
	// discharge ratio <= 1.2.
	ErrNotHazard = errors.New("reading is not a hazard")
)

// ProviderSynthetic namespaces operator-injected test events.
const ProviderSynthetic = "synthetic"

// PhilippineOffsetSeconds is the fixed UTC+08:00 offset used by PHIVOLCS and
// PAGASA pages.
const PhilippineOffsetSeconds = 8 * 60 * 60

// numberRe captures the first decimal number in a free-text field,
// e.g. "Depth: 033 km" -> "033".
var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// Normalize maps a provisional record into the canonical schema. It is a
// pure function: the same inputs always yield the same event. IngestedAt is
// left zero; the orchestrator stamps it on first sighting.
func Normalize(raw ProvisionalRecord, sourceID string, kind Kind) (HazardEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(raw.Provider))
	if provider == "" {
		provider = sourceID
	}
	if raw.Synthetic {
		provider = ProviderSynthetic
	}

	lat, lon, err := parseCoordinates(raw.Latitude, raw.Longitude)
	if err != nil {
		return HazardEvent{}, err
	}

	observedAt := raw.ObservedAt.UTC()
	if raw.ObservedAt.IsZero() {
		observedAt, err = ParseTimestamp(raw.Time, raw.TimeLayouts, raw.UTCOffsetSeconds)
		if err != nil {
			return HazardEvent{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	}

	event := HazardEvent{
		Kind:             kind,
		Place:            strings.TrimSpace(raw.Place),
		ObservedAt:       observedAt,
		Location:         Location{Latitude: lat, Longitude: lon},
		SourceProvenance: []string{sourceID},
		IsSynthetic:      raw.Synthetic,
	}

	switch kind {
	case KindEarthquake:
		err = normalizeQuake(&event, raw, provider)
	case KindStorm:
		err = normalizeStorm(&event, raw, provider)
	case KindFlood:
		err = normalizeFlood(&event, raw, provider)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalidRecord, kind)
	}
	if err != nil {
		return HazardEvent{}, err
	}

	if title := strings.TrimSpace(raw.Title); title != "" {
		event.Title = title
	}
	return event, nil
}

func normalizeQuake(event *HazardEvent, raw ProvisionalRecord, provider string) error {
	mag, ok := parseNumber(raw.Magnitude)
	if !ok || mag <= 0 {
		return fmt.Errorf("%w: magnitude %q", ErrInvalidRecord, raw.Magnitude)
	}
	event.MagnitudeOrIntensity = mag
	event.Severity = severity.QuakeTier(mag)
	if depth, ok := ParseDepthKm(raw.Depth); ok {
		event.Location.DepthKm = &depth
	}

	if id := strings.TrimSpace(raw.UpstreamID); id != "" {
		event.IdentityKey = IdentityKey(KindEarthquake, provider, id)
	} else {
		event.IdentityKey = IdentityKey(KindEarthquake, provider,
			fmt.Sprintf("%.2f", event.Location.Latitude),
			fmt.Sprintf("%.2f", event.Location.Longitude),
			event.ObservedAt.Truncate(time.Minute).Format(time.RFC3339),
		)
	}

	event.Title = fmt.Sprintf("M%.1f earthquake", mag)
	if event.Place != "" {
		event.Title += " - " + event.Place
	}
	return nil
}

func normalizeStorm(event *HazardEvent, raw ProvisionalRecord, provider string) error {
	name := strings.Join(strings.Fields(raw.Name), " ")
	if name == "" {
		return fmt.Errorf("%w: storm without a name", ErrInvalidRecord)
	}
	category, err := severity.ParseCategory(raw.Category)
	if err != nil {
		category = severity.CategoryUnknown
	}

	kmh, ok := parseNumber(raw.WindSpeed)
	if ok && kmh > 0 {
		kmh, err = WindToKmh(kmh, raw.WindUnit)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
	} else {
		kmh = severity.RepresentativeWindKmh(category)
	}
	if kmh <= 0 {
		return fmt.Errorf("%w: storm %q has neither wind nor category", ErrInvalidRecord, name)
	}

	event.Name = name
	event.MagnitudeOrIntensity = math.Round(kmh)
	event.Reclassify()
	event.IdentityKey = IdentityKey(KindStorm, provider, strings.ToUpper(name))
	event.Title = event.Category.Label() + " " + name
	return nil
}

func normalizeFlood(event *HazardEvent, raw ProvisionalRecord, provider string) error {
	basin := strings.TrimSpace(raw.Basin)
	if basin == "" {
		return fmt.Errorf("%w: flood reading without a basin", ErrInvalidRecord)
	}
	discharge, okD := parseNumber(raw.Discharge)
	mean, okM := parseNumber(raw.MeanDischarge)
	if !okD || !okM || mean <= 0 || discharge < 0 {
		return fmt.Errorf("%w: discharge %q / mean %q", ErrInvalidRecord, raw.Discharge, raw.MeanDischarge)
	}

	ratio := discharge / mean
	tier, isFlood := severity.FloodSeverity(ratio)
	if !isFlood {
		return fmt.Errorf("%w: %s discharge ratio %.2f", ErrNotHazard, basin, ratio)
	}

	event.Basin = basin
	event.MagnitudeOrIntensity = ratio
	event.Severity = tier
	event.IdentityKey = IdentityKey(KindFlood, provider, basin)
	event.Title = fmt.Sprintf("Flood %s: %s river basin", severity.FloodLevel(tier), basin)
	if event.Place == "" {
		event.Place = basin
	}
	return nil
}

// IdentityKey derives the deterministic key for an event of kind from its
// identifying parts. The result is "<kind>-<16 hex chars>".
func IdentityKey(kind Kind, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return string(kind) + "-" + hex.EncodeToString(hash[:8])
}

// ParseTimestamp reads s as RFC 3339, then with each layout in turn. Layouts
// without zone information are interpreted at the fixed UTC offset.
func ParseTimestamp(s string, layouts []string, utcOffsetSeconds int) (time.Time, error) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, errors.New("missing timestamp")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	zone := time.FixedZone("", utcOffsetSeconds)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, zone); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// WindToKmh converts a wind speed in unit to km/h. An empty unit means km/h.
func WindToKmh(v float64, unit string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "km/h", "kph", "kmh":
		return v, nil
	case "kt", "kts", "knots":
		return v * 1.852, nil
	case "m/s", "mps":
		return v * 3.6, nil
	case "mph":
		return v * 1.609344, nil
	}
	return 0, fmt.Errorf("unknown wind unit %q", unit)
}

// ParseDepthKm extracts a depth in kilometres from text such as "10 km" or
// "033". Negative depths are rejected.
func ParseDepthKm(s string) (float64, bool) {
	v, ok := parseNumber(s)
	if !ok || v < 0 {
		return 0, false
	}
	return v, true
}

func parseCoordinates(latS, lonS string) (float64, float64, error) {
	lat, okLat := parseHemisphere(latS, "S")
	lon, okLon := parseHemisphere(lonS, "W")
	if !okLat || !okLon {
		return 0, 0, fmt.Errorf("%w: coordinates %q,%q", ErrInvalidRecord, latS, lonS)
	}
	if !ValidCoordinates(lat, lon) {
		return 0, 0, fmt.Errorf("%w: coordinates out of range %v,%v", ErrInvalidRecord, lat, lon)
	}
	return lat, lon, nil
}

// ValidCoordinates reports whether lat/lon is a usable WGS-84 point. The
// null island (0,0) is treated as a parse failure.
func ValidCoordinates(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return lat != 0 || lon != 0
}

// parseHemisphere reads a coordinate such as "12.4N" or "125.3 W", negating
// values in the southern or western hemisphere.
func parseHemisphere(s, negative string) (float64, bool) {
	v, ok := parseNumber(s)
	if !ok {
		return 0, false
	}
	if strings.HasSuffix(strings.ToUpper(strings.TrimSpace(s)), negative) && v > 0 {
		v = -v
	}
	return v, true
}

// parseNumber returns the first decimal number in s.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	}
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	return v, err == nil
}
