package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-alert-service/internal/severity"
)

const phivolcsLayout = "02 January 2006 - 03:04 PM"

func phivolcsRecord() ProvisionalRecord {
	return ProvisionalRecord{
		Provider:         "phivolcs",
		Latitude:         "14.60",
		Longitude:        "121.00",
		Depth:            "033",
		Magnitude:        "6.2",
		Time:             "21 March 2026 - 02:14 PM",
		TimeLayouts:      []string{phivolcsLayout},
		UTCOffsetSeconds: PhilippineOffsetSeconds,
	}
}

func TestNormalize_Earthquake(t *testing.T) {
	event, err := Normalize(phivolcsRecord(), "phivolcs-main", KindEarthquake)
	require.NoError(t, err)

	assert.Equal(t, KindEarthquake, event.Kind)
	assert.Equal(t, time.Date(2026, 3, 21, 6, 14, 0, 0, time.UTC), event.ObservedAt)
	assert.True(t, event.IngestedAt.IsZero())
	assert.Equal(t, 14.60, event.Location.Latitude)
	assert.Equal(t, 121.00, event.Location.Longitude)
	require.NotNil(t, event.Location.DepthKm)
	assert.Equal(t, 33.0, *event.Location.DepthKm)
	assert.Equal(t, 6.2, event.MagnitudeOrIntensity)
	assert.Equal(t, severity.TierHigh, event.Severity)
	assert.Equal(t, "M6.2 earthquake", event.Title)
	assert.Equal(t, []string{"phivolcs-main"}, event.SourceProvenance)
	assert.False(t, event.IsSynthetic)
	assert.True(t, strings.HasPrefix(event.IdentityKey, "earthquake-"))
	assert.Len(t, event.IdentityKey, len("earthquake-")+16)
}

func TestNormalize_Deterministic(t *testing.T) {
	a, err := Normalize(phivolcsRecord(), "phivolcs-main", KindEarthquake)
	require.NoError(t, err)
	b, err := Normalize(phivolcsRecord(), "phivolcs-main", KindEarthquake)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestNormalize_QuakeIdentity(t *testing.T) {
	t.Run("mirror of the same provider shares the key", func(t *testing.T) {
		a, err := Normalize(phivolcsRecord(), "phivolcs-main", KindEarthquake)
		require.NoError(t, err)
		b, err := Normalize(phivolcsRecord(), "phivolcs-mirror", KindEarthquake)
		require.NoError(t, err)

		assert.Equal(t, a.IdentityKey, b.IdentityKey)
		assert.Equal(t, []string{"phivolcs-mirror"}, b.SourceProvenance)
	})

	t.Run("seconds within the same minute share the key", func(t *testing.T) {
		rec := phivolcsRecord()
		rec.ObservedAt = time.Date(2026, 3, 21, 6, 14, 5, 0, time.UTC)
		a, err := Normalize(rec, "phivolcs-main", KindEarthquake)
		require.NoError(t, err)

		rec.ObservedAt = time.Date(2026, 3, 21, 6, 14, 40, 0, time.UTC)
		b, err := Normalize(rec, "phivolcs-main", KindEarthquake)
		require.NoError(t, err)

		assert.Equal(t, a.IdentityKey, b.IdentityKey)
		assert.NotEqual(t, a.ObservedAt, b.ObservedAt)
	})

	t.Run("upstream id wins over coordinates", func(t *testing.T) {
		rec := phivolcsRecord()
		rec.Provider = "usgs"
		rec.UpstreamID = "us7000abcd"
		a, err := Normalize(rec, "usgs", KindEarthquake)
		require.NoError(t, err)

		rec.Latitude = "14.71" // revised location
		b, err := Normalize(rec, "usgs", KindEarthquake)
		require.NoError(t, err)

		assert.Equal(t, a.IdentityKey, b.IdentityKey)
	})

	t.Run("different providers never collide", func(t *testing.T) {
		rec := phivolcsRecord()
		a, err := Normalize(rec, "phivolcs-main", KindEarthquake)
		require.NoError(t, err)
		rec.Provider = "usgs"
		b, err := Normalize(rec, "usgs", KindEarthquake)
		require.NoError(t, err)

		assert.NotEqual(t, a.IdentityKey, b.IdentityKey)
	})
}

func TestNormalize_Synthetic(t *testing.T) {
	rec := phivolcsRecord()
	genuine, err := Normalize(rec, "phivolcs-main", KindEarthquake)
	require.NoError(t, err)

	rec.Synthetic = true
	synthetic, err := Normalize(rec, "operator", KindEarthquake)
	require.NoError(t, err)

	assert.True(t, synthetic.IsSynthetic)
	assert.NotEqual(t, genuine.IdentityKey, synthetic.IdentityKey)
}

func TestNormalize_StormWindInKnots(t *testing.T) {
	rec := ProvisionalRecord{
		Provider:   "nhc",
		Name:       "  Pepito ",
		Latitude:   "15.2",
		Longitude:  "124.8",
		WindSpeed:  "65",
		WindUnit:   "kt",
		ObservedAt: time.Date(2026, 11, 16, 0, 0, 0, 0, time.UTC),
	}
	event, err := Normalize(rec, "nhc", KindStorm)
	require.NoError(t, err)

	assert.Equal(t, "Pepito", event.Name)
	assert.Equal(t, 120.0, event.MagnitudeOrIntensity) // 65 kt = 120.38 km/h
	assert.Equal(t, severity.CategoryTY, event.Category)
	assert.Equal(t, severity.TierHigh, event.Severity)
	assert.Equal(t, "Typhoon Pepito", event.Title)

	rec.Name = "PEPITO"
	rec.WindSpeed = "105"
	upgraded, err := Normalize(rec, "nhc", KindStorm)
	require.NoError(t, err)
	assert.Equal(t, event.IdentityKey, upgraded.IdentityKey)
	assert.Equal(t, severity.CategorySuperTY, upgraded.Category)
}

func TestNormalize_StormCategoryOnly(t *testing.T) {
	rec := ProvisionalRecord{
		Provider:   "pagasa",
		Name:       "Kristine",
		Category:   "Severe Tropical Storm",
		Latitude:   "16.1N",
		Longitude:  "121.5E",
		ObservedAt: time.Date(2026, 10, 23, 3, 0, 0, 0, time.UTC),
	}
	event, err := Normalize(rec, "pagasa", KindStorm)
	require.NoError(t, err)

	assert.Equal(t, 103.0, event.MagnitudeOrIntensity)
	assert.Equal(t, severity.CategorySTS, event.Category)
	assert.Equal(t, severity.TierModerate, event.Severity)
	assert.Equal(t, 16.1, event.Location.Latitude)
}

func TestNormalize_StormRejections(t *testing.T) {
	base := ProvisionalRecord{
		Name:       "Ofel",
		Latitude:   "18.0",
		Longitude:  "123.0",
		ObservedAt: time.Date(2026, 11, 14, 0, 0, 0, 0, time.UTC),
	}

	noName := base
	noName.Name = ""
	noName.WindSpeed = "80"
	_, err := Normalize(noName, "gdacs", KindStorm)
	require.ErrorIs(t, err, ErrInvalidRecord)

	noIntensity := base
	_, err = Normalize(noIntensity, "gdacs", KindStorm)
	require.ErrorIs(t, err, ErrInvalidRecord)

	badUnit := base
	badUnit.WindSpeed = "80"
	badUnit.WindUnit = "beaufort"
	_, err = Normalize(badUnit, "gdacs", KindStorm)
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNormalize_Flood(t *testing.T) {
	rec := ProvisionalRecord{
		Provider:      "open-meteo",
		Basin:         "Cagayan",
		Latitude:      "17.6",
		Longitude:     "121.7",
		Discharge:     "450",
		MeanDischarge: "150",
		Time:          "2026-08-02",
		TimeLayouts:   []string{"2006-01-02"},
	}
	event, err := Normalize(rec, "open-meteo-flood", KindFlood)
	require.NoError(t, err)

	assert.Equal(t, 3.0, event.MagnitudeOrIntensity)
	assert.Equal(t, severity.TierHigh, event.Severity)
	assert.Equal(t, "Cagayan", event.Place)
	assert.Equal(t, "Flood alarm: Cagayan river basin", event.Title)
	assert.Equal(t, time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC), event.ObservedAt)

	rec.Discharge = "120"
	rec.MeanDischarge = "100"
	_, err = Normalize(rec, "open-meteo-flood", KindFlood)
	require.ErrorIs(t, err, ErrNotHazard)

	rec.MeanDischarge = "0"
	_, err = Normalize(rec, "open-meteo-flood", KindFlood)
	require.ErrorIs(t, err, ErrInvalidRecord)
}

func TestNormalize_InvalidRecords(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ProvisionalRecord)
	}{
		{"null island", func(r *ProvisionalRecord) { r.Latitude, r.Longitude = "0", "0" }},
		{"latitude out of range", func(r *ProvisionalRecord) { r.Latitude = "95" }},
		{"unparseable longitude", func(r *ProvisionalRecord) { r.Longitude = "n/a" }},
		{"missing time", func(r *ProvisionalRecord) { r.Time = "" }},
		{"garbled time", func(r *ProvisionalRecord) { r.Time = "yesterday" }},
		{"missing magnitude", func(r *ProvisionalRecord) { r.Magnitude = "-" }},
		{"zero magnitude", func(r *ProvisionalRecord) { r.Magnitude = "0.0" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := phivolcsRecord()
			tt.mutate(&rec)
			_, err := Normalize(rec, "phivolcs-main", KindEarthquake)
			require.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestParseHemisphere(t *testing.T) {
	lat, lon, err := parseCoordinates("12.5S", "45.0 W")
	require.NoError(t, err)
	assert.Equal(t, -12.5, lat)
	assert.Equal(t, -45.0, lon)
}

func TestParseTimestamp(t *testing.T) {
	got, err := ParseTimestamp("2026-03-21T14:14:00+08:00", nil, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 21, 6, 14, 0, 0, time.UTC), got)

	got, err = ParseTimestamp("21 March 2026 -  02:14 PM", []string{phivolcsLayout}, PhilippineOffsetSeconds)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 21, 6, 14, 0, 0, time.UTC), got)
}

func TestWindToKmh(t *testing.T) {
	tests := []struct {
		v    float64
		unit string
		want float64
	}{
		{100, "", 100},
		{100, "km/h", 100},
		{10, "kt", 18.52},
		{10, "m/s", 36},
		{100, "MPH", 160.9344},
	}
	for _, tt := range tests {
		got, err := WindToKmh(tt.v, tt.unit)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-9, "%v %s", tt.v, tt.unit)
	}

	_, err := WindToKmh(10, "furlongs/fortnight")
	require.Error(t, err)
}

func TestParseDepthKm(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"10 km", 10, true},
		{"033", 33, true},
		{"Depth: 12.5km", 12.5, true},
		{"", 0, false},
		{"unknown", 0, false},
		{"-3", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDepthKm(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestClassifyAndReclassify(t *testing.T) {
	assert.Equal(t, severity.TierExtreme, Classify(KindEarthquake, 7.1))
	assert.Equal(t, severity.TierModerate, Classify(KindStorm, 100))
	assert.Equal(t, severity.TierLow, Classify(KindFlood, 1.3))
	assert.Equal(t, severity.TierNone, Classify(Kind("volcano"), 5))

	e := HazardEvent{Kind: KindStorm, MagnitudeOrIntensity: 190, Severity: severity.TierLow}
	e.Reclassify()
	assert.Equal(t, severity.TierExtreme, e.Severity)
	assert.Equal(t, severity.CategorySuperTY, e.Category)
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("Quake")
	require.NoError(t, err)
	assert.Equal(t, KindEarthquake, k)

	_, err = ParseKind("meteor")
	require.Error(t, err)
}

func TestSubscriberPredicates(t *testing.T) {
	assert.False(t, Subscriber{ID: "a", Enabled: true}.Configured())
	assert.True(t, Subscriber{MinMagnitude: 4}.Configured())
	assert.True(t, Subscriber{Geofence: &Geofence{RadiusKm: 10}}.Configured())

	s := Subscriber{Kinds: []Kind{KindStorm}}
	assert.True(t, s.WantsKind(KindStorm))
	assert.False(t, s.WantsKind(KindFlood))
	assert.True(t, Subscriber{}.WantsKind(KindFlood))
}
