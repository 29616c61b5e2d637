package source

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/severity"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(t *testing.T, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "hazard-alert-service")
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failing(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream down", status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func normalizeAll(t *testing.T, records []domain.ProvisionalRecord, sourceID string, kind domain.Kind) []domain.HazardEvent {
	t.Helper()
	events := make([]domain.HazardEvent, 0, len(records))
	for _, r := range records {
		e, err := domain.Normalize(r, sourceID, kind)
		require.NoError(t, err)
		events = append(events, e)
	}
	return events
}

// --- USGS ---

const usgsFeedJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"id": "us7000pq1a", "properties": {"mag": 6.2, "place": "12 km NNE of Quezon City, Philippines", "time": 1774073640000, "title": "M 6.2 - 12 km NNE of Quezon City, Philippines"},
     "geometry": {"type": "Point", "coordinates": [121.05, 14.71, 33.0]}},
    {"id": "ak0251", "properties": {"mag": 3.1, "place": "Alaska", "time": 1774073000000, "title": "M 3.1 - Alaska"},
     "geometry": {"type": "Point", "coordinates": [-150.1, 61.2, 10]}},
    {"id": "us-nomag", "properties": {"mag": null, "place": "Mindanao", "time": 1774073000000},
     "geometry": {"type": "Point", "coordinates": [125.1, 7.2, 10]}}
  ]
}`

func TestUSGS_Fetch(t *testing.T) {
	srv := serve(t, "application/geo+json", usgsFeedJSON)
	a := NewUSGS(Spec{
		ID:   "usgs",
		URLs: []string{srv.URL},
		BBox: &BBox{MinLatitude: 4, MaxLatitude: 25, MinLongitude: 114, MaxLongitude: 135},
	}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "usgs", r.Provider)
	assert.Equal(t, "us7000pq1a", r.UpstreamID)
	assert.Equal(t, "14.71", r.Latitude)
	assert.Equal(t, "121.05", r.Longitude)
	assert.Equal(t, "33", r.Depth)
	assert.Equal(t, "6.2", r.Magnitude)
	assert.Equal(t, time.UnixMilli(1774073640000).UTC(), r.ObservedAt)

	events := normalizeAll(t, records, "usgs", domain.KindEarthquake)
	assert.Equal(t, severity.TierHigh, events[0].Severity)
	assert.Equal(t, "M 6.2 - 12 km NNE of Quezon City, Philippines", events[0].Title)
}

func TestUSGS_FallsBackToMirror(t *testing.T) {
	down := failing(t, http.StatusBadGateway)
	up := serve(t, "application/json", usgsFeedJSON)
	a := NewUSGS(Spec{ID: "usgs", URLs: []string{down.URL, up.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestUSGS_AllMirrorsFail(t *testing.T) {
	down := failing(t, http.StatusServiceUnavailable)
	empty := serve(t, "application/json", `{"features": []}`)
	a := NewUSGS(Spec{ID: "usgs", URLs: []string{down.URL, empty.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.Error(t, err)
	assert.Empty(t, records)
	assert.Contains(t, err.Error(), "status 503")
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestUSGS_Garbage(t *testing.T) {
	srv := serve(t, "application/json", `<html>maintenance</html>`)
	a := NewUSGS(Spec{ID: "usgs", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.Error(t, err)
	assert.Empty(t, records)
	assert.Contains(t, err.Error(), "decode usgs feed")
}

// --- PHIVOLCS ---

const phivolcsTableHTML = `<html><body>
<table><tr><th>Date - Time<br>(Philippine Time)</th><th>Latitude<br>(ºN)</th><th>Longitude<br>(ºE)</th><th>Depth<br>(km)</th><th>Mag</th><th>Location</th></tr>
<tr><td><a href="x.html">21 March 2026 - 02:14 PM</a></td><td>14.60</td><td>121.00</td><td>033</td><td>6.2</td><td>012 km N 45° E of Quezon City (Metro Manila)</td></tr>
<tr><td>21 March 2026 - 11:48 AM</td><td>09.81</td><td>126.20</td><td>010</td><td>2.9</td><td>025 km S 79° E of Hinatuan (Surigao Del Sur)</td></tr>
</table></body></html>`

func TestPHIVOLCS_Table(t *testing.T) {
	srv := serve(t, "text/html", phivolcsTableHTML)
	a := NewPHIVOLCS(Spec{ID: "phivolcs", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "012 km N 45° E of Quezon City (Metro Manila)", records[0].Place)

	events := normalizeAll(t, records, "phivolcs", domain.KindEarthquake)
	assert.Equal(t, time.Date(2026, 3, 21, 6, 14, 0, 0, time.UTC), events[0].ObservedAt)
	assert.Equal(t, time.Date(2026, 3, 21, 3, 48, 0, 0, time.UTC), events[1].ObservedAt)
	assert.Equal(t, 9.81, events[1].Location.Latitude)
	require.NotNil(t, events[1].Location.DepthKm)
	assert.Equal(t, 10.0, *events[1].Location.DepthKm)
}

const phivolcsBulletinHTML = `<html><body><div class="bulletin">
<p>EARTHQUAKE INFORMATION NO.: 2</p>
<p>Date/Time: 21 Mar 2026 - 02:14 PM</p>
<p>Location: 14.60°N, 121.00°E - 012 km N 45° E of Quezon City</p>
<p>Depth of Focus (Km): 033</p>
<p>Origin: Tectonic</p>
<p>Magnitude: Ms 6.2</p>
</div></body></html>`

func TestPHIVOLCS_BulletinFallsThroughToFreeText(t *testing.T) {
	srv := serve(t, "text/html", phivolcsBulletinHTML)
	a := NewPHIVOLCS(Spec{ID: "phivolcs", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "14.60", r.Latitude)
	assert.Equal(t, "121.00", r.Longitude)
	assert.Equal(t, "033", r.Depth)
	assert.Equal(t, "6.2", r.Magnitude)
	assert.Equal(t, "012 km N 45° E of Quezon City", r.Place)

	events := normalizeAll(t, records, "phivolcs", domain.KindEarthquake)
	assert.Equal(t, time.Date(2026, 3, 21, 6, 14, 0, 0, time.UTC), events[0].ObservedAt)
}

func TestPHIVOLCS_UnrecognizablePage(t *testing.T) {
	srv := serve(t, "text/html", `<html><body><h1>Under maintenance</h1></body></html>`)
	a := NewPHIVOLCS(Spec{ID: "phivolcs", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.ErrorIs(t, err, ErrEmpty)
	assert.Empty(t, records)
}

// --- GDACS ---

const gdacsRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:gdacs="http://www.gdacs.org" xmlns:georss="http://www.georss.org/georss">
<channel>
<title>GDACS RSS information</title>
<item>
  <title>Red alert for tropical cyclone MAN-YI-24. Population affected by Category 1 (120 km/h) wind speeds or higher is 5.2 million.</title>
  <description>A Tropical Cyclone MAN-YI-24 was active in NWPacific.</description>
  <pubDate>Sat, 16 Nov 2024 12:00:00 GMT</pubDate>
  <gdacs:eventtype>TC</gdacs:eventtype>
  <gdacs:eventname>MAN-YI-24</gdacs:eventname>
  <gdacs:eventid>1001116</gdacs:eventid>
  <gdacs:severity unit="km/h" value="260">Super Typhoon (maximum wind speed of 260 km/h)</gdacs:severity>
  <gdacs:country>Philippines</gdacs:country>
  <georss:point>15.2 124.8</georss:point>
</item>
<item>
  <title>Green earthquake alert (Magnitude 5.1M, Depth:10km) in Indonesia</title>
  <pubDate>Sat, 16 Nov 2024 10:00:00 GMT</pubDate>
  <gdacs:eventtype>EQ</gdacs:eventtype>
  <georss:point>-3.2 128.1</georss:point>
</item>
</channel>
</rss>`

func TestGDACS_Fetch(t *testing.T) {
	srv := serve(t, "application/rss+xml", gdacsRSS)
	a := NewGDACS(Spec{ID: "gdacs", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "MAN-YI", r.Name)
	assert.Equal(t, "15.2", r.Latitude)
	assert.Equal(t, "124.8", r.Longitude)
	assert.Equal(t, "260", r.WindSpeed)
	assert.Equal(t, "Philippines", r.Place)
	assert.Equal(t, time.Date(2024, 11, 16, 12, 0, 0, 0, time.UTC), r.ObservedAt)

	events := normalizeAll(t, records, "gdacs", domain.KindStorm)
	assert.Equal(t, severity.CategorySuperTY, events[0].Category)
	assert.Equal(t, severity.TierExtreme, events[0].Severity)
}

func TestStormName_FromTitle(t *testing.T) {
	srv := serve(t, "application/rss+xml", strings.Replace(gdacsRSS, "<gdacs:eventname>MAN-YI-24</gdacs:eventname>", "", 1))
	a := NewGDACS(Spec{ID: "gdacs", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "MAN-YI", records[0].Name)
}

// --- NHC ---

const nhcJSON = `{"activeStorms": [
  {"id": "al052026", "name": "Ernesto", "classification": "HU", "intensity": "65",
   "latitude": "17.6N", "longitude": "54.5W", "latitudeNumeric": 17.6, "longitudeNumeric": -54.5,
   "lastUpdate": "2026-08-14T15:00:00.000Z"},
  {"id": "ep062026", "name": "Gilma", "classification": "TS", "intensity": 45,
   "latitude": "15.1N", "longitude": "118.2W",
   "lastUpdate": "2026-08-14T15:00:00.000Z"}
]}`

func TestNHC_Fetch(t *testing.T) {
	srv := serve(t, "application/json", nhcJSON)
	a := NewNHC(Spec{ID: "nhc", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "65", records[0].WindSpeed)
	assert.Equal(t, "kt", records[0].WindUnit)
	assert.Equal(t, "-54.5", records[0].Longitude)
	assert.Equal(t, "45", records[1].WindSpeed)
	assert.Equal(t, "15.1", records[1].Latitude)
	assert.Equal(t, "-118.2", records[1].Longitude)

	events := normalizeAll(t, records, "nhc", domain.KindStorm)
	assert.Equal(t, 120.0, events[0].MagnitudeOrIntensity)
	assert.Equal(t, severity.CategoryTY, events[0].Category)
	assert.Equal(t, time.Date(2026, 8, 14, 15, 0, 0, 0, time.UTC), events[0].ObservedAt)
	assert.Equal(t, 83.0, events[1].MagnitudeOrIntensity) // 45 kt
	assert.Equal(t, severity.CategoryTS, events[1].Category)
}

// --- PAGASA ---

const pagasaHTML = `<html><body>
<h3>TROPICAL CYCLONE BULLETIN NR. 12</h3>
<p>Typhoon "Kristine" (Trami)</p>
<p>Issued at 11:00 AM, 24 October 2026</p>
<div><p>Location of Center (10:00 AM): 16.9 °N, 120.4 °E</p>
<p>Intensity: Maximum sustained winds of 120 km/h near the center, gustiness of up to 165 km/h.</p></div>
</body></html>`

func TestPAGASA_Fetch(t *testing.T) {
	srv := serve(t, "text/html", pagasaHTML)
	a := NewPAGASA(Spec{ID: "pagasa", URLs: []string{srv.URL}}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, "Kristine", r.Name)
	assert.Equal(t, "Typhoon", r.Category)
	assert.Equal(t, "120", r.WindSpeed)
	assert.Equal(t, "11:00 AM 24 October 2026", r.Time)

	events := normalizeAll(t, records, "pagasa", domain.KindStorm)
	assert.Equal(t, time.Date(2026, 10, 24, 3, 0, 0, 0, time.UTC), events[0].ObservedAt)
	assert.Equal(t, 16.9, events[0].Location.Latitude)
	assert.Equal(t, severity.CategoryTY, events[0].Category)
}

// --- Open-Meteo ---

func TestOpenMeteoFlood_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "river_discharge,river_discharge_mean", q.Get("daily"))
		w.Header().Set("Content-Type", "application/json")
		switch q.Get("latitude") {
		case "17.62":
			_, _ = io.WriteString(w, `{"daily":{"time":["2026-08-02"],"river_discharge":[3100.5],"river_discharge_mean":[1000]}}`)
		case "14.95":
			_, _ = io.WriteString(w, `{"daily":{"time":["2026-08-02"],"river_discharge":[90],"river_discharge_mean":[100]}}`)
		default:
			http.Error(w, "bad basin", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	a := NewOpenMeteoFlood(Spec{
		ID:   "open-meteo-flood",
		URLs: []string{srv.URL},
		Basins: []Basin{
			{Name: "Cagayan", Latitude: 17.62, Longitude: 121.72},
			{Name: "Pampanga", Latitude: 14.95, Longitude: 120.75},
			{Name: "Nowhere", Latitude: 1, Longitude: 1},
		},
	}, discardLogger())

	records, err := a.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Cagayan", records[0].Basin)
	assert.Equal(t, "3100.5", records[0].Discharge)

	flood, err := domain.Normalize(records[0], "open-meteo-flood", domain.KindFlood)
	require.NoError(t, err)
	assert.Equal(t, severity.TierExtreme, flood.Severity)

	_, err = domain.Normalize(records[1], "open-meteo-flood", domain.KindFlood)
	require.ErrorIs(t, err, domain.ErrNotHazard)
}

// --- registry ---

func TestBuild(t *testing.T) {
	adapters, err := Build([]Spec{
		{ID: "usgs", Type: TypeUSGS, URLs: []string{"http://x"}, Rank: 2},
		{ID: "phivolcs", Type: TypePHIVOLCS, URLs: []string{"http://y"}, Rank: 1},
		{ID: "nhc", Type: TypeNHC, URLs: []string{"http://z"}, Disabled: true},
	}, discardLogger())
	require.NoError(t, err)
	require.Len(t, adapters, 2)

	byKind := ByKind(adapters)
	require.Len(t, byKind[domain.KindEarthquake], 2)
	assert.Equal(t, "phivolcs", byKind[domain.KindEarthquake][0].Descriptor().ID)
	assert.Empty(t, byKind[domain.KindStorm])
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
		want  string
	}{
		{"unknown type", []Spec{{ID: "a", Type: "carrier-pigeon", URLs: []string{"x"}}}, "unknown type"},
		{"missing id", []Spec{{Type: TypeUSGS, URLs: []string{"x"}}}, "id is required"},
		{"no urls", []Spec{{ID: "a", Type: TypeUSGS}}, "at least one url"},
		{"flood without basins", []Spec{{ID: "f", Type: TypeOpenMeteo, URLs: []string{"x"}}}, "need basins"},
		{"duplicate", []Spec{
			{ID: "a", Type: TypeUSGS, URLs: []string{"x"}},
			{ID: "a", Type: TypeNHC, URLs: []string{"y"}},
		}, "duplicate source id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.specs, discardLogger())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefaultSpecsAreValid(t *testing.T) {
	adapters, err := Build(DefaultSpecs(), discardLogger())
	require.NoError(t, err)

	byKind := ByKind(adapters)
	for _, kind := range domain.Kinds {
		assert.NotEmpty(t, byKind[kind], "no default source for %s", kind)
	}
}

func TestApplyInsecureAndTimeout(t *testing.T) {
	specs := []Spec{{ID: "phivolcs", Type: TypePHIVOLCS}, {ID: "usgs", Type: TypeUSGS, Timeout: 12 * time.Second}}

	out := ApplyInsecure(specs, []string{"phivolcs"})
	assert.True(t, out[0].InsecureTLS)
	assert.False(t, out[1].InsecureTLS)
	assert.False(t, specs[0].InsecureTLS, "input is not mutated")

	out = ApplyTimeout(out, 9*time.Second)
	assert.Equal(t, 9*time.Second, out[0].Timeout)
	assert.Equal(t, 12*time.Second, out[1].Timeout)
}

func TestClampTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, ClampTimeout(0))
	assert.Equal(t, MinTimeout, ClampTimeout(time.Second))
	assert.Equal(t, MaxTimeout, ClampTimeout(time.Minute))
	assert.Equal(t, 12*time.Second, ClampTimeout(12*time.Second))
}

func TestFetcher_InsecureTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	_, err := NewFetcher(5*time.Second, false, 0).Get(context.Background(), srv.URL, "")
	require.Error(t, err, "self-signed certificate is rejected by default")

	body, err := NewFetcher(5*time.Second, true, 0).Get(context.Background(), srv.URL, "")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}
