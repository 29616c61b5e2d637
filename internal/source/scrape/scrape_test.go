package scrape

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quakeTablePage = `<html><body>
<script>var x = "14.00 121.00 magnitude 9.9";</script>
<table class="nav"><tr><td>Home</td><td>About</td></tr></table>
<table>
  <tr><th>Date - Time (PST)</th><th>Latitude</th><th>Longitude</th><th>Depth</th><th>Mag</th><th>Location</th></tr>
  <tr><td><a href="#">21 March 2026 - 02:14 PM</a></td><td>14.60</td><td>121.00</td><td>033</td><td>6.2</td><td>012 km N 45° E of Quezon City</td></tr>
  <tr><td>21 March 2026 - 01:02 PM</td><td>9.81</td><td>126.20</td><td>010</td><td>2.9</td><td>Surigao del Sur</td></tr>
  <tr><td>garbage row</td><td>--</td><td>--</td><td>--</td><td>--</td><td></td></tr>
</table></body></html>`

var quakeColumns = map[string]int{
	FieldTime: 0, FieldLatitude: 1, FieldLongitude: 2, FieldDepth: 3, FieldMagnitude: 4, FieldPlace: 5,
}

func TestTableRows(t *testing.T) {
	page := NewPage("http://example.test", []byte(quakeTablePage))
	records := TableRows{Marker: "latitude", Columns: quakeColumns}.TryExtract(page)

	require.Len(t, records, 3)
	assert.Equal(t, "21 March 2026 - 02:14 PM", records[0][FieldTime])
	assert.Equal(t, "14.60", records[0][FieldLatitude])
	assert.Equal(t, "6.2", records[0][FieldMagnitude])
	assert.Equal(t, "012 km N 45° E of Quezon City", records[0][FieldPlace])
	assert.False(t, Plausible(records[2]))
}

func TestTableRows_MarkerFiltersTables(t *testing.T) {
	page := NewPage("", []byte(quakeTablePage))
	records := TableRows{Marker: "no such header", Columns: quakeColumns}.TryExtract(page)
	assert.Empty(t, records)
}

func TestPageText_SkipsScripts(t *testing.T) {
	page := NewPage("", []byte(quakeTablePage))
	assert.NotContains(t, page.Text(), "9.9")
	assert.Contains(t, page.Text(), "Surigao del Sur")
}

var bulletinPattern = regexp.MustCompile(
	`(?i)(?P<category>Super Typhoon|Severe Tropical Storm|Tropical Storm|Tropical Depression|Typhoon)\s+"?(?P<name>[A-Z][A-Za-z]+)"?` +
		`.*?(?P<latitude>\d{1,2}\.\d+)\s*°?\s*N.*?(?P<longitude>\d{2,3}\.\d+)\s*°?\s*E` +
		`.*?(?:sustained winds of|winds of)\s+(?P<wind>\d+)\s*km/h`)

const bulletinPage = `<html><body><div>
<p>TROPICAL CYCLONE BULLETIN NR. 7</p>
<p>Typhoon "Pepito" (Man-yi) maintains its strength.</p>
<p>Location of Center: 15.2 °N, 124.8 °E</p>
<p>Intensity: Maximum sustained winds of 185 km/h near the center.</p>
</div></body></html>`

func TestFreeText(t *testing.T) {
	page := NewPage("", []byte(bulletinPage))
	records := FreeText{Pattern: bulletinPattern}.TryExtract(page)

	require.Len(t, records, 0, "pattern does not cross line boundaries without (?s)")

	dotAll := regexp.MustCompile(`(?s)` + bulletinPattern.String())
	records = FreeText{Pattern: dotAll}.TryExtract(page)
	require.Len(t, records, 1)
	assert.Equal(t, "Typhoon", records[0][FieldCategory])
	assert.Equal(t, "Pepito", records[0][FieldName])
	assert.Equal(t, "15.2", records[0][FieldLatitude])
	assert.Equal(t, "124.8", records[0][FieldLongitude])
	assert.Equal(t, "185", records[0][FieldWind])
	assert.True(t, Plausible(records[0]))
}

func TestPageWide(t *testing.T) {
	page := NewPage("", []byte(`<html><body>
<p>Earthquake Information No. 1</p>
<p>Date and Time: 21 Mar 2026 - 02:14 PM</p>
<p>Location: 14.60°N, 121.00°E</p>
<p>Depth of Focus (Km): 033</p>
<p>Magnitude: Ms 6.2</p>
<p>Another report at 6.50 S 105.40 W with magnitude 4.8</p>
</body></html>`))

	strategy := PageWide{
		ValueField:   FieldMagnitude,
		ValuePattern: regexp.MustCompile(`(?i)magnitude[^0-9]{0,12}(\d+(?:\.\d+)?)`),
		TimePattern:  regexp.MustCompile(`\d{1,2} [A-Z][a-z]{2} \d{4} - \d{2}:\d{2} [AP]M`),
		Window:       120,
	}
	records := strategy.TryExtract(page)

	require.Len(t, records, 2)
	assert.Equal(t, "14.60", records[0][FieldLatitude])
	assert.Equal(t, "121.00", records[0][FieldLongitude])
	assert.Equal(t, "6.2", records[0][FieldMagnitude])
	assert.Equal(t, "21 Mar 2026 - 02:14 PM", records[0][FieldTime])

	assert.Equal(t, "-6.50", records[1][FieldLatitude])
	assert.Equal(t, "-105.40", records[1][FieldLongitude])
	assert.Equal(t, "4.8", records[1][FieldMagnitude])
}

type stubStrategy struct {
	name    string
	records []Record
	calls   *int
}

func (s stubStrategy) Name() string { return s.name }

func (s stubStrategy) TryExtract(*Page) []Record {
	*s.calls++
	return s.records
}

func TestCascade_StopsAtFirstPlausible(t *testing.T) {
	var first, second, third int
	good := Record{FieldLatitude: "14.6", FieldLongitude: "121.0", FieldMagnitude: "5.1"}
	cascade := Cascade{
		stubStrategy{name: "implausible", records: []Record{{FieldLatitude: "14.6", FieldMagnitude: "5"}}, calls: &first},
		stubStrategy{name: "good", records: []Record{good, {FieldLatitude: "0", FieldLongitude: "0", FieldMagnitude: "3"}}, calls: &second},
		stubStrategy{name: "never", records: []Record{good}, calls: &third},
	}

	records, used := cascade.Extract(NewPage("", nil))

	assert.Equal(t, "good", used)
	assert.Equal(t, []Record{good}, records)
	assert.Equal(t, 1, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 0, third)
}

func TestCascade_NothingMatches(t *testing.T) {
	page := NewPage("", []byte("<html><body>Service temporarily unavailable</body></html>"))
	cascade := Cascade{
		TableRows{Columns: quakeColumns},
		FreeText{Pattern: bulletinPattern},
		PageWide{ValueField: FieldMagnitude, ValuePattern: regexp.MustCompile(`magnitude (\d+)`)},
	}

	records, used := cascade.Extract(page)
	assert.Empty(t, records)
	assert.Empty(t, used)
}

func TestPlausible(t *testing.T) {
	tests := []struct {
		name string
		rec  Record
		want bool
	}{
		{"quake", Record{FieldLatitude: "14.6", FieldLongitude: "121", FieldMagnitude: "4.5"}, true},
		{"storm wind", Record{FieldLatitude: "15.2 N", FieldLongitude: "124.8 E", FieldWind: "185 km/h"}, true},
		{"missing magnitude", Record{FieldLatitude: "14.6", FieldLongitude: "121"}, false},
		{"zero magnitude", Record{FieldLatitude: "14.6", FieldLongitude: "121", FieldMagnitude: "0"}, false},
		{"text latitude", Record{FieldLatitude: "north", FieldLongitude: "121", FieldMagnitude: "4"}, false},
		{"out of range", Record{FieldLatitude: "95", FieldLongitude: "121", FieldMagnitude: "4"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plausible(tt.rec))
		})
	}
}
