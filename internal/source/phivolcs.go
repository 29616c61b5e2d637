package source

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/source/scrape"
)

// phivolcsLayouts covers the date formats seen on the PHIVOLCS pages.
var phivolcsLayouts = []string{
	"02 January 2006 - 03:04 PM",
	"2 January 2006 - 3:04 PM",
	"02 Jan 2006 - 03:04 PM",
	"2 Jan 2006 - 3:04 PM",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// phivolcsCascade extracts quake rows from the PHIVOLCS seismicity page:
// first the listing table, then earthquake-information bulletins written
// as prose, then any coordinate pair followed by a magnitude.
var phivolcsCascade = scrape.Cascade{
	scrape.TableRows{
		Marker: "Latitude",
		Columns: map[string]int{
			scrape.FieldTime:      0,
			scrape.FieldLatitude:  1,
			scrape.FieldLongitude: 2,
			scrape.FieldDepth:     3,
			scrape.FieldMagnitude: 4,
			scrape.FieldPlace:     5,
		},
	},
	scrape.FreeText{Pattern: regexp.MustCompile(
		`(?is)Date\s*/?\s*(?:and\s+)?Time\s*:\s*(?P<time>\d{1,2}\s+[A-Za-z]+\s+\d{4}\s*-\s*\d{1,2}:\d{2}\s*[AP]M)` +
			`.*?Location\s*:\s*(?P<latitude>\d{1,2}\.\d+)\s*°?\s*N\s*,?\s*(?P<longitude>\d{2,3}\.\d+)\s*°?\s*E` +
			`(?:\s*-\s*(?P<place>[^\n]+))?` +
			`.*?Depth(?:\s+of\s+Focus)?\s*(?:\(\s*Km\s*\))?\s*:\s*(?P<depth>\d+(?:\.\d+)?)` +
			`.*?Magnitude\s*:\s*(?:M[slwb]\s*)?(?P<magnitude>\d+(?:\.\d+)?)`)},
	scrape.PageWide{
		ValueField:   scrape.FieldMagnitude,
		ValuePattern: regexp.MustCompile(`(?i)mag(?:nitude)?[^0-9\n]{0,12}(\d+(?:\.\d+)?)`),
		TimePattern:  regexp.MustCompile(`\d{1,2}\s+[A-Z][a-z]+\s+\d{4}\s*-\s*\d{1,2}:\d{2}\s*[AP]M`),
		Window:       160,
	},
}

// PHIVOLCS scrapes the Philippine Institute of Volcanology and Seismology
// earthquake listing, trying each mirror URL in turn.
type PHIVOLCS struct {
	base
	maxRecords int
}

// NewPHIVOLCS builds the adapter from a catalog entry.
func NewPHIVOLCS(spec Spec, logger *slog.Logger) *PHIVOLCS {
	return &PHIVOLCS{
		base:       newBase(spec, domain.KindEarthquake, "phivolcs", logger),
		maxRecords: spec.MaxRecords,
	}
}

func (a *PHIVOLCS) Fetch(ctx context.Context) ([]domain.ProvisionalRecord, error) {
	ctx, cancel := a.deadline(ctx)
	defer cancel()
	return a.firstNonEmpty(ctx, a.fetchURL)
}

func (a *PHIVOLCS) fetchURL(ctx context.Context, url string) ([]domain.ProvisionalRecord, error) {
	body, err := a.fetcher.Get(ctx, url, "text/html")
	if err != nil {
		return nil, err
	}

	rows, strategy := phivolcsCascade.Extract(scrape.NewPage(url, body))
	if len(rows) == 0 {
		return nil, nil
	}
	a.logger.Debug("phivolcs page parsed", "url", url, "strategy", strategy, "rows", len(rows))

	records := make([]domain.ProvisionalRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.ProvisionalRecord{
			Provider:         a.desc.Provider,
			Place:            row[scrape.FieldPlace],
			Latitude:         row[scrape.FieldLatitude],
			Longitude:        row[scrape.FieldLongitude],
			Depth:            row[scrape.FieldDepth],
			Magnitude:        row[scrape.FieldMagnitude],
			Time:             row[scrape.FieldTime],
			TimeLayouts:      phivolcsLayouts,
			UTCOffsetSeconds: domain.PhilippineOffsetSeconds,
		})
		if a.maxRecords > 0 && len(records) >= a.maxRecords {
			break
		}
	}
	return records, nil
}
