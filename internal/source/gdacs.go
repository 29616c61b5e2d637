package source

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

var (
	gdacsWindRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*km/h`)

	// gdacsTitleNameRe pulls the storm name out of titles such as
	// "Green alert for tropical cyclone PEPITO-24. Population affected ...".
	gdacsTitleNameRe = regexp.MustCompile(`(?i)tropical cyclone\s+([A-Z][A-Z0-9-]*?)(?:-\d+)?[.\s]`)

	// gdacsYearSuffixRe strips the season suffix GDACS appends to names.
	gdacsYearSuffixRe = regexp.MustCompile(`-\d{2}$`)
)

// GDACS reads tropical cyclones from the Global Disaster Alert and
// Coordination System RSS feed. Items of other event types are skipped.
type GDACS struct {
	base
	bbox   *BBox
	parser *gofeed.Parser
}

// NewGDACS builds the adapter from a catalog entry.
func NewGDACS(spec Spec, logger *slog.Logger) *GDACS {
	return &GDACS{
		base:   newBase(spec, domain.KindStorm, "gdacs", logger),
		bbox:   spec.BBox,
		parser: gofeed.NewParser(),
	}
}

func (a *GDACS) Fetch(ctx context.Context) ([]domain.ProvisionalRecord, error) {
	ctx, cancel := a.deadline(ctx)
	defer cancel()
	return a.firstNonEmpty(ctx, a.fetchURL)
}

func (a *GDACS) fetchURL(ctx context.Context, url string) ([]domain.ProvisionalRecord, error) {
	body, err := a.fetcher.Get(ctx, url, "application/rss+xml, application/xml")
	if err != nil {
		return nil, err
	}
	feed, err := a.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse gdacs feed: %w", err)
	}

	var records []domain.ProvisionalRecord
	for _, item := range feed.Items {
		if !strings.EqualFold(extValue(item.Extensions, "gdacs", "eventtype"), "TC") {
			continue
		}
		lat, lon, ok := itemPoint(item)
		if !ok {
			continue
		}
		if a.bbox != nil && !a.bbox.Contains(parseFloatOr(lat), parseFloatOr(lon)) {
			continue
		}

		rec := domain.ProvisionalRecord{
			Provider:   a.desc.Provider,
			UpstreamID: extValue(item.Extensions, "gdacs", "eventid"),
			Name:       stormName(item),
			Latitude:   lat,
			Longitude:  lon,
			Place:      extValue(item.Extensions, "gdacs", "country"),
			WindUnit:   "km/h",
		}
		if m := gdacsWindRe.FindStringSubmatch(extValue(item.Extensions, "gdacs", "severity") + " " + item.Description); m != nil {
			rec.WindSpeed = m[1]
		}
		if item.PublishedParsed != nil {
			rec.ObservedAt = item.PublishedParsed.UTC()
		} else {
			rec.Time = extValue(item.Extensions, "gdacs", "fromdate")
			rec.TimeLayouts = []string{"Mon, 02 Jan 2006 15:04:05 MST", "Mon, 2 Jan 2006 15:04:05 MST"}
		}
		records = append(records, rec)
	}
	return records, nil
}

func stormName(item *gofeed.Item) string {
	if name := extValue(item.Extensions, "gdacs", "eventname"); name != "" {
		return gdacsYearSuffixRe.ReplaceAllString(name, "")
	}
	if m := gdacsTitleNameRe.FindStringSubmatch(item.Title + " "); m != nil {
		return m[1]
	}
	return ""
}

// itemPoint reads the georss:point ("lat lon") or geo:Point element.
func itemPoint(item *gofeed.Item) (string, string, bool) {
	if p := extValue(item.Extensions, "georss", "point"); p != "" {
		fields := strings.Fields(p)
		if len(fields) == 2 {
			return fields[0], fields[1], true
		}
	}
	if geo, ok := item.Extensions["geo"]; ok {
		for _, point := range geo["Point"] {
			lat := childValue(point, "lat")
			lon := childValue(point, "long")
			if lat != "" && lon != "" {
				return lat, lon, true
			}
		}
		lat, lon := extValue(item.Extensions, "geo", "lat"), extValue(item.Extensions, "geo", "long")
		if lat != "" && lon != "" {
			return lat, lon, true
		}
	}
	return "", "", false
}

func extValue(exts ext.Extensions, ns, name string) string {
	if exts == nil {
		return ""
	}
	for _, e := range exts[ns][name] {
		if v := strings.TrimSpace(e.Value); v != "" {
			return v
		}
	}
	return ""
}

func childValue(e ext.Extension, name string) string {
	for _, c := range e.Children[name] {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}
	return ""
}
