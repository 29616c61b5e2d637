package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// USGS reads the USGS real-time GeoJSON summary feed.
type USGS struct {
	base
	minMagnitude float64
	bbox         *BBox
	maxRecords   int
}

// NewUSGS builds the adapter from a catalog entry.
func NewUSGS(spec Spec, logger *slog.Logger) *USGS {
	return &USGS{
		base:         newBase(spec, domain.KindEarthquake, "usgs", logger),
		minMagnitude: spec.MinMagnitude,
		bbox:         spec.BBox,
		maxRecords:   spec.MaxRecords,
	}
}

func (a *USGS) Fetch(ctx context.Context) ([]domain.ProvisionalRecord, error) {
	ctx, cancel := a.deadline(ctx)
	defer cancel()
	return a.firstNonEmpty(ctx, a.fetchURL)
}

func (a *USGS) fetchURL(ctx context.Context, url string) ([]domain.ProvisionalRecord, error) {
	body, err := a.fetcher.Get(ctx, url, "application/geo+json, application/json")
	if err != nil {
		return nil, err
	}

	var feed usgsFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode usgs feed: %w", err)
	}

	var records []domain.ProvisionalRecord
	for _, f := range feed.Features {
		if len(f.Geometry.Coordinates) < 2 || f.Properties.Mag == nil {
			continue
		}
		lon, lat := f.Geometry.Coordinates[0], f.Geometry.Coordinates[1]
		if *f.Properties.Mag < a.minMagnitude {
			continue
		}
		if a.bbox != nil && !a.bbox.Contains(lat, lon) {
			continue
		}
		rec := domain.ProvisionalRecord{
			Provider:   a.desc.Provider,
			UpstreamID: f.ID,
			Title:      f.Properties.Title,
			Place:      f.Properties.Place,
			Latitude:   formatFloat(lat),
			Longitude:  formatFloat(lon),
			Magnitude:  formatFloat(*f.Properties.Mag),
			ObservedAt: time.UnixMilli(f.Properties.Time).UTC(),
		}
		if len(f.Geometry.Coordinates) > 2 {
			rec.Depth = formatFloat(f.Geometry.Coordinates[2])
		}
		records = append(records, rec)
		if a.maxRecords > 0 && len(records) >= a.maxRecords {
			break
		}
	}
	return records, nil
}

type usgsFeed struct {
	Features []struct {
		ID         string `json:"id"`
		Properties struct {
			Mag   *float64 `json:"mag"`
			Place string   `json:"place"`
			Time  int64    `json:"time"`
			Title string   `json:"title"`
		} `json:"properties"`
		Geometry struct {
			Coordinates []float64 `json:"coordinates"` // [lon, lat, depth]
		} `json:"geometry"`
	} `json:"features"`
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
