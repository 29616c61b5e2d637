package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// NHC reads the National Hurricane Center CurrentStorms.json feed.
// Intensity is published in knots.
type NHC struct {
	base
	bbox *BBox
}

// NewNHC builds the adapter from a catalog entry.
func NewNHC(spec Spec, logger *slog.Logger) *NHC {
	return &NHC{
		base: newBase(spec, domain.KindStorm, "nhc", logger),
		bbox: spec.BBox,
	}
}

func (a *NHC) Fetch(ctx context.Context) ([]domain.ProvisionalRecord, error) {
	ctx, cancel := a.deadline(ctx)
	defer cancel()
	return a.firstNonEmpty(ctx, a.fetchURL)
}

func (a *NHC) fetchURL(ctx context.Context, url string) ([]domain.ProvisionalRecord, error) {
	body, err := a.fetcher.Get(ctx, url, "application/json")
	if err != nil {
		return nil, err
	}

	var feed nhcFeed
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode nhc feed: %w", err)
	}

	records := make([]domain.ProvisionalRecord, 0, len(feed.ActiveStorms))
	for _, s := range feed.ActiveStorms {
		lat, lon := s.LatitudeNumeric, s.LongitudeNumeric
		if lat == 0 && lon == 0 {
			lat, lon = parseFloatOr(s.Latitude), parseFloatOr(s.Longitude)
		}
		if a.bbox != nil && !a.bbox.Contains(lat, lon) {
			continue
		}

		rec := domain.ProvisionalRecord{
			Provider:   a.desc.Provider,
			UpstreamID: s.ID,
			Name:       s.Name,
			Category:   s.Classification,
			Latitude:   formatFloat(lat),
			Longitude:  formatFloat(lon),
			Time:       s.LastUpdate,
		}
		switch {
		case s.Intensity != "":
			rec.WindSpeed, rec.WindUnit = s.Intensity.String(), "kt"
		case s.IntensityMPH > 0:
			rec.WindSpeed, rec.WindUnit = formatFloat(s.IntensityMPH), "mph"
		}
		records = append(records, rec)
	}
	return records, nil
}

type nhcFeed struct {
	ActiveStorms []struct {
		ID               string      `json:"id"`
		Name             string      `json:"name"`
		Classification   string      `json:"classification"`
		Intensity        json.Number `json:"intensity"` // knots, quoted or bare
		IntensityMPH     float64     `json:"intensityMPH"`
		Latitude         string      `json:"latitude"`
		Longitude        string      `json:"longitude"`
		LatitudeNumeric  float64     `json:"latitudeNumeric"`
		LongitudeNumeric float64     `json:"longitudeNumeric"`
		LastUpdate       string      `json:"lastUpdate"`
	} `json:"activeStorms"`
}

// parseFloatOr parses the leading number of s, honouring an S or W suffix,
// and returns 0 when s holds none.
func parseFloatOr(s string) float64 {
	s = strings.TrimSpace(s)
	neg := strings.HasSuffix(strings.ToUpper(s), "S") || strings.HasSuffix(strings.ToUpper(s), "W")
	s = strings.TrimRight(s, "NSEWnsew° ")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	if neg && v > 0 {
		v = -v
	}
	return v
}
