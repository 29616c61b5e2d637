package source

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// Catalog types accepted in Spec.Type.
const (
	TypeUSGS      = "usgs"
	TypePHIVOLCS  = "phivolcs"
	TypeGDACS     = "gdacs"
	TypeNHC       = "nhc"
	TypePAGASA    = "pagasa"
	TypeOpenMeteo = "open-meteo-flood"
)

var constructors = map[string]func(Spec, *slog.Logger) Adapter{
	TypeUSGS:      func(s Spec, l *slog.Logger) Adapter { return NewUSGS(s, l) },
	TypePHIVOLCS:  func(s Spec, l *slog.Logger) Adapter { return NewPHIVOLCS(s, l) },
	TypeGDACS:     func(s Spec, l *slog.Logger) Adapter { return NewGDACS(s, l) },
	TypeNHC:       func(s Spec, l *slog.Logger) Adapter { return NewNHC(s, l) },
	TypePAGASA:    func(s Spec, l *slog.Logger) Adapter { return NewPAGASA(s, l) },
	TypeOpenMeteo: func(s Spec, l *slog.Logger) Adapter { return NewOpenMeteoFlood(s, l) },
}

// Validate checks a catalog entry without building it.
func (s Spec) Validate() error {
	if s.ID == "" {
		return errors.New("source id is required")
	}
	if _, ok := constructors[s.Type]; !ok {
		return fmt.Errorf("source %s: unknown type %q", s.ID, s.Type)
	}
	if len(s.URLs) == 0 {
		return fmt.Errorf("source %s: at least one url is required", s.ID)
	}
	if s.Type == TypeOpenMeteo && len(s.Basins) == 0 {
		return fmt.Errorf("source %s: flood sources need basins", s.ID)
	}
	if s.RatePerMinute < 0 {
		return fmt.Errorf("source %s: rate_per_minute must be >= 0", s.ID)
	}
	return nil
}

// Build constructs adapters for every enabled spec. IDs must be unique.
func Build(specs []Spec, logger *slog.Logger) ([]Adapter, error) {
	seen := make(map[string]bool, len(specs))
	adapters := make([]Adapter, 0, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate source id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Disabled {
			continue
		}
		adapters = append(adapters, constructors[s.Type](s, logger))
	}
	return adapters, nil
}

// ByKind groups adapters by hazard kind, most authoritative first.
func ByKind(adapters []Adapter) map[domain.Kind][]Adapter {
	out := make(map[domain.Kind][]Adapter)
	for _, a := range adapters {
		k := a.Descriptor().Kind
		out[k] = append(out[k], a)
	}
	for _, list := range out {
		slices.SortStableFunc(list, func(a, b Adapter) int {
			return a.Descriptor().Rank - b.Descriptor().Rank
		})
	}
	return out
}

// ApplyInsecure sets InsecureTLS on the specs whose IDs or types are listed.
func ApplyInsecure(specs []Spec, names []string) []Spec {
	out := slices.Clone(specs)
	for i := range out {
		if slices.Contains(names, out[i].ID) || slices.Contains(names, out[i].Type) {
			out[i].InsecureTLS = true
		}
	}
	return out
}

// ApplyTimeout fills in timeout for specs that do not set their own.
func ApplyTimeout(specs []Spec, timeout time.Duration) []Spec {
	out := slices.Clone(specs)
	for i := range out {
		if out[i].Timeout == 0 {
			out[i].Timeout = timeout
		}
	}
	return out
}

// DefaultSpecs is the built-in catalog used when no sources file is given.
// It targets the Philippine area of responsibility.
func DefaultSpecs() []Spec {
	par := &BBox{MinLatitude: 4, MaxLatitude: 25, MinLongitude: 114, MaxLongitude: 135}
	return []Spec{
		{
			ID:            "phivolcs",
			Type:          TypePHIVOLCS,
			URLs:          []string{"https://earthquake.phivolcs.dost.gov.ph/", "https://earthquake.phivolcs.dost.gov.ph/index.html"},
			InsecureTLS:   true,
			RatePerMinute: 6,
			Rank:          1,
			MaxRecords:    50,
		},
		{
			ID:           "usgs",
			Type:         TypeUSGS,
			URLs:         []string{"https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/2.5_day.geojson"},
			Rank:         2,
			MinMagnitude: 2.5,
			BBox:         par,
		},
		{
			ID:            "pagasa",
			Type:          TypePAGASA,
			URLs:          []string{"https://bagong.pagasa.dost.gov.ph/tropical-cyclone/severe-weather-bulletin"},
			InsecureTLS:   true,
			RatePerMinute: 4,
			Rank:          1,
		},
		{
			ID:   "gdacs",
			Type: TypeGDACS,
			URLs: []string{"https://www.gdacs.org/xml/rss.xml"},
			Rank: 2,
			BBox: par,
		},
		{
			ID:   "nhc",
			Type: TypeNHC,
			URLs: []string{"https://www.nhc.noaa.gov/CurrentStorms.json"},
			Rank: 3,
		},
		{
			ID:            "open-meteo-flood",
			Type:          TypeOpenMeteo,
			URLs:          []string{"https://flood-api.open-meteo.com/v1/flood"},
			RatePerMinute: 120,
			Rank:          1,
			Basins: []Basin{
				{Name: "Cagayan", Latitude: 17.62, Longitude: 121.72},
				{Name: "Pampanga", Latitude: 14.95, Longitude: 120.75},
				{Name: "Agno", Latitude: 15.95, Longitude: 120.43},
				{Name: "Bicol", Latitude: 13.62, Longitude: 123.18},
				{Name: "Mindanao", Latitude: 7.17, Longitude: 124.22},
				{Name: "Agusan", Latitude: 8.95, Longitude: 125.53},
				{Name: "Pasig-Marikina", Latitude: 14.64, Longitude: 121.10},
			},
		},
	}
}
