package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// OpenMeteoFlood polls the Open-Meteo flood API once per configured basin
// and reports today's river discharge against the historical mean.
// Readings below the flood threshold are returned as-is; the normalizer
// filters them.
type OpenMeteoFlood struct {
	base
	basins []Basin
}

// NewOpenMeteoFlood builds the adapter from a catalog entry.
func NewOpenMeteoFlood(spec Spec, logger *slog.Logger) *OpenMeteoFlood {
	return &OpenMeteoFlood{
		base:   newBase(spec, domain.KindFlood, "open-meteo", logger),
		basins: spec.Basins,
	}
}

func (a *OpenMeteoFlood) Fetch(ctx context.Context) ([]domain.ProvisionalRecord, error) {
	ctx, cancel := a.deadline(ctx)
	defer cancel()
	if len(a.basins) == 0 {
		return nil, fmt.Errorf("%s: no basins configured", a.desc.ID)
	}
	return a.firstNonEmpty(ctx, a.fetchBasins)
}

// fetchBasins queries every basin against one endpoint. A failing basin
// does not discard the others.
func (a *OpenMeteoFlood) fetchBasins(ctx context.Context, endpoint string) ([]domain.ProvisionalRecord, error) {
	var (
		records []domain.ProvisionalRecord
		errs    []error
	)
	for _, b := range a.basins {
		rec, err := a.fetchBasin(ctx, endpoint, b)
		if err != nil {
			errs = append(errs, fmt.Errorf("basin %s: %w", b.Name, err))
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, errors.Join(errs...)
	}
	for _, err := range errs {
		a.logger.Warn("flood basin fetch failed", "error", err)
	}
	return records, nil
}

func (a *OpenMeteoFlood) fetchBasin(ctx context.Context, endpoint string, b Basin) (domain.ProvisionalRecord, error) {
	q := url.Values{
		"latitude":      {formatFloat(b.Latitude)},
		"longitude":     {formatFloat(b.Longitude)},
		"daily":         {"river_discharge,river_discharge_mean"},
		"forecast_days": {"1"},
	}
	body, err := a.fetcher.Get(ctx, endpoint+"?"+q.Encode(), "application/json")
	if err != nil {
		return domain.ProvisionalRecord{}, err
	}

	var resp openMeteoResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ProvisionalRecord{}, fmt.Errorf("decode flood response: %w", err)
	}
	d := resp.Daily
	if len(d.Time) == 0 || len(d.RiverDischarge) == 0 || len(d.RiverDischargeMean) == 0 ||
		d.RiverDischarge[0] == nil || d.RiverDischargeMean[0] == nil {
		return domain.ProvisionalRecord{}, ErrEmpty
	}

	return domain.ProvisionalRecord{
		Provider:      a.desc.Provider,
		Basin:         b.Name,
		Latitude:      formatFloat(b.Latitude),
		Longitude:     formatFloat(b.Longitude),
		Discharge:     formatFloat(*d.RiverDischarge[0]),
		MeanDischarge: formatFloat(*d.RiverDischargeMean[0]),
		Time:          d.Time[0],
		TimeLayouts:   []string{"2006-01-02"},
	}, nil
}

type openMeteoResponse struct {
	Daily struct {
		Time               []string   `json:"time"`
		RiverDischarge     []*float64 `json:"river_discharge"`
		RiverDischargeMean []*float64 `json:"river_discharge_mean"`
	} `json:"daily"`
}
