// Package source holds one adapter per upstream hazard feed. Adapters fetch
// over HTTP, parse JSON, RSS or scraped HTML, and emit provisional records.
//
// Expected failures (timeouts, HTTP errors, unparseable pages, empty feeds)
// come back as an empty slice and a descriptive error. Adapters never panic
// on upstream data; the orchestrator still recovers if one does.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
)

// Adapter timeouts are clamped to this range so one slow source cannot
// stall a cycle.
const (
	MinTimeout     = 8 * time.Second
	MaxTimeout     = 15 * time.Second
	DefaultTimeout = 10 * time.Second
)

// ErrEmpty is returned when a source answered but produced no records.
var ErrEmpty = errors.New("source returned no records")

// Descriptor identifies an adapter to the orchestrator.
type Descriptor struct {
	ID       string
	Provider string
	Kind     domain.Kind
	// Rank orders sources by authority; lower is more authoritative.
	Rank    int
	Timeout time.Duration
}

// Adapter fetches provisional records from one upstream source.
type Adapter interface {
	Descriptor() Descriptor
	Fetch(ctx context.Context) ([]domain.ProvisionalRecord, error)
}

// Basin is a river basin polled by the flood adapter.
type Basin struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// BBox limits a feed to a rectangle.
type BBox struct {
	MinLatitude  float64 `yaml:"min_latitude"`
	MaxLatitude  float64 `yaml:"max_latitude"`
	MinLongitude float64 `yaml:"min_longitude"`
	MaxLongitude float64 `yaml:"max_longitude"`
}

// Contains reports whether the point lies inside the box.
func (b BBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLatitude && lat <= b.MaxLatitude &&
		lon >= b.MinLongitude && lon <= b.MaxLongitude
}

// Spec is one entry of the source catalog.
type Spec struct {
	ID            string        `yaml:"id"`
	Type          string        `yaml:"type"`
	Provider      string        `yaml:"provider"`
	URLs          []string      `yaml:"urls"`
	Timeout       time.Duration `yaml:"timeout"`
	InsecureTLS   bool          `yaml:"insecure_tls"`
	RatePerMinute float64       `yaml:"rate_per_minute"`
	Rank          int           `yaml:"rank"`
	Disabled      bool          `yaml:"disabled"`
	MinMagnitude  float64       `yaml:"min_magnitude"`
	BBox          *BBox         `yaml:"bbox"`
	Basins        []Basin       `yaml:"basins"`
	MaxRecords    int           `yaml:"max_records"`
}

// base carries the pieces every adapter shares.
type base struct {
	desc    Descriptor
	urls    []string
	fetcher *Fetcher
	logger  *slog.Logger
}

func newBase(spec Spec, kind domain.Kind, provider string, logger *slog.Logger) base {
	if spec.Provider != "" {
		provider = spec.Provider
	}
	timeout := ClampTimeout(spec.Timeout)
	return base{
		desc: Descriptor{
			ID:       spec.ID,
			Provider: provider,
			Kind:     kind,
			Rank:     spec.Rank,
			Timeout:  timeout,
		},
		urls:    spec.URLs,
		fetcher: NewFetcher(timeout, spec.InsecureTLS, spec.RatePerMinute),
		logger:  logger.With("source", spec.ID),
	}
}

func (b *base) Descriptor() Descriptor { return b.desc }

// deadline bounds ctx by the adapter's own timeout.
func (b *base) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.desc.Timeout)
}

// firstNonEmpty tries each URL in order and returns the first non-empty
// result. When every URL fails the errors are joined.
func (b *base) firstNonEmpty(ctx context.Context, try func(ctx context.Context, url string) ([]domain.ProvisionalRecord, error)) ([]domain.ProvisionalRecord, error) {
	if len(b.urls) == 0 {
		return nil, fmt.Errorf("%s: no urls configured", b.desc.ID)
	}
	var errs []error
	for _, u := range b.urls {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		records, err := try(ctx, u)
		if err == nil && len(records) > 0 {
			return records, nil
		}
		if err == nil {
			err = fmt.Errorf("%s: %w", u, ErrEmpty)
		}
		b.logger.Debug("source url yielded nothing", "url", u, "error", err)
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// ClampTimeout forces d into [MinTimeout, MaxTimeout]; zero means DefaultTimeout.
func ClampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultTimeout
	case d < MinTimeout:
		return MinTimeout
	case d > MaxTimeout:
		return MaxTimeout
	default:
		return d
	}
}
