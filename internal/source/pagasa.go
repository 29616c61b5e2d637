package source

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/couchcryptid/hazard-alert-service/internal/domain"
	"github.com/couchcryptid/hazard-alert-service/internal/source/scrape"
)

const pagasaCategories = `Super Typhoon|Severe Tropical Storm|Tropical Storm|Tropical Depression|Typhoon`

var (
	pagasaCascade = scrape.Cascade{
		scrape.FreeText{Pattern: regexp.MustCompile(
			`(?is)(?P<category>` + pagasaCategories + `)\s+"?(?P<name>[A-Z][A-Za-z]+)"?` +
				`.*?(?P<latitude>\d{1,2}\.\d+)\s*°?\s*N.*?(?P<longitude>\d{2,3}\.\d+)\s*°?\s*E` +
				`.*?(?:sustained winds of|winds of)\s+(?P<wind>\d+)\s*km/h`)},
		scrape.PageWide{
			ValueField:   scrape.FieldWind,
			ValuePattern: regexp.MustCompile(`(?i)winds?\s+of\s+(\d+)\s*km/h`),
			Window:       300,
		},
	}

	pagasaNameRe   = regexp.MustCompile(`(?i)(?:` + pagasaCategories + `)\s+"?([A-Z][A-Za-z]+)"?`)
	pagasaIssuedRe = regexp.MustCompile(`(?i)issued at\s*:?\s*(\d{1,2}:\d{2}\s*[AP]M)\s*,?\s*(\d{1,2}\s+[A-Za-z]+\s+\d{4})`)
)

var pagasaLayouts = []string{"3:04 PM 2 January 2006", "3:04 PM 2 Jan 2006"}

// PAGASA scrapes the tropical cyclone bulletin page of the Philippine
// weather bureau. Bulletin times are Philippine Standard Time.
type PAGASA struct {
	base
}

// NewPAGASA builds the adapter from a catalog entry.
func NewPAGASA(spec Spec, logger *slog.Logger) *PAGASA {
	return &PAGASA{base: newBase(spec, domain.KindStorm, "pagasa", logger)}
}

func (a *PAGASA) Fetch(ctx context.Context) ([]domain.ProvisionalRecord, error) {
	ctx, cancel := a.deadline(ctx)
	defer cancel()
	return a.firstNonEmpty(ctx, a.fetchURL)
}

func (a *PAGASA) fetchURL(ctx context.Context, url string) ([]domain.ProvisionalRecord, error) {
	body, err := a.fetcher.Get(ctx, url, "text/html")
	if err != nil {
		return nil, err
	}

	page := scrape.NewPage(url, body)
	rows, strategy := pagasaCascade.Extract(page)
	if len(rows) == 0 {
		return nil, nil
	}
	a.logger.Debug("pagasa bulletin parsed", "url", url, "strategy", strategy, "rows", len(rows))

	text := page.Text()
	issued := ""
	if m := pagasaIssuedRe.FindStringSubmatch(text); m != nil {
		issued = strings.ToUpper(m[1]) + " " + m[2]
	}
	fallbackName := ""
	if m := pagasaNameRe.FindStringSubmatch(text); m != nil {
		fallbackName = m[1]
	}

	records := make([]domain.ProvisionalRecord, 0, len(rows))
	for _, row := range rows {
		name := row[scrape.FieldName]
		if name == "" {
			name = fallbackName
		}
		records = append(records, domain.ProvisionalRecord{
			Provider:         a.desc.Provider,
			Name:             name,
			Category:         row[scrape.FieldCategory],
			Latitude:         row[scrape.FieldLatitude],
			Longitude:        row[scrape.FieldLongitude],
			WindSpeed:        row[scrape.FieldWind],
			WindUnit:         "km/h",
			Time:             issued,
			TimeLayouts:      pagasaLayouts,
			UTCOffsetSeconds: domain.PhilippineOffsetSeconds,
		})
	}
	return records, nil
}
