// Package scrape extracts hazard records from HTML pages whose structure is
// not under our control. Extraction is a cascade of independent strategies
// tried in order; the first strategy producing at least one plausible record
// wins. A page that defeats every strategy yields no records, never an error
// the caller has to special-case.
package scrape

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Record field names shared by strategies and adapters.
const (
	FieldTime      = "time"
	FieldLatitude  = "latitude"
	FieldLongitude = "longitude"
	FieldDepth     = "depth"
	FieldMagnitude = "magnitude"
	FieldWind      = "wind"
	FieldCategory  = "category"
	FieldName      = "name"
	FieldPlace     = "place"
)

// Record is one extracted row keyed by field name. Values are raw text.
type Record map[string]string

// Strategy is one way of pulling records out of a page.
type Strategy interface {
	Name() string
	TryExtract(page *Page) []Record
}

// Page is a fetched document. The parsed tree and the flattened text are
// computed lazily and shared across strategies.
type Page struct {
	URL  string
	Body []byte

	rootOnce sync.Once
	root     *html.Node

	textOnce sync.Once
	text     string
}

// NewPage wraps a fetched body.
func NewPage(url string, body []byte) *Page {
	return &Page{URL: url, Body: body}
}

// Root returns the parsed HTML tree, or nil if the body could not be parsed.
func (p *Page) Root() *html.Node {
	p.rootOnce.Do(func() {
		root, err := html.Parse(strings.NewReader(string(p.Body)))
		if err == nil {
			p.root = root
		}
	})
	return p.root
}

// Text returns the visible text of the page with runs of whitespace
// collapsed to single spaces and block boundaries kept as newlines.
func (p *Page) Text() string {
	p.textOnce.Do(func() {
		root := p.Root()
		if root == nil {
			p.text = collapse(string(p.Body))
			return
		}
		var sb strings.Builder
		appendText(&sb, root)
		p.text = collapse(sb.String())
	})
	return p.text
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "section": true, "article": true,
}

func appendText(sb *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		appendText(sb, c)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		sb.WriteByte('\n')
	}
}

var spaceRunRe = regexp.MustCompile(`[ \t\r\f\v\x{00a0}]+`)

func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(spaceRunRe.ReplaceAllString(line, " "))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// nodeText returns the collapsed text content of a single node.
func nodeText(n *html.Node) string {
	var sb strings.Builder
	appendText(&sb, n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

func firstNumber(s string) (float64, bool) {
	m := numberRe.FindString(s)
	if m == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// Plausible reports whether a record has a usable coordinate pair and a
// positive magnitude or wind value.
func Plausible(r Record) bool {
	lat, okLat := firstNumber(r[FieldLatitude])
	lon, okLon := firstNumber(r[FieldLongitude])
	if !okLat || !okLon {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 || (lat == 0 && lon == 0) {
		return false
	}
	for _, field := range []string{FieldMagnitude, FieldWind} {
		if v, ok := firstNumber(r[field]); ok && v > 0 {
			return true
		}
	}
	return false
}

// Cascade tries strategies in order.
type Cascade []Strategy

// Extract returns the plausible records of the first strategy that yields
// any, along with that strategy's name. Implausible records are dropped.
func (c Cascade) Extract(page *Page) ([]Record, string) {
	for _, s := range c {
		var kept []Record
		for _, r := range s.TryExtract(page) {
			if Plausible(r) {
				kept = append(kept, r)
			}
		}
		if len(kept) > 0 {
			return kept, s.Name()
		}
	}
	return nil, ""
}
