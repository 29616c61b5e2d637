package scrape

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// TableRows reads <tr> rows of any table whose text contains Marker.
// Columns maps a field name to a zero-based cell index.
type TableRows struct {
	Marker  string
	Columns map[string]int
}

func (TableRows) Name() string { return "table-rows" }

func (s TableRows) TryExtract(page *Page) []Record {
	root := page.Root()
	if root == nil {
		return nil
	}
	minCells := 0
	for _, idx := range s.Columns {
		minCells = max(minCells, idx+1)
	}

	var records []Record
	for _, table := range findAll(root, "table") {
		if s.Marker != "" && !strings.Contains(strings.ToLower(nodeText(table)), strings.ToLower(s.Marker)) {
			continue
		}
		for _, tr := range findAll(table, "tr") {
			cells := childCells(tr)
			if len(cells) < minCells {
				continue
			}
			rec := make(Record, len(s.Columns))
			for field, idx := range s.Columns {
				rec[field] = nodeText(cells[idx])
			}
			records = append(records, rec)
		}
	}
	return records
}

func findAll(n *html.Node, tag string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func childCells(tr *html.Node) []*html.Node {
	var cells []*html.Node
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "td" {
			cells = append(cells, c)
		}
	}
	return cells
}

// FreeText runs a regular expression over the page text. Each named
// capture group becomes a record field of the same name.
type FreeText struct {
	Pattern *regexp.Regexp
}

func (FreeText) Name() string { return "free-text" }

func (s FreeText) TryExtract(page *Page) []Record {
	if s.Pattern == nil {
		return nil
	}
	names := s.Pattern.SubexpNames()
	var records []Record
	for _, m := range s.Pattern.FindAllStringSubmatch(page.Text(), -1) {
		rec := Record{}
		for i, name := range names {
			if name != "" && m[i] != "" {
				rec[name] = strings.TrimSpace(m[i])
			}
		}
		records = append(records, rec)
	}
	return records
}

// coordinatePairRe matches "14.60 N 121.00 E", "14.60°N, 121.00°E" or a
// bare "14.60, 121.00".
var coordinatePairRe = regexp.MustCompile(
	`(-?\d{1,2}\.\d+)\s*°?\s*([NS])?[\s,;/]+(-?\d{1,3}\.\d+)\s*°?\s*([EW])?`)

// PageWide is the last-resort strategy: it finds every coordinate pair on
// the page and looks for a value matching ValuePattern (first capture
// group) within Window characters after it. TimePattern, when set, is
// searched in the same window.
type PageWide struct {
	ValueField   string
	ValuePattern *regexp.Regexp
	TimePattern  *regexp.Regexp
	Window       int
}

func (PageWide) Name() string { return "page-wide" }

func (s PageWide) TryExtract(page *Page) []Record {
	if s.ValuePattern == nil {
		return nil
	}
	window := s.Window
	if window <= 0 {
		window = 200
	}
	text := page.Text()

	var records []Record
	for _, loc := range coordinatePairRe.FindAllStringSubmatchIndex(text, -1) {
		lat := signed(text[loc[2]:loc[3]], group(text, loc, 2), "S")
		lon := signed(text[loc[6]:loc[7]], group(text, loc, 4), "W")

		start := max(0, loc[0]-window)
		end := min(len(text), loc[1]+window)
		around := text[start:end]

		vm := s.ValuePattern.FindStringSubmatch(text[loc[1]:end])
		if len(vm) < 2 {
			vm = s.ValuePattern.FindStringSubmatch(around)
		}
		if len(vm) < 2 {
			continue
		}
		rec := Record{FieldLatitude: lat, FieldLongitude: lon, s.ValueField: vm[1]}
		if s.TimePattern != nil {
			if tm := s.TimePattern.FindString(around); tm != "" {
				rec[FieldTime] = tm
			}
		}
		records = append(records, rec)
	}
	return records
}

func group(text string, loc []int, i int) string {
	if loc[2*i] < 0 {
		return ""
	}
	return text[loc[2*i]:loc[2*i+1]]
}

func signed(num, hemisphere, negative string) string {
	if hemisphere == negative && !strings.HasPrefix(num, "-") {
		return "-" + num
	}
	return num
}
