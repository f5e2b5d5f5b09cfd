package chpcad

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/couchcryptid/cad-incident-notifier/internal/domain"
)

var (
	gridIDRe       = regexp.MustCompile(`(?i)gvIncidents`)
	postBackRe     = regexp.MustCompile(`__doPostBack\('([^']+)'`)
	scriptMgrRe    = regexp.MustCompile(`(?i)ScriptManager`)
	updatePanelRe  = regexp.MustCompile(`(?i)UpdatePanel|MainContent`)
	okButtonRe     = regexp.MustCompile(`(?i)\b(OK|Apply|Go|View|Load)\b`)
	coordRe        = regexp.MustCompile(`([-+]?\d+\.\d+)[ ,]+([-+]?\d+\.\d+)`)
	detailHeaderRe = regexp.MustCompile(`(?i)Detail Information`)
	unitHeaderRe   = regexp.MustCompile(`(?i)Unit Information`)
)

// hiddenFields are the WebForms state inputs replayed on every postback.
var hiddenFields = []string{
	"__EVENTTARGET", "__EVENTARGUMENT", "__LASTFOCUS",
	"__VIEWSTATE", "__VIEWSTATEGENERATOR", "__EVENTVALIDATION",
}

func formFields(doc *goquery.Document) url.Values {
	form := url.Values{}
	for _, name := range hiddenFields {
		val, _ := doc.Find(`input[name='` + name + `']`).First().Attr("value")
		form.Set(name, val)
	}
	return form
}

// findCenterSelect locates the dropdown holding the communication centers
// and returns its form name, element id, and the option value matching
// center. All empty when no dropdown carries the center.
func findCenterSelect(doc *goquery.Document, center string) (name, id, value string) {
	want := strings.ToLower(strings.TrimSpace(center))
	doc.Find("select").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		found := false
		sel.Find("option").EachWithBreak(func(_ int, opt *goquery.Selection) bool {
			if strings.ToLower(strings.TrimSpace(opt.Text())) != want {
				return true
			}
			if v, ok := opt.Attr("value"); ok {
				value = v
			} else {
				value = strings.TrimSpace(opt.Text())
			}
			found = true
			return false
		})
		if !found {
			return true
		}
		name, _ = sel.Attr("name")
		id, _ = sel.Attr("id")
		if name == "" {
			name = id
		}
		return false
	})
	return name, id, value
}

func findSubmitButtons(doc *goquery.Document) []string {
	var names []string
	doc.Find("input[type='submit'], input[type='button'], button").Each(func(_ int, s *goquery.Selection) {
		label, _ := s.Attr("value")
		if label == "" {
			label = s.Text()
		}
		if !okButtonRe.MatchString(strings.TrimSpace(label)) {
			return
		}
		if name, ok := s.Attr("name"); ok && name != "" {
			names = append(names, name)
		}
	})
	return names
}

func findScriptManager(doc *goquery.Document) string {
	var name string
	doc.Find("input").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		n, _ := s.Attr("name")
		if scriptMgrRe.MatchString(n) {
			name = n
			return false
		}
		return true
	})
	return name
}

func findUpdatePanel(doc *goquery.Document) string {
	var id string
	doc.Find("div[id], span[id]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("id")
		if updatePanelRe.MatchString(v) {
			id = v
			return false
		}
		return true
	})
	return id
}

// findGrid locates the incident table, by id first and by header sniffing
// as a fallback since the grid id shifts between page revisions.
func findGrid(doc *goquery.Document) *goquery.Selection {
	var grid *goquery.Selection
	doc.Find("table").EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		if id, ok := tbl.Attr("id"); ok && gridIDRe.MatchString(id) {
			grid = tbl
			return false
		}
		return true
	})
	if grid != nil {
		return grid
	}
	doc.Find("table").EachWithBreak(func(_ int, tbl *goquery.Selection) bool {
		headers := strings.ToLower(tbl.Find("th").Text())
		if strings.Contains(headers, "details") && strings.Contains(headers, "type") && strings.Contains(headers, "location") {
			grid = tbl
			return false
		}
		return true
	})
	return grid
}

func hasIncidentGrid(doc *goquery.Document) bool {
	return findGrid(doc) != nil
}

// parseIncidentRows extracts one RawIncident per grid row that carries a
// details postback link. Column positions are resolved from the header row
// with positional fallbacks.
func parseIncidentRows(doc *goquery.Document) []domain.RawIncident {
	grid := findGrid(doc)
	if grid == nil {
		return nil
	}

	var headers []string
	grid.Find("tr").First().Find("th").Each(func(_ int, th *goquery.Selection) {
		headers = append(headers, strings.ToLower(strings.TrimSpace(th.Text())))
	})
	iNo := columnIndex(headers, "no", 1)
	iTime := columnIndex(headers, "time", 2)
	iType := columnIndex(headers, "type", 3)
	iLoc := columnIndex(headers, "location", 4)
	iLocDesc := columnIndex(headers, "desc", 5)
	iArea := columnIndex(headers, "area", 6)

	var out []domain.RawIncident
	grid.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		tds := tr.Find("td")
		if tds.Length() < 5 {
			return
		}
		href, ok := tds.Eq(0).Find("a").First().Attr("href")
		if !ok {
			return
		}
		m := postBackRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		cell := func(i int) string {
			if i >= tds.Length() {
				return ""
			}
			return strings.Join(strings.Fields(tds.Eq(i).Text()), " ")
		}
		out = append(out, domain.RawIncident{
			Number:       cell(iNo),
			Time:         cell(iTime),
			Type:         cell(iType),
			Location:     cell(iLoc),
			LocationDesc: cell(iLocDesc),
			Area:         cell(iArea),
			DetailRef:    m[1],
		})
	})
	return out
}

func columnIndex(headers []string, substr string, def int) int {
	for i, h := range headers {
		if strings.Contains(h, substr) {
			return i
		}
	}
	return def
}

// parseDetailsPanel pulls the map coordinates and the narrative lines out of
// an incident detail page. The narrative sits between the "Detail
// Information" and "Unit Information" headings; page chrome below the panel
// is filtered out.
func parseDetailsPanel(doc *goquery.Document) (*domain.Coordinates, []string) {
	var coords *domain.Coordinates
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if !strings.Contains(href, "google.com/maps/place") && !strings.Contains(href, "google.com/maps/search") {
			return true
		}
		if m := coordRe.FindStringSubmatch(href); m != nil {
			lat, latErr := strconv.ParseFloat(m[1], 64)
			lon, lonErr := strconv.ParseFloat(m[2], 64)
			if latErr == nil && lonErr == nil {
				coords = &domain.Coordinates{Lat: lat, Lon: lon}
			}
		}
		return false
	})

	marker := findDetailMarker(doc)
	if marker == nil {
		return coords, nil
	}

	var raw []string
	marker.Parent().NextAll().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if unitHeaderRe.MatchString(s.Text()) {
			return false
		}
		collectLines(s, &raw)
		return true
	})

	var lines []string
	for _, ln := range raw {
		if strings.HasPrefix(ln, "Click on Details") {
			break
		}
		if strings.HasPrefix(ln, "| Contact Us") ||
			strings.HasSuffix(ln, "CHP Mobile Traffic") ||
			strings.HasSuffix(ln, "CHP Home Page") {
			continue
		}
		lines = append(lines, ln)
	}
	return coords, lines
}

// findDetailMarker returns the innermost element whose text is the "Detail
// Information" heading.
func findDetailMarker(doc *goquery.Document) *goquery.Selection {
	var marker *goquery.Selection
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() == 0 && detailHeaderRe.MatchString(s.Text()) {
			marker = s
		}
	})
	return marker
}

// collectLines appends one entry per text node under s, trimmed, skipping
// blanks. This mirrors extracting element text with newline separators.
func collectLines(s *goquery.Selection, out *[]string) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			if t := strings.Join(strings.Fields(c.Text()), " "); t != "" {
				*out = append(*out, t)
			}
			return
		}
		collectLines(c, out)
	})
}
