// Package parser extracts athletes, events, and heats from results-site markup using goquery.
package parser

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

var (
	athleteIDPattern  = regexp.MustCompile(`/athletes/(\d+)/`)
	eventIDPattern    = regexp.MustCompile(`eventId=(\d+)`)
	heatIDPattern     = regexp.MustCompile(`heatId=(\d+)`)
	placePattern      = regexp.MustCompile(`athlete-place-(\d+)`)
	athleteIdxPattern = regexp.MustCompile(`athlete-index-(\d+)`)
	leadingIntPattern = regexp.MustCompile(`\d+`)
	numberPattern     = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)
)

var dateRangeSelectors = []string{
	".event-date-range",
	".event-schedule__date-range",
	".event-header__date",
	".event-meta__date",
}

// Parser implements crawler.Parser for the results site.
type Parser struct {
	logger *zap.Logger
}

var _ crawler.Parser = (*Parser)(nil)

// New creates a Parser. A nil logger disables diagnostics.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ExtractDescriptors returns the athletes listed on a directory page and its pagination label.
func (p *Parser) ExtractDescriptors(doc crawler.Document) ([]crawler.EntityDescriptor, string) {
	root, ok := p.load(doc)
	if !ok {
		return nil, ""
	}
	countries := root.Find(".athlete-country-name").Map(func(_ int, s *goquery.Selection) string {
		return cleanText(s.Text())
	})
	var out []crawler.EntityDescriptor
	root.Find(".athlete-name").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href == "" {
			href, _ = s.Find("a").First().Attr("href")
		}
		match := athleteIDPattern.FindStringSubmatch(href)
		name := cleanText(s.Text())
		if match == nil || name == "" {
			return
		}
		d := crawler.EntityDescriptor{ID: match[1], DisplayName: name, SourceRef: href}
		if i < len(countries) {
			d.Category = countries[i]
		}
		out = append(out, d)
	})
	return out, cleanText(root.Find(".paginationLabel").First().Text())
}

// ExtractCategoryCodes returns the distinct tour codes of the year results selector.
func (p *Parser) ExtractCategoryCodes(doc crawler.Document) []string {
	root, ok := p.load(doc)
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	var codes []string
	root.Find(`select[name="yearResultsTourCode"] option`).Each(func(_ int, s *goquery.Selection) {
		code := strings.TrimSpace(s.AttrOr("value", ""))
		if code == "" {
			return
		}
		if _, dup := seen[code]; dup {
			return
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	})
	return codes
}

// ExtractListing returns event stubs linked from an athlete's results page.
func (p *Parser) ExtractListing(doc crawler.Document) []crawler.SubRecord {
	root, ok := p.load(doc)
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	var out []crawler.SubRecord
	root.Find(`a[href*="eventresults"]`).Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		name := cleanText(s.Text())
		if href == "" || name == "" {
			return
		}
		id := "event_" + shortHash(href)
		if m := eventIDPattern.FindStringSubmatch(href); m != nil {
			id = m[1]
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		out = append(out, crawler.SubRecord{ID: id, Name: name, SourceRef: href})
	})
	return out
}

// ExtractDetailStats reads the labeled statistics block, falling back to a results table row.
func (p *Parser) ExtractDetailStats(doc crawler.Document, entityName string) crawler.DetailStats {
	root, ok := p.load(doc)
	if !ok {
		return crawler.DetailStats{}
	}
	var stats crawler.DetailStats
	for _, pair := range labeledPairs(root) {
		label := strings.ToLower(pair[0])
		switch {
		case strings.Contains(label, "avg") && strings.Contains(label, "heat"),
			strings.Contains(label, "average") && strings.Contains(label, "heat"):
			stats.AvgHeatScore = parseFloat(pair[1])
		case strings.Contains(label, "avg") && strings.Contains(label, "wave"),
			strings.Contains(label, "average") && strings.Contains(label, "wave"):
			stats.AvgWaveScore = parseFloat(pair[1])
		case strings.Contains(label, "point"):
			stats.PointsEarned = parseFloat(pair[1])
		case strings.Contains(label, "place"), strings.Contains(label, "result"),
			strings.Contains(label, "rank"), strings.Contains(label, "finish"):
			stats.FinalRank = parseInt(pair[1])
		}
	}
	if stats.FinalRank == nil && entityName != "" {
		stats.FinalRank = rankFromTables(root, entityName)
	}
	return stats
}

// ExtractDateRange returns the raw date range text of an event page.
func (p *Parser) ExtractDateRange(doc crawler.Document) string {
	root, ok := p.load(doc)
	if !ok {
		return ""
	}
	for _, sel := range dateRangeSelectors {
		if text := cleanText(root.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// ExtractLeafRecords returns the heats on an event page in which the named athlete surfed.
func (p *Parser) ExtractLeafRecords(doc crawler.Document, entityName string) []crawler.LeafRecord {
	root, ok := p.load(doc)
	if !ok || strings.TrimSpace(entityName) == "" {
		return nil
	}
	want := strings.ToLower(strings.TrimSpace(entityName))
	var out []crawler.LeafRecord
	root.Find("div.hot-heat").Each(func(_ int, heat *goquery.Selection) {
		if leaf, found := parseHeat(heat, want); found {
			out = append(out, leaf)
		}
	})
	return out
}

func parseHeat(heat *goquery.Selection, want string) (crawler.LeafRecord, bool) {
	round := cleanText(heat.Find(".heat-name").First().Text())
	if round == "" {
		round = "Unknown Round"
	}
	var (
		leaf  crawler.LeafRecord
		found bool
	)
	heat.Find(".hot-heat__athletes .hot-heat-athlete").EachWithBreak(func(_ int, athlete *goquery.Selection) bool {
		name := strings.ToLower(cleanText(athlete.Find(".hot-heat-athlete__name").First().Text()))
		if name == "" || !strings.Contains(name, want) {
			return true
		}
		found = true
		class := athlete.AttrOr("class", "")
		leaf = crawler.LeafRecord{
			ID:         heatID(heat, round),
			RoundLabel: round,
			Position:   classNumber(placePattern, class),
			Advanced:   strings.Contains(class, "advance"),
			SubScores:  waveScores(heat, athleteIndex(athlete)),
			Date:       cleanText(heat.Find(".hot-heat__date").First().Text()),
		}
		if score := parseFloat(athlete.Find(".hot-heat-athlete__score").First().Text()); score != nil {
			leaf.TotalScore = *score
		}
		return false
	})
	return leaf, found
}

func heatID(heat *goquery.Selection, round string) string {
	href := heat.Find("a.hot-heat__replay-link").First().AttrOr("href", "")
	if m := heatIDPattern.FindStringSubmatch(href); m != nil {
		return "heat_" + m[1]
	}
	return "heat_" + shortHash(round)
}

func athleteIndex(athlete *goquery.Selection) int {
	if raw, ok := athlete.Attr("data-athlete-index"); ok {
		if idx, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && idx > 0 {
			return idx
		}
	}
	return classNumber(athleteIdxPattern, athlete.AttrOr("class", ""))
}

// waveScores reads the athlete's column (1-based) from every wave row.
func waveScores(heat *goquery.Selection, index int) []float64 {
	scores := []float64{}
	if index < 1 {
		return scores
	}
	heat.Find(".hot-heat__waves-details .wave-item").Each(func(_ int, row *goquery.Selection) {
		waves := row.Find(".wave")
		if waves.Length() < index {
			return
		}
		if v := parseFloat(waves.Eq(index - 1).Find(".wave-score").First().Text()); v != nil {
			scores = append(scores, *v)
		}
	})
	return scores
}

// labeledPairs collects label/value pairs from the stats block and any definition lists.
func labeledPairs(root *goquery.Document) [][2]string {
	var pairs [][2]string
	root.Find(".athlete-event-stats__item, .event-stats__item").Each(func(_ int, item *goquery.Selection) {
		label := cleanText(item.Find(".athlete-event-stats__label, .event-stats__label").First().Text())
		value := cleanText(item.Find(".athlete-event-stats__value, .event-stats__value").First().Text())
		if label != "" && value != "" {
			pairs = append(pairs, [2]string{label, value})
		}
	})
	root.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		label := cleanText(dt.Text())
		value := cleanText(dt.NextFiltered("dd").Text())
		if label != "" && value != "" {
			pairs = append(pairs, [2]string{label, value})
		}
	})
	return pairs
}

func rankFromTables(root *goquery.Document, entityName string) *int {
	want := strings.ToLower(entityName)
	var rank *int
	root.Find("table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(row.Text()), want) {
			return true
		}
		first := cleanText(row.Find("td, th").First().Text())
		if n, err := strconv.Atoi(first); err == nil {
			rank = &n
			return false
		}
		return true
	})
	return rank
}

func (p *Parser) load(doc crawler.Document) (*goquery.Document, bool) {
	if len(doc.Body) == 0 {
		return nil, false
	}
	root, err := goquery.NewDocumentFromReader(bytes.NewReader(doc.Body))
	if err != nil {
		p.logger.Warn("parse document failed", zap.String("url", doc.URL), zap.Error(err))
		return nil, false
	}
	return root, true
}

func classNumber(pattern *regexp.Regexp, class string) int {
	if m := pattern.FindStringSubmatch(class); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n
		}
	}
	return 0
}

func parseFloat(text string) *float64 {
	m := numberPattern.FindString(text)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseInt(text string) *int {
	m := leadingIntPattern.FindString(text)
	if m == "" {
		return nil
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &n
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func shortHash(s string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%d", h.Sum32()%100000)
}
