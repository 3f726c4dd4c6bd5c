// Package fanout expands one athlete into events and heats across years and tours.
package fanout

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/source"
)

const unknownLocation = "Unknown"

// Dimensions selects which years, tours, and locations are crawled for each athlete.
// Empty Tours or Locations means no restriction.
type Dimensions struct {
	Years     []int
	Tours     []string
	Locations []string
}

// Crawler fetches an athlete's year results, tour listings, and event details.
type Crawler struct {
	fetcher   crawler.Fetcher
	parser    crawler.Parser
	endpoints *source.Endpoints
	logger    *zap.Logger
}

// New constructs a Crawler.
func New(fetcher crawler.Fetcher, parser crawler.Parser, endpoints *source.Endpoints, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{
		fetcher:   fetcher,
		parser:    parser,
		endpoints: endpoints,
		logger:    logger,
	}
}

// CrawlEntity returns the events the athlete competed in for every requested year and tour.
// Fetch failures drop the affected year or tour (or the detail data of one event) and are logged;
// the only error returned is cancellation of ctx, together with what was collected so far.
func (c *Crawler) CrawlEntity(
	ctx context.Context,
	d crawler.EntityDescriptor,
	dims Dimensions,
) ([]crawler.SubRecord, error) {
	logger := c.logger.With(zap.String("entity_id", d.ID), zap.String("entity", d.DisplayName))
	records := []crawler.SubRecord{}
	seen := make(map[string]struct{})

	for _, year := range dims.Years {
		if err := ctx.Err(); err != nil {
			return records, fmt.Errorf("crawl %s: %w", d.ID, err)
		}
		codes, ok := c.tourCodes(ctx, logger, d, year, dims.Tours)
		if !ok {
			continue
		}
		for _, code := range codes {
			stubs, ok := c.listing(ctx, logger, d, year, code)
			if !ok {
				continue
			}
			for _, stub := range stubs {
				if _, dup := seen[stub.ID]; dup {
					continue
				}
				stub.CategoryTag = strings.ToUpper(code)
				stub.Year = year
				stub.Location = InferLocation(stub.Name)
				if !matchesAny(stub.Location, dims.Locations) {
					continue
				}
				seen[stub.ID] = struct{}{}
				if err := ctx.Err(); err != nil {
					return records, fmt.Errorf("crawl %s: %w", d.ID, err)
				}
				records = append(records, c.enrich(ctx, logger, d, stub))
			}
		}
	}
	return records, nil
}

// tourCodes reads the year's tour selector and keeps the allowed codes.
func (c *Crawler) tourCodes(
	ctx context.Context,
	logger *zap.Logger,
	d crawler.EntityDescriptor,
	year int,
	allowed []string,
) ([]string, bool) {
	url := c.endpoints.YearResults(d, year, "")
	doc, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		logger.Warn("year results fetch failed", zap.Int("year", year), zap.String("url", url), zap.Error(err))
		return nil, false
	}
	var codes []string
	for _, code := range c.parser.ExtractCategoryCodes(doc) {
		if len(allowed) == 0 || containsFold(allowed, code) {
			codes = append(codes, code)
		}
	}
	logger.Debug("tour codes", zap.Int("year", year), zap.Strings("codes", codes))
	return codes, true
}

func (c *Crawler) listing(
	ctx context.Context,
	logger *zap.Logger,
	d crawler.EntityDescriptor,
	year int,
	code string,
) ([]crawler.SubRecord, bool) {
	url := c.endpoints.YearResults(d, year, code)
	doc, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		logger.Warn("tour listing fetch failed",
			zap.Int("year", year),
			zap.String("tour", code),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, false
	}
	return c.parser.ExtractListing(doc), true
}

// enrich adds event detail data to a stub. A failed detail fetch keeps the stub as is.
func (c *Crawler) enrich(
	ctx context.Context,
	logger *zap.Logger,
	d crawler.EntityDescriptor,
	stub crawler.SubRecord,
) crawler.SubRecord {
	stub.Children = []crawler.LeafRecord{}
	if stub.SourceRef == "" {
		return stub
	}
	stub.SourceRef = c.endpoints.Resolve(stub.SourceRef)
	doc, err := c.fetcher.Fetch(ctx, stub.SourceRef)
	if err != nil {
		logger.Warn("event detail fetch failed", zap.String("event_id", stub.ID), zap.Error(err))
		return stub
	}

	stats := c.parser.ExtractDetailStats(doc, d.DisplayName)
	stub.FinalRank = stats.FinalRank
	stub.PointsEarned = stats.PointsEarned
	stub.AvgHeatScore = stats.AvgHeatScore
	stub.AvgWaveScore = stats.AvgWaveScore
	stub.StartDate, stub.EndDate = ParseDateRange(c.parser.ExtractDateRange(doc))
	if leaves := c.parser.ExtractLeafRecords(doc, d.DisplayName); leaves != nil {
		stub.Children = leaves
	}
	deriveAverages(&stub)
	return stub
}

// deriveAverages fills averages the stats block did not report from the heats.
func deriveAverages(rec *crawler.SubRecord) {
	if len(rec.Children) == 0 {
		return
	}
	if rec.AvgHeatScore == nil {
		var sum float64
		for _, leaf := range rec.Children {
			sum += leaf.TotalScore
		}
		avg := round2(sum / float64(len(rec.Children)))
		rec.AvgHeatScore = &avg
	}
	if rec.AvgWaveScore == nil {
		var (
			sum float64
			n   int
		)
		for _, leaf := range rec.Children {
			for _, s := range leaf.SubScores {
				sum += s
				n++
			}
		}
		if n > 0 {
			avg := round2(sum / float64(n))
			rec.AvgWaveScore = &avg
		}
	}
}

// InferLocation takes the part after " - " or the last comma of an event name.
func InferLocation(name string) string {
	if _, after, ok := strings.Cut(name, " - "); ok {
		if loc := strings.TrimSpace(after); loc != "" {
			return loc
		}
	}
	if idx := strings.LastIndex(name, ","); idx >= 0 {
		if loc := strings.TrimSpace(name[idx+1:]); loc != "" {
			return loc
		}
	}
	return unknownLocation
}

func matchesAny(value string, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	lower := strings.ToLower(value)
	for _, tok := range tokens {
		if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" && strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), want) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
