// Package discovery walks the paginated athlete directory and returns the athletes to crawl.
package discovery

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
	"github.com/JakeFAU/athlete-results-crawler/internal/source"
)

var labelPattern = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s+of\s+(\d+)`)

// Filter narrows discovery to countries and, optionally, to specific athletes.
type Filter struct {
	Countries []string
	// Entities holds tokens matched against ids exactly or display names by substring.
	Entities []string
}

// Walker pages through the directory until a page yields nothing new.
type Walker struct {
	fetcher   crawler.Fetcher
	parser    crawler.Parser
	endpoints *source.Endpoints
	logger    *zap.Logger
}

// NewWalker constructs a Walker.
func NewWalker(fetcher crawler.Fetcher, parser crawler.Parser, endpoints *source.Endpoints, logger *zap.Logger) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{
		fetcher:   fetcher,
		parser:    parser,
		endpoints: endpoints,
		logger:    logger,
	}
}

// DiscoverAll returns every unique athlete the directory lists for the filter.
// Fetch failures truncate the walk instead of failing it; only an unusable filter is an error.
func (w *Walker) DiscoverAll(ctx context.Context, filter Filter) ([]crawler.EntityDescriptor, error) {
	countryIDs, err := w.endpoints.CountryIDs(filter.Countries)
	if err != nil {
		return nil, fmt.Errorf("resolve countries: %w", err)
	}

	var (
		found  []crawler.EntityDescriptor
		seen   = make(map[string]struct{})
		offset int
	)
	for page := 1; ; page++ {
		url := w.endpoints.Directory(countryIDs, offset)
		doc, err := w.fetcher.Fetch(ctx, url)
		if err != nil {
			if page == 1 {
				w.logger.Warn("directory first page failed", zap.String("url", url), zap.Error(err))
			} else {
				w.logger.Warn("directory page failed, keeping partial result",
					zap.String("url", url),
					zap.Int("page", page),
					zap.Int("found", len(found)),
					zap.Error(err),
				)
			}
			break
		}

		descriptors, label := w.parser.ExtractDescriptors(doc)
		added := 0
		for _, d := range descriptors {
			if _, dup := seen[d.ID]; dup {
				continue
			}
			seen[d.ID] = struct{}{}
			found = append(found, d)
			added++
		}
		w.logger.Debug("directory page",
			zap.Int("page", page),
			zap.Int("offset", offset),
			zap.Int("new", added),
			zap.String("label", label),
		)
		if added == 0 {
			break
		}

		last, total, ok := ParseLabel(label)
		if !ok || last >= total {
			break
		}
		next := last
		if next <= offset {
			next = offset + len(descriptors)
		}
		offset = next
	}

	return Match(found, filter.Entities), nil
}

// ParseLabel reads "first - last of total items". ok is false when the label is absent or malformed.
func ParseLabel(label string) (last, total int, ok bool) {
	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, 0, false
	}
	last, errLast := strconv.Atoi(m[2])
	total, errTotal := strconv.Atoi(m[3])
	if errLast != nil || errTotal != nil {
		return 0, 0, false
	}
	return last, total, true
}

// Match keeps descriptors whose id equals a token or whose name contains one, ignoring case.
// No tokens keeps everything.
func Match(descriptors []crawler.EntityDescriptor, tokens []string) []crawler.EntityDescriptor {
	needles := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if tok = strings.ToLower(strings.TrimSpace(tok)); tok != "" {
			needles = append(needles, tok)
		}
	}
	if len(needles) == 0 {
		return descriptors
	}
	out := make([]crawler.EntityDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		id := strings.ToLower(d.ID)
		name := strings.ToLower(d.DisplayName)
		for _, n := range needles {
			if id == n || strings.Contains(name, n) {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

// SplitTokens splits on commas only so names keep their inner spaces.
func SplitTokens(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
