// Package source builds the URLs of the athlete results site.
package source

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/JakeFAU/athlete-results-crawler/internal/crawler"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Endpoints resolves site URLs against a base.
type Endpoints struct {
	base       *url.URL
	countryIDs map[string]int
}

// New validates the base URL and keeps the country code mapping.
func New(baseURL string, countryIDs map[string]int) (*Endpoints, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	ids := make(map[string]int, len(countryIDs))
	for code, id := range countryIDs {
		ids[strings.ToUpper(strings.TrimSpace(code))] = id
	}
	return &Endpoints{base: base, countryIDs: ids}, nil
}

// CountryIDs maps country codes to the numeric ids the directory filters on.
// Numeric entries pass through unchanged.
func (e *Endpoints) CountryIDs(codes []string) ([]int, error) {
	out := make([]int, 0, len(codes))
	for _, raw := range codes {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if code == "" {
			continue
		}
		if id, ok := e.countryIDs[code]; ok {
			out = append(out, id)
			continue
		}
		if id, err := strconv.Atoi(code); err == nil && id > 0 {
			out = append(out, id)
			continue
		}
		return nil, fmt.Errorf("unknown country code %q", raw)
	}
	return out, nil
}

// Directory returns the athlete directory page for the given countries at offset.
func (e *Endpoints) Directory(countryIDs []int, offset int) string {
	u := e.resolve("/athletes")
	q := url.Values{}
	for _, id := range countryIDs {
		q.Add("countryIds[]", strconv.Itoa(id))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// YearResults returns an athlete's results page for a year, optionally narrowed to one tour.
// The profile path found during discovery wins over one derived from the display name.
func (e *Endpoints) YearResults(d crawler.EntityDescriptor, year int, tourCode string) string {
	u := e.profile(d)
	q := url.Values{}
	q.Set("section", "yearResults")
	if tourCode != "" {
		q.Set("yearResultsTourCode", tourCode)
	}
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Resolve turns a possibly relative href into an absolute URL.
func (e *Endpoints) Resolve(href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return href
	}
	return e.base.ResolveReference(ref).String()
}

func (e *Endpoints) profile(d crawler.EntityDescriptor) *url.URL {
	if d.SourceRef != "" {
		if ref, err := url.Parse(e.Resolve(d.SourceRef)); err == nil && strings.HasPrefix(ref.Path, "/athletes/") {
			ref.RawQuery = ""
			ref.Fragment = ""
			return ref
		}
	}
	return e.resolve(fmt.Sprintf("/athletes/%s/%s", url.PathEscape(d.ID), Slug(d.DisplayName)))
}

func (e *Endpoints) resolve(path string) *url.URL {
	u := *e.base
	u.Path = strings.TrimRight(e.base.Path, "/") + path
	return &u
}

// Slug lowercases a display name and joins its words with dashes.
func Slug(name string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
}
