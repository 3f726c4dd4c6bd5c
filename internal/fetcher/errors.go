package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed fetch.
type Kind string

// Fetch failure kinds.
const (
	KindTransient Kind = "transient"
	KindPermanent Kind = "permanent"
)

var (
	// ErrTransient matches fetch failures worth retrying (throttling, 5xx, transport errors).
	ErrTransient = errors.New("transient fetch failure")
	// ErrPermanent matches fetch failures that retrying cannot fix.
	ErrPermanent = errors.New("permanent fetch failure")
)

var transientStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

// FetchError describes why a URL could not be fetched.
type FetchError struct {
	URL        string
	StatusCode int
	Kind       Kind
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s failure after %d attempt(s): status %d", e.URL, e.Kind, e.Attempts, e.StatusCode)
}

// Unwrap exposes both the kind sentinel and the underlying transport error.
func (e *FetchError) Unwrap() []error {
	sentinel := ErrPermanent
	if e.Kind == KindTransient {
		sentinel = ErrTransient
	}
	if e.Err == nil {
		return []error{sentinel}
	}
	return []error{sentinel, e.Err}
}

// classify returns nil for a usable response.
func classify(url string, resp Response, err error) *FetchError {
	if err != nil {
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Kind: KindTransient, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if _, ok := transientStatuses[resp.StatusCode]; ok {
		return &FetchError{URL: url, StatusCode: resp.StatusCode, Kind: KindTransient}
	}
	return &FetchError{URL: url, StatusCode: resp.StatusCode, Kind: KindPermanent}
}
