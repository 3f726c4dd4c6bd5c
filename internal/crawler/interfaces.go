package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL with pacing and retries applied.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Parser turns fetched markup into typed records. Ambiguous markup yields empty values, never errors.
type Parser interface {
	// ExtractDescriptors returns the athletes on a directory page and the raw pagination label.
	ExtractDescriptors(doc Document) ([]EntityDescriptor, string)
	// ExtractCategoryCodes returns the tour codes offered by an athlete's results selector.
	ExtractCategoryCodes(doc Document) []string
	// ExtractListing returns event stubs from an athlete's tour results page.
	ExtractListing(doc Document) []SubRecord
	// ExtractDetailStats reads the labeled statistics block of an event page.
	ExtractDetailStats(doc Document, entityName string) DetailStats
	// ExtractDateRange returns the raw date range text of an event page.
	ExtractDateRange(doc Document) string
	// ExtractLeafRecords returns the heats the named athlete surfed on an event page.
	ExtractLeafRecords(doc Document, entityName string) []LeafRecord
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for submitted jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Submitted int64
}
