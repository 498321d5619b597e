package icp

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single upstream request without retrying.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (Payload, error)
}

// Source yields parsed upstream data for a unit. Implementations apply the
// retry budget to fetch and parse together.
type Source interface {
	Export(ctx context.Context, unit Unit) ([]Record, error)
	Page(ctx context.Context, unit Unit, page int) (Page, error)
}

// Sink persists records one at a time.
type Sink interface {
	Write(ctx context.Context, record Record) error
	Close() error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces record and run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher names archived payloads by content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
