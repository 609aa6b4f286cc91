package harvest

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/fliupa/cni-scrapy/internal/dom"
)

// Backend is a rendering-capable browsing backend.
type Backend interface {
	// Launch starts the backend. A failure here is fatal to the whole run.
	Launch(ctx context.Context) error
	// OpenContext opens a fresh, isolated browsing context.
	OpenContext(ctx context.Context) (BrowsingContext, error)
	// Close releases everything Launch acquired.
	Close(ctx context.Context) error
}

// BrowsingContext is a single page session. It must be closed on every exit path.
type BrowsingContext interface {
	// Navigate loads url and waits for the network to go idle, bounded by idleTimeout.
	Navigate(ctx context.Context, url string, idleTimeout time.Duration) (Document, error)
	Close() error
}

// Document is a rendered page as seen by the field extractor.
type Document interface {
	// SelectText returns the trimmed visible text of the first element matching
	// the CSS selector, or "" when nothing matches.
	SelectText(selector string) (string, error)
	// Root returns the parsed markup of the rendered page.
	Root() *dom.Node
}

// CheckpointStore persists the records completed so far.
type CheckpointStore interface {
	// Load returns the persisted records in ascending Index order.
	Load(ctx context.Context) ([]Record, error)
	// Save overwrites the checkpoint with the full record set.
	Save(ctx context.Context, records []Record) error
	// Clear removes the checkpoint.
	Clear(ctx context.Context) error
}

// Sink receives the final ordered record set.
type Sink interface {
	Append(ctx context.Context, rec Record) error
	Flush(ctx context.Context) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests of exported artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewRunID() (uuid.UUID, error)
}
