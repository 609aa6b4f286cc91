package export

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fliupa/cni-scrapy/internal/harvest"
)

// Notice is the completion message published after a successful export.
type Notice struct {
	Records    int        `json:"records"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Artifacts  []Artifact `json:"artifacts,omitempty"`
	ExportedAt time.Time  `json:"exported_at"`
}

// ArtifactSource reports artifacts written earlier in the same flush.
type ArtifactSource interface {
	Artifacts() []Artifact
}

// Notifier is a sink that counts records and publishes a Notice on Flush.
// Place it after the sinks whose success it announces.
type Notifier struct {
	publisher harvest.Publisher
	topic     string
	source    ArtifactSource
	clock     harvest.Clock
	logger    *zap.Logger

	mu       sync.Mutex
	records  int
	failed   int
	reported int
}

// NewNotifier publishes to topic. source may be nil.
func NewNotifier(publisher harvest.Publisher, topic string, source ArtifactSource, clock harvest.Clock, logger *zap.Logger) (*Notifier, error) {
	if publisher == nil || topic == "" {
		return nil, fmt.Errorf("publisher and topic are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{
		publisher: publisher,
		topic:     topic,
		source:    source,
		clock:     clock,
		logger:    logger.Named("notifier"),
	}, nil
}

// Append counts rec.
func (n *Notifier) Append(_ context.Context, rec harvest.Record) error {
	n.mu.Lock()
	n.records++
	if rec.Failed() {
		n.failed++
	}
	n.mu.Unlock()
	return nil
}

// Flush publishes the notice for the records appended since the last flush.
func (n *Notifier) Flush(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	notice := Notice{
		Records:    n.records,
		Succeeded:  n.records - n.failed,
		Failed:     n.failed,
		ExportedAt: n.now(),
	}
	if n.source != nil {
		all := n.source.Artifacts()
		if n.reported <= len(all) {
			notice.Artifacts = all[n.reported:]
		}
		n.reported = len(all)
	}
	id, err := n.publisher.Publish(ctx, n.topic, notice)
	if err != nil {
		return fmt.Errorf("publish completion notice: %w", err)
	}
	n.logger.Info("completion notice published",
		zap.String("topic", n.topic),
		zap.String("message_id", id),
		zap.Int("records", notice.Records),
	)
	n.records, n.failed = 0, 0
	return nil
}

func (n *Notifier) now() time.Time {
	if n.clock != nil {
		return n.clock.Now().UTC()
	}
	return time.Now().UTC()
}
