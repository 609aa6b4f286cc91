// Package pubsub publishes completion notices to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

type publishResult interface {
	Get(ctx context.Context) (string, error)
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) publishResult
	Stop()
}

type clientTopic struct {
	t *pubsub.Topic
}

func (c clientTopic) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return c.t.Publish(ctx, msg)
}

func (c clientTopic) Stop() { c.t.Stop() }

// Publisher implements harvest.Publisher on a Pub/Sub client. Topic handles
// are created on first use and flushed by Close.
type Publisher struct {
	open func(id string) topic

	mu     sync.Mutex
	topics map[string]topic
	closed bool
}

// New wraps client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return newPublisher(func(id string) topic {
		return clientTopic{t: client.Topic(id)}
	}), nil
}

func newPublisher(open func(id string) topic) *Publisher {
	return &Publisher{open: open, topics: make(map[string]topic)}
}

// Publish marshals payload to JSON and waits for the server-assigned id.
func (p *Publisher) Publish(ctx context.Context, topicID string, payload any) (string, error) {
	if topicID == "" {
		return "", errors.New("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	t, err := p.topic(topicID)
	if err != nil {
		return "", err
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	id, err := t.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", topicID, err)
	}
	return id, nil
}

func (p *Publisher) topic(id string) (topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("publisher closed")
	}
	t, ok := p.topics[id]
	if !ok {
		t = p.open(id)
		p.topics[id] = t
	}
	return t, nil
}

// Close flushes and stops every topic handle.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, t := range p.topics {
		t.Stop()
	}
	return nil
}
