// Package events publishes committed snapshot updates to Google Cloud Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"commodity-desk/internal/core"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

const eventSnapshotUpdated = "snapshot.updated"

// SnapshotPublisher sends one message per snapshot mutation. Consumers dedupe on the
// archiveId attribute.
type SnapshotPublisher struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewSnapshotPublisher wraps an existing topic. The caller owns the client.
func NewSnapshotPublisher(topic *pubsub.Topic) (*SnapshotPublisher, error) {
	if topic == nil {
		return nil, errors.New("snapshot publisher: topic is required")
	}
	return &SnapshotPublisher{topic: topic, marshal: json.Marshal}, nil
}

// Dial connects to projectID and binds topicID. Application Default Credentials are
// used unless credentialsJSON is set.
func Dial(ctx context.Context, projectID, topicID, credentialsJSON string) (*SnapshotPublisher, error) {
	if projectID == "" || topicID == "" {
		return nil, errors.New("snapshot publisher: project and topic are required")
	}
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	p, err := NewSnapshotPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	p.client = client
	return p, nil
}

func (p *SnapshotPublisher) PublishSnapshotUpdated(ctx context.Context, ev core.SnapshotEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("snapshot publisher: not initialised")
	}
	data, err := p.marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal snapshot event: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event":      eventSnapshotUpdated,
			"snapshotId": strconv.Itoa(ev.SnapshotID),
			"productId":  strconv.Itoa(ev.ProductID),
			"archiveId":  strconv.Itoa(ev.ArchiveID),
			"forecast":   string(ev.Forecast),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish snapshot event: %w", err)
	}
	return nil
}

// Close flushes pending messages and, when Dial created the client, closes it.
func (p *SnapshotPublisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
