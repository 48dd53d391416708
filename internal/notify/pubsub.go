package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// PubSubNotifier publishes completion events to a Pub/Sub topic.
type PubSubNotifier struct {
	topic *pubsub.Topic
}

// NewPubSubNotifier wraps an existing topic handle.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, fmt.Errorf("pubsub topic is required")
	}
	return &PubSubNotifier{topic: topic}, nil
}

// NotifyCompletion marshals the event to JSON and publishes it,
// blocking until the server acknowledges.
func (n *PubSubNotifier) NotifyCompletion(ctx context.Context, event CompletionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}
	result := n.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"job_id": event.JobID,
			"status": string(event.Status),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish completion event for job %s: %w", event.JobID, err)
	}
	return nil
}
