// Package pubsub publishes job completion events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher for the provided topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals the payload to JSON and publishes it to the topic. Trace
// context travels in the message attributes, and completion events also carry
// job_id, status and engine attributes for subscription filters. The topic
// argument becomes the event_type attribute; the handle passed to New decides
// the destination.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	attrs := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, attrs)
	if topic != "" {
		attrs["event_type"] = topic
	}
	if event, ok := payload.(jobs.CompletionEvent); ok {
		attrs["job_id"] = event.JobID
		attrs["status"] = string(event.Status)
		attrs["engine"] = string(event.Engine)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *Publisher) Stop() {
	if p.topic != nil {
		p.topic.Stop()
	}
}
