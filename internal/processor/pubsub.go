package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

const eventSource = "kingfisher"

type PubSubConfig struct {
	ProjectID    string
	BatchSize    int
	BatchBytes   int
	BatchTimeout time.Duration
	// CreateTopics creates topics that do not exist yet instead of failing.
	CreateTopics bool
}

func DefaultPubSubConfig() PubSubConfig {
	return PubSubConfig{
		BatchSize:    100,
		BatchBytes:   1000000, // 1MB
		BatchTimeout: 100 * time.Millisecond,
		CreateTopics: true,
	}
}

// PubSubPublisher publishes messages as CloudEvents to Pub/Sub topics.
// Topic handles are opened on first use and kept until Stop.
type PubSubPublisher struct {
	config PubSubConfig
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func NewPubSubPublisher(ctx context.Context, config PubSubConfig, opts ...option.ClientOption) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, config.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %w", err)
	}
	return NewPubSubPublisherWithClient(config, client), nil
}

// NewPubSubPublisherWithClient wraps an existing client. Stop closes it.
func NewPubSubPublisherWithClient(config PubSubConfig, client *pubsub.Client) *PubSubPublisher {
	return &PubSubPublisher{
		config: config,
		client: client,
		topics: make(map[string]*pubsub.Topic),
	}
}

// Client exposes the underlying client so subscriptions can share it.
func (p *PubSubPublisher) Client() *pubsub.Client {
	return p.client
}

func (p *PubSubPublisher) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if topic, ok := p.topics[name]; ok {
		return topic, nil
	}

	topic := p.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check if topic %s exists: %w", name, err)
	}
	if !exists {
		if !p.config.CreateTopics {
			return nil, fmt.Errorf("topic %s does not exist", name)
		}
		topic, err = p.client.CreateTopic(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to create topic %s: %w", name, err)
		}
		slog.Info("created topic", "topic", name)
	}

	topic.PublishSettings = pubsub.PublishSettings{
		ByteThreshold:  p.config.BatchBytes,
		CountThreshold: p.config.BatchSize,
		DelayThreshold: p.config.BatchTimeout,
	}
	p.topics[name] = topic
	return topic, nil
}

// Publish wraps msg in a CloudEvent and publishes it to topic. The message
// data is the JSON encoding of msg; CloudEvent context travels in ce-*
// attributes.
func (p *PubSubPublisher) Publish(ctx context.Context, topicName string, msg any) (string, error) {
	if msg == nil {
		return "", fmt.Errorf("cannot publish nil message")
	}

	topic, err := p.topic(ctx, topicName)
	if err != nil {
		return "", err
	}

	event, err := newEvent(topicName, msg)
	if err != nil {
		return "", err
	}

	attrs := map[string]string{
		"ce-id":          event.ID(),
		"ce-source":      event.Source(),
		"ce-type":        event.Type(),
		"ce-specversion": event.SpecVersion(),
		"ce-time":        event.Time().Format(time.RFC3339Nano),
		"content-type":   cloudevents.ApplicationJSON,
	}

	// Add any CloudEvent extensions as PubSub attributes
	for name, value := range event.Extensions() {
		if str, ok := value.(string); ok {
			attrs[name] = str
		} else if strVal, err := json.Marshal(value); err == nil {
			attrs[name] = string(strVal)
		}
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       event.Data(),
		Attributes: attrs,
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to publish message to %s: %w", topicName, err)
	}

	slog.Debug("published event", "topic", topicName, "event_id", event.ID(), "server_id", id)
	return id, nil
}

func newEvent(topicName string, msg any) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.NewString())
	event.SetSource(eventSource)
	event.SetType(eventSource + "." + topicName)
	event.SetTime(time.Now().UTC())
	if err := event.SetData(cloudevents.ApplicationJSON, msg); err != nil {
		return event, fmt.Errorf("failed to encode event data: %w", err)
	}
	return event, nil
}

// Stop flushes pending messages on every open topic and closes the client.
func (p *PubSubPublisher) Stop() error {
	slog.Info("stopping pubsub publisher")
	p.mu.Lock()
	for _, topic := range p.topics {
		topic.Stop()
	}
	p.topics = make(map[string]*pubsub.Topic)
	p.mu.Unlock()
	return p.client.Close()
}
