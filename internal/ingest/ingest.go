// Package ingest turns raw OCM notifications into evaluation envelopes.
// It looks up the subscription's webhooks and conditions and publishes the
// bundle to the evaluate topic.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraser-isbester/kingfisher/internal/processor"
	"github.com/fraser-isbester/kingfisher/internal/store"
	"github.com/fraser-isbester/kingfisher/pkg/types"
)

// ErrMalformedNotification marks a notification that carries no usable entity.
var ErrMalformedNotification = errors.New("malformed notification")

// QualifierStore provides the rules registered for a subscription.
type QualifierStore interface {
	Webhooks(ctx context.Context, subID int64) ([]types.Webhook, error)
	Conditions(ctx context.Context, subID int64) ([]types.Condition, error)
}

type notification struct {
	Value struct {
		Transaction struct {
			MessageID string `json:"message_id"`
		} `json:"transaction"`
		Entities json.RawMessage `json:"entities"`
	} `json:"value"`
}

// entityHeader is the part of an entity the ingester routes on. The rest of
// the entity travels untouched as the envelope payload.
type entityHeader struct {
	Action string `json:"action"`
	// SubscriptionID accepts a number or a numeric string.
	SubscriptionID json.Number `json:"subscription_id"`
}

type Ingester struct {
	store     QualifierStore
	publisher processor.Publisher
	topic     string
	timeout   time.Duration
	now       func() time.Time
}

func New(qualifiers QualifierStore, publisher processor.Publisher, topic string, publishTimeout time.Duration) *Ingester {
	return &Ingester{
		store:     qualifiers,
		publisher: publisher,
		topic:     topic,
		timeout:   publishTimeout,
		now:       time.Now,
	}
}

func (in *Ingester) Handle(ctx context.Context, data []byte) error {
	var n notification
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	objectID, entity, err := firstEntity(n.Value.Entities)
	if err != nil {
		return err
	}
	var header entityHeader
	if err := json.Unmarshal(entity, &header); err != nil {
		return fmt.Errorf("%w: entity %s: %v", ErrMalformedNotification, objectID, err)
	}

	messageID := n.Value.Transaction.MessageID
	if !types.Evaluable(header.Action) {
		slog.Info("ignoring OCM action", "message_id", messageID, "action", header.Action, "object_id", objectID)
		return nil
	}
	subID, err := header.SubscriptionID.Int64()
	if err != nil {
		return fmt.Errorf("%w: entity %s: subscription_id %q", ErrMalformedNotification, objectID, header.SubscriptionID)
	}
	log := slog.With("message_id", messageID, "subscription_id", subID)

	webhooks, err := in.store.Webhooks(ctx, subID)
	if errors.Is(err, store.ErrNotFound) {
		log.Info("no webhooks registered for subscription")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}
	conditions, err := in.store.Conditions(ctx, subID)
	if err != nil {
		return fmt.Errorf("load conditions: %w", err)
	}
	if conditions == nil {
		conditions = []types.Condition{}
	}

	webhooksJSON, err := json.Marshal(webhooks)
	if err != nil {
		return fmt.Errorf("encode webhooks: %w", err)
	}
	conditionsJSON, err := json.Marshal(conditions)
	if err != nil {
		return fmt.Errorf("encode conditions: %w", err)
	}

	env := &types.Envelope{
		MessageID:          messageID,
		Action:             header.Action,
		Payload:            string(entity),
		Conditions:         string(conditionsJSON),
		Webhooks:           string(webhooksJSON),
		ProcessedTimestamp: in.now().UTC().Format(types.TimestampLayout),
	}

	pubCtx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()
	id, err := in.publisher.Publish(pubCtx, in.topic, env)
	if err != nil {
		return fmt.Errorf("publish envelope to %s: %w", in.topic, err)
	}
	log.Info("published envelope",
		"topic", in.topic,
		"object_id", objectID,
		"webhooks", len(webhooks),
		"conditions", len(conditions),
		"server_id", id,
	)
	return nil
}

// firstEntity returns the first member of the entities object in document order.
func firstEntity(raw json.RawMessage) (string, json.RawMessage, error) {
	if len(raw) == 0 {
		return "", nil, fmt.Errorf("%w: no entities", ErrMalformedNotification)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return "", nil, fmt.Errorf("%w: entities: %v", ErrMalformedNotification, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return "", nil, fmt.Errorf("%w: entities is not an object", ErrMalformedNotification)
	}
	if !dec.More() {
		return "", nil, fmt.Errorf("%w: no entities", ErrMalformedNotification)
	}
	tok, err = dec.Token()
	if err != nil {
		return "", nil, fmt.Errorf("%w: entities: %v", ErrMalformedNotification, err)
	}
	key, _ := tok.(string)
	var entity json.RawMessage
	if err := dec.Decode(&entity); err != nil {
		return "", nil, fmt.Errorf("%w: entity %s: %v", ErrMalformedNotification, key, err)
	}
	return key, entity, nil
}
