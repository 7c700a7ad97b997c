package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fraser-isbester/kingfisher/internal/evaluator"
	"github.com/fraser-isbester/kingfisher/pkg/types"
)

// ErrMalformedEnvelope marks input that cannot be evaluated at all.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Topics names the two outcome destinations.
type Topics struct {
	Ready string
	NoGo  string
}

// Evaluator handles evaluation envelopes: it routes the event against the
// envelope's webhooks and publishes one ready or disqualified message per
// outcome.
type Evaluator struct {
	publisher Publisher
	topics    Topics
	timeout   time.Duration
	now       func() time.Time
}

func NewEvaluator(publisher Publisher, topics Topics, publishTimeout time.Duration) *Evaluator {
	return &Evaluator{
		publisher: publisher,
		topics:    topics,
		timeout:   publishTimeout,
		now:       time.Now,
	}
}

// Work is a decoded envelope.
type Work struct {
	Envelope   types.Envelope
	Event      *types.ChangeEvent
	Conditions []types.Condition
	Webhooks   []types.Webhook
}

// DecodeEnvelope parses an envelope and the documents it carries. Any
// decoding failure is reported as ErrMalformedEnvelope.
func DecodeEnvelope(data []byte) (*Work, error) {
	var w Work
	if err := json.Unmarshal(data, &w.Envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := json.Unmarshal([]byte(w.Envelope.Payload), &w.Event); err != nil {
		return nil, fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
	}
	if w.Event == nil {
		return nil, fmt.Errorf("%w: payload is null", ErrMalformedEnvelope)
	}
	if err := json.Unmarshal([]byte(w.Envelope.Conditions), &w.Conditions); err != nil {
		return nil, fmt.Errorf("%w: conditions: %v", ErrMalformedEnvelope, err)
	}
	if err := json.Unmarshal([]byte(w.Envelope.Webhooks), &w.Webhooks); err != nil {
		return nil, fmt.Errorf("%w: webhooks: %v", ErrMalformedEnvelope, err)
	}
	return &w, nil
}

// Handle evaluates one envelope. It fails only for malformed input; publish
// failures are logged per outcome and do not stop the remaining outcomes.
func (e *Evaluator) Handle(ctx context.Context, data []byte) error {
	work, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	env, event := &work.Envelope, work.Event

	log := slog.With("message_id", env.MessageID)
	log.Info("evaluating envelope", "action", env.Action, "object_type", event.ObjectType)

	if !types.Evaluable(env.Action) {
		log.Info("ignoring OCM action", "action", env.Action)
		return nil
	}

	result := evaluator.Route(event, env.Action, work.Webhooks, work.Conditions)
	if len(result.Outcomes) == 0 {
		log.Info("no webhooks to dispatch", "object_type", event.ObjectType, "webhooks", len(work.Webhooks))
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	for _, outcome := range result.Outcomes {
		topic, msg := e.message(env, string(payload), outcome)
		e.publish(ctx, log, topic, msg, outcome)
	}
	return nil
}

func (e *Evaluator) message(env *types.Envelope, payload string, outcome evaluator.Outcome) (string, any) {
	processed := e.now().UTC().Format(types.TimestampLayout)
	if !outcome.Ready {
		return e.topics.NoGo, &types.DisqualifiedMessage{
			MessageID:          env.MessageID,
			Action:             env.Action,
			Webhook:            outcome.Webhook,
			Payload:            payload,
			ProcessedTimestamp: processed,
			Conditions:         outcome.Verdicts,
		}
	}
	return e.topics.Ready, &types.ReadyMessage{
		MessageID:          env.MessageID,
		Action:             env.Action,
		Webhook:            outcome.Webhook,
		Payload:            payload,
		ProcessedTimestamp: processed,
		Attempts:           0,
		Eligible:           types.EligibleNow,
	}
}

func (e *Evaluator) publish(ctx context.Context, log *slog.Logger, topic string, msg any, outcome evaluator.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	id, err := e.publisher.Publish(ctx, topic, msg)
	if err != nil {
		log.Error("error publishing outcome",
			"topic", topic,
			"webhook_id", outcome.Webhook.ID,
			"ready", outcome.Ready,
			"err", err,
		)
		return
	}
	log.Info("published outcome",
		"topic", topic,
		"webhook_id", outcome.Webhook.ID,
		"ready", outcome.Ready,
		"server_id", id,
	)
}
