package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraser-isbester/kingfisher/pkg/types"
)

type published struct {
	topic string
	msg   any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	// fail rejects messages for these webhook ids.
	fail map[int64]bool
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, msg any) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("publish without deadline")
	}
	var id int64
	switch m := msg.(type) {
	case *types.ReadyMessage:
		id = m.Webhook.ID
	case *types.DisqualifiedMessage:
		id = m.Webhook.ID
	}
	if f.fail[id] {
		return "", errors.New("broker unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, published{topic: topic, msg: msg})
	return "srv-1", nil
}

const testPayload = `{
	"action": "Updated",
	"subscription_id": 5400,
	"object_type": "Defect",
	"ref": "/defect/1",
	"state": {
		"a1": {"name": "State", "value": {"name": "Open"}},
		"a2": {"name": "Estimate", "value": 3}
	},
	"changes": {
		"a1": {"value": {"name": "Open"}, "old_value": {"name": "Submitted"}}
	}
}`

func envelope(t *testing.T, action string, webhooks, conditions string) []byte {
	t.Helper()
	b, err := json.Marshal(types.Envelope{
		MessageID:          "m-1",
		Action:             action,
		Payload:            testPayload,
		Conditions:         conditions,
		Webhooks:           webhooks,
		ProcessedTimestamp: "2019-06-01 10:00:00",
	})
	require.NoError(t, err)
	return b
}

const (
	testConditions = `[
		[1, 5400, "a1", "State", "=", "Open"],
		[2, 5400, "a2", "Estimate", ">", "5"],
		[3, 5400, "a1", "State", "changed", null]
	]`
	testWebhooks = `[
		[10, 5400, "open defects", "https://x/hook", ["Defect"], [1, 3]],
		[11, 5400, "big defects", "https://y/hook", [], [1, 2]],
		[12, 5400, "same target", "https://x/hook", [], [3]],
		[13, 5400, "stories", "https://z/hook", ["Story"], []]
	]`
)

func newTestEvaluator(pub Publisher) *Evaluator {
	e := NewEvaluator(pub, Topics{Ready: "ready", NoGo: "nogo"}, time.Second)
	e.now = func() time.Time { return time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC) }
	return e
}

func TestEvaluator_Handle(t *testing.T) {
	pub := &fakePublisher{}
	err := newTestEvaluator(pub).Handle(context.Background(), envelope(t, "Updated", testWebhooks, testConditions))
	require.NoError(t, err)
	require.Len(t, pub.sent, 2)

	assert.Equal(t, "ready", pub.sent[0].topic)
	ready := pub.sent[0].msg.(*types.ReadyMessage)
	assert.Equal(t, int64(10), ready.Webhook.ID)
	assert.Equal(t, "m-1", ready.MessageID)
	assert.Equal(t, "Updated", ready.Action)
	assert.Equal(t, 0, ready.Attempts)
	assert.Equal(t, types.EligibleNow, ready.Eligible)
	assert.Equal(t, "2020-01-02 03:04:05", ready.ProcessedTimestamp)
	assert.JSONEq(t, testPayload, ready.Payload)

	assert.Equal(t, "nogo", pub.sent[1].topic)
	nogo := pub.sent[1].msg.(*types.DisqualifiedMessage)
	assert.Equal(t, int64(11), nogo.Webhook.ID)
	assert.Equal(t, types.Verdict{Expression: "Estimate(3) > 5", Status: false}, nogo.Conditions[2])
	assert.True(t, nogo.Conditions[1].Status)
}

func TestEvaluator_MessageWireShape(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, newTestEvaluator(pub).Handle(context.Background(), envelope(t, "created", testWebhooks, testConditions)))
	require.Len(t, pub.sent, 2)

	b, err := json.Marshal(pub.sent[1].msg)
	require.NoError(t, err)
	var wire map[string]any
	require.NoError(t, json.Unmarshal(b, &wire))

	assert.Equal(t, []any{float64(11), float64(5400), "big defects", "https://y/hook", []any{}, []any{float64(1), float64(2)}}, wire["webhook"])
	conditions := wire["conditions"].(map[string]any)
	assert.Equal(t, map[string]any{"condition": "Estimate(3) > 5", "status": false}, conditions["2"])
	assert.NotContains(t, wire, "attempts")
}

func TestEvaluator_PublishFailureIsIsolated(t *testing.T) {
	pub := &fakePublisher{fail: map[int64]bool{10: true}}
	err := newTestEvaluator(pub).Handle(context.Background(), envelope(t, "updated", testWebhooks, testConditions))
	require.NoError(t, err)
	require.Len(t, pub.sent, 1)
	assert.Equal(t, "nogo", pub.sent[0].topic)
}

func TestEvaluator_OpaquePayloadFields(t *testing.T) {
	payload := `{
		"action": "updated",
		"subscription_id": "5400",
		"detail_link": {"href": "x"},
		"ref": 17,
		"object_type": "Defect",
		"state": {"a1": {"name": "State", "value": {"name": "Open"}}},
		"changes": {}
	}`
	data, err := json.Marshal(types.Envelope{
		MessageID:  "m-2",
		Action:     "updated",
		Payload:    payload,
		Conditions: `[[1, 5400, "a1", "State", "=", "Open"]]`,
		Webhooks:   `[[10, 5400, "open defects", "https://x/hook", ["Defect"], [1]]]`,
	})
	require.NoError(t, err)

	pub := &fakePublisher{}
	require.NoError(t, newTestEvaluator(pub).Handle(context.Background(), data))
	require.Len(t, pub.sent, 1)
	ready := pub.sent[0].msg.(*types.ReadyMessage)
	assert.JSONEq(t, payload, ready.Payload)
}

func TestEvaluator_SkipsUnsupportedAction(t *testing.T) {
	pub := &fakePublisher{}
	require.NoError(t, newTestEvaluator(pub).Handle(context.Background(), envelope(t, "Deleted", testWebhooks, testConditions)))
	assert.Empty(t, pub.sent)
}

func TestEvaluator_NoRelevantWebhooks(t *testing.T) {
	pub := &fakePublisher{}
	webhooks := `[[13, 5400, "stories", "https://z/hook", ["Story"], []]]`
	require.NoError(t, newTestEvaluator(pub).Handle(context.Background(), envelope(t, "updated", webhooks, testConditions)))
	assert.Empty(t, pub.sent)
}

func TestEvaluator_MalformedInput(t *testing.T) {
	pub := &fakePublisher{}
	ev := newTestEvaluator(pub)

	inputs := map[string][]byte{
		"not json":          []byte("{"),
		"bad payload":       []byte(`{"message_id": "m", "action": "updated", "payload": "{", "conditions": "[]", "webhooks": "[]"}`),
		"null payload":      []byte(`{"message_id": "m", "action": "updated", "payload": "null", "conditions": "[]", "webhooks": "[]"}`),
		"missing payload":   []byte(`{"message_id": "m", "action": "updated", "conditions": "[]", "webhooks": "[]"}`),
		"bad conditions":    envelope(t, "updated", testWebhooks, `[[1, 2]]`),
		"unknown operator":  envelope(t, "updated", testWebhooks, `[[1, 5400, "a1", "State", "like", "x"]]`),
		"bad webhooks":      envelope(t, "updated", `{"id": 1}`, testConditions),
		"webhooks not json": envelope(t, "updated", `nope`, testConditions),
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			err := ev.Handle(context.Background(), data)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
	assert.Empty(t, pub.sent)
}
