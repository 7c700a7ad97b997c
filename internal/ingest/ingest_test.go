package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraser-isbester/kingfisher/internal/processor"
	"github.com/fraser-isbester/kingfisher/internal/store"
	"github.com/fraser-isbester/kingfisher/pkg/types"
)

type fakeStore struct {
	webhooks   []types.Webhook
	conditions []types.Condition
	err        error
	subIDs     []int64
}

func (f *fakeStore) Webhooks(_ context.Context, subID int64) ([]types.Webhook, error) {
	f.subIDs = append(f.subIDs, subID)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.webhooks) == 0 {
		return nil, store.ErrNotFound
	}
	return f.webhooks, nil
}

func (f *fakeStore) Conditions(_ context.Context, subID int64) ([]types.Condition, error) {
	return f.conditions, nil
}

type fakePublisher struct {
	topic string
	msg   any
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, msg any) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("publish without deadline")
	}
	if f.err != nil {
		return "", f.err
	}
	f.topic, f.msg = topic, msg
	return "srv-1", nil
}

const notificationJSON = `{
	"value": {
		"transaction": {"message_id": "m-42", "trace_id": "t", "timestamp": 1},
		"entities": {
			"obj-1": {"action": "Updated", "subscription_id": 5400, "object_type": "Defect", "state": {}, "changes": {}},
			"obj-2": {"action": "Created", "subscription_id": 9900, "object_type": "Story"}
		}
	}
}`

func newTestIngester(s QualifierStore, p processor.Publisher) *Ingester {
	in := New(s, p, "kf-evaluate", time.Second)
	in.now = func() time.Time { return time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC) }
	return in
}

func TestIngester_Handle(t *testing.T) {
	st := &fakeStore{
		webhooks: []types.Webhook{{ID: 10, SubscriptionID: 5400, Name: "w", TargetURL: "https://x/hook", ConditionIDs: []types.ConditionID{1}}},
		conditions: []types.Condition{
			{ID: 1, SubscriptionID: 5400, AttributeID: "a1", AttributeName: "State", Operator: types.OpEqual, Value: "Open"},
		},
	}
	pub := &fakePublisher{}

	require.NoError(t, newTestIngester(st, pub).Handle(context.Background(), []byte(notificationJSON)))
	assert.Equal(t, []int64{5400}, st.subIDs)
	assert.Equal(t, "kf-evaluate", pub.topic)

	env, ok := pub.msg.(*types.Envelope)
	require.True(t, ok)
	assert.Equal(t, "m-42", env.MessageID)
	assert.Equal(t, "Updated", env.Action)
	assert.Equal(t, "2020-01-02 03:04:05", env.ProcessedTimestamp)
	assert.JSONEq(t, `{"action": "Updated", "subscription_id": 5400, "object_type": "Defect", "state": {}, "changes": {}}`, env.Payload)
	assert.JSONEq(t, `[[10, 5400, "w", "https://x/hook", [], [1]]]`, env.Webhooks)
	assert.JSONEq(t, `[[1, 5400, "a1", "State", "=", "Open"]]`, env.Conditions)

	// The envelope round-trips through the evaluator's decoder.
	b, err := json.Marshal(env)
	require.NoError(t, err)
	work, err := processor.DecodeEnvelope(b)
	require.NoError(t, err)
	assert.Equal(t, "Defect", work.Event.ObjectType)
	require.Len(t, work.Webhooks, 1)
	assert.Equal(t, "https://x/hook", work.Webhooks[0].TargetURL)
}

func TestIngester_EmptyConditions(t *testing.T) {
	st := &fakeStore{webhooks: []types.Webhook{{ID: 10, SubscriptionID: 5400}}}
	pub := &fakePublisher{}
	require.NoError(t, newTestIngester(st, pub).Handle(context.Background(), []byte(notificationJSON)))
	assert.Equal(t, "[]", pub.msg.(*types.Envelope).Conditions)
}

func TestIngester_StringSubscriptionID(t *testing.T) {
	st := &fakeStore{webhooks: []types.Webhook{{ID: 10, SubscriptionID: 5400}}}
	pub := &fakePublisher{}
	data := `{"value": {"transaction": {"message_id": "m"}, "entities": {"o": {
		"action": "created", "subscription_id": "5400", "detail_link": {"href": "x"}, "object_type": "Defect"
	}}}}`

	require.NoError(t, newTestIngester(st, pub).Handle(context.Background(), []byte(data)))
	assert.Equal(t, []int64{5400}, st.subIDs)
	require.NotNil(t, pub.msg)
}

func TestIngester_Skips(t *testing.T) {
	tests := map[string]struct {
		data  string
		store *fakeStore
	}{
		"no webhooks": {
			data:  notificationJSON,
			store: &fakeStore{},
		},
		"deleted": {
			data:  `{"value": {"transaction": {"message_id": "m"}, "entities": {"o": {"action": "Deleted", "subscription_id": 1}}}}`,
			store: &fakeStore{webhooks: []types.Webhook{{ID: 1}}},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			pub := &fakePublisher{}
			require.NoError(t, newTestIngester(tt.store, pub).Handle(context.Background(), []byte(tt.data)))
			assert.Nil(t, pub.msg)
		})
	}
}

func TestIngester_Malformed(t *testing.T) {
	inputs := map[string]string{
		"not json":       `{`,
		"no entities":    `{"value": {"transaction": {"message_id": "m"}}}`,
		"empty entities": `{"value": {"entities": {}}}`,
		"entities list":  `{"value": {"entities": []}}`,
		"bad entity":     `{"value": {"entities": {"o": {"action": "updated", "subscription_id": "x"}}}}`,
		"no sub id":      `{"value": {"entities": {"o": {"action": "updated"}}}}`,
		"entity list":    `{"value": {"entities": {"o": []}}}`,
	}
	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			err := newTestIngester(&fakeStore{}, &fakePublisher{}).Handle(context.Background(), []byte(data))
			assert.ErrorIs(t, err, ErrMalformedNotification)
		})
	}
}

func TestIngester_Failures(t *testing.T) {
	webhooks := []types.Webhook{{ID: 1, SubscriptionID: 5400}}

	err := newTestIngester(&fakeStore{err: errors.New("db down")}, &fakePublisher{}).
		Handle(context.Background(), []byte(notificationJSON))
	assert.ErrorContains(t, err, "load webhooks")

	err = newTestIngester(&fakeStore{webhooks: webhooks}, &fakePublisher{err: errors.New("broker unavailable")}).
		Handle(context.Background(), []byte(notificationJSON))
	assert.ErrorContains(t, err, "publish envelope to kf-evaluate")
}

func TestFirstEntity_DocumentOrder(t *testing.T) {
	key, entity, err := firstEntity(json.RawMessage(`{"z": {"n": 1}, "a": {"n": 2}}`))
	require.NoError(t, err)
	assert.Equal(t, "z", key)
	assert.JSONEq(t, `{"n": 1}`, string(entity))
}
