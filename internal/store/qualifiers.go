package store

import (
	"context"
	"fmt"

	"github.com/fraser-isbester/kingfisher/pkg/types"
)

const (
	selectWebhooks   = "SELECT id, sub_id, name, target_url, object_types, conditions FROM webhook WHERE sub_id = $1 ORDER BY id"
	selectConditions = "SELECT id, sub_id, attribute_uuid, attribute_name, operator, value FROM condition WHERE sub_id = $1 ORDER BY id"
)

// Qualifiers reads the webhooks and conditions registered for a subscription.
type Qualifiers struct {
	q Querier
}

func NewQualifiers(q Querier) *Qualifiers {
	return &Qualifiers{q: q}
}

// Webhooks returns ErrNotFound when the subscription has none.
func (s *Qualifiers) Webhooks(ctx context.Context, subID int64) ([]types.Webhook, error) {
	rows, err := s.q.Query(ctx, selectWebhooks, subID)
	if err != nil {
		return nil, fmt.Errorf("query webhooks: %w", err)
	}
	defer rows.Close()

	var webhooks []types.Webhook
	for rows.Next() {
		var (
			wh      types.Webhook
			condIDs []int64
		)
		if err := rows.Scan(&wh.ID, &wh.SubscriptionID, &wh.Name, &wh.TargetURL, &wh.ObjectTypes, &condIDs); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		wh.ConditionIDs = make([]types.ConditionID, len(condIDs))
		for i, id := range condIDs {
			wh.ConditionIDs[i] = types.ConditionID(id)
		}
		webhooks = append(webhooks, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	if len(webhooks) == 0 {
		return nil, fmt.Errorf("webhooks for subscription %d: %w", subID, ErrNotFound)
	}
	return webhooks, nil
}

func (s *Qualifiers) Conditions(ctx context.Context, subID int64) ([]types.Condition, error) {
	rows, err := s.q.Query(ctx, selectConditions, subID)
	if err != nil {
		return nil, fmt.Errorf("query conditions: %w", err)
	}
	defer rows.Close()

	var conditions []types.Condition
	for rows.Next() {
		var (
			c        types.Condition
			operator string
		)
		if err := rows.Scan(&c.ID, &c.SubscriptionID, &c.AttributeID, &c.AttributeName, &operator, &c.Value); err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		op, err := types.ParseOperator(operator)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", c.ID, err)
		}
		c.Operator = op
		conditions = append(conditions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return conditions, nil
}
