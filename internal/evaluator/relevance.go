package evaluator

import "github.com/fraser-isbester/kingfisher/pkg/types"

// RelevantWebhooks returns the webhooks that apply to objectType, in order.
func RelevantWebhooks(webhooks []types.Webhook, objectType string) []types.Webhook {
	var relevant []types.Webhook
	for _, wh := range webhooks {
		if wh.MatchesObjectType(objectType) {
			relevant = append(relevant, wh)
		}
	}
	return relevant
}

// RelevantConditions returns the conditions referenced by at least one of
// webhooks. Unreferenced conditions are never evaluated.
func RelevantConditions(webhooks []types.Webhook, conditions []types.Condition) []types.Condition {
	referenced := make(map[types.ConditionID]struct{})
	for _, wh := range webhooks {
		for _, id := range wh.ConditionIDs {
			referenced[id] = struct{}{}
		}
	}

	var relevant []types.Condition
	for _, cond := range conditions {
		if _, ok := referenced[cond.ID]; ok {
			relevant = append(relevant, cond)
		}
	}
	return relevant
}
