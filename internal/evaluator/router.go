// Package evaluator decides which webhooks an object-change event should be
// dispatched to. It is synchronous and keeps no state between calls, so it
// is safe to use from many goroutines at once.
package evaluator

import (
	"log/slog"

	"github.com/fraser-isbester/kingfisher/pkg/types"
)

// Outcome is the decision for one webhook.
type Outcome struct {
	Event    *types.ChangeEvent
	Webhook  types.Webhook
	Verdicts types.Verdicts
	Ready    bool
}

// Result is everything Route decided for one event.
type Result struct {
	Verdicts types.Verdicts
	// Outcomes follow webhook input order. Ready webhooks whose target was
	// already claimed by an earlier ready webhook are left out.
	Outcomes []Outcome
}

// Ready returns the outcomes to deliver.
func (r Result) Ready() []Outcome {
	return r.filter(true)
}

// Disqualified returns the outcomes whose conditions did not all hold.
func (r Result) Disqualified() []Outcome {
	return r.filter(false)
}

func (r Result) filter(ready bool) []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Ready == ready {
			out = append(out, o)
		}
	}
	return out
}

// EvaluateAll evaluates every condition once against event.
func EvaluateAll(event *types.ChangeEvent, conditions []types.Condition) types.Verdicts {
	verdicts := make(types.Verdicts, len(conditions))
	for _, cond := range conditions {
		verdicts[cond.ID] = Evaluate(cond, event)
	}
	return verdicts
}

// Qualified reports whether every condition of wh holds. A condition with no
// verdict counts as failed; a webhook without conditions always qualifies.
func Qualified(wh types.Webhook, verdicts types.Verdicts) bool {
	for _, id := range wh.ConditionIDs {
		if v, ok := verdicts[id]; !ok || !v.Status {
			return false
		}
	}
	return true
}

// Route evaluates event for the given webhooks and conditions and classifies
// every relevant webhook as ready or disqualified. Only created and updated
// events are routed. A target URL receives at most one ready outcome per call.
func Route(event *types.ChangeEvent, action string, webhooks []types.Webhook, conditions []types.Condition) Result {
	if event == nil || !types.Evaluable(action) {
		return Result{}
	}

	relevant := RelevantWebhooks(webhooks, event.ObjectType)
	if len(relevant) == 0 {
		slog.Debug("no relevant webhooks", "object_type", event.ObjectType)
		return Result{}
	}

	verdicts := EvaluateAll(event, RelevantConditions(relevant, conditions))

	result := Result{Verdicts: verdicts}
	fired := make(map[string]struct{})
	for _, wh := range relevant {
		ready := Qualified(wh, verdicts)
		if ready {
			if _, dup := fired[wh.TargetURL]; dup {
				slog.Debug("target already dispatched for event",
					"webhook_id", wh.ID,
					"target_url", wh.TargetURL,
				)
				continue
			}
			fired[wh.TargetURL] = struct{}{}
		}
		result.Outcomes = append(result.Outcomes, Outcome{
			Event:    event,
			Webhook:  wh,
			Verdicts: verdicts,
			Ready:    ready,
		})
	}
	return result
}
