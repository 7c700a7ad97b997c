package types

// TimestampLayout is the format of processed_timestamp fields.
const TimestampLayout = "2006-01-02 15:04:05"

// EligibleNow is the eligible value stamped on fresh ready messages. It lies
// far in the past so the retry scheduler picks the message up at once.
const EligibleNow int64 = 1000

// Envelope is one unit of evaluation work. Payload, Conditions and Webhooks
// are JSON documents carried as strings.
type Envelope struct {
	MessageID          string `json:"message_id"`
	Action             string `json:"action"`
	Payload            string `json:"payload"`
	Conditions         string `json:"conditions"`
	Webhooks           string `json:"webhooks"`
	ProcessedTimestamp string `json:"processed_timestamp"`
}

// Verdict is the result of evaluating one condition against one event.
type Verdict struct {
	Expression string `json:"condition"`
	Status     bool   `json:"status"`
}

// Verdicts maps each evaluated condition to its verdict.
type Verdicts map[ConditionID]Verdict

// DisqualifiedMessage is published for a webhook whose conditions did not all hold.
type DisqualifiedMessage struct {
	MessageID          string   `json:"message_id"`
	Action             string   `json:"action"`
	Webhook            Webhook  `json:"webhook"`
	Payload            string   `json:"payload"`
	ProcessedTimestamp string   `json:"processed_timestamp"`
	Conditions         Verdicts `json:"conditions"`
}

// ReadyMessage is published for a webhook that qualified and should be delivered.
// Attempts and Eligible belong to the downstream retry scheduler.
type ReadyMessage struct {
	MessageID          string  `json:"message_id"`
	Action             string  `json:"action"`
	Webhook            Webhook `json:"webhook"`
	Payload            string  `json:"payload"`
	ProcessedTimestamp string  `json:"processed_timestamp"`
	Attempts           int     `json:"attempts"`
	Eligible           int64   `json:"eligible"`
}
