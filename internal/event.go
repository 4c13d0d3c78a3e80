package internal

import "time"

// Action is the canonical kind of a recorded repository action.
type Action string

const (
	ActionPush        Action = "PUSH"
	ActionPullRequest Action = "PULL_REQUEST"
	ActionMerge       Action = "MERGE"
)

// Event is the canonical record produced from one accepted webhook
// delivery. RequestID is the stable identifier of the underlying action
// (commit SHA for a push, numeric pull request id otherwise); together
// with Action it forms the idempotency key for redeliveries.
type Event struct {
	RequestID  string    `json:"request_id"`
	Author     string    `json:"author"`
	Action     Action    `json:"action"`
	FromBranch string    `json:"from_branch,omitempty"`
	ToBranch   string    `json:"to_branch"`
	Timestamp  time.Time `json:"timestamp"`
	Repository string    `json:"repository"`
	Message    string    `json:"formatted_message"`
}

// Flat returns the canonical fields as a flat map for rule evaluation.
func (e Event) Flat() map[string]interface{} {
	return map[string]interface{}{
		"request_id":  e.RequestID,
		"author":      e.Author,
		"action":      string(e.Action),
		"from_branch": e.FromBranch,
		"to_branch":   e.ToBranch,
		"repository":  e.Repository,
	}
}
