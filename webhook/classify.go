package webhook

import "encoding/json"

// Kind is the classified shape of one webhook delivery.
type Kind int

const (
	// KindIgnored covers every delivery gitfeed does not record: unknown
	// event types, pull request actions other than open/reopen/close, and
	// pull requests closed without merging. Ignored deliveries are
	// acknowledged with 2xx so the platform does not disable the hook.
	KindIgnored Kind = iota
	KindPush
	KindPROpened
	KindPRMerged
	KindPRClosed
)

// prProbe is the minimal envelope needed to classify a pull_request
// delivery; the full payload is only decoded during normalization.
type prProbe struct {
	Action      string `json:"action"`
	PullRequest struct {
		Merged bool `json:"merged"`
	} `json:"pull_request"`
}

// Classify maps the event type header plus the delivery body onto a Kind.
// It never fails: anything unrecognized is KindIgnored.
func Classify(eventHeader string, body []byte) Kind {
	switch eventHeader {
	case "push":
		return KindPush
	case "pull_request":
		var probe prProbe
		if err := json.Unmarshal(body, &probe); err != nil {
			return KindIgnored
		}
		switch probe.Action {
		case "opened", "reopened":
			return KindPROpened
		case "closed":
			if probe.PullRequest.Merged {
				return KindPRMerged
			}
			return KindPRClosed
		default:
			return KindIgnored
		}
	default:
		return KindIgnored
	}
}
