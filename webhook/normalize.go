package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gitfeed/internal"

	"github.com/go-playground/webhooks/v6/github"
)

// ErrMalformedPayload reports a recognized delivery missing a field the
// canonical record requires. The handler maps it to a client error.
var ErrMalformedPayload = errors.New("malformed payload")

// Normalize maps a classified delivery body onto the canonical Event.
// KindIgnored and KindPRClosed never reach this point; passing them is a
// programming error and reports ErrMalformedPayload.
func Normalize(kind Kind, body []byte, receivedAt time.Time) (internal.Event, error) {
	switch kind {
	case KindPush:
		return normalizePush(body, receivedAt)
	case KindPROpened:
		return normalizePullRequest(body, receivedAt, internal.ActionPullRequest)
	case KindPRMerged:
		return normalizePullRequest(body, receivedAt, internal.ActionMerge)
	default:
		return internal.Event{}, fmt.Errorf("%w: kind %d has no canonical form", ErrMalformedPayload, kind)
	}
}

func normalizePush(body []byte, receivedAt time.Time) (internal.Event, error) {
	var payload github.PushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return internal.Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.After == "" || payload.Ref == "" || payload.Sender.Login == "" || payload.Repository.FullName == "" {
		return internal.Event{}, fmt.Errorf("%w: push delivery missing after, ref, sender or repository", ErrMalformedPayload)
	}

	event := internal.Event{
		RequestID:  payload.After,
		Author:     payload.Sender.Login,
		Action:     internal.ActionPush,
		ToBranch:   BranchFromRef(payload.Ref),
		Timestamp:  pushTimestamp(payload, receivedAt),
		Repository: payload.Repository.FullName,
	}
	event.Message = internal.FormatMessage(event)
	return event, nil
}

func normalizePullRequest(body []byte, receivedAt time.Time, action internal.Action) (internal.Event, error) {
	var payload github.PullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return internal.Event{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	pr := payload.PullRequest
	if pr.ID == 0 || pr.Head.Ref == "" || pr.Base.Ref == "" || payload.Sender.Login == "" || payload.Repository.FullName == "" {
		return internal.Event{}, fmt.Errorf("%w: pull_request delivery missing id, refs, sender or repository", ErrMalformedPayload)
	}

	event := internal.Event{
		RequestID:  strconv.FormatInt(pr.ID, 10),
		Author:     payload.Sender.Login,
		Action:     action,
		FromBranch: pr.Head.Ref,
		ToBranch:   pr.Base.Ref,
		Timestamp:  receivedAt.UTC(),
		Repository: payload.Repository.FullName,
	}
	event.Message = internal.FormatMessage(event)
	return event, nil
}

// pushTimestamp prefers the platform-reported head commit timestamp and
// falls back to the receipt time when it is absent or unparseable.
func pushTimestamp(payload github.PushPayload, receivedAt time.Time) time.Time {
	if raw := payload.HeadCommit.Timestamp; raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.UTC()
		}
	}
	return receivedAt.UTC()
}

// BranchFromRef strips the refs/heads/ prefix from a git ref. Nested
// branch names such as refs/heads/feature/test survive intact.
func BranchFromRef(ref string) string {
	return strings.TrimPrefix(ref, "refs/heads/")
}
