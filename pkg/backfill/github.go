package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"gitfeed/internal"
	"gitfeed/pkg/storage"

	gh "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const defaultBaseURL = "https://api.github.com"

// Backfiller seeds the event store from the platform's REST events API,
// so a fresh deployment shows history before the first webhook delivery
// arrives. Upserts share the webhook pipeline's idempotency key, so a
// backfilled event and its later redelivery collapse into one record.
type Backfiller struct {
	client *gh.Client
	store  storage.EventStore
	logger *log.Logger
	owner  string
	repo   string
	pages  int
}

// New builds a Backfiller for the configured repository. The token is
// optional for public repositories.
func New(cfg internal.BackfillConfig, store storage.EventStore, logger *log.Logger) (*Backfiller, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	owner, repo, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("backfill repo must be owner/name, got %q", cfg.Repo)
	}
	if logger == nil {
		logger = log.Default()
	}

	httpClient := oauth2.NewClient(context.Background(), nil)
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	client := gh.NewClient(httpClient)
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL != "" && baseURL != defaultBaseURL {
		var err error
		client, err = gh.NewEnterpriseClient(baseURL, baseURL, httpClient)
		if err != nil {
			return nil, err
		}
	}

	pages := cfg.Pages
	if pages < 1 {
		pages = 1
	}
	return &Backfiller{
		client: client,
		store:  store,
		logger: logger,
		owner:  owner,
		repo:   repo,
		pages:  pages,
	}, nil
}

// Run lists recent repository events and upserts the ones gitfeed
// records. It returns the number of events stored.
func (b *Backfiller) Run(ctx context.Context) (int, error) {
	stored := 0
	for page := 1; page <= b.pages; page++ {
		events, resp, err := b.client.Activity.ListRepositoryEvents(ctx, b.owner, b.repo, &gh.ListOptions{
			Page:    page,
			PerPage: 100,
		})
		if err != nil {
			return stored, fmt.Errorf("list repository events: %w", err)
		}

		for _, apiEvent := range events {
			event, ok := b.convert(apiEvent)
			if !ok {
				continue
			}
			if err := b.store.UpsertEvent(ctx, toRecord(event)); err != nil {
				return stored, fmt.Errorf("store %s %s: %w", event.Action, event.RequestID, err)
			}
			stored++
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
	}
	return stored, nil
}

// convert maps one REST API event onto the canonical record. Events that
// the webhook pipeline would ignore are skipped here too.
func (b *Backfiller) convert(apiEvent *gh.Event) (internal.Event, bool) {
	if apiEvent == nil || apiEvent.GetActor().GetLogin() == "" {
		return internal.Event{}, false
	}
	payload, err := apiEvent.ParsePayload()
	if err != nil {
		b.logger.Printf("backfill: parse %s payload failed: %v", apiEvent.GetType(), err)
		return internal.Event{}, false
	}

	event := internal.Event{
		Author:     apiEvent.GetActor().GetLogin(),
		Timestamp:  apiEvent.GetCreatedAt().UTC(),
		Repository: apiEvent.GetRepo().GetName(),
	}

	switch typed := payload.(type) {
	case *gh.PushEvent:
		if typed.GetHead() == "" || typed.GetRef() == "" {
			return internal.Event{}, false
		}
		event.Action = internal.ActionPush
		event.RequestID = typed.GetHead()
		event.ToBranch = strings.TrimPrefix(typed.GetRef(), "refs/heads/")
	case *gh.PullRequestEvent:
		pr := typed.GetPullRequest()
		if pr.GetID() == 0 || pr.GetHead().GetRef() == "" || pr.GetBase().GetRef() == "" {
			return internal.Event{}, false
		}
		switch typed.GetAction() {
		case "opened", "reopened":
			event.Action = internal.ActionPullRequest
		case "closed":
			if !pr.GetMerged() {
				return internal.Event{}, false
			}
			event.Action = internal.ActionMerge
		default:
			return internal.Event{}, false
		}
		event.RequestID = strconv.FormatInt(pr.GetID(), 10)
		event.FromBranch = pr.GetHead().GetRef()
		event.ToBranch = pr.GetBase().GetRef()
	default:
		return internal.Event{}, false
	}

	event.Message = internal.FormatMessage(event)
	return event, true
}

func toRecord(event internal.Event) storage.EventRecord {
	return storage.EventRecord{
		RequestID:  event.RequestID,
		Author:     event.Author,
		Action:     string(event.Action),
		FromBranch: event.FromBranch,
		ToBranch:   event.ToBranch,
		EventAt:    event.Timestamp,
		Repository: event.Repository,
		Message:    event.Message,
	}
}
