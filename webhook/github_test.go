package webhook

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gitfeed/internal"
	"gitfeed/pkg/storage"
)

const testSecret = "hunter2"

// memStore implements storage.EventStore keyed by (request_id, action),
// mirroring the real store's idempotent upsert.
type memStore struct {
	records map[[2]string]storage.EventRecord
	order   [][2]string
	failing bool
}

func newMemStore() *memStore {
	return &memStore{records: make(map[[2]string]storage.EventRecord)}
}

func (m *memStore) UpsertEvent(ctx context.Context, record storage.EventRecord) error {
	if m.failing {
		return storage.ErrUnavailable
	}
	key := [2]string{record.RequestID, record.Action}
	if _, exists := m.records[key]; !exists {
		m.order = append(m.order, key)
	}
	m.records[key] = record
	return nil
}

func (m *memStore) ListRecent(ctx context.Context, limit int) ([]storage.EventRecord, error) {
	if m.failing {
		return nil, storage.ErrUnavailable
	}
	out := make([]storage.EventRecord, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[m.order[i]])
	}
	return out, nil
}

func (m *memStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) Close() error { return nil }

func newTestHandler(t *testing.T, store storage.EventStore) *Handler {
	t.Helper()
	handler, err := NewHandler(store, Options{Secret: testSecret})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	handler.now = func() time.Time {
		return time.Date(2021, time.April, 1, 21, 30, 0, 0, time.UTC)
	}
	return handler
}

func deliver(handler http.Handler, eventName string, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("X-GitHub-Event", eventName)
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Hub-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestHandlerStoresPush tests the full accept path for a push delivery.
func TestHandlerStoresPush(t *testing.T) {
	store := newMemStore()
	handler := newTestHandler(t, store)

	body := []byte(pushBody)
	rec := deliver(handler, "push", body, signSHA1(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(store.records))
	}
	record := store.records[[2]string{"abc123", "PUSH"}]
	if record.Author != "Travis" || record.ToBranch != "staging" {
		t.Fatalf("unexpected record: %+v", record)
	}
	want := `Travis pushed to "staging" on 1st April 2021 - 9:30 PM UTC`
	if record.Message != want {
		t.Fatalf("message %q, want %q", record.Message, want)
	}
}

// TestHandlerRejectsBadSignature tests that an invalid signature yields
// 401 and leaves the store untouched, regardless of JSON validity.
func TestHandlerRejectsBadSignature(t *testing.T) {
	store := newMemStore()
	handler := newTestHandler(t, store)

	body := []byte(pushBody)
	rec := deliver(handler, "push", body, signSHA1(body, "wrong-secret"))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected store unchanged, got %d records", len(store.records))
	}

	rec = deliver(handler, "push", body, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing signature, got %d", rec.Code)
	}
}

// TestHandlerIgnoresUnrecognized tests that an uninteresting event type is
// acknowledged with 2xx and creates no record.
func TestHandlerIgnoresUnrecognized(t *testing.T) {
	store := newMemStore()
	handler := newTestHandler(t, store)

	body := []byte(`{"action":"opened","issue":{"number":1}}`)
	rec := deliver(handler, "issues", body, signSHA1(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for ignored event, got %d", rec.Code)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no records, got %d", len(store.records))
	}
}

// TestHandlerDropsClosedWithoutMerge tests that a PR closed without
// merging is acknowledged but not recorded.
func TestHandlerDropsClosedWithoutMerge(t *testing.T) {
	store := newMemStore()
	handler := newTestHandler(t, store)

	body := []byte(prBody("closed", false))
	rec := deliver(handler, "pull_request", body, signSHA1(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no records, got %d", len(store.records))
	}
}

// TestHandlerStoresMerge tests that a PR closed with merge records a
// MERGE event.
func TestHandlerStoresMerge(t *testing.T) {
	store := newMemStore()
	handler := newTestHandler(t, store)

	body := []byte(prBody("closed", true))
	rec := deliver(handler, "pull_request", body, signSHA1(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	record, ok := store.records[[2]string{"42", "MERGE"}]
	if !ok {
		t.Fatalf("expected MERGE record for request id 42")
	}
	if record.FromBranch != "staging" || record.ToBranch != "master" {
		t.Fatalf("unexpected branches: %+v", record)
	}
}

// TestHandlerRedelivery tests that redelivering the same payload leaves
// exactly one record.
func TestHandlerRedelivery(t *testing.T) {
	store := newMemStore()
	handler := newTestHandler(t, store)

	body := []byte(pushBody)
	sig := signSHA1(body, testSecret)
	for i := 0; i < 3; i++ {
		if rec := deliver(handler, "push", body, sig); rec.Code != http.StatusOK {
			t.Fatalf("delivery %d: expected 200, got %d", i, rec.Code)
		}
	}
	if len(store.records) != 1 {
		t.Fatalf("expected exactly 1 record after redelivery, got %d", len(store.records))
	}
}

// TestHandlerMalformedPayload tests that a recognized variant missing a
// required field yields 400.
func TestHandlerMalformedPayload(t *testing.T) {
	store := newMemStore()
	handler := newTestHandler(t, store)

	body := []byte(`{"ref":"refs/heads/main","sender":{"login":"Travis"},"repository":{"full_name":"a/b"}}`)
	rec := deliver(handler, "push", body, signSHA1(body, testSecret))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(store.records) != 0 {
		t.Fatalf("expected no records, got %d", len(store.records))
	}
}

// TestHandlerStoreUnavailable tests that a failing store maps to 503 so
// the sender retries.
func TestHandlerStoreUnavailable(t *testing.T) {
	store := newMemStore()
	store.failing = true
	handler := newTestHandler(t, store)

	body := []byte(pushBody)
	rec := deliver(handler, "push", body, signSHA1(body, testSecret))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandlerRejectsNonPost(t *testing.T) {
	handler := newTestHandler(t, newMemStore())
	req := httptest.NewRequest(http.MethodGet, "/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

type recordingNotifier struct {
	topics []string
	events []internal.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, topic string, event internal.Event) error {
	n.topics = append(n.topics, topic)
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

// TestHandlerNotifiesMatchedRules tests that stored events are published
// to the topics selected by the rule engine.
func TestHandlerNotifiesMatchedRules(t *testing.T) {
	rules, err := internal.NewRuleEngine([]internal.Rule{
		{When: `action == "PUSH" && to_branch == "staging"`, Emit: "events.staging-push"},
		{When: `action == "MERGE"`, Emit: "events.merged"},
	}, nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	notifier := &recordingNotifier{}
	handler, err := NewHandler(newMemStore(), Options{
		Secret:   testSecret,
		Rules:    rules,
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}

	body := []byte(pushBody)
	rec := deliver(handler, "push", body, signSHA1(body, testSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	if len(notifier.topics) != 1 || notifier.topics[0] != "events.staging-push" {
		t.Fatalf("expected one publish to events.staging-push, got %v", notifier.topics)
	}
	if notifier.events[0].RequestID != "abc123" {
		t.Fatalf("unexpected published event: %+v", notifier.events[0])
	}
}
