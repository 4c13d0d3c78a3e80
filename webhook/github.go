package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"gitfeed/internal"
	"gitfeed/pkg/storage"
)

// Options configures the ingestion handler.
type Options struct {
	Secret       string
	Scheme       Scheme
	MaxBodyBytes int64
	StoreTimeout time.Duration
	Rules        *internal.RuleEngine
	Notifier     internal.Notifier
	Logger       *log.Logger
}

// Handler ingests GitHub webhook deliveries: verify, classify, normalize,
// store, notify. It is stateless per request; concurrent deliveries only
// share the store, whose upsert is atomic per idempotency key.
type Handler struct {
	secret       string
	scheme       Scheme
	maxBody      int64
	storeTimeout time.Duration
	store        storage.EventStore
	rules        *internal.RuleEngine
	notifier     internal.Notifier
	logger       *log.Logger

	// now is stubbed in tests.
	now func() time.Time
}

// NewHandler builds the ingestion handler. The secret is required: an
// unconfigured secret would make every delivery unverifiable, so
// construction fails instead of silently accepting traffic.
func NewHandler(store storage.EventStore, opts Options) (*Handler, error) {
	if store == nil {
		return nil, errors.New("event store is required")
	}
	if opts.Secret == "" {
		return nil, errors.New("webhook secret is required")
	}
	if opts.Scheme == "" {
		opts.Scheme = SchemeSHA1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Handler{
		secret:       opts.Secret,
		scheme:       opts.Scheme,
		maxBody:      opts.MaxBodyBytes,
		storeTimeout: opts.StoreTimeout,
		store:        store,
		rules:        opts.Rules,
		notifier:     opts.Notifier,
		logger:       opts.Logger,
		now:          time.Now,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeStatus(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rawBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if !VerifySignature(rawBody, r.Header.Get(h.scheme.SignatureHeader()), h.secret, h.scheme) {
		internal.IncSignatureReject()
		writeStatus(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	eventName := r.Header.Get("X-GitHub-Event")
	internal.IncDelivery(eventName)

	kind := Classify(eventName, rawBody)
	if kind == KindIgnored || kind == KindPRClosed {
		internal.IncIgnored(eventName)
		writeStatus(w, http.StatusOK, "ignored")
		return
	}

	event, err := Normalize(kind, rawBody, h.now())
	if err != nil {
		h.logger.Printf("normalize %s failed: %v", eventName, err)
		writeStatus(w, http.StatusBadRequest, "malformed payload")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.storeTimeout)
	defer cancel()
	if err := h.store.UpsertEvent(ctx, toRecord(event)); err != nil {
		internal.IncStoreError()
		h.logger.Printf("store %s %s failed: %v", event.Action, event.RequestID, err)
		writeStatus(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	internal.IncStored(event.Action)

	h.notify(r.Context(), event, rawBody)

	writeStatus(w, http.StatusOK, "created")
}

// notify publishes the stored event to every matched topic. Failures are
// logged and counted; the delivery is already acknowledged as stored.
func (h *Handler) notify(ctx context.Context, event internal.Event, rawBody []byte) {
	if h.rules == nil || h.notifier == nil {
		return
	}
	var payload map[string]interface{}
	flat := map[string]interface{}{}
	if err := json.Unmarshal(rawBody, &payload); err == nil {
		flat = internal.Flatten(payload)
	}
	for _, topic := range h.rules.Evaluate(event, flat) {
		if err := h.notifier.Notify(ctx, topic, event); err != nil {
			internal.IncNotifyError()
			h.logger.Printf("notify %s failed: %v", topic, err)
		}
	}
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

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
}
