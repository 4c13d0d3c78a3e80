package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gitfeed/pkg/storage"
)

// EventsHandler serves the polling read side: the most recent events,
// newest first, as a JSON array. It never mutates the store.
type EventsHandler struct {
	Store storage.EventStore
	// DefaultLimit is used when the limit query parameter is absent.
	DefaultLimit int
	// MaxLimit caps the limit query parameter.
	MaxLimit int
	// QueryTimeout bounds each store read.
	QueryTimeout time.Duration
	Logger       *log.Logger
}

// eventView is the wire form of one event record.
type eventView struct {
	RequestID  string    `json:"request_id"`
	Author     string    `json:"author"`
	Action     string    `json:"action"`
	FromBranch string    `json:"from_branch,omitempty"`
	ToBranch   string    `json:"to_branch"`
	Timestamp  time.Time `json:"timestamp"`
	Repository string    `json:"repository"`
	Message    string    `json:"formatted_message"`
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Store == nil {
		http.Error(w, "storage not configured", http.StatusServiceUnavailable)
		return
	}

	limit, err := h.limit(r)
	if err != nil {
		http.Error(w, "invalid limit", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if h.QueryTimeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, h.QueryTimeout)
		defer cancel()
	}

	records, err := h.Store.ListRecent(ctx, limit)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Printf("list events failed: %v", err)
		}
		if errors.Is(err, storage.ErrUnavailable) {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "list events failed", http.StatusInternalServerError)
		return
	}

	views := make([]eventView, 0, len(records))
	for _, record := range records {
		views = append(views, eventView{
			RequestID:  record.RequestID,
			Author:     record.Author,
			Action:     record.Action,
			FromBranch: record.FromBranch,
			ToBranch:   record.ToBranch,
			Timestamp:  record.EventAt,
			Repository: record.Repository,
			Message:    record.Message,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil && h.Logger != nil {
		h.Logger.Printf("encode events failed: %v", err)
	}
}

func (h *EventsHandler) limit(r *http.Request) (int, error) {
	limit := h.DefaultLimit
	if limit <= 0 {
		limit = 10
	}
	max := h.MaxLimit
	if max <= 0 {
		max = 100
	}

	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return 0, errors.New("limit must be a positive integer")
		}
		limit = parsed
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}
