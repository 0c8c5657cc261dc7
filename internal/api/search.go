package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/feedsync/internal/core/domain"
	"github.com/vietddude/feedsync/internal/ingest/parser"
)

// EventSummary is one event in a search response.
type EventSummary struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	StartDate string    `json:"start_date"`
	StartTime *string   `json:"start_time"`
	EndDate   *string   `json:"end_date"`
	EndTime   *string   `json:"end_time"`
	MinPrice  *float64  `json:"min_price"`
	MaxPrice  *float64  `json:"max_price"`
}

// EventList is the data payload of a successful search.
type EventList struct {
	Events []EventSummary `json:"events"`
}

// ErrorBody describes a failed request. Code is the HTTP status as a string.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchResponse carries either data or error, the other being null.
type SearchResponse struct {
	Data  *EventList `json:"data"`
	Error *ErrorBody `json:"error"`
}

// handleSearch returns events with start_date >= starts_at's date and
// end_date <= ends_at's date. Times without an offset are taken as UTC.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	startsAt, err := timeParam(q, "starts_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	endsAt, err := timeParam(q, "ends_at")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !startsAt.Before(endsAt) {
		writeError(w, http.StatusBadRequest, "starts_at must be before ends_at")
		return
	}

	events, err := s.events.Search(r.Context(),
		startsAt.Format(domain.DateLayout),
		endsAt.Format(domain.DateLayout),
	)
	if err != nil {
		slog.Error("Search failed", "starts_at", startsAt, "ends_at", endsAt, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to search events")
		return
	}

	list := &EventList{Events: make([]EventSummary, 0, len(events))}
	for _, e := range events {
		list.Events = append(list.Events, toSummary(e))
	}
	writeJSON(w, http.StatusOK, SearchResponse{Data: list})
}

func timeParam(q url.Values, name string) (time.Time, error) {
	raw := q.Get(name)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%s is required", name)
	}
	t, err := parser.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an ISO-8601 datetime", name)
	}
	return t, nil
}

func toSummary(e domain.StoredEvent) EventSummary {
	return EventSummary{
		ID:        e.ID,
		Title:     e.Title,
		StartDate: e.StartDate,
		StartTime: optional(e.StartTime),
		EndDate:   optional(e.EndDate),
		EndTime:   optional(e.EndTime),
		MinPrice:  e.MinPrice,
		MaxPrice:  e.MaxPrice,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, SearchResponse{
		Error: &ErrorBody{Code: strconv.Itoa(status), Message: msg},
	})
}
