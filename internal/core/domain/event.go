package domain

import "github.com/google/uuid"

// Layouts used for the split date/time columns.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05.999999"
)

// NormalizedEvent is one bookable occurrence as produced by the feed parser.
type NormalizedEvent struct {
	// ProviderUniqueID is BaseEventID + "_" + EventID, the natural key.
	ProviderUniqueID    string   `json:"provider_unique_id"`
	ProviderBaseEventID string   `json:"provider_base_event_id"`
	ProviderEventID     string   `json:"provider_event_id"`
	Title               string   `json:"title"`
	StartDate           string   `json:"start_date"`
	StartTime           string   `json:"start_time"`
	EndDate             string   `json:"end_date"`
	EndTime             string   `json:"end_time"`
	MinPrice            *float64 `json:"min_price"`
	MaxPrice            *float64 `json:"max_price"`
}

// StoredEvent is the persisted form of a NormalizedEvent.
// ID is assigned on first insert and never changes afterwards.
type StoredEvent struct {
	ID uuid.UUID `json:"id"`
	NormalizedEvent
}

// ProviderKey builds the natural key for an occurrence.
func ProviderKey(baseEventID, eventID string) string {
	return baseEventID + "_" + eventID
}
