// Package parser turns the provider's XML feed into normalized events.
//
// Parsing is pure: it performs no I/O and never fails the whole document for
// a bad record. Only a document that is not well-formed XML yields no events.
package parser

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/vietddude/feedsync/internal/core/domain"
)

// SellModeOnline is the only sell mode whose occurrences are ingested.
const SellModeOnline = "online"

type xmlBaseEvent struct {
	ID       string     `xml:"base_event_id,attr"`
	Title    string     `xml:"title,attr"`
	SellMode string     `xml:"sell_mode,attr"`
	Events   []xmlEvent `xml:"event"`
}

type xmlEvent struct {
	ID    string    `xml:"event_id,attr"`
	Start string    `xml:"event_start_date,attr"`
	End   string    `xml:"event_end_date,attr"`
	Zones []xmlZone `xml:"zone"`
}

type xmlZone struct {
	Price string `xml:"price,attr"`
}

// Result is the detailed outcome of parsing one document.
type Result struct {
	Events []domain.NormalizedEvent

	// SkippedOffline counts base events whose sell mode is not online.
	SkippedOffline int
	// InvalidRecords counts occurrences dropped for bad timestamps.
	InvalidRecords int
	// InvalidPrices counts zone prices that were not numeric and became 0.
	InvalidPrices int

	// Err wraps domain.ErrFeedMalformed when the document is not valid XML.
	Err error
}

// Parse returns the normalized events of a feed document in feed order.
// Malformed XML yields an empty slice.
func Parse(raw []byte) []domain.NormalizedEvent {
	return ParseFeed(raw).Events
}

// ParseFeed parses a feed document and reports what was skipped.
func ParseFeed(raw []byte) Result {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = charset.NewReaderLabel

	var res Result
	events := make([]domain.NormalizedEvent, 0)
	sawRoot := false
	rootClosed := false
	depth := 0

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return malformed(err)
		}

		var start xml.StartElement
		switch t := tok.(type) {
		case xml.StartElement:
			start = t
		case xml.EndElement:
			depth--
			if depth == 0 {
				rootClosed = true
			}
			continue
		case xml.CharData:
			if rootClosed && len(bytes.TrimSpace(t)) > 0 {
				return malformed(errors.New("text after the root element"))
			}
			continue
		default:
			continue
		}

		// A well-formed document has exactly one root element.
		if rootClosed {
			return malformed(fmt.Errorf("element <%s> after the root element", start.Name.Local))
		}
		sawRoot = true
		if start.Name.Local != "base_event" {
			depth++
			continue
		}

		var base xmlBaseEvent
		if err := dec.DecodeElement(&base, &start); err != nil {
			return malformed(err)
		}
		if depth == 0 {
			rootClosed = true
		}
		if base.SellMode != SellModeOnline {
			res.SkippedOffline++
			continue
		}

		for _, occ := range base.Events {
			ev, badPrices, err := normalize(base, occ)
			res.InvalidPrices += badPrices
			if err != nil {
				res.InvalidRecords++
				slog.Warn("Skipping feed record", "base_event_id", base.ID, "event_id", occ.ID, "error", err)
				continue
			}
			events = append(events, ev)
		}
	}

	if !sawRoot {
		return malformed(errors.New("document is empty"))
	}

	res.Events = events
	return res
}

func malformed(err error) Result {
	slog.Error("Failed to parse feed XML", "error", err)
	return Result{
		Events: []domain.NormalizedEvent{},
		Err:    fmt.Errorf("%w: %w", domain.ErrFeedMalformed, err),
	}
}

// normalize builds one event. It returns the number of zone prices that had
// to be defaulted, and an error wrapping domain.ErrRecordInvalid when the
// occurrence must be dropped.
func normalize(base xmlBaseEvent, occ xmlEvent) (domain.NormalizedEvent, int, error) {
	start, err := ParseTimestamp(occ.Start)
	if err != nil {
		return domain.NormalizedEvent{}, 0, fmt.Errorf("%w: event_start_date: %w", domain.ErrRecordInvalid, err)
	}
	end, err := ParseTimestamp(occ.End)
	if err != nil {
		return domain.NormalizedEvent{}, 0, fmt.Errorf("%w: event_end_date: %w", domain.ErrRecordInvalid, err)
	}

	var minPrice, maxPrice *float64
	badPrices := 0
	for _, zone := range occ.Zones {
		price, err := parsePrice(zone.Price)
		if err != nil {
			badPrices++
			slog.Warn("Invalid zone price, using 0",
				"base_event_id", base.ID, "event_id", occ.ID, "price", zone.Price)
		}
		if minPrice == nil || price < *minPrice {
			v := price
			minPrice = &v
		}
		if maxPrice == nil || price > *maxPrice {
			v := price
			maxPrice = &v
		}
	}

	return domain.NormalizedEvent{
		ProviderUniqueID:    domain.ProviderKey(base.ID, occ.ID),
		ProviderBaseEventID: base.ID,
		ProviderEventID:     occ.ID,
		Title:               base.Title,
		StartDate:           start.Format(domain.DateLayout),
		StartTime:           start.Format(domain.TimeLayout),
		EndDate:             end.Format(domain.DateLayout),
		EndTime:             end.Format(domain.TimeLayout),
		MinPrice:            minPrice,
		MaxPrice:            maxPrice,
	}, badPrices, nil
}

// parsePrice treats a missing or blank price as 0. A non-numeric price is
// also 0 but reported as an error.
func parsePrice(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("price %q is not finite", raw)
	}
	return v, nil
}
