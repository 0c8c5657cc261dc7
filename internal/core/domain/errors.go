package domain

import "errors"

var (
	// ErrFeedUnavailable covers transport errors, timeouts and non-2xx responses.
	ErrFeedUnavailable = errors.New("feed unavailable")

	// ErrFeedMalformed is reported when the feed document is not well-formed XML.
	ErrFeedMalformed = errors.New("feed malformed")

	// ErrRecordInvalid marks a single occurrence that could not be normalized.
	ErrRecordInvalid = errors.New("record invalid")

	// ErrPersistence wraps any store write failure.
	ErrPersistence = errors.New("persistence failure")

	// ErrRetriesExhausted is returned once a scheduled run used up its retries.
	ErrRetriesExhausted = errors.New("retries exhausted")
)
