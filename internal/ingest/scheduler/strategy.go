package scheduler

import (
	"context"
	"errors"
	"math"
	"time"
)

// FailureCategory tells the scheduler whether an attempt may be retried.
type FailureCategory int

const (
	CategoryTransient FailureCategory = iota
	CategoryPermanent
)

// Classifier maps an attempt error to a FailureCategory.
type Classifier func(err error) FailureCategory

// RetryStrategy defines how retries should be handled.
type RetryStrategy interface {
	// GetDelay returns the delay before the given retry (1-indexed).
	GetDelay(retry int) time.Duration

	// ShouldRetry checks if another retry is allowed after retriesDone retries.
	ShouldRetry(err error, retriesDone int) bool
}

// ExponentialBackoff waits Unit * Base^retry before each retry.
type ExponentialBackoff struct {
	Unit       time.Duration
	Base       float64
	MaxDelay   time.Duration
	MaxRetries int
	Classifier Classifier
}

// DefaultClassifier treats cancellation as permanent and everything else as
// transient. Feed, parse and store failures all clear up on a later run.
func DefaultClassifier(err error) FailureCategory {
	if errors.Is(err, context.Canceled) {
		return CategoryPermanent
	}
	return CategoryTransient
}

// DefaultBackoff returns the feed retry schedule.
// 2s, 4s, 8s, 16s, 32s (Max 60s)
func DefaultBackoff(classifier Classifier) *ExponentialBackoff {
	if classifier == nil {
		classifier = DefaultClassifier
	}
	return &ExponentialBackoff{
		Unit:       time.Second,
		Base:       2,
		MaxDelay:   60 * time.Second,
		MaxRetries: 5,
		Classifier: classifier,
	}
}

// GetDelay calculates delay: Unit * Base^retry
func (s *ExponentialBackoff) GetDelay(retry int) time.Duration {
	delay := float64(s.Unit) * math.Pow(s.Base, float64(retry))
	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// ShouldRetry checks if error is transient and max retries not exceeded.
func (s *ExponentialBackoff) ShouldRetry(err error, retriesDone int) bool {
	if retriesDone >= s.MaxRetries {
		return false
	}

	classify := s.Classifier
	if classify == nil {
		classify = DefaultClassifier
	}
	return classify(err) == CategoryTransient
}
