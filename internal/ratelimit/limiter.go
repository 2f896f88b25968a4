// Package ratelimit implements tiered admission control using fixed-window
// counters evaluated across three independent windows (minute, day, month).
// Counters live behind the narrow CounterStore interface so the same limiter
// works against an in-process map or a shared Redis cache. The package also
// provides a token-bucket ingress limiter for unauthenticated endpoints and
// HTTP middleware that sets standard rate limit response headers.
package ratelimit

import (
	"context"
	"time"

	"gatekeeper/internal/models"
)

// Window identifies one fixed quota window.
type Window string

const (
	WindowMinute Window = "minute"
	WindowDay    Window = "day"
	WindowMonth  Window = "month"
)

// Windows returns all quota windows in ascending duration order. Evaluation
// order matters: the tightest, most actionable limit is reported first.
func Windows() []Window {
	return []Window{WindowMinute, WindowDay, WindowMonth}
}

// Duration returns the fixed length of the window. The month window is a flat
// 30 days from first touch, not a calendar month.
func (w Window) Duration() time.Duration {
	switch w {
	case WindowMinute:
		return time.Minute
	case WindowDay:
		return 24 * time.Hour
	case WindowMonth:
		return 30 * 24 * time.Hour
	default:
		return 0
	}
}

// LimitFrom returns the quota limit this window carries in a tier's quota.
func (w Window) LimitFrom(q models.TierQuota) int {
	switch w {
	case WindowMinute:
		return q.RequestsPerMinute
	case WindowDay:
		return q.RequestsPerDay
	case WindowMonth:
		return q.RequestsPerMonth
	default:
		return 0
	}
}

// Verdict is the result of one admission evaluation.
type Verdict struct {
	Allowed    bool
	Limit      int           // Limit of the reported window
	Remaining  int           // Requests left in the reported window
	ResetAt    time.Time     // When the reported window resets
	RetryAfter time.Duration // How long to wait (zero unless denied by a live window)
	Window     Window        // Which window produced the verdict
	Reason     string        // Human-readable reason (set only when denied)
}

// RetryAfterSeconds reports the retry hint rounded up to whole seconds. Zero
// means no retry is possible (allowed, or denied by a zero-limit tier).
func (v Verdict) RetryAfterSeconds() int {
	if v.RetryAfter <= 0 {
		return 0
	}
	return int((v.RetryAfter + time.Second - 1) / time.Second)
}

// Limiter defines the admission-control contract. Implementations must be
// safe for concurrent use.
type Limiter interface {
	// Check evaluates whether a request by the given credential should be
	// admitted under the tier's quota. It performs no mutation; callers that
	// proceed must follow up with Record. A non-nil error signals counter
	// backend failure, which callers must treat as a denial (fail closed).
	Check(ctx context.Context, credentialID, tier string) (Verdict, error)

	// Record counts one admitted request against all windows. Called only
	// after Check allowed the request; failures are logged and swallowed.
	Record(ctx context.Context, credentialID string)

	// Close stops background goroutines and releases resources.
	Close()
}
