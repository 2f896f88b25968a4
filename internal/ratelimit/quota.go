package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"gatekeeper/internal/models"
)

// QuotaLimiter enforces a tier's quota across all tracked windows against a
// CounterStore. It implements Limiter.
type QuotaLimiter struct {
	counters CounterStore
	quotas   models.QuotaTable
	logger   *slog.Logger

	now func() time.Time
}

// NewQuotaLimiter builds a limiter over the given counter store and quota
// table.
func NewQuotaLimiter(counters CounterStore, quotas models.QuotaTable, logger *slog.Logger) *QuotaLimiter {
	return &QuotaLimiter{
		counters: counters,
		quotas:   quotas,
		logger:   logger,
		now:      time.Now,
	}
}

// Check evaluates every window in ascending order and returns the verdict for
// the first one that denies. A window whose limit is zero denies outright with
// no retry hint, since no amount of waiting makes the request admissible. The
// check never mutates counters.
func (l *QuotaLimiter) Check(ctx context.Context, credentialID, tier string) (Verdict, error) {
	quota := l.quotas.Lookup(tier)
	now := l.now()

	verdict := Verdict{Allowed: true}
	for i, w := range Windows() {
		limit := w.LimitFrom(quota)
		if limit == 0 {
			return Verdict{
				Allowed: false,
				Limit:   0,
				Window:  w,
				ResetAt: now,
				Reason:  "no quota for window " + string(w),
			}, nil
		}

		state, err := l.counters.Get(ctx, credentialID, w, now)
		if err != nil {
			return Verdict{}, err
		}

		if state.Count >= int64(limit) {
			return Verdict{
				Allowed:    false,
				Limit:      limit,
				Remaining:  0,
				Window:     w,
				ResetAt:    state.ResetAt,
				RetryAfter: state.ResetAt.Sub(now),
				Reason:     "limit exhausted for window " + string(w),
			}, nil
		}

		// The smallest window is the one surfaced to clients on success.
		if i == 0 {
			verdict.Limit = limit
			verdict.Remaining = limit - int(state.Count)
			verdict.Window = w
			verdict.ResetAt = state.ResetAt
		}
	}

	return verdict, nil
}

// Record counts one admitted request against every window. Failures are
// logged and swallowed: losing a count must never fail the request it
// belongs to.
func (l *QuotaLimiter) Record(ctx context.Context, credentialID string) {
	now := l.now()
	for _, w := range Windows() {
		if _, err := l.counters.Increment(ctx, credentialID, w, now); err != nil {
			l.logger.Error("failed to record request against window",
				"credential_id", credentialID,
				"window", string(w),
				"error", err)
		}
	}
}

// Close releases the underlying counter store.
func (l *QuotaLimiter) Close() {
	l.counters.Close()
}
