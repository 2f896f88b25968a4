// Package gate is the admission-control middleware: it authenticates the API
// key on each request, checks the credential's tier quota, shapes the rate
// limit response headers, and records usage for every admitted request. It is
// the only place where auth, ratelimit, and usage come together.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/models"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/usage"
)

// contextKey is a private type for request context values set by the gate.
type contextKey string

const identityContextKey contextKey = "gate_identity"

// IdentityFrom returns the identity the gate attached to an admitted
// request, or nil for requests that did not pass through the gate.
func IdentityFrom(r *http.Request) *auth.Identity {
	if identity, ok := r.Context().Value(identityContextKey).(*auth.Identity); ok {
		return identity
	}
	return nil
}

// AdmissionObserver receives each gate decision, for metrics.
type AdmissionObserver interface {
	ObserveAdmission(ctx context.Context, tier string, allowed bool, reason string)
}

// Gate wires credential resolution, quota checking, and usage recording into
// one middleware.
type Gate struct {
	resolver *auth.Resolver
	limiter  ratelimit.Limiter
	recorder *usage.Recorder
	logger   *slog.Logger
	observer AdmissionObserver
}

// Option configures optional gate behavior.
type Option func(*Gate)

// WithObserver attaches an admission metrics observer.
func WithObserver(o AdmissionObserver) Option {
	return func(g *Gate) {
		g.observer = o
	}
}

// New builds a gate. The recorder may be nil when usage recording is
// disabled.
func New(resolver *auth.Resolver, limiter ratelimit.Limiter, recorder *usage.Recorder, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		resolver: resolver,
		limiter:  limiter,
		recorder: recorder,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) observe(ctx context.Context, tier string, allowed bool, reason string) {
	if g.observer != nil {
		g.observer.ObserveAdmission(ctx, tier, allowed, reason)
	}
}

// statusRecorder captures the downstream status code for usage records.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Middleware returns the admission middleware. Response headers follow the
// de facto standard: X-RateLimit-Limit, X-RateLimit-Remaining, and
// X-RateLimit-Reset are set on every response that reached the quota check,
// and Retry-After accompanies denials that a client can wait out.
func (g *Gate) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey, ok := bearerToken(r)
			if !ok {
				writeError(w, http.StatusUnauthorized,
					"missing or invalid Authorization header", models.ErrorCodeUnauthorized)
				return
			}

			identity, authErr := g.resolver.Resolve(r.Context(), rawKey)
			if authErr != nil {
				g.logger.Info("request rejected",
					"reason", string(authErr.Code),
					"path", r.URL.Path,
					"client_ip", ratelimit.ClientIP(r))
				code := models.ErrorCodeUnauthorized
				if authErr.HTTPStatus() == http.StatusForbidden {
					code = models.ErrorCodeForbidden
				}
				g.observe(r.Context(), "", false, string(authErr.Code))
				writeError(w, authErr.HTTPStatus(), authErr.Message, code)
				return
			}

			verdict, err := g.limiter.Check(r.Context(), identity.Credential.ID, identity.Tier)
			if err != nil {
				// Counter backend down: no request is admitted unverified.
				g.logger.Error("quota check failed, rejecting request",
					"credential_id", identity.Credential.ID,
					"error", err)
				writeError(w, http.StatusServiceUnavailable,
					"rate limit check unavailable", models.ErrorCodeServiceUnavailable)
				return
			}

			setRateLimitHeaders(w, verdict)

			if !verdict.Allowed {
				if secs := verdict.RetryAfterSeconds(); secs > 0 {
					w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
				}
				g.logger.Warn("rate limit exceeded",
					"credential_id", identity.Credential.ID,
					"tier", identity.Tier,
					"window", string(verdict.Window),
					"limit", verdict.Limit)
				g.observe(r.Context(), identity.Tier, false, "RATE_LIMIT_EXCEEDED")
				writeError(w, http.StatusTooManyRequests,
					"Rate limit exceeded", models.ErrorCodeRateLimited)
				return
			}

			g.observe(r.Context(), identity.Tier, true, "")

			ctx := context.WithValue(r.Context(), identityContextKey, identity)
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			next.ServeHTTP(sr, r.WithContext(ctx))

			// The request was admitted, so it counts against quota whatever
			// the handler returned. The request context may already be
			// canceled here (client gone), which must not lose the count.
			g.limiter.Record(context.WithoutCancel(r.Context()), identity.Credential.ID)
			if g.recorder != nil {
				g.recorder.Log(&models.UsageRecord{
					CredentialID:   identity.Credential.ID,
					Endpoint:       r.URL.Path,
					Method:         r.Method,
					StatusCode:     sr.status,
					ResponseTimeMs: time.Since(start).Milliseconds(),
					RecordedAt:     time.Now().UTC(),
				})
			}
		})
	}
}

// bearerToken extracts the Bearer token from the Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	const prefix = "Bearer "
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, prefix) {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

func setRateLimitHeaders(w http.ResponseWriter, v ratelimit.Verdict) {
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", v.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", v.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", v.ResetAt.Unix()))
}

func writeError(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.NewErrorResponse(message, code))
}
