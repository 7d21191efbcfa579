package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bnd-apparel/storefront-backend/api/responses"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

// maxRateLimitBody caps how much of a request body is buffered to find the
// buyer email.
const maxRateLimitBody = 64 << 10

type rateLimiterStore interface {
	IncrWithTTL(context.Context, string, time.Duration) (int64, error)
}

// RateLimitPolicy throttles one traffic surface (checkout, verify) with
// fixed-window counters per client IP and per buyer email.
type RateLimitPolicy struct {
	name       string
	window     time.Duration
	ipLimit    int
	emailLimit int
}

// NewRateLimitPolicy builds a policy. A zero limit disables that counter.
func NewRateLimitPolicy(name string, window time.Duration, ipLimit, emailLimit int) RateLimitPolicy {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "default"
	}
	return RateLimitPolicy{name: name, window: window, ipLimit: ipLimit, emailLimit: emailLimit}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && (p.ipLimit > 0 || p.emailLimit > 0)
}

// counterKey yields rl:<dimension>:<policy>:<value>.
func (p RateLimitPolicy) counterKey(dimension, value string) string {
	return "rl:" + dimension + ":" + p.name + ":" + value
}

// RateLimit rejects requests over either counter with 429 and Retry-After.
// The email is read from the JSON body, top level or under customer, and the
// body is restored for the handler.
func RateLimit(policy RateLimitPolicy, store rateLimiterStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if policy.ipLimit > 0 {
				if ip := scopedClientIP(r); ip != "" {
					if !policy.admit(ctx, logg, w, store, "ip", ip, policy.ipLimit) {
						return
					}
				}
			}

			if policy.emailLimit > 0 && r.Body != nil {
				body, err := io.ReadAll(io.LimitReader(r.Body, maxRateLimitBody))
				if err != nil {
					responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "unreadable request body"))
					return
				}
				r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))

				if email := buyerEmail(body); email != "" {
					if !policy.admit(ctx, logg, w, store, "email", hashEmail(email), policy.emailLimit) {
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// admit bumps one counter and writes the rejection when it is over limit.
func (p RateLimitPolicy) admit(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, store rateLimiterStore, dimension, value string, limit int) bool {
	count, err := store.IncrWithTTL(ctx, p.counterKey(dimension, value), p.window)
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiter unavailable"))
		return false
	}
	if count <= int64(limit) {
		return true
	}

	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"policy":    p.name,
			"dimension": dimension,
			"key":       value,
			"attempts":  count,
			"limit":     limit,
		}), "rate limit exceeded")
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(p.window.Round(time.Second).Seconds())))
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests, try again shortly"))
	return false
}

func buyerEmail(payload []byte) string {
	var body struct {
		Email    string `json:"email"`
		Customer *struct {
			Email string `json:"email"`
		} `json:"customer"`
	}
	if json.Unmarshal(payload, &body) != nil {
		return ""
	}
	email := body.Email
	if body.Customer != nil && strings.TrimSpace(body.Customer.Email) != "" {
		email = body.Customer.Email
	}
	return strings.ToLower(strings.TrimSpace(email))
}

// hashEmail keeps raw addresses out of Redis keys and logs.
func hashEmail(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:16])
}
