package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bnd-apparel/storefront-backend/api/responses"
	"github.com/bnd-apparel/storefront-backend/api/validators"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	pkgredis "github.com/bnd-apparel/storefront-backend/pkg/redis"
)

const (
	idempotencyHeader     = "Idempotency-Key"
	replayHeader          = "Idempotent-Replay"
	maxIdempotencyKeyLen  = 255
	defaultIdempotencyTTL = 24 * time.Hour
	// inFlightTTL bounds a reservation whose holder died mid-request.
	inFlightTTL = 2 * time.Minute
)

// idempotentRoutes are the order-creating endpoints keyed by "METHOD pattern".
// Versioned paths and storefront aliases replay alike.
var idempotentRoutes = map[string]struct{}{
	http.MethodPost + " /api/v1/checkout":          {},
	http.MethodPost + " /checkout":                 {},
	http.MethodPost + " /api/v1/orders":            {},
	http.MethodPost + " /api/create-pending-order": {},
}

func routeIdempotent(method, pattern string) bool {
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	_, ok := idempotentRoutes[method+" "+pattern]
	return ok
}

// storedResponse is either a reservation (Pending) or the captured outcome
// of the first request that used the key.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func (s storedResponse) replay(w http.ResponseWriter) {
	if s.ContentType != "" {
		w.Header().Set("Content-Type", s.ContentType)
	}
	w.Header().Set(replayHeader, "true")
	w.WriteHeader(s.Status)
	_, _ = w.Write(s.Body)
}

// ResponseStore holds reservations and recorded responses. Set replaces a
// reservation in place so no duplicate can slip in between.
type ResponseStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

type idempotencyGuard struct {
	store      ResponseStore
	ttl        time.Duration
	reserveTTL time.Duration
	logg       *logger.Logger
}

// Idempotency makes order-creating routes safe to retry with the same
// Idempotency-Key. The first request reserves the key; concurrent duplicates
// are rejected while it runs, later ones replay its response. Server errors
// and 202s release the key so the client can try again.
func Idempotency(store ResponseStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	g := &idempotencyGuard{store: store, ttl: ttl, reserveTTL: min(inFlightTTL, ttl), logg: logg}
	return func(next http.Handler) http.Handler {
		if store == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" || !routeIdempotent(r.Method, routePattern(r)) {
				next.ServeHTTP(w, r)
				return
			}
			if err := g.serve(w, r, clientKey, next); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
			}
		})
	}
}

func (g *idempotencyGuard) serve(w http.ResponseWriter, r *http.Request, clientKey string, next http.Handler) error {
	if len(clientKey) > maxIdempotencyKeyLen {
		return pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, validators.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "request body too large").
				WithDetails(map[string]any{"max_bytes": tooLarge.Limit})
		}
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ctx := r.Context()
	scope := strings.Join([]string{scopedClientIP(r), r.Method, r.URL.Path}, "|")
	key := g.store.IdempotencyKey(scope, clientKey)
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	reserved, err := g.reserve(ctx, key, hash)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key")
	}
	if !reserved {
		prior, err := g.load(ctx, key)
		switch {
		case err != nil:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency")
		case prior == nil:
			// The reservation expired between the two calls; run uncached.
			next.ServeHTTP(w, r)
		case prior.RequestHash != hash:
			return pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body")
		case prior.Pending:
			return pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress")
		default:
			prior.replay(w)
		}
		return nil
	}

	capture := &bodyCapture{statusRecorder: statusRecorder{ResponseWriter: w}}
	finished := false
	defer func() {
		if !finished {
			g.release(ctx, key)
		}
	}()
	next.ServeHTTP(capture, r)
	finished = true

	g.record(ctx, key, hash, capture)
	return nil
}

// record overwrites the reservation with the captured response, or drops it
// when the outcome should not be replayed.
func (g *idempotencyGuard) record(ctx context.Context, key, hash string, capture *bodyCapture) {
	status := capture.status
	if status == 0 {
		status = http.StatusOK
	}
	if status >= http.StatusInternalServerError || status == http.StatusAccepted {
		g.release(ctx, key)
		return
	}
	outcome := storedResponse{
		RequestHash: hash,
		Status:      status,
		ContentType: capture.Header().Get("Content-Type"),
		Body:        capture.body.Bytes(),
	}
	payload, err := json.Marshal(outcome)
	if err == nil {
		err = g.store.Set(context.WithoutCancel(ctx), key, string(payload), g.ttl)
	}
	if err != nil {
		g.logg.Error(ctx, "persist idempotency record", err)
		g.release(ctx, key)
	}
}

// Store writes ignore client cancellation so a dropped connection cannot
// strand a reservation.
func (g *idempotencyGuard) reserve(ctx context.Context, key, hash string) (bool, error) {
	payload, err := json.Marshal(storedResponse{Pending: true, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return g.store.SetNX(context.WithoutCancel(ctx), key, string(payload), g.reserveTTL)
}

func (g *idempotencyGuard) release(ctx context.Context, key string) {
	if err := g.store.Del(context.WithoutCancel(ctx), key); err != nil {
		g.logg.Error(ctx, "release idempotency key", err)
	}
}

func (g *idempotencyGuard) load(ctx context.Context, key string) (*storedResponse, error) {
	raw, err := g.store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

// bodyCapture tees the response so it can be stored for replay.
type bodyCapture struct {
	statusRecorder
	body bytes.Buffer
}

func (c *bodyCapture) Write(b []byte) (int, error) {
	c.body.Write(b)
	return c.statusRecorder.Write(b)
}
