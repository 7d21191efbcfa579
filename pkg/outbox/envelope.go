package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

// CurrentVersion is stamped on every envelope Emit writes. Readers treat a
// missing version as this one.
const CurrentVersion = 1

// SourceRef names the entry point that produced the event: checkout,
// callback, return, retry or expiry.
type SourceRef struct {
	Source    string `json:"source"`
	RequestID string `json:"requestId,omitempty"`
}

// SourceFrom builds a SourceRef carrying the request ID found in ctx, if any.
func SourceFrom(ctx context.Context, source string) *SourceRef {
	return &SourceRef{Source: source, RequestID: logger.RequestIDFrom(ctx)}
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// published verbatim as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Source     *SourceRef      `json:"source,omitempty"`
	Data       json.RawMessage `json:"data"`
}
