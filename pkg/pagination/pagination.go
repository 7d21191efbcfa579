// Package pagination implements keyset paging over (created_at DESC, id DESC).
// Cursors are opaque to clients and safe to put in a query string.
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultLimit = 24 // one storefront grid
	MaxLimit     = 96
)

var errMalformedCursor = errors.New("malformed cursor")

type Params struct {
	Limit  int
	Cursor string
}

// Size is the page size callers get back: Limit clamped to (0, MaxLimit],
// with DefaultLimit standing in for zero or negative values.
func (p Params) Size() int {
	return min(cmpOr(p.Limit, DefaultLimit), MaxLimit)
}

// Fetch is how many rows to query: one past Size, to learn whether a next
// page exists without a count.
func (p Params) Fetch() int { return p.Size() + 1 }

// Cursor is the position of the last row already returned.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func (c Cursor) String() string {
	raw := c.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// After decodes the Params cursor. The first page has no cursor and yields
// nil without error.
func (p Params) After() (*Cursor, error) {
	value := strings.TrimSpace(p.Cursor)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedCursor, err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, errMalformedCursor
	}
	at, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: timestamp: %v", errMalformedCursor, err)
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: id: %v", errMalformedCursor, err)
	}
	return &Cursor{CreatedAt: at.UTC(), ID: uid}, nil
}

// Split trims rows fetched with Fetch down to one page. next is the cursor
// for the following page, or "" on the last one.
func Split[T any](p Params, rows []T, position func(T) Cursor) (page []T, next string) {
	size := p.Size()
	if len(rows) <= size {
		return rows, ""
	}
	return rows[:size], position(rows[size-1]).String()
}

func cmpOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
