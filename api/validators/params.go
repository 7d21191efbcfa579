package validators

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// IntParam describes a bounded integer query parameter. A missing value
// yields Default; anything outside [Min, Max] is a validation error.
type IntParam struct {
	Key      string
	Default  int
	Min, Max int
}

func (p IntParam) From(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(p.Key))
	if raw == "" {
		return p.Default, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, p.Key+" must be a whole number").
			WithDetails(map[string]any{"field": p.Key})
	case n < p.Min || n > p.Max:
		return 0, pkgerrors.New(pkgerrors.CodeValidation, p.Key+" out of range").
			WithDetails(map[string]any{"field": p.Key, "min": p.Min, "max": p.Max})
	}
	return n, nil
}

// ParseUUID parses a path or body identifier named field.
func ParseUUID(raw, field string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+field).
			WithDetails(map[string]any{"field": field})
	}
	return id, nil
}

// Clean trims input and caps it at maxRunes characters. Cutting on a rune
// boundary keeps names with accents or non-Latin scripts valid UTF-8.
func Clean(input string, maxRunes int) string {
	s := strings.TrimSpace(input)
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	cut := 0
	for i := 0; i < maxRunes; i++ {
		_, size := utf8.DecodeRuneInString(s[cut:])
		cut += size
	}
	return strings.TrimSpace(s[:cut])
}

// CleanOptional is Clean for nullable columns: blank becomes nil.
func CleanOptional(input *string, maxRunes int) *string {
	if input == nil {
		return nil
	}
	if v := Clean(*input, maxRunes); v != "" {
		return &v
	}
	return nil
}
