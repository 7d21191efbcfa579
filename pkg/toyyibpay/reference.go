package toyyibpay

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const uuidLen = 36

// ExternalReference builds billExternalReferenceNo as PREFIX-{orderId}-{unixMillis}.
func ExternalReference(prefix string, orderID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", prefix, orderID, at.UnixMilli())
}

// ParseExternalReference extracts the order id from a reference produced by
// ExternalReference. A bare order id is accepted as well.
func ParseExternalReference(prefix, ref string) (uuid.UUID, bool) {
	ref = strings.TrimSpace(ref)
	if id, err := uuid.Parse(ref); err == nil {
		return id, true
	}
	if prefix != "" {
		if !strings.HasPrefix(ref, prefix+"-") {
			return uuid.Nil, false
		}
		ref = strings.TrimPrefix(ref, prefix+"-")
	}
	if len(ref) < uuidLen {
		return uuid.Nil, false
	}
	if len(ref) > uuidLen && ref[uuidLen] != '-' {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(ref[:uuidLen])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
