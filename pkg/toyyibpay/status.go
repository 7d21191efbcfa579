package toyyibpay

import "strings"

// Status is a ToyyibPay payment status normalized to an outcome.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusFailure Status = "failure"
	StatusUnknown Status = "unknown"
)

// ParseStatus maps a status_id / billpaymentStatus code. 1 is success, 2 and 4
// are pending, 3 and 0 are failure. Anything else, including an empty value,
// is unknown.
func ParseStatus(code string) Status {
	switch strings.TrimSpace(code) {
	case "1":
		return StatusSuccess
	case "2", "4":
		return StatusPending
	case "3", "0":
		return StatusFailure
	default:
		return StatusUnknown
	}
}
