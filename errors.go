package payments

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Failure reasons surfaced in VerifyResponse.InvalidReason and
// SettleResponse.ErrorReason. The strings are stable wire values.
const (
	ReasonMissingExtension       = "missing_extension"
	ReasonInvalidExtension       = "invalid_extension"
	ReasonPlanMismatch           = "plan_mismatch"
	ReasonAmountExceedsMax       = "amount_exceeds_max"
	ReasonInsufficientBalance    = "insufficient_balance"
	ReasonInvalidCredential      = "invalid_credential"
	ReasonFacilitatorUnreachable = "facilitator_unreachable"
	ReasonUnknown                = "unknown"
)

var knownReasons = map[string]bool{
	ReasonMissingExtension:       true,
	ReasonInvalidExtension:       true,
	ReasonPlanMismatch:           true,
	ReasonAmountExceedsMax:       true,
	ReasonInsufficientBalance:    true,
	ReasonInvalidCredential:      true,
	ReasonFacilitatorUnreachable: true,
	ReasonUnknown:                true,
}

var (
	ErrNilLedger      = errors.New("payments: ledger is required")
	ErrMissingToken   = errors.New("payments: access token is required")
	ErrNegativeAmount = errors.New("payments: settle amount is negative")
)

// LedgerError is returned by Ledger implementations when the backend
// answers with a non-success status. StatusCode is zero for transport
// failures that never produced a response.
type LedgerError struct {
	StatusCode int
	Reason     string
	Message    string
	Err        error
}

func (e *LedgerError) Error() string {
	var b strings.Builder
	b.WriteString("ledger error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a ledger error for an HTTP status.
func NewLedgerError(statusCode int, reason, message string) *LedgerError {
	return &LedgerError{StatusCode: statusCode, Reason: reason, Message: message}
}

// ClassifyError maps a ledger call failure onto the failure taxonomy.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) && ledgerErr.StatusCode != 0 {
		switch code := ledgerErr.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return ReasonInvalidCredential
		case code == http.StatusPaymentRequired:
			return ReasonInsufficientBalance
		case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
			return ReasonFacilitatorUnreachable
		}
		if reason := NormalizeReason(ledgerErr.Reason); reason != ReasonUnknown {
			return reason
		}
		return NormalizeReason(ledgerErr.Message)
	}

	// Timeouts, cancellation and dial errors never reached a ledger decision.
	return ReasonFacilitatorUnreachable
}

// NormalizeReason maps a backend reason string onto the failure taxonomy.
func NormalizeReason(reason string) string {
	r := strings.ToLower(strings.TrimSpace(reason))
	if knownReasons[r] {
		return r
	}
	switch {
	case r == "":
		return ReasonUnknown
	case strings.Contains(r, "balance") || strings.Contains(r, "insufficient") || strings.Contains(r, "credits"):
		return ReasonInsufficientBalance
	case strings.Contains(r, "token") || strings.Contains(r, "credential") ||
		strings.Contains(r, "expired") || strings.Contains(r, "unauthorized") || strings.Contains(r, "signature"):
		return ReasonInvalidCredential
	case strings.Contains(r, "plan"):
		return ReasonPlanMismatch
	case strings.Contains(r, "amount"):
		return ReasonAmountExceedsMax
	}
	return ReasonUnknown
}
