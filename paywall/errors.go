package paywall

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/nevermined-io/payments-go/types"
)

// Local reasons, in addition to the facilitator's failure taxonomy.
const (
	ReasonMissingCredential = "missing_credential"
	ReasonHandlerError      = "handler_error"
	ReasonHandlerFailed     = "handler_failed"
	ReasonCancelled         = "cancelled"
	ReasonIncomplete        = "incomplete"
)

var ErrNilFacilitator = errors.New("paywall: facilitator is required")

// Outcome is the result of one protected invocation.
type Outcome struct {
	ContextID string
	// State is where the invocation ended: Settled, SettlementFailed,
	// Closed (nothing settled) or Rejected.
	State State
	// Status is the HTTP-equivalent status of a rejection, zero otherwise.
	Status int
	Reason string
	// Credits is the amount passed to settle, nil when nothing was settled.
	Credits         *big.Int
	Settlement      *types.SettleResponse
	PaymentRequired *types.PaymentRequired
}

// Settled reports whether credits were burned.
func (o Outcome) Settled() bool {
	return o.State == Settled
}

// RejectedError is returned when the caller is turned away before the
// handler runs.
type RejectedError struct {
	Outcome
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("paywall: rejected with %d: %s", e.Status, e.Reason)
}

// IsRejected reports whether err is a paywall rejection and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
