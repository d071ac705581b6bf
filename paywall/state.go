package paywall

import "fmt"

// State is a step in the life of one protected invocation.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Verified
	Executing
	Settling
	Settled
	SettlementFailed
	Closed
	Rejected
)

var stateNames = [...]string{
	Unauthenticated:  "unauthenticated",
	Authenticated:    "authenticated",
	Verified:         "verified",
	Executing:        "executing",
	Settling:         "settling",
	Settled:          "settled",
	SettlementFailed: "settlement_failed",
	Closed:           "closed",
	Rejected:         "rejected",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Final reports whether no further transition is possible.
func (s State) Final() bool {
	return s == Closed || s == Rejected
}

// trigger is an input to the state machine.
type trigger int

const (
	onAuthenticate trigger = iota
	onVerify
	onReject
	onExecute
	onComplete       // terminal completed event
	onCancelDeclared // cancel after credits were reported
	onAbort          // handler error, failed event, cancel without credits, stream end
	onSettleOK
	onSettleFail
	onClose
)

var triggerNames = [...]string{
	onAuthenticate:   "authenticate",
	onVerify:         "verify",
	onReject:         "reject",
	onExecute:        "execute",
	onComplete:       "complete",
	onCancelDeclared: "cancel_declared",
	onAbort:          "abort",
	onSettleOK:       "settle_ok",
	onSettleFail:     "settle_fail",
	onClose:          "close",
}

func (t trigger) String() string {
	if t < 0 || int(t) >= len(triggerNames) {
		return fmt.Sprintf("trigger(%d)", int(t))
	}
	return triggerNames[t]
}

// edges is the complete transition table. Settling is only reachable from
// Executing.
var edges = map[State]map[trigger]State{
	Unauthenticated: {
		onAuthenticate: Authenticated,
		onReject:       Rejected,
	},
	Authenticated: {
		onVerify: Verified,
		onReject: Rejected,
	},
	Verified: {
		onExecute: Executing,
		onReject:  Rejected,
		onAbort:   Closed,
	},
	Executing: {
		onComplete:       Settling,
		onCancelDeclared: Settling,
		onAbort:          Closed,
	},
	Settling: {
		onSettleOK:   Settled,
		onSettleFail: SettlementFailed,
	},
	Settled: {
		onClose: Closed,
	},
	SettlementFailed: {
		onClose: Closed,
	},
}

// InvalidTransitionError is returned when a trigger has no edge from the
// current state.
type InvalidTransitionError struct {
	From    State
	Trigger string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("paywall: no transition from %s on %s", e.From, e.Trigger)
}

func transition(from State, t trigger) (State, error) {
	if to, ok := edges[from][t]; ok {
		return to, nil
	}
	return from, &InvalidTransitionError{From: from, Trigger: t.String()}
}
