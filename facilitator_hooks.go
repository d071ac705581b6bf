package payments

import (
	"context"
	"math/big"
	"time"

	"github.com/nevermined-io/payments-go/extensions/nevermined"
)

// ============================================================================
// Facilitator Hook Context Types
// ============================================================================

// VerifyContext contains information passed to verify hooks
type VerifyContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Info         nevermined.Info
	Timestamp    time.Time
}

// VerifyResultContext contains a verify result and its context
type VerifyResultContext struct {
	VerifyContext
	Result   VerifyResponse
	Duration time.Duration
}

// VerifyFailureContext contains a ledger failure during verify
type VerifyFailureContext struct {
	VerifyContext
	Error    error
	Reason   string
	Duration time.Duration
}

// SettleContext contains information passed to settle hooks
type SettleContext struct {
	Ctx          context.Context
	Payload      PaymentPayload
	Requirements PaymentRequirements
	Info         nevermined.Info
	Amount       *big.Int
	Timestamp    time.Time
}

// SettleResultContext contains a settle result and its context
type SettleResultContext struct {
	SettleContext
	Result   SettleResponse
	Duration time.Duration
}

// SettleFailureContext contains a ledger failure during settle
type SettleFailureContext struct {
	SettleContext
	Error    error
	Reason   string
	Duration time.Duration
}

// ============================================================================
// Facilitator Hook Result Types
// ============================================================================

// BeforeHookResult represents the result of a "before" hook.
// If Abort is true, the operation stops with the given Reason.
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// VerifyFailureHookResult lets a failure hook substitute a result.
type VerifyFailureHookResult struct {
	Recovered bool
	Result    VerifyResponse
}

// SettleFailureHookResult lets a failure hook substitute a result.
type SettleFailureHookResult struct {
	Recovered bool
	Result    SettleResponse
}

// ============================================================================
// Facilitator Hook Function Types
// ============================================================================

// BeforeVerifyHook runs after the structural checks and before the ledger call.
type BeforeVerifyHook func(VerifyContext) (*BeforeHookResult, error)

// AfterVerifyHook runs after the ledger answered. Errors are logged only.
type AfterVerifyHook func(VerifyResultContext) error

// OnVerifyFailureHook runs when the ledger call failed.
type OnVerifyFailureHook func(VerifyFailureContext) (*VerifyFailureHookResult, error)

// BeforeSettleHook runs after the structural checks and before credits are burned.
type BeforeSettleHook func(SettleContext) (*BeforeHookResult, error)

// AfterSettleHook runs after the ledger answered. Errors are logged only.
type AfterSettleHook func(SettleResultContext) error

// OnSettleFailureHook runs when the ledger call failed.
type OnSettleFailureHook func(SettleFailureContext) (*SettleFailureHookResult, error)
