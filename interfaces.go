package payments

import (
	"context"

	"github.com/nevermined-io/payments-go/types"
)

// PermissionRequest is a single verify or settle call against the ledger.
// MaxAmount is the amount to check (verify) or burn (settle).
type PermissionRequest struct {
	PlanID            string
	AgentID           string
	MaxAmount         string
	AccessToken       string
	SubscriberAddress string
	Endpoint          string
	HTTPVerb          string
}

// Ledger is the remote balance service that authorizes and burns credits.
//
// VerifyPermissions must not change any balance. SettlePermissions burns
// exactly MaxAmount credits. Both return *LedgerError (or a transport error)
// when the backend does not produce a decision.
type Ledger interface {
	VerifyPermissions(ctx context.Context, req PermissionRequest) (*types.VerifyResponse, error)
	SettlePermissions(ctx context.Context, req PermissionRequest) (*types.SettleResponse, error)
}

// LedgerFuncs adapts plain functions to Ledger. Useful for tests and for
// in-process ledgers.
type LedgerFuncs struct {
	Verify func(ctx context.Context, req PermissionRequest) (*types.VerifyResponse, error)
	Settle func(ctx context.Context, req PermissionRequest) (*types.SettleResponse, error)
}

func (l LedgerFuncs) VerifyPermissions(ctx context.Context, req PermissionRequest) (*types.VerifyResponse, error) {
	if l.Verify == nil {
		return &types.VerifyResponse{IsValid: true}, nil
	}
	return l.Verify(ctx, req)
}

func (l LedgerFuncs) SettlePermissions(ctx context.Context, req PermissionRequest) (*types.SettleResponse, error) {
	if l.Settle == nil {
		return &types.SettleResponse{Success: true}, nil
	}
	return l.Settle(ctx, req)
}
