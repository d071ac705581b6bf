// Package token obtains and inspects x402 access tokens.
//
// A token binds a subscriber to a plan (and optionally an agent). It is
// opaque to everything except the backend that issued it: Decode exists for
// logging and display, never for authorization.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrMissingPlanID = errors.New("token: plan id is required")
	ErrEmptyToken    = errors.New("token: issuer returned an empty token")
	ErrNilIssuer     = errors.New("token: issuer is required")
)

// IssueRequest describes the permission a subscriber asks the backend for.
type IssueRequest struct {
	PlanID  string
	AgentID string
	Scheme  string
	Network string

	// Session key limits. Zero values are omitted.
	RedemptionLimit int
	OrderLimit      string
	Expiration      time.Time
}

// Issuer is the external issuance endpoint.
type Issuer interface {
	IssueToken(ctx context.Context, req IssueRequest) (string, error)
}

// Option customises Generate.
type Option func(*IssueRequest)

// WithRedemptionLimit caps how many calls the token may pay for.
func WithRedemptionLimit(n int) Option {
	return func(r *IssueRequest) {
		r.RedemptionLimit = n
	}
}

// WithOrderLimit caps how much the session key may spend ordering credits,
// in token base units.
func WithOrderLimit(limit string) Option {
	return func(r *IssueRequest) {
		r.OrderLimit = limit
	}
}

// WithExpiration sets when the token stops being valid.
func WithExpiration(t time.Time) Option {
	return func(r *IssueRequest) {
		r.Expiration = t
	}
}

// WithScheme selects the backend payment scheme and network, e.g.
// "nvm:erc4337" on "eip155:84532".
func WithScheme(scheme, network string) Option {
	return func(r *IssueRequest) {
		r.Scheme = scheme
		r.Network = network
	}
}

// Generate asks issuer for an access token for planID and agentID. The
// returned token is not inspected.
func Generate(ctx context.Context, issuer Issuer, planID, agentID string, opts ...Option) (string, error) {
	if issuer == nil {
		return "", ErrNilIssuer
	}
	if strings.TrimSpace(planID) == "" {
		return "", ErrMissingPlanID
	}

	req := IssueRequest{PlanID: planID, AgentID: agentID}
	for _, opt := range opts {
		opt(&req)
	}

	tok, err := issuer.IssueToken(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to issue access token: %w", err)
	}
	if tok == "" {
		return "", ErrEmptyToken
	}
	return tok, nil
}
