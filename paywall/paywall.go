// Package paywall enforces verify, execute, settle around a protected
// handler.
//
// Every invocation gets its own Session and Context. The handler never runs
// for a caller that did not verify, settle is called at most once per
// Session, and only after a terminal completion (or a cancellation that
// follows a credit report).
package paywall

import (
	"context"
	"fmt"
	"math/big"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	payments "github.com/nevermined-io/payments-go"
	"github.com/nevermined-io/payments-go/extensions/nevermined"
	"github.com/nevermined-io/payments-go/token"
	"github.com/nevermined-io/payments-go/types"
)

// Facilitator is the verify and settle surface the paywall needs.
// *payments.Facilitator implements it.
type Facilitator interface {
	Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) types.VerifyResponse
	Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements, amount *big.Int) types.SettleResponse
}

// Credentials is what the caller presented. Token is an x402 access token;
// Payload is a full client payment payload. Either is enough.
type Credentials struct {
	Token   string
	Payload *types.PaymentPayload
}

// Empty reports whether nothing was presented.
func (c Credentials) Empty() bool {
	return c.Token == "" && (c.Payload == nil || c.Payload.AccessToken() == "")
}

// Paywall protects handlers. It holds no per-invocation state and is safe
// for concurrent use.
type Paywall struct {
	facilitator Facilitator
	logger      *zap.Logger
	environment string
}

// Option configures a Paywall.
type Option func(*Paywall)

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(logger *zap.Logger) Option {
	return func(p *Paywall) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEnvironment records the Nevermined environment in the extension
// declared for bearer callers.
func WithEnvironment(environment string) Option {
	return func(p *Paywall) {
		p.environment = environment
	}
}

// New creates a paywall.
func New(facilitator Facilitator, opts ...Option) (*Paywall, error) {
	if facilitator == nil {
		return nil, ErrNilFacilitator
	}
	p := &Paywall{
		facilitator: facilitator,
		logger:      zap.L(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.Named("paywall")
	return p, nil
}

// Begin authenticates and verifies the caller. On success the returned
// Session is in Verified and ready to execute. A turned-away caller gets a
// *RejectedError; any other error means the registration itself is broken.
func (p *Paywall) Begin(ctx context.Context, reg Registration, creds Credentials) (*Session, error) {
	if err := reg.Validate(); err != nil {
		return nil, fmt.Errorf("paywall: invalid registration %q: %w", reg.Name, err)
	}
	req, err := reg.Requirements()
	if err != nil {
		return nil, err
	}

	pc := &Context{
		id:         uuid.NewString(),
		planID:     reg.PlanID,
		agentID:    reg.AgentID,
		maxCredits: reg.Credits.Max,
	}
	s := &Session{
		pw:    p,
		pc:    pc,
		reg:   reg,
		req:   req,
		state: Unauthenticated,
		done:  make(chan struct{}),
		logger: p.logger.With(
			zap.String("context_id", pc.id),
			zap.String("plan_id", reg.PlanID),
			zap.String("agent_id", reg.AgentID),
		),
	}

	if creds.Empty() {
		return nil, s.reject(http.StatusUnauthorized, ReasonMissingCredential, "access token is required")
	}
	s.payload = p.payloadFor(req, creds, pc)
	if err := s.advance(onAuthenticate); err != nil {
		return nil, err
	}

	vr := p.facilitator.Verify(ctx, s.payload, req)
	if !vr.IsValid {
		status := http.StatusPaymentRequired
		if vr.InvalidReason == payments.ReasonInvalidCredential {
			status = http.StatusUnauthorized
		}
		message := vr.InvalidMessage
		if message == "" {
			message = vr.InvalidReason
		}
		return nil, s.reject(status, vr.InvalidReason, message)
	}
	if vr.Payer != "" && pc.subscriber == "" {
		pc.subscriber = vr.Payer
	}
	if err := s.advance(onVerify); err != nil {
		return nil, err
	}
	s.logger.Debug("caller verified", zap.String("subscriber", pc.subscriber))
	return s, nil
}

// payloadFor turns the presented credentials into a payment payload. A bare
// token becomes a v2 payload declaring the registration's extension.
func (p *Paywall) payloadFor(req types.PaymentRequirements, creds Credentials, pc *Context) types.PaymentPayload {
	if creds.Payload != nil {
		payload := *creds.Payload
		if payload.AccessToken() == "" {
			payload.Payload = types.NewSessionKeyPayload(creds.Token)
		}
		if info, err := nevermined.ExtractInfo(payload, &req, nevermined.WithoutValidation()); err == nil && info != nil {
			pc.subscriber = info.SubscriberAddress
		}
		return payload
	}

	opts := []nevermined.DeclareOption{
		nevermined.WithNetwork(req.Network),
		nevermined.WithScheme(req.Scheme),
	}
	if p.environment != "" {
		opts = append(opts, nevermined.WithEnvironment(p.environment))
	}
	if claims := token.Decode(creds.Token); claims != nil && claims.WalletAddress != "" {
		pc.subscriber = claims.WalletAddress
	}

	declared := opts
	if pc.subscriber != "" {
		declared = append(declared, nevermined.WithSubscriberAddress(pc.subscriber))
	}
	extensions, err := nevermined.DeclareExtensions(req.PlanID, req.AgentID, req.MaxAmount, declared...)
	if err != nil {
		// The decoded wallet is only a hint; drop it if it does not validate.
		extensions, _ = nevermined.DeclareExtensions(req.PlanID, req.AgentID, req.MaxAmount, opts...)
	}

	return types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      req.Scheme,
		Network:     req.Network,
		Payload:     types.NewSessionKeyPayload(creds.Token),
		Extensions:  extensions,
	}
}

// Run protects a unary handler: it verifies, runs handler, then settles the
// reported (or default) credits. The handler's error is returned unchanged
// and suppresses settlement.
func (p *Paywall) Run(ctx context.Context, reg Registration, creds Credentials, handler func(ctx context.Context) error) (*Outcome, error) {
	s, err := p.Begin(ctx, reg, creds)
	if err != nil {
		if rej, ok := IsRejected(err); ok {
			outcome := rej.Outcome
			return &outcome, err
		}
		return nil, err
	}
	herr := s.Execute(ctx, handler)
	outcome := s.Outcome()
	return &outcome, herr
}

// Stream starts a streaming handler. It must close the channel or send a
// terminal event, and should stop sending once ctx is done.
type Stream func(ctx context.Context) (<-chan Event, error)

// RunStream protects a streaming handler. Events are observed until the
// first terminal event for this session; a channel that closes without one
// settles nothing. Cancelling ctx cancels the session.
func (p *Paywall) RunStream(ctx context.Context, reg Registration, creds Credentials, stream Stream) (*Outcome, error) {
	s, err := p.Begin(ctx, reg, creds)
	if err != nil {
		if rej, ok := IsRejected(err); ok {
			outcome := rej.Outcome
			return &outcome, err
		}
		return nil, err
	}
	if err := s.Start(); err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(NewContext(ctx, s.pc))
	defer cancel()
	s.onCancel(cancel)

	events, err := stream(streamCtx)
	if err != nil {
		s.Fail(err)
		outcome := s.Outcome()
		return &outcome, err
	}

	for {
		select {
		case <-ctx.Done():
			s.Cancel(ctx)
			outcome := s.Outcome()
			return &outcome, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				outcome := s.Close()
				return &outcome, nil
			}
			if s.Observe(ctx, ev) {
				outcome := s.Outcome()
				return &outcome, nil
			}
		}
	}
}

// Wrap protects a typed handler. credentials pulls the caller's credentials
// out of the input.
func Wrap[In, Out any](
	p *Paywall,
	reg Registration,
	credentials func(ctx context.Context, in In) Credentials,
	handler func(ctx context.Context, in In) (Out, error),
) func(ctx context.Context, in In) (Out, *Outcome, error) {
	return func(ctx context.Context, in In) (Out, *Outcome, error) {
		var out Out
		outcome, err := p.Run(ctx, reg, credentials(ctx, in), func(ctx context.Context) error {
			var herr error
			out, herr = handler(ctx, in)
			return herr
		})
		return out, outcome, err
	}
}
