// Package nevermined wires a ready-to-use Nevermined payments stack from a
// config: the backend ledger client, the facilitator, the paywall and token
// issuance.
//
//	p, err := nevermined.FromEnv()
//	if err != nil { ... }
//	mux.Handle("/run", stdlib.PaymentMiddleware(p.Paywall(), reg)(handler))
package nevermined

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	payments "github.com/nevermined-io/payments-go"
	"github.com/nevermined-io/payments-go/a2a"
	"github.com/nevermined-io/payments-go/config"
	nvmhttp "github.com/nevermined-io/payments-go/http"
	"github.com/nevermined-io/payments-go/mcp"
	"github.com/nevermined-io/payments-go/paywall"
	"github.com/nevermined-io/payments-go/token"
	"github.com/nevermined-io/payments-go/types"
)

// Payments is the server-side entry point.
type Payments struct {
	config         config.Config
	accountAddress string
	ledger         *nvmhttp.LedgerClient
	facilitator    *payments.Facilitator
	paywall        *paywall.Paywall
	logger         *zap.Logger
}

type options struct {
	httpClient  *http.Client
	logger      *zap.Logger
	cacheTTL    time.Duration
	facilitator []payments.FacilitatorOption
}

// Option configures New.
type Option func(*options)

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger of every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithSettlementCacheTTL turns on settle deduplication per invocation and
// keeps receipts for ttl. Zero, the default, disables it.
func WithSettlementCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.cacheTTL = ttl
	}
}

// WithFacilitatorOptions passes extra options to the facilitator, such as
// hooks' extraction policy.
func WithFacilitatorOptions(opts ...payments.FacilitatorOption) Option {
	return func(o *options) {
		o.facilitator = append(o.facilitator, opts...)
	}
}

// New validates cfg and builds the stack.
func New(cfg config.Config, opts ...Option) (*Payments, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.WithDefaults()

	o := &options{logger: zap.L()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.L()
	}

	backend, err := cfg.Backend()
	if err != nil {
		return nil, err
	}
	address, err := cfg.AccountAddress()
	if err != nil {
		return nil, err
	}
	logger := o.logger.With(zap.String("environment", string(cfg.Environment)))

	ledger := nvmhttp.NewLedgerClient(&nvmhttp.LedgerConfig{
		URL:          backend,
		HTTPClient:   o.httpClient,
		AuthProvider: nvmhttp.BearerAuth(cfg.APIKey),
		Logger:       logger,
	})

	facilitatorOpts := []payments.FacilitatorOption{
		payments.WithLogger(logger),
		payments.WithTimeouts(cfg.Timeouts.Verify, cfg.Timeouts.Settle),
	}
	if o.cacheTTL > 0 {
		facilitatorOpts = append(facilitatorOpts, payments.WithSettlementCache(o.cacheTTL))
	}
	facilitator, err := payments.NewFacilitator(ledger, append(facilitatorOpts, o.facilitator...)...)
	if err != nil {
		return nil, err
	}

	pw, err := paywall.New(facilitator,
		paywall.WithLogger(logger),
		paywall.WithEnvironment(string(cfg.Environment)))
	if err != nil {
		return nil, err
	}

	logger.Debug("payments initialised", zap.String("backend", backend), zap.String("account", address))
	return &Payments{
		config:         cfg,
		accountAddress: address,
		ledger:         ledger,
		facilitator:    facilitator,
		paywall:        pw,
		logger:         logger,
	}, nil
}

// FromEnv builds the stack from NVM_* variables, loading .env when present.
func FromEnv(opts ...Option) (*Payments, error) {
	cfg, err := config.FromEnv(".env")
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

func (p *Payments) Config() config.Config { return p.config }

// AccountAddress is the account the API key belongs to.
func (p *Payments) AccountAddress() string { return p.accountAddress }

func (p *Payments) Ledger() *nvmhttp.LedgerClient { return p.ledger }

func (p *Payments) Facilitator() *payments.Facilitator { return p.facilitator }

func (p *Payments) Paywall() *paywall.Paywall { return p.paywall }

// GetX402AccessToken issues an access token for planID and agentID. This is
// the subscriber side: the API key must belong to the subscriber.
func (p *Payments) GetX402AccessToken(ctx context.Context, planID, agentID string, opts ...token.Option) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeouts.Issue)
	defer cancel()
	return token.Generate(ctx, p.ledger, planID, agentID, opts...)
}

// TokenSource issues access tokens on demand for the HTTP client. An empty
// planID takes the plan and agent from the first 402 answer.
func (p *Payments) TokenSource(planID, agentID string, opts ...token.Option) nvmhttp.TokenSource {
	return nvmhttp.TokenSourceFunc(func(ctx context.Context, required *types.PaymentRequired) (string, error) {
		plan, agent := planID, agentID
		if plan == "" && required != nil && len(required.Accepts) > 0 {
			plan, agent = required.Accepts[0].PlanID, required.Accepts[0].AgentID
		}
		if plan == "" {
			return "", nil
		}
		return p.GetX402AccessToken(ctx, plan, agent, opts...)
	})
}

// HTTPClient returns a client that pays for protected endpoints with tokens
// from source.
func (p *Payments) HTTPClient(source nvmhttp.TokenSource) *http.Client {
	return nvmhttp.WrapHTTPClientWithPayment(&http.Client{}, source)
}

// MCP returns a wrapper for MCP server handlers.
func (p *Payments) MCP(opts ...mcp.WrapperOption) *mcp.PaymentWrapper {
	return mcp.NewPaymentWrapper(p.paywall, append([]mcp.WrapperOption{mcp.WithLogger(p.logger)}, opts...)...)
}

// A2A returns a task handler for an A2A agent.
func (p *Payments) A2A(reg paywall.Registration, opts ...a2a.Option) (*a2a.Handler, error) {
	return a2a.NewHandler(p.paywall, reg, append([]a2a.Option{a2a.WithLogger(p.logger)}, opts...)...)
}
