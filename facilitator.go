package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nevermined-io/payments-go/extensions/nevermined"
	"github.com/nevermined-io/payments-go/token"
	"github.com/nevermined-io/payments-go/types"
)

// Facilitator turns a payload and requirements pair into a verify or settle
// decision. It is the only component that talks to the Ledger.
//
// Verify and Settle never return Go errors: every failure is reported
// through VerifyResponse.InvalidReason or SettleResponse.ErrorReason using
// the Reason* taxonomy. Nothing is retried.
type Facilitator struct {
	mu sync.RWMutex

	ledger        Ledger
	logger        *zap.Logger
	extractOpts   []nevermined.ExtractOption
	cache         *SettlementCache
	verifyTimeout time.Duration
	settleTimeout time.Duration

	beforeVerifyHooks    []BeforeVerifyHook
	afterVerifyHooks     []AfterVerifyHook
	onVerifyFailureHooks []OnVerifyFailureHook
	beforeSettleHooks    []BeforeSettleHook
	afterSettleHooks     []AfterSettleHook
	onSettleFailureHooks []OnSettleFailureHook
}

// FacilitatorOption configures a Facilitator.
type FacilitatorOption func(*Facilitator)

// WithLogger sets the logger. Defaults to zap.L().
func WithLogger(logger *zap.Logger) FacilitatorOption {
	return func(f *Facilitator) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithExtractOptions forwards options to the extension extractor, e.g. the
// v1/v2 conflict policy.
func WithExtractOptions(opts ...nevermined.ExtractOption) FacilitatorOption {
	return func(f *Facilitator) {
		f.extractOpts = append(f.extractOpts, opts...)
	}
}

// WithSettlementCache remembers successful settlements for ttl so a retried
// settle of the same invocation returns the original receipt instead of
// burning again. Only settles whose context carries an invocation ID (see
// WithInvocationID) are deduplicated; an access token is reused across many
// invocations and is never a key on its own.
func WithSettlementCache(ttl time.Duration) FacilitatorOption {
	return func(f *Facilitator) {
		f.cache = NewSettlementCache(ttl)
	}
}

// WithTimeouts bounds each ledger call. Zero leaves the caller's context alone.
func WithTimeouts(verify, settle time.Duration) FacilitatorOption {
	return func(f *Facilitator) {
		f.verifyTimeout = verify
		f.settleTimeout = settle
	}
}

// NewFacilitator creates a facilitator backed by ledger.
func NewFacilitator(ledger Ledger, opts ...FacilitatorOption) (*Facilitator, error) {
	if ledger == nil {
		return nil, ErrNilLedger
	}
	f := &Facilitator{
		ledger: ledger,
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// ============================================================================
// Hook Registration Methods
// ============================================================================

func (f *Facilitator) OnBeforeVerify(hook BeforeVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeVerifyHooks = append(f.beforeVerifyHooks, hook)
	return f
}

func (f *Facilitator) OnAfterVerify(hook AfterVerifyHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterVerifyHooks = append(f.afterVerifyHooks, hook)
	return f
}

func (f *Facilitator) OnVerifyFailure(hook OnVerifyFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onVerifyFailureHooks = append(f.onVerifyFailureHooks, hook)
	return f
}

func (f *Facilitator) OnBeforeSettle(hook BeforeSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSettleHooks = append(f.beforeSettleHooks, hook)
	return f
}

func (f *Facilitator) OnAfterSettle(hook AfterSettleHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSettleHooks = append(f.afterSettleHooks, hook)
	return f
}

func (f *Facilitator) OnSettleFailure(hook OnSettleFailureHook) *Facilitator {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onSettleFailureHooks = append(f.onSettleFailureHooks, hook)
	return f
}

// ============================================================================
// Core Payment Methods
// ============================================================================

// Verify checks that payload authorizes a call described by requirements
// without consuming credits. It is safe to call repeatedly.
func (f *Facilitator) Verify(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements) VerifyResponse {
	logger := f.logger.With(zap.String("plan_id", requirements.PlanID), zap.String("agent_id", requirements.AgentID))

	info, reason, msg := f.check(payload, requirements, nil)
	if reason != "" {
		logger.Info("verify rejected", zap.String("reason", reason), zap.String("detail", msg))
		return VerifyResponse{IsValid: false, InvalidReason: reason, InvalidMessage: msg}
	}

	f.mu.RLock()
	before := f.beforeVerifyHooks
	after := f.afterVerifyHooks
	onFailure := f.onVerifyFailureHooks
	f.mu.RUnlock()

	hookCtx := VerifyContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Info:         *info,
		Timestamp:    time.Now(),
	}
	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			return VerifyResponse{IsValid: false, InvalidReason: ReasonUnknown, InvalidMessage: err.Error()}
		}
		if result != nil && result.Abort {
			return VerifyResponse{IsValid: false, InvalidReason: NormalizeReason(result.Reason), InvalidMessage: result.Reason}
		}
	}

	callCtx, cancel := withTimeout(ctx, f.verifyTimeout)
	defer cancel()

	start := time.Now()
	resp, err := f.ledger.VerifyPermissions(callCtx, f.permissionRequest(payload, requirements, *info, info.MaxAmount))
	duration := time.Since(start)

	if err != nil {
		reason := ClassifyError(err)
		failureCtx := VerifyFailureContext{VerifyContext: hookCtx, Error: err, Reason: reason, Duration: duration}
		for _, hook := range onFailure {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result
			}
		}
		logger.Warn("verify failed", zap.String("reason", reason), zap.Error(err))
		return VerifyResponse{IsValid: false, InvalidReason: reason, InvalidMessage: err.Error()}
	}

	result := VerifyResponse{IsValid: true}
	if resp != nil {
		result = *resp
	}
	if !result.IsValid {
		if result.InvalidMessage == "" {
			result.InvalidMessage = result.InvalidReason
		}
		result.InvalidReason = NormalizeReason(result.InvalidReason)
	}

	resultCtx := VerifyResultContext{VerifyContext: hookCtx, Result: result, Duration: duration}
	for _, hook := range after {
		if err := hook(resultCtx); err != nil {
			logger.Warn("after verify hook failed", zap.Error(err))
		}
	}

	logger.Debug("verify completed",
		zap.Bool("valid", result.IsValid),
		zap.String("reason", result.InvalidReason),
		zap.Duration("duration", duration))
	return result
}

// Settle burns amount credits for the call described by requirements.
// A nil amount burns requirements.MaxAmount. The amount is never re-derived
// here; callers compute it. Transport failures return
// ErrorReason=facilitator_unreachable.
func (f *Facilitator) Settle(ctx context.Context, payload PaymentPayload, requirements PaymentRequirements, amount *big.Int) SettleResponse {
	logger := f.logger.With(zap.String("plan_id", requirements.PlanID), zap.String("agent_id", requirements.AgentID))
	fail := func(reason, detail string) SettleResponse {
		logger.Warn("settle failed", zap.String("reason", reason), zap.String("detail", detail))
		return SettleResponse{Success: false, ErrorReason: reason, Network: requirements.Network}
	}

	if amount == nil {
		maxAmount, err := requirements.MaxAmountInt()
		if err != nil {
			return fail(ReasonUnknown, err.Error())
		}
		amount = maxAmount
	}
	if amount.Sign() < 0 {
		return fail(ReasonUnknown, ErrNegativeAmount.Error())
	}

	info, reason, msg := f.check(payload, requirements, amount)
	if reason != "" {
		return fail(reason, msg)
	}

	var (
		cacheKey string
		done     chan struct{}
	)
	invocation, dedupe := InvocationIDFromContext(ctx)
	dedupe = dedupe && f.cache != nil
	if dedupe {
		cacheKey = settlementKey(invocation, payload, amount)
		status, cached, ch := f.cache.CheckAndMark(cacheKey)
		switch status {
		case StatusCached:
			logger.Info("settle replay served from cache")
			return *cached
		case StatusInFlight:
			cached, err := f.cache.WaitForResult(ctx, cacheKey, ch)
			if err != nil {
				return fail(ReasonFacilitatorUnreachable, err.Error())
			}
			if cached != nil {
				return *cached
			}
			// The first attempt failed; nobody settled this invocation.
			return fail(ReasonUnknown, "concurrent settlement of the same invocation failed")
		}
		done = ch
	}

	result := f.settle(ctx, logger, payload, requirements, *info, amount)

	if dedupe {
		if result.Success {
			f.cache.Complete(cacheKey, &result, done)
		} else {
			f.cache.Fail(cacheKey, done)
		}
	}
	return result
}

func (f *Facilitator) settle(ctx context.Context, logger *zap.Logger, payload PaymentPayload, requirements PaymentRequirements, info nevermined.Info, amount *big.Int) SettleResponse {
	f.mu.RLock()
	before := f.beforeSettleHooks
	after := f.afterSettleHooks
	onFailure := f.onSettleFailureHooks
	f.mu.RUnlock()

	hookCtx := SettleContext{
		Ctx:          ctx,
		Payload:      payload,
		Requirements: requirements,
		Info:         info,
		Amount:       new(big.Int).Set(amount),
		Timestamp:    time.Now(),
	}
	for _, hook := range before {
		result, err := hook(hookCtx)
		if err != nil {
			logger.Warn("before settle hook failed", zap.Error(err))
			return SettleResponse{Success: false, ErrorReason: ReasonUnknown, Network: requirements.Network}
		}
		if result != nil && result.Abort {
			logger.Info("settle aborted by hook", zap.String("reason", result.Reason))
			return SettleResponse{Success: false, ErrorReason: NormalizeReason(result.Reason), Network: requirements.Network}
		}
	}

	callCtx, cancel := withTimeout(ctx, f.settleTimeout)
	defer cancel()

	credits := types.FormatAmount(amount)
	start := time.Now()
	resp, err := f.ledger.SettlePermissions(callCtx, f.permissionRequest(payload, requirements, info, credits))
	duration := time.Since(start)

	if err != nil {
		reason := ClassifyError(err)
		failureCtx := SettleFailureContext{SettleContext: hookCtx, Error: err, Reason: reason, Duration: duration}
		for _, hook := range onFailure {
			result, _ := hook(failureCtx)
			if result != nil && result.Recovered {
				return result.Result
			}
		}
		logger.Error("settle failed", zap.String("reason", reason), zap.String("credits", credits), zap.Error(err))
		return SettleResponse{Success: false, ErrorReason: reason, Network: requirements.Network}
	}

	result := SettleResponse{Success: true}
	if resp != nil {
		result = *resp
	}
	if result.Network == "" {
		result.Network = requirements.Network
	}
	if result.Success {
		if result.CreditsBurned == "" {
			result.CreditsBurned = credits
		}
	} else {
		result.ErrorReason = NormalizeReason(result.ErrorReason)
	}

	resultCtx := SettleResultContext{SettleContext: hookCtx, Result: result, Duration: duration}
	for _, hook := range after {
		if err := hook(resultCtx); err != nil {
			logger.Warn("after settle hook failed", zap.Error(err))
		}
	}

	logger.Info("settle completed",
		zap.Bool("success", result.Success),
		zap.String("credits", credits),
		zap.String("transaction", result.Transaction),
		zap.Duration("duration", duration))
	return result
}

// check performs the structural checks shared by Verify and Settle. It
// returns a non-empty reason when the pair must be rejected without
// contacting the ledger.
func (f *Facilitator) check(payload PaymentPayload, requirements PaymentRequirements, amount *big.Int) (*nevermined.Info, string, string) {
	if err := requirements.Validate(); err != nil {
		return nil, ReasonUnknown, err.Error()
	}

	result, err := nevermined.Extract(payload, &requirements, f.extractOpts...)
	if err != nil {
		return nil, ReasonInvalidExtension, err.Error()
	}
	if result == nil {
		return nil, ReasonMissingExtension, "no nevermined extension in payload or requirements"
	}
	for _, w := range result.Warnings {
		f.logger.Warn("nevermined extension warning", zap.String("warning", w))
	}
	info := result.Info

	if info.PlanID != requirements.PlanID || info.AgentID != requirements.AgentID {
		return nil, ReasonPlanMismatch, fmt.Sprintf("payload targets plan %q agent %q", info.PlanID, info.AgentID)
	}

	maxAmount, _ := requirements.MaxAmountInt()
	requested, err := types.ParseAmount(info.MaxAmount)
	if err != nil {
		return nil, ReasonInvalidExtension, err.Error()
	}
	if requested.Cmp(maxAmount) > 0 {
		return nil, ReasonAmountExceedsMax, fmt.Sprintf("requested %s exceeds max %s", requested, maxAmount)
	}
	if amount != nil && amount.Cmp(maxAmount) > 0 {
		return nil, ReasonAmountExceedsMax, fmt.Sprintf("settle amount %s exceeds max %s", amount, maxAmount)
	}

	if payload.AccessToken() == "" {
		return nil, ReasonInvalidCredential, ErrMissingToken.Error()
	}
	return &info, "", ""
}

func (f *Facilitator) permissionRequest(payload PaymentPayload, requirements PaymentRequirements, info nevermined.Info, amount string) PermissionRequest {
	accessToken := payload.AccessToken()
	subscriber := info.SubscriberAddress
	if subscriber == "" {
		subscriber = requirements.SubscriberAddress
	}
	if subscriber == "" {
		// Display-only decode; the ledger makes the authorization decision.
		if claims := token.Decode(accessToken); claims != nil {
			subscriber = claims.WalletAddress
		}
	}

	req := PermissionRequest{
		PlanID:            requirements.PlanID,
		AgentID:           requirements.AgentID,
		MaxAmount:         amount,
		AccessToken:       accessToken,
		SubscriberAddress: subscriber,
	}
	if endpoint, ok := requirements.Extra["endpoint"].(string); ok {
		req.Endpoint = endpoint
	}
	if verb, ok := requirements.Extra["http_verb"].(string); ok {
		req.HTTPVerb = verb
	}
	return req
}

type invocationKey struct{}

// WithInvocationID tags ctx with the invocation a settle belongs to. Settles
// carrying the same ID, payload and amount are one burn when the settlement
// cache is on.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationKey{}, id)
}

// InvocationIDFromContext returns the ID set by WithInvocationID.
func InvocationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(invocationKey{}).(string)
	return id, ok && id != ""
}

func settlementKey(invocation string, payload PaymentPayload, amount *big.Int) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(payload.AccessToken())
	}
	data = append(data, 0)
	data = append(data, invocation...)
	data = append(data, 0)
	data = append(data, amount.String()...)
	return GenerateSettlementKey(data)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
