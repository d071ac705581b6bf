package paywall

import (
	"context"
	"math/big"
	"net/http"
	"sync"

	"go.uber.org/zap"

	payments "github.com/nevermined-io/payments-go"
	"github.com/nevermined-io/payments-go/types"
)

// Session is one protected invocation. It is created by Begin and must not
// be shared with other invocations.
type Session struct {
	pw      *Paywall
	pc      *Context
	reg     Registration
	req     types.PaymentRequirements
	payload types.PaymentPayload
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	outcome Outcome
	done    chan struct{}
	stop    context.CancelFunc
}

func (s *Session) ID() string { return s.pc.id }

// Context returns the handler-facing view of the session.
func (s *Session) Context() *Context { return s.pc }

// Requirements returns the requirements the caller was verified against.
func (s *Session) Requirements() types.PaymentRequirements { return s.req }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches Closed or Rejected.
func (s *Session) Done() <-chan struct{} { return s.done }

// Outcome returns a snapshot of the result so far.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Outcome {
	o := s.outcome
	o.ContextID = s.pc.id
	return o
}

// Start moves a verified session to Executing.
func (s *Session) Start() error {
	return s.advance(onExecute)
}

// Execute runs handler with the paywall context attached to ctx, then
// settles on success. A handler error closes the session without settling
// and is returned unchanged. If ctx is cancelled, or Cancel is called while
// the handler runs, the handler's context is cancelled and the session is
// cancelled instead of completed.
func (s *Session) Execute(ctx context.Context, handler func(ctx context.Context) error) error {
	if err := s.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(NewContext(ctx, s.pc))
	defer cancel()
	s.onCancel(cancel)

	err := handler(runCtx)
	switch {
	case runCtx.Err() != nil:
		s.Cancel(ctx)
	case err != nil:
		s.Fail(err)
	default:
		s.Observe(ctx, Event{ContextID: s.pc.id, Final: true, Status: StatusCompleted})
	}
	return err
}

// Observe feeds one handler event to the session and reports whether the
// session is finished. Events for other contexts are ignored, as is
// anything arriving after the first terminal event.
func (s *Session) Observe(ctx context.Context, ev Event) bool {
	if ev.ContextID != "" && ev.ContextID != s.pc.id {
		s.logger.Debug("ignoring event for another context", zap.String("event_context_id", ev.ContextID))
		return s.State().Final()
	}
	if state := s.State(); state != Executing {
		return state.Final()
	}

	if ev.CreditsUsed != nil {
		s.pc.ReportConsumed(*ev.CreditsUsed)
	}
	if !ev.Terminal() {
		return false
	}

	switch ev.result() {
	case StatusCompleted:
		s.settle(ctx, onComplete)
	case StatusFailed:
		s.abort(ReasonHandlerFailed)
	default:
		s.Cancel(ctx)
	}
	return true
}

// Fail closes an executing session after a handler error. Nothing is settled.
func (s *Session) Fail(err error) {
	if s.abort(ReasonHandlerError) {
		s.logger.Info("handler failed", zap.Error(err))
	}
}

// Cancel stops the session and signals the running handler through its
// context. Credits already reported are settled once; otherwise nothing is.
// Settlement outlives ctx's cancellation.
func (s *Session) Cancel(ctx context.Context) {
	s.mu.Lock()
	stop := s.stop
	s.mu.Unlock()
	if stop != nil {
		stop()
	}

	if _, declared := s.pc.Consumed(); declared && s.settle(context.WithoutCancel(ctx), onCancelDeclared) {
		return
	}
	s.abort(ReasonCancelled)
}

// onCancel registers the function Cancel uses to stop the handler.
func (s *Session) onCancel(stop context.CancelFunc) {
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
}

// Close ends a session that never saw a terminal event and returns the
// final outcome. It is a no-op on a finished session.
func (s *Session) Close() Outcome {
	s.abort(ReasonIncomplete)
	return s.Outcome()
}

func (s *Session) advance(t trigger) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(t)
}

func (s *Session) advanceLocked(t trigger) error {
	next, err := transition(s.state, t)
	if err != nil {
		return err
	}
	s.logger.Debug("state transition",
		zap.Stringer("from", s.state),
		zap.Stringer("to", next),
		zap.Stringer("trigger", t))
	s.state = next

	// Closed keeps the settlement result as the reported state.
	if next != Closed || (s.outcome.State != Settled && s.outcome.State != SettlementFailed) {
		s.outcome.State = next
	}
	if next.Final() {
		close(s.done)
	}
	return nil
}

// reject turns the caller away. The 402 body carries reason as its error.
func (s *Session) reject(status int, reason, message string) error {
	s.mu.Lock()
	if err := s.advanceLocked(onReject); err != nil {
		s.mu.Unlock()
		return err
	}
	s.outcome.Status = status
	s.outcome.Reason = reason
	if pr, err := payments.BuildPaymentRequired(s.reg.Resource(), reason, s.req); err == nil {
		s.outcome.PaymentRequired = pr
	}
	outcome := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Info("caller rejected", zap.Int("status", status), zap.String("reason", reason), zap.String("message", message))
	return &RejectedError{Outcome: outcome}
}

// abort closes the session without settling. It reports whether this call
// did the closing.
func (s *Session) abort(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.advanceLocked(onAbort); err != nil {
		return false
	}
	s.outcome.Reason = reason
	s.logger.Info("closed without settlement", zap.String("reason", reason))
	return true
}

// settle moves Executing to Settling through t and burns the credits. The
// transition is the only way into Settling, so a session settles once.
func (s *Session) settle(ctx context.Context, t trigger) bool {
	s.mu.Lock()
	if err := s.advanceLocked(t); err != nil {
		s.mu.Unlock()
		return false
	}
	amount := s.amount()
	s.mu.Unlock()

	resp := s.pw.facilitator.Settle(payments.WithInvocationID(ctx, s.pc.id), s.payload, s.req, amount)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome.Credits = amount
	s.outcome.Settlement = &resp
	logger := s.logger.With(zap.String("credits", amount.String()))
	if resp.Success {
		_ = s.advanceLocked(onSettleOK)
		logger.Info("settled", zap.String("transaction", resp.Transaction))
	} else {
		s.outcome.Reason = resp.ErrorReason
		_ = s.advanceLocked(onSettleFail)
		logger.Warn("settlement failed after delivery", zap.String("reason", resp.ErrorReason))
	}
	_ = s.advanceLocked(onClose)
	return true
}

// amount is the reported consumption, or the registration default, clamped
// to [0, max].
func (s *Session) amount() *big.Int {
	consumed, ok := s.pc.Consumed()
	if !ok {
		consumed = s.reg.Credits.Default()
	}
	if consumed > s.reg.Credits.Max {
		s.logger.Info("reported credits above max, clamping",
			zap.Int64("reported", consumed), zap.Int64("max", s.reg.Credits.Max))
	}
	return types.ClampAmount(big.NewInt(consumed), big.NewInt(s.reg.Credits.Max))
}

// HTTPStatus maps an outcome to the status a transport should answer with
// when it has no response of its own.
func (o Outcome) HTTPStatus() int {
	if o.Status != 0 {
		return o.Status
	}
	return http.StatusOK
}
