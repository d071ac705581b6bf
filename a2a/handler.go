package a2a

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nevermined-io/payments-go/paywall"
)

var ErrNilPaywall = errors.New("a2a: paywall is required")

// Producer starts an agent task and returns its status updates. It must
// close the channel or send a terminal update, and should stop sending once
// ctx is done. Handlers report credits through metadata.creditsUsed or
// paywall.FromContext(ctx).ReportConsumed.
type Producer func(ctx context.Context) (<-chan TaskStatusUpdate, error)

// TaskRequest identifies one task run and who pays for it.
type TaskRequest struct {
	// TaskID is generated when empty.
	TaskID      string
	ContextID   string
	Credentials paywall.Credentials
	// PushNotification, when set, is told about the terminal state.
	PushNotification *PushNotificationConfig
}

// Handler runs the tasks of one agent behind a paywall.
type Handler struct {
	paywall *paywall.Paywall
	reg     paywall.Registration
	push    *PushNotifier
	logger  *zap.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the handler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithPushNotifier replaces the default push notifier.
func WithPushNotifier(n *PushNotifier) Option {
	return func(h *Handler) {
		h.push = n
	}
}

// NewHandler creates a task handler. The registration kind is forced to
// task.
func NewHandler(pw *paywall.Paywall, reg paywall.Registration, opts ...Option) (*Handler, error) {
	if pw == nil {
		return nil, ErrNilPaywall
	}
	reg.Kind = paywall.KindTask
	if reg.Name == "" {
		reg.Name = "task"
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	h := &Handler{paywall: pw, reg: reg, logger: zap.L()}
	for _, opt := range opts {
		opt(h)
	}
	if h.push == nil {
		h.push = NewPushNotifier(nil)
	}
	return h, nil
}

// RunTask verifies the caller, runs produce and settles on the first
// terminal update of the task. Updates are passed to forward as they
// arrive, except the terminal one, which is forwarded after settlement with
// the payment result in its metadata. Updates for other tasks are dropped.
// A rejected caller gets a final "rejected" update and a
// *paywall.RejectedError.
func (h *Handler) RunTask(ctx context.Context, task TaskRequest, produce Producer, forward func(TaskStatusUpdate)) (*paywall.Outcome, error) {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	if forward == nil {
		forward = func(TaskStatusUpdate) {}
	}
	logger := h.logger.With(zap.String("task_id", task.TaskID))

	var (
		terminal atomic.Pointer[TaskStatusUpdate]
		relay    sync.WaitGroup
	)
	stream := func(ctx context.Context) (<-chan paywall.Event, error) {
		updates, err := produce(ctx)
		if err != nil {
			return nil, err
		}
		sessionID := paywall.FromContext(ctx).ID()
		events := make(chan paywall.Event)
		relay.Add(1)
		go func() {
			defer relay.Done()
			defer close(events)
			for {
				var (
					u  TaskStatusUpdate
					ok bool
				)
				select {
				case <-ctx.Done():
					return
				case u, ok = <-updates:
					if !ok {
						return
					}
				}

				if u.TaskID != "" && u.TaskID != task.TaskID {
					logger.Debug("dropping update for another task", zap.String("update_task_id", u.TaskID))
					continue
				}
				last := u.Terminal()
				if !last {
					forward(u)
				}

				select {
				case events <- u.Event(sessionID):
				case <-ctx.Done():
					return
				}
				if last {
					terminal.Store(&u)
					return
				}
			}
		}()
		return events, nil
	}

	outcome, err := h.paywall.RunStream(ctx, h.reg, task.Credentials, stream)
	// The relay stores the terminal update only once the paywall has it.
	relay.Wait()
	if rej, ok := paywall.IsRejected(err); ok {
		update := NewStatusUpdate(task.TaskID, task.ContextID, TaskStateRejected, true)
		update.Metadata = map[string]interface{}{MetadataPaymentError: rej.Reason}
		forward(update)
		return outcome, err
	}

	if u := terminal.Load(); u != nil {
		final := withPayment(*u, outcome)
		forward(final)
		h.notify(ctx, task, final, logger)
	}
	return outcome, err
}

// withPayment copies the settlement result into the update's metadata.
func withPayment(u TaskStatusUpdate, outcome *paywall.Outcome) TaskStatusUpdate {
	if outcome == nil || outcome.Settlement == nil {
		return u
	}
	metadata := make(map[string]interface{}, len(u.Metadata)+2)
	for k, v := range u.Metadata {
		metadata[k] = v
	}
	if outcome.Settlement.Success {
		metadata[MetadataTxHash] = outcome.Settlement.Transaction
		metadata[MetadataCreditsBurned] = outcome.Settlement.CreditsBurned
	} else {
		metadata[MetadataPaymentError] = outcome.Settlement.ErrorReason
	}
	u.Metadata = metadata
	return u
}

func (h *Handler) notify(ctx context.Context, task TaskRequest, u TaskStatusUpdate, logger *zap.Logger) {
	if task.PushNotification == nil || !u.Status.State.Terminal() {
		return
	}
	if err := h.push.Notify(context.WithoutCancel(ctx), *task.PushNotification, task.TaskID, u.Status.State, u.Metadata); err != nil {
		logger.Warn("push notification failed", zap.Error(err))
	}
}
