// Package a2a runs A2A agent tasks behind the paywall. Task status updates
// are mapped onto paywall events: the first terminal update settles the
// credits reported in its metadata.
package a2a

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/nevermined-io/payments-go/paywall"
)

// TaskState is the A2A task lifecycle state.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateAuthRequired  TaskState = "auth-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateRejected      TaskState = "rejected"
)

// Terminal reports whether no further updates follow a task in this state.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateCanceled, TaskStateRejected:
		return true
	}
	return false
}

func (s TaskState) status() paywall.Status {
	switch s {
	case TaskStateCompleted:
		return paywall.StatusCompleted
	case TaskStateFailed, TaskStateRejected:
		return paywall.StatusFailed
	case TaskStateCanceled:
		return paywall.StatusCancelled
	default:
		return paywall.StatusWorking
	}
}

// MetadataCreditsUsed is the update metadata key carrying consumed credits.
const MetadataCreditsUsed = "creditsUsed"

// Metadata keys set on the terminal update once credits are settled.
const (
	MetadataTxHash        = "txHash"
	MetadataCreditsBurned = "creditsBurned"
	MetadataPaymentError  = "paymentError"
)

// TaskStatus is the state of a task at one point in time.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Timestamp string    `json:"timestamp,omitempty"`
}

// TaskStatusUpdate is an A2A "status-update" event.
type TaskStatusUpdate struct {
	Kind      string                 `json:"kind"`
	TaskID    string                 `json:"taskId"`
	ContextID string                 `json:"contextId"`
	Status    TaskStatus             `json:"status"`
	Final     bool                   `json:"final"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewStatusUpdate builds a status update for a task.
func NewStatusUpdate(taskID, contextID string, state TaskState, final bool) TaskStatusUpdate {
	return TaskStatusUpdate{
		Kind:      "status-update",
		TaskID:    taskID,
		ContextID: contextID,
		Status:    TaskStatus{State: state},
		Final:     final,
	}
}

// WithCreditsUsed returns a copy of u reporting n consumed credits.
func (u TaskStatusUpdate) WithCreditsUsed(n int64) TaskStatusUpdate {
	metadata := make(map[string]interface{}, len(u.Metadata)+1)
	for k, v := range u.Metadata {
		metadata[k] = v
	}
	metadata[MetadataCreditsUsed] = n
	u.Metadata = metadata
	return u
}

// Terminal reports whether the update ends the task.
func (u TaskStatusUpdate) Terminal() bool {
	return u.Final || u.Status.State.Terminal()
}

// CreditsUsed reads metadata.creditsUsed. Numbers, numeric strings and
// json.Number are accepted; anything else counts as unreported.
func (u TaskStatusUpdate) CreditsUsed() (int64, bool) {
	switch v := u.Metadata[MetadataCreditsUsed].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// Event maps the update onto a paywall event for the session contextID.
func (u TaskStatusUpdate) Event(contextID string) paywall.Event {
	ev := paywall.Event{
		ContextID: contextID,
		Final:     u.Final,
		Status:    u.Status.State.status(),
	}
	if n, ok := u.CreditsUsed(); ok {
		ev.CreditsUsed = paywall.Used(n)
	}
	return ev
}
