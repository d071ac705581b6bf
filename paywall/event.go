package paywall

// Status is the progress reported by a streaming handler.
type Status string

const (
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Event is one progress or completion signal from a handler. An empty
// ContextID is taken to belong to the observing session.
type Event struct {
	ContextID   string
	Final       bool
	Status      Status
	CreditsUsed *int64
}

// Used is a convenience for Event.CreditsUsed.
func Used(n int64) *int64 {
	return &n
}

// Terminal reports whether the event ends the invocation.
func (e Event) Terminal() bool {
	if e.Final {
		return true
	}
	switch e.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// result folds a terminal event onto completed, failed or cancelled. A
// final event with no explicit status counts as completed.
func (e Event) result() Status {
	switch e.Status {
	case StatusFailed, StatusCancelled:
		return e.Status
	}
	return StatusCompleted
}
