package paywall

import (
	"context"
	"sync"
)

// Context is the per-invocation view handed to a protected handler. It is
// created by Begin and belongs to that one invocation.
type Context struct {
	id         string
	planID     string
	agentID    string
	subscriber string
	maxCredits int64

	mu       sync.Mutex
	consumed *int64
}

func (c *Context) ID() string         { return c.id }
func (c *Context) PlanID() string     { return c.planID }
func (c *Context) AgentID() string    { return c.agentID }
func (c *Context) Subscriber() string { return c.subscriber }

// MaxCredits is the reservation for this invocation.
func (c *Context) MaxCredits() int64 { return c.maxCredits }

// ReportConsumed declares how many credits the work used so far. The last
// report wins. Calling it on a nil Context is a no-op so handlers can run
// outside a paywall.
func (c *Context) ReportConsumed(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.consumed = &n
	c.mu.Unlock()
}

// Consumed returns the last reported amount, if any.
func (c *Context) Consumed() (int64, bool) {
	if c == nil {
		return 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumed == nil {
		return 0, false
	}
	return *c.consumed, true
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying pc.
func NewContext(ctx context.Context, pc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, pc)
}

// FromContext returns the paywall context of the current invocation, or nil.
func FromContext(ctx context.Context) *Context {
	pc, _ := ctx.Value(contextKey{}).(*Context)
	return pc
}
