package paywall

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nevermined-io/payments-go/types"
)

// Kind is the sort of handler a registration protects.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
	KindHTTP     Kind = "http"
	KindTask     Kind = "task"
)

// Credits is the price of one invocation. Min equals Max for fixed pricing.
type Credits struct {
	Min int64
	Max int64
}

// Fixed charges n credits per call.
func Fixed(n int64) Credits {
	return Credits{Min: n, Max: n}
}

// Range charges what the handler reports, up to hi. Nothing reported
// charges lo.
func Range(lo, hi int64) Credits {
	return Credits{Min: lo, Max: hi}
}

// Dynamic reports whether the handler decides the final amount.
func (c Credits) Dynamic() bool {
	return c.Min != c.Max
}

// Default is charged when the handler reports nothing.
func (c Credits) Default() int64 {
	return c.Min
}

func (c Credits) String() string {
	if c.Dynamic() {
		return fmt.Sprintf("%d-%d", c.Min, c.Max)
	}
	return strconv.FormatInt(c.Min, 10)
}

// Registration is the static configuration of a protected handler.
type Registration struct {
	Kind    Kind
	Name    string
	PlanID  string
	AgentID string
	Credits Credits

	// Network and Scheme default to types.DefaultNetwork and
	// types.DefaultScheme.
	Network types.Network
	Scheme  types.Scheme

	// Endpoint and HTTPVerb are forwarded to the ledger so it can check the
	// agent's registered endpoints. Endpoint also becomes the resource URL
	// of a 402 body.
	Endpoint    string
	HTTPVerb    string
	Description string
	MimeType    string
}

var errMissingName = errors.New("paywall: registration name is required")

// Validate checks the registration can produce valid requirements.
func (r Registration) Validate() error {
	if strings.TrimSpace(r.Name) == "" && r.Kind != KindHTTP {
		return errMissingName
	}
	if r.Credits.Min < 0 || r.Credits.Max < r.Credits.Min {
		return types.NewValidationError("credits", "invalid range %d-%d", r.Credits.Min, r.Credits.Max)
	}
	_, err := r.Requirements()
	return err
}

// Requirements builds the payment requirements for one invocation.
// max_amount is the fixed price or the top of the range.
func (r Registration) Requirements() (types.PaymentRequirements, error) {
	req, err := types.NewPaymentRequirements(
		r.PlanID,
		r.AgentID,
		strconv.FormatInt(r.Credits.Max, 10),
		r.Network,
		r.Scheme,
	)
	if err != nil {
		return types.PaymentRequirements{}, err
	}
	if r.Endpoint != "" || r.HTTPVerb != "" {
		req.Extra = map[string]interface{}{}
		if r.Endpoint != "" {
			req.Extra["endpoint"] = r.Endpoint
		}
		if r.HTTPVerb != "" {
			req.Extra["http_verb"] = r.HTTPVerb
		}
	}
	return *req, nil
}

// Resource describes the protected handler in a 402 body.
func (r Registration) Resource() *types.ResourceInfo {
	url := r.Endpoint
	if url == "" {
		url = fmt.Sprintf("%s:%s", r.Kind, r.Name)
	}
	return &types.ResourceInfo{
		URL:         url,
		Description: r.Description,
		MimeType:    r.MimeType,
	}
}
