package payments

import (
	"fmt"

	"github.com/nevermined-io/payments-go/extensions/nevermined"
	"github.com/nevermined-io/payments-go/types"
)

// Re-exported envelope types.
type (
	Network             = types.Network
	Scheme              = types.Scheme
	PaymentRequirements = types.PaymentRequirements
	PaymentPayload      = types.PaymentPayload
	PaymentRequired     = types.PaymentRequired
	ResourceInfo        = types.ResourceInfo
	VerifyResponse      = types.VerifyResponse
	SettleResponse      = types.SettleResponse
)

// BuildPaymentRequired creates the 402 body for one or more acceptable
// requirements. Each requirement gets its Nevermined info flattened into
// extra for v1 clients, and the first one is declared under
// extensions["nevermined"] for v2 clients.
func BuildPaymentRequired(resource *ResourceInfo, errorMessage string, accepts ...PaymentRequirements) (*PaymentRequired, error) {
	if len(accepts) == 0 {
		return nil, fmt.Errorf("payments: at least one payment requirement is needed")
	}

	out := make([]PaymentRequirements, 0, len(accepts))
	for _, req := range accepts {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		extra := make(map[string]interface{}, len(req.Extra)+5)
		for k, v := range req.Extra {
			extra[k] = v
		}
		for k, v := range nevermined.ToExtra(nevermined.InfoFromRequirements(req)) {
			extra[k] = v
		}
		req.Extra = extra
		out = append(out, req)
	}

	first := out[0]
	opts := []nevermined.DeclareOption{
		nevermined.WithNetwork(first.Network),
		nevermined.WithScheme(first.Scheme),
	}
	if first.SubscriberAddress != "" {
		opts = append(opts, nevermined.WithSubscriberAddress(first.SubscriberAddress))
	}
	extensions, err := nevermined.DeclareExtensions(first.PlanID, first.AgentID, first.MaxAmount, opts...)
	if err != nil {
		return nil, err
	}

	return &PaymentRequired{
		X402Version: types.X402Version,
		Error:       errorMessage,
		Resource:    resource,
		Accepts:     out,
		Extensions:  extensions,
	}, nil
}
