package nevermined

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nevermined-io/payments-go/types"
)

// DeclareOption customises Declare.
type DeclareOption func(*Info)

// WithNetwork overrides the default network (base-sepolia).
func WithNetwork(network types.Network) DeclareOption {
	return func(info *Info) {
		info.Network = network
	}
}

// WithScheme overrides the default scheme (contract).
func WithScheme(scheme types.Scheme) DeclareOption {
	return func(info *Info) {
		info.Scheme = scheme
	}
}

// WithEnvironment records the Nevermined environment the plan lives in.
func WithEnvironment(environment string) DeclareOption {
	return func(info *Info) {
		info.Environment = environment
	}
}

// WithSubscriberAddress binds the extension to one subscriber wallet.
func WithSubscriberAddress(address string) DeclareOption {
	return func(info *Info) {
		info.SubscriberAddress = address
	}
}

// Declare builds a Nevermined extension for the given plan, agent and
// maximum charge. The returned extension's info always satisfies its schema.
//
// Example:
//
//	ext, err := nevermined.Declare("plan-1", "agent-1", "5",
//	    nevermined.WithNetwork(types.NetworkBase))
func Declare(planID, agentID, maxAmount string, opts ...DeclareOption) (*Extension, error) {
	info := Info{
		PlanID:    planID,
		AgentID:   agentID,
		MaxAmount: maxAmount,
		Network:   types.DefaultNetwork,
		Scheme:    types.DefaultScheme,
	}
	for _, opt := range opts {
		opt(&info)
	}

	if err := checkInfo(info); err != nil {
		return nil, err
	}

	return &Extension{
		Info:   info,
		Schema: Schema(),
	}, nil
}

// DeclareExtensions is Declare keyed for an extensions map.
func DeclareExtensions(planID, agentID, maxAmount string, opts ...DeclareOption) (map[string]interface{}, error) {
	ext, err := Declare(planID, agentID, maxAmount, opts...)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{NEVERMINED: *ext}, nil
}

// ToExtra flattens info into the v1 requirements.extra carrier.
func ToExtra(info Info) map[string]interface{} {
	extra := map[string]interface{}{
		"plan_id":    info.PlanID,
		"agent_id":   info.AgentID,
		"max_amount": info.MaxAmount,
		"network":    string(info.Network),
		"scheme":     string(info.Scheme),
	}
	if info.SubscriberAddress != "" {
		extra["subscriber_address"] = info.SubscriberAddress
	}
	if info.Environment != "" {
		extra["environment"] = info.Environment
	}
	return extra
}

// InfoFromRequirements derives the info a merchant expects for req.
func InfoFromRequirements(req types.PaymentRequirements) Info {
	return Info{
		PlanID:            req.PlanID,
		AgentID:           req.AgentID,
		MaxAmount:         req.MaxAmount,
		Network:           req.Network,
		Scheme:            req.Scheme,
		SubscriberAddress: req.SubscriberAddress,
	}
}

func checkInfo(info Info) error {
	if strings.TrimSpace(info.PlanID) == "" {
		return types.NewValidationError("plan_id", "must not be empty")
	}
	if strings.TrimSpace(info.AgentID) == "" {
		return types.NewValidationError("agent_id", "must not be empty")
	}
	if _, err := types.ParseAmount(info.MaxAmount); err != nil {
		return types.NewValidationError("max_amount", "%v", err)
	}
	if !info.Network.Valid() {
		return types.NewValidationError("network", "unsupported network %q", info.Network)
	}
	if !info.Scheme.Valid() {
		return types.NewValidationError("scheme", "unsupported scheme %q", info.Scheme)
	}
	if info.SubscriberAddress != "" && !isAddress(info.SubscriberAddress) {
		return types.NewValidationError("subscriber_address", "%q is not a hex address", info.SubscriberAddress)
	}
	return nil
}

// isAddress is common.IsHexAddress with the 0x prefix made mandatory.
func isAddress(s string) bool {
	return strings.HasPrefix(s, "0x") && common.IsHexAddress(s)
}

func networkEnum() []string {
	out := make([]string, 0, len(types.Networks()))
	for _, n := range types.Networks() {
		out = append(out, string(n))
	}
	return out
}

func schemeEnum() []string {
	out := make([]string, 0, 3)
	for _, s := range types.Schemes() {
		out = append(out, string(s))
	}
	return out
}
