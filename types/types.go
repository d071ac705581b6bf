// Package types holds the versioned payment envelope exchanged between
// callers, merchants and the Nevermined facilitator backend.
package types

import (
	"fmt"
	"math/big"
	"strings"
)

// Protocol versions.
const (
	X402VersionV1 = 1
	X402Version   = 2
)

// Network identifies the chain credits are settled on. Both the short names
// used by the Nevermined backend ("base-sepolia") and CAIP-2 identifiers
// ("eip155:84532") are accepted.
type Network string

const (
	NetworkBase            Network = "base"
	NetworkBaseSepolia     Network = "base-sepolia"
	NetworkArbitrum        Network = "arbitrum"
	NetworkArbitrumSepolia Network = "arbitrum-sepolia"

	NetworkEIP155Base            Network = "eip155:8453"
	NetworkEIP155BaseSepolia     Network = "eip155:84532"
	NetworkEIP155Arbitrum        Network = "eip155:42161"
	NetworkEIP155ArbitrumSepolia Network = "eip155:421614"

	DefaultNetwork = NetworkBaseSepolia
)

var knownNetworks = []Network{
	NetworkBase,
	NetworkBaseSepolia,
	NetworkArbitrum,
	NetworkArbitrumSepolia,
	NetworkEIP155Base,
	NetworkEIP155BaseSepolia,
	NetworkEIP155Arbitrum,
	NetworkEIP155ArbitrumSepolia,
}

// Networks returns the closed set of supported networks.
func Networks() []Network {
	out := make([]Network, len(knownNetworks))
	copy(out, knownNetworks)
	return out
}

// Valid reports whether n belongs to the supported network set.
func (n Network) Valid() bool {
	for _, known := range knownNetworks {
		if n == known {
			return true
		}
	}
	return false
}

// Parse splits a CAIP-2 network into namespace and reference components
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.Split(string(n), ":")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match checks if this network matches a pattern (supports wildcards)
// e.g., "eip155:84532" matches "eip155:*" and "eip155:*" matches "eip155:84532"
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}

	nStr := string(n)
	patternStr := string(pattern)

	if strings.HasSuffix(patternStr, ":*") {
		prefix := strings.TrimSuffix(patternStr, "*")
		return strings.HasPrefix(nStr, prefix)
	}

	if strings.HasSuffix(nStr, ":*") {
		prefix := strings.TrimSuffix(nStr, "*")
		return strings.HasPrefix(patternStr, prefix)
	}

	return false
}

// Scheme is the pricing model of a protected call.
type Scheme string

const (
	// SchemeFixed charges the same amount on every call.
	SchemeFixed Scheme = "fixed"
	// SchemeDynamic charges what the handler reports, up to max_amount.
	SchemeDynamic Scheme = "dynamic"
	// SchemeContract delegates pricing to the plan's on-chain contract.
	SchemeContract Scheme = "contract"

	DefaultScheme = SchemeContract
)

// Schemes returns the closed set of supported schemes.
func Schemes() []Scheme {
	return []Scheme{SchemeFixed, SchemeDynamic, SchemeContract}
}

// Valid reports whether s is one of the recognised schemes.
func (s Scheme) Valid() bool {
	switch s {
	case SchemeFixed, SchemeDynamic, SchemeContract:
		return true
	}
	return false
}

// PaymentRequirements is what a merchant demands to grant access.
type PaymentRequirements struct {
	PlanID            string                 `json:"plan_id"`
	AgentID           string                 `json:"agent_id"`
	MaxAmount         string                 `json:"max_amount"`
	Network           Network                `json:"network"`
	Scheme            Scheme                 `json:"scheme"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
	SubscriberAddress string                 `json:"subscriber_address,omitempty"`
}

// NewPaymentRequirements builds and validates requirements. Empty network and
// scheme fall back to DefaultNetwork and DefaultScheme.
func NewPaymentRequirements(planID, agentID, maxAmount string, network Network, scheme Scheme) (*PaymentRequirements, error) {
	if network == "" {
		network = DefaultNetwork
	}
	if scheme == "" {
		scheme = DefaultScheme
	}
	req := &PaymentRequirements{
		PlanID:    planID,
		AgentID:   agentID,
		MaxAmount: maxAmount,
		Network:   network,
		Scheme:    scheme,
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks the structural invariants of the requirements.
func (r *PaymentRequirements) Validate() error {
	if strings.TrimSpace(r.PlanID) == "" {
		return NewValidationError("plan_id", "must not be empty")
	}
	if strings.TrimSpace(r.AgentID) == "" {
		return NewValidationError("agent_id", "must not be empty")
	}
	if _, err := ParseAmount(r.MaxAmount); err != nil {
		return NewValidationError("max_amount", "%v", err)
	}
	if !r.Network.Valid() {
		return NewValidationError("network", "unsupported network %q", r.Network)
	}
	if !r.Scheme.Valid() {
		return NewValidationError("scheme", "unsupported scheme %q", r.Scheme)
	}
	return nil
}

// MaxAmountInt returns max_amount as an integer.
func (r PaymentRequirements) MaxAmountInt() (*big.Int, error) {
	return ParseAmount(r.MaxAmount)
}

// PaymentPayload is what a caller presents. Payload is opaque to the
// merchant; for Nevermined it carries the x402 access token as session_key.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Scheme      Scheme                 `json:"scheme,omitempty"`
	Network     Network                `json:"network,omitempty"`
	Payload     map[string]interface{} `json:"payload"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// PayloadSessionKey is the payload key holding the access token.
const PayloadSessionKey = "session_key"

// NewSessionKeyPayload wraps an access token as an opaque payload.
func NewSessionKeyPayload(accessToken string) map[string]interface{} {
	return map[string]interface{}{PayloadSessionKey: accessToken}
}

// AccessToken returns the access token carried by the payload, if any.
func (p PaymentPayload) AccessToken() string {
	for _, key := range []string{PayloadSessionKey, "sessionKey", "token"} {
		if v, ok := p.Payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// ResourceInfo describes the resource being accessed
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequired is the 402 body sent to callers that must pay.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// VerifyResponse contains the verification result
type VerifyResponse struct {
	IsValid        bool   `json:"isValid"`
	InvalidReason  string `json:"invalidReason,omitempty"`
	InvalidMessage string `json:"invalidMessage,omitempty"`
	Payer          string `json:"payer,omitempty"`
}

// SettleResponse contains the settlement result
type SettleResponse struct {
	Success       bool    `json:"success"`
	Transaction   string  `json:"transaction,omitempty"`
	ErrorReason   string  `json:"errorReason,omitempty"`
	Network       Network `json:"network,omitempty"`
	Payer         string  `json:"payer,omitempty"`
	CreditsBurned string  `json:"creditsBurned,omitempty"`
}
