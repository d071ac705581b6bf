// Package nevermined declares, extracts and validates the Nevermined payment
// extension carried inside x402 envelopes.
//
// Version 2 payloads carry the extension under extensions["nevermined"];
// version 1 requirements carry the same facts flattened into extra.
package nevermined

import "github.com/nevermined-io/payments-go/types"

// NEVERMINED is the extension identifier used as the extensions map key.
const NEVERMINED = "nevermined"

// Info is the Nevermined-specific part of a payment: which plan pays for
// which agent, and how much may be charged.
type Info struct {
	PlanID            string        `json:"plan_id"`
	AgentID           string        `json:"agent_id"`
	MaxAmount         string        `json:"max_amount"`
	Network           types.Network `json:"network"`
	Scheme            types.Scheme  `json:"scheme"`
	SubscriberAddress string        `json:"subscriber_address,omitempty"`
	Environment       string        `json:"environment,omitempty"`
}

// Extension pairs Info with the JSON Schema it must satisfy.
type Extension struct {
	Info   Info                   `json:"info"`
	Schema map[string]interface{} `json:"schema"`
}

// ValidationResult represents the result of validating an extension
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// ConflictPolicy decides what Extract does when the v2 and v1 carriers are
// both present and name different plans or agents.
type ConflictPolicy int

const (
	// PreferV2 returns the v2 info and records a warning.
	PreferV2 ConflictPolicy = iota
	// Strict fails extraction with a ValidationError.
	Strict
)

// ExtractResult is the outcome of Extract. Version is 2 or 1 depending on
// which carrier supplied Info.
type ExtractResult struct {
	Info     Info
	Version  int
	Warnings []string
}
