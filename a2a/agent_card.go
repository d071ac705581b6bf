package a2a

import (
	"errors"
	"fmt"

	"github.com/nevermined-io/payments-go/paywall"
)

// PaymentExtensionURI identifies the Nevermined payment extension of an
// agent card.
const PaymentExtensionURI = "urn:nevermined:payment"

// Payment types advertised in the agent card.
const (
	PaymentTypeFixed   = "fixed"
	PaymentTypeDynamic = "dynamic"
)

// PaymentMetadata is what an agent advertises about its pricing.
type PaymentMetadata struct {
	PaymentType     string `json:"paymentType"`
	Credits         int64  `json:"credits"`
	AgentID         string `json:"agentId"`
	PlanID          string `json:"planId,omitempty"`
	CostDescription string `json:"costDescription,omitempty"`
}

// AgentExtension is one entry of an agent card's capabilities.extensions.
type AgentExtension struct {
	URI         string          `json:"uri"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Params      PaymentMetadata `json:"params"`
}

var (
	ErrPaymentTypeRequired = errors.New("a2a: paymentType is required")
	ErrAgentIDRequired     = errors.New("a2a: agentId is required")
)

// Validate checks the metadata can be published.
func (m PaymentMetadata) Validate() error {
	if m.PaymentType == "" {
		return ErrPaymentTypeRequired
	}
	if m.Credits < 0 {
		return fmt.Errorf("a2a: credits cannot be negative")
	}
	if m.Credits == 0 && m.PaymentType == PaymentTypeFixed {
		return fmt.Errorf("a2a: credits must be a positive number for fixed pricing")
	}
	if m.AgentID == "" {
		return ErrAgentIDRequired
	}
	return nil
}

// PaymentExtension builds the agent card extension advertising m.
func PaymentExtension(m PaymentMetadata) (AgentExtension, error) {
	if err := m.Validate(); err != nil {
		return AgentExtension{}, err
	}
	return AgentExtension{
		URI:         PaymentExtensionURI,
		Description: "Nevermined x402 credits",
		Required:    true,
		Params:      m,
	}, nil
}

// FindPaymentExtension returns the payment extension among exts.
func FindPaymentExtension(exts []AgentExtension) (AgentExtension, bool) {
	for _, ext := range exts {
		if ext.URI == PaymentExtensionURI {
			return ext, true
		}
	}
	return AgentExtension{}, false
}

// Registration derives the paywall registration of an agent's tasks from
// its payment extension. Dynamic pricing charges up to maxCredits.
func (ext AgentExtension) Registration(name string, maxCredits int64) (paywall.Registration, error) {
	if ext.URI != PaymentExtensionURI {
		return paywall.Registration{}, fmt.Errorf("a2a: unexpected extension %q", ext.URI)
	}
	if err := ext.Params.Validate(); err != nil {
		return paywall.Registration{}, err
	}
	credits := paywall.Fixed(ext.Params.Credits)
	if ext.Params.PaymentType == PaymentTypeDynamic {
		credits = paywall.Range(ext.Params.Credits, maxCredits)
	}
	return paywall.Registration{
		Kind:        paywall.KindTask,
		Name:        name,
		PlanID:      ext.Params.PlanID,
		AgentID:     ext.Params.AgentID,
		Credits:     credits,
		Description: ext.Params.CostDescription,
	}, nil
}
