// Package http provides the HTTP pieces of the Nevermined x402 flow: the
// ledger client for the backend and the header conventions shared by the
// HTTP middlewares.
package http

import (
	"net/http"
	"strings"

	"github.com/nevermined-io/payments-go/types"
)

// Header names, lower-case as sent on the wire.
const (
	// HeaderPaymentSignature carries the caller's x402 access token.
	HeaderPaymentSignature = "payment-signature"
	// HeaderPaymentRequired carries the base64 PaymentRequired on a 402.
	HeaderPaymentRequired = "payment-required"
	// HeaderPaymentResponse carries the base64 SettleResponse on success.
	HeaderPaymentResponse = "payment-response"
	// HeaderAgentRequestID correlates a paid call across services.
	HeaderAgentRequestID = "x-nvm-agent-request-id"

	HeaderAuthorization = "Authorization"
)

// CredentialFromHeader returns the access token presented in h, preferring
// the payment-signature header over an Authorization bearer.
func CredentialFromHeader(h http.Header) string {
	if h == nil {
		return ""
	}
	if sig := strings.TrimSpace(h.Get(HeaderPaymentSignature)); sig != "" {
		return sig
	}
	return BearerToken(h.Get(HeaderAuthorization))
}

// BearerToken strips the "Bearer " scheme from an Authorization value.
func BearerToken(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if len(authorization) < 7 || !strings.EqualFold(authorization[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authorization[7:])
}

// PaymentPayloadFromHeader decodes a full base64 PaymentPayload sent in the
// payment-signature header. A plain access token yields nil.
func PaymentPayloadFromHeader(h http.Header) *types.PaymentPayload {
	sig := strings.TrimSpace(h.Get(HeaderPaymentSignature))
	if sig == "" {
		return nil
	}
	payload, err := ValidateAndDecodePaymentHeader(sig)
	if err != nil {
		return nil
	}
	return payload
}
