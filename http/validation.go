package http

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/nevermined-io/payments-go/types"
)

// Base64 regex pattern, either alphabet - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/_-]+={0,2}$`)

// ValidateAndDecodePaymentHeader validates and decodes a full payment payload
// sent in the payment-signature header. It checks:
// - Base64 format
// - JSON structure
// - x402Version and the access token inside payload
//
// A bare access token fails the JSON check; callers then treat the header
// as the token itself.
func ValidateAndDecodePaymentHeader(paymentHeader string) (*types.PaymentPayload, error) {
	if paymentHeader == "" {
		return nil, fmt.Errorf("payment header is empty")
	}
	if !base64Regex.MatchString(paymentHeader) {
		return nil, fmt.Errorf("invalid payment header format: not valid base64")
	}

	decoded, err := types.DecodeBase64(paymentHeader)
	if err != nil {
		return nil, fmt.Errorf("invalid payment header format: %v", err)
	}

	var rawPayload map[string]interface{}
	if err := json.Unmarshal(decoded, &rawPayload); err != nil {
		return nil, fmt.Errorf("invalid payment header format: not valid JSON - %v", err)
	}

	version, ok := rawPayload["x402Version"]
	if !ok {
		return nil, fmt.Errorf("missing required field: x402Version")
	}
	if v, ok := version.(float64); !ok {
		return nil, fmt.Errorf("invalid field type: x402Version must be a number")
	} else if int(v) < 1 {
		return nil, fmt.Errorf("invalid value: x402Version must be at least 1")
	}

	for _, field := range []string{"scheme", "network"} {
		if v, exists := rawPayload[field]; exists {
			if _, ok := v.(string); !ok {
				return nil, fmt.Errorf("invalid field type: %s must be a string", field)
			}
		}
	}

	if _, exists := rawPayload["payload"]; !exists {
		return nil, fmt.Errorf("missing required field: payload")
	}
	if _, ok := rawPayload["payload"].(map[string]interface{}); !ok {
		return nil, fmt.Errorf("invalid field type: payload must be an object")
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(decoded, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payment payload: %v", err)
	}
	if payload.AccessToken() == "" {
		return nil, fmt.Errorf("missing required field: payload.%s", types.PayloadSessionKey)
	}
	return &payload, nil
}
