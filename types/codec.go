package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// DetectVersion reads x402Version from a JSON payload. A missing or zero
// version means the legacy v1 envelope.
func DetectVersion(data []byte) (int, error) {
	var envelope struct {
		X402Version *int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return 0, fmt.Errorf("failed to detect version: %w", err)
	}
	if envelope.X402Version == nil || *envelope.X402Version == 0 {
		return X402VersionV1, nil
	}
	if *envelope.X402Version < 0 {
		return 0, fmt.Errorf("invalid x402Version: %d", *envelope.X402Version)
	}
	return *envelope.X402Version, nil
}

// ToPaymentPayload unmarshals bytes to a payment payload
func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	var payload PaymentPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	if payload.X402Version == 0 {
		payload.X402Version = X402VersionV1
	}
	return &payload, nil
}

// ToPaymentRequirements unmarshals bytes to payment requirements
func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	var requirements PaymentRequirements
	if err := json.Unmarshal(data, &requirements); err != nil {
		return nil, err
	}
	return &requirements, nil
}

// EncodeHeader renders v as base64 JSON for the payment-required and
// payment-response headers.
func EncodeHeader(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal header value: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeHeader is the inverse of EncodeHeader. Standard and URL-safe
// alphabets, padded or not, are accepted.
func DecodeHeader(s string, v interface{}) error {
	data, err := DecodeBase64(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal header value: %w", err)
	}
	return nil
}

// DecodeBase64 tries every base64 alphabet in turn.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty base64 input")
	}
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("invalid base64: %w", lastErr)
}
