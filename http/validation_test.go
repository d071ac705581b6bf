package http

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
)

func encodeJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	return base64.StdEncoding.EncodeToString(data)
}

func TestValidateAndDecodePaymentHeader(t *testing.T) {
	t.Run("Empty/Invalid Base64", func(t *testing.T) {
		tests := []struct {
			name          string
			header        string
			expectedError string
		}{
			{
				name:          "empty string",
				header:        "",
				expectedError: "payment header is empty",
			},
			{
				name:          "invalid base64 characters",
				header:        "invalid@#$%",
				expectedError: "invalid payment header format: not valid base64",
			},
			{
				name:          "jwt access token",
				header:        "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.c2ln",
				expectedError: "invalid payment header format: not valid base64",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ValidateAndDecodePaymentHeader(tt.header)
				if err == nil {
					t.Errorf("expected error but got none")
					return
				}
				if err.Error() != tt.expectedError {
					t.Errorf("expected error %q, got %q", tt.expectedError, err.Error())
				}
			})
		}
	})

	t.Run("Valid Base64 but Invalid JSON", func(t *testing.T) {
		for _, content := range []string{"not json at all", "{invalid json}"} {
			t.Run(content, func(t *testing.T) {
				encoded := base64.StdEncoding.EncodeToString([]byte(content))
				_, err := ValidateAndDecodePaymentHeader(encoded)
				if err == nil {
					t.Errorf("expected error but got none")
					return
				}
				if !strings.HasPrefix(err.Error(), "invalid payment header format: not valid JSON") {
					t.Errorf("expected JSON error, got %q", err.Error())
				}
			})
		}
	})

	t.Run("Missing or Invalid Fields", func(t *testing.T) {
		tests := []struct {
			name          string
			payload       map[string]interface{}
			expectedError string
		}{
			{
				name:          "missing x402Version",
				payload:       map[string]interface{}{"payload": map[string]interface{}{"session_key": "tok"}},
				expectedError: "missing required field: x402Version",
			},
			{
				name:          "string x402Version",
				payload:       map[string]interface{}{"x402Version": "2", "payload": map[string]interface{}{}},
				expectedError: "invalid field type: x402Version must be a number",
			},
			{
				name:          "zero x402Version",
				payload:       map[string]interface{}{"x402Version": 0, "payload": map[string]interface{}{}},
				expectedError: "invalid value: x402Version must be at least 1",
			},
			{
				name:          "numeric scheme",
				payload:       map[string]interface{}{"x402Version": 2, "scheme": 1, "payload": map[string]interface{}{}},
				expectedError: "invalid field type: scheme must be a string",
			},
			{
				name:          "missing payload",
				payload:       map[string]interface{}{"x402Version": 2},
				expectedError: "missing required field: payload",
			},
			{
				name:          "payload not an object",
				payload:       map[string]interface{}{"x402Version": 2, "payload": "tok"},
				expectedError: "invalid field type: payload must be an object",
			},
			{
				name:          "payload without token",
				payload:       map[string]interface{}{"x402Version": 2, "payload": map[string]interface{}{"other": "x"}},
				expectedError: "missing required field: payload.session_key",
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := ValidateAndDecodePaymentHeader(encodeJSON(t, tt.payload))
				if err == nil {
					t.Errorf("expected error but got none")
					return
				}
				if err.Error() != tt.expectedError {
					t.Errorf("expected error %q, got %q", tt.expectedError, err.Error())
				}
			})
		}
	})

	t.Run("Valid Payload", func(t *testing.T) {
		for _, key := range []string{"session_key", "sessionKey", "token"} {
			t.Run(key, func(t *testing.T) {
				payload, err := ValidateAndDecodePaymentHeader(encodeJSON(t, map[string]interface{}{
					"x402Version": 2,
					"scheme":      "nvm:erc4337",
					"network":     "eip155:84532",
					"payload":     map[string]interface{}{key: "tok"},
				}))
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if payload.AccessToken() != "tok" {
					t.Errorf("expected token tok, got %q", payload.AccessToken())
				}
				if payload.X402Version != 2 {
					t.Errorf("expected version 2, got %d", payload.X402Version)
				}
			})
		}
	})

	t.Run("URL-safe alphabet", func(t *testing.T) {
		data, _ := json.Marshal(map[string]interface{}{"x402Version": 1, "payload": map[string]interface{}{"session_key": "a?b>"}})
		payload, err := ValidateAndDecodePaymentHeader(base64.RawURLEncoding.EncodeToString(data))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if payload.AccessToken() != "a?b>" {
			t.Errorf("expected token a?b>, got %q", payload.AccessToken())
		}
	})
}

func TestPaymentPayloadFromHeader(t *testing.T) {
	h := http.Header{}
	if PaymentPayloadFromHeader(h) != nil {
		t.Error("expected nil without header")
	}

	h.Set(HeaderPaymentSignature, "plain-token")
	if PaymentPayloadFromHeader(h) != nil {
		t.Error("expected nil for a bare token")
	}

	h.Set(HeaderPaymentSignature, encodeJSON(t, map[string]interface{}{
		"x402Version": 2,
		"payload":     map[string]interface{}{"session_key": "tok"},
	}))
	payload := PaymentPayloadFromHeader(h)
	if payload == nil || payload.AccessToken() != "tok" {
		t.Errorf("expected decoded payload, got %+v", payload)
	}
}
