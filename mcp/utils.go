package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	nvmhttp "github.com/nevermined-io/payments-go/http"
	"github.com/nevermined-io/payments-go/paywall"
	"github.com/nevermined-io/payments-go/types"
)

// ExtractPaymentFromMeta extracts the caller's credentials from a request
// _meta. The payment entry may be a full PaymentPayload or a bare access
// token; anything else yields empty credentials.
func ExtractPaymentFromMeta(meta map[string]interface{}) paywall.Credentials {
	paymentData, ok := meta[MCP_PAYMENT_META_KEY]
	if !ok || paymentData == nil {
		return paywall.Credentials{}
	}

	if token, ok := paymentData.(string); ok {
		return paywall.Credentials{Token: strings.TrimSpace(token)}
	}

	// Convert to PaymentPayload
	paymentBytes, err := json.Marshal(paymentData)
	if err != nil {
		return paywall.Credentials{}
	}

	var payload types.PaymentPayload
	if err := json.Unmarshal(paymentBytes, &payload); err != nil {
		return paywall.Credentials{}
	}

	// Validate structure
	if payload.X402Version == 0 || payload.AccessToken() == "" {
		return paywall.Credentials{}
	}

	return paywall.Credentials{Token: payload.AccessToken(), Payload: &payload}
}

// RequestCredentials reads credentials from _meta first, then from the HTTP
// headers of a streamable transport.
func RequestCredentials(meta mcpsdk.Meta, extra *mcpsdk.RequestExtra) paywall.Credentials {
	if creds := ExtractPaymentFromMeta(meta); !creds.Empty() {
		return creds
	}
	if extra == nil || extra.Header == nil {
		return paywall.Credentials{}
	}
	return nvmhttp.Credentials(extra.Header)
}

// AttachPaymentToMeta returns a copy of meta carrying the access token.
func AttachPaymentToMeta(meta mcpsdk.Meta, accessToken string) mcpsdk.Meta {
	result := make(mcpsdk.Meta, len(meta)+1)
	for k, v := range meta {
		result[k] = v
	}
	result[MCP_PAYMENT_META_KEY] = accessToken
	return result
}

// ExtractPaymentResponseFromMeta extracts settlement response from MCP result _meta
func ExtractPaymentResponseFromMeta(meta mcpsdk.Meta) (*types.SettleResponse, error) {
	if meta == nil {
		return nil, nil
	}

	responseData, ok := meta[MCP_PAYMENT_RESPONSE_META_KEY]
	if !ok {
		return nil, nil
	}

	// Handle case where responseData might already be a SettleResponse struct
	switch v := responseData.(type) {
	case types.SettleResponse:
		return &v, nil
	case *types.SettleResponse:
		return v, nil
	}

	responseBytes, err := json.Marshal(responseData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %w", err)
	}

	var response types.SettleResponse
	if err := json.Unmarshal(responseBytes, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment response: %w", err)
	}

	return &response, nil
}

// AttachPaymentResponseToMeta attaches settlement response to result
func AttachPaymentResponseToMeta(result *mcpsdk.CallToolResult, response types.SettleResponse) {
	if result.Meta == nil {
		result.Meta = make(mcpsdk.Meta)
	}
	result.Meta[MCP_PAYMENT_RESPONSE_META_KEY] = response
}

// ExtractPaymentRequiredFromResult extracts PaymentRequired from tool result (dual format)
func ExtractPaymentRequiredFromResult(result *mcpsdk.CallToolResult) *types.PaymentRequired {
	if result == nil || !result.IsError {
		return nil
	}

	// Try structuredContent first (preferred)
	if result.StructuredContent != nil {
		if obj, ok := toObject(result.StructuredContent); ok {
			if pr := extractPaymentRequiredFromObject(obj); pr != nil {
				return pr
			}
		}
	}

	// Fallback to content[0].text
	if len(result.Content) > 0 {
		if text, ok := result.Content[0].(*mcpsdk.TextContent); ok && text.Text != "" {
			var parsed map[string]interface{}
			if err := json.Unmarshal([]byte(text.Text), &parsed); err == nil {
				return extractPaymentRequiredFromObject(parsed)
			}
		}
	}

	return nil
}

func toObject(value interface{}) (map[string]interface{}, bool) {
	if obj, ok := value.(map[string]interface{}); ok {
		return obj, true
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// extractPaymentRequiredFromObject extracts PaymentRequired from object
func extractPaymentRequiredFromObject(obj map[string]interface{}) *types.PaymentRequired {
	// Check for x402Version and accepts fields
	if _, hasVersion := obj["x402Version"]; !hasVersion {
		return nil
	}

	accepts, ok := obj["accepts"].([]interface{})
	if !ok || len(accepts) == 0 {
		return nil
	}

	bytes, err := json.Marshal(obj)
	if err != nil {
		return nil
	}

	var pr types.PaymentRequired
	if err := json.Unmarshal(bytes, &pr); err != nil {
		return nil
	}

	return &pr
}

// CreateResourceUrl creates the logical URL of a paid MCP handler:
// mcp://<server>/<kind>/<name>.
func CreateResourceUrl(serverName string, kind paywall.Kind, name string) string {
	if serverName == "" {
		serverName = "server"
	}
	return fmt.Sprintf("mcp://%s/%s/%s", serverName, kind, name)
}

// IsObject checks if a value is a non-null object (map[string]interface{}).
func IsObject(value interface{}) bool {
	if value == nil {
		return false
	}
	_, ok := value.(map[string]interface{})
	return ok
}

// CreatePaymentRequiredError creates a PaymentRequiredError with the given message and payment required data.
//
// Example:
//
//	err := mcp.CreatePaymentRequiredError("Payment required", &paymentRequired)
//	return nil, err
func CreatePaymentRequiredError(message string, paymentRequired *types.PaymentRequired) *PaymentRequiredError {
	return &PaymentRequiredError{
		Code:            MCP_PAYMENT_REQUIRED_CODE,
		Message:         message,
		PaymentRequired: paymentRequired,
	}
}

// IsPaymentRequiredError checks if an error is a PaymentRequiredError.
func IsPaymentRequiredError(err error) bool {
	if err == nil {
		return false
	}
	var target *PaymentRequiredError
	return errors.As(err, &target)
}

// ExtractPaymentRequiredFromError extracts PaymentRequired from an MCP JSON-RPC error
// object decoded as a map.
//
// Example:
//
//	if pr := mcp.ExtractPaymentRequiredFromError(rpcErr); pr != nil {
//	    // Handle payment required
//	}
func ExtractPaymentRequiredFromError(err interface{}) *types.PaymentRequired {
	if !IsObject(err) {
		return nil
	}

	errObj := err.(map[string]interface{})

	// Check if this is a 402 payment required error
	codeFloat, ok := errObj["code"].(float64)
	if !ok || int(codeFloat) != MCP_PAYMENT_REQUIRED_CODE {
		return nil
	}

	dataObj, ok := errObj["data"].(map[string]interface{})
	if !ok {
		return nil
	}

	return extractPaymentRequiredFromObject(dataObj)
}
