package mcp

import (
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nevermined-io/payments-go/types"
)

// Protocol constants for MCP x402 payment integration.
const (
	// MCP_PAYMENT_REQUIRED_CODE is the JSON-RPC error code for payment required (x402)
	MCP_PAYMENT_REQUIRED_CODE = 402

	// MCP_PAYMENT_META_KEY is the MCP _meta key for payment payload (client → server).
	// The value is either a PaymentPayload object or a bare access token.
	MCP_PAYMENT_META_KEY = "x402/payment"

	// MCP_PAYMENT_RESPONSE_META_KEY is the MCP _meta key for payment response (server → client)
	MCP_PAYMENT_RESPONSE_META_KEY = "x402/payment-response"
)

// PaymentRequiredError is returned by paid resource and prompt handlers when
// the caller is turned away. Tools report the same body as an error result.
type PaymentRequiredError struct {
	Code            int
	Message         string
	PaymentRequired *types.PaymentRequired
}

func (e *PaymentRequiredError) Error() string {
	return e.Message
}

// ToolCallResult is the outcome of a paid tool call seen from the client.
type ToolCallResult struct {
	*mcpsdk.CallToolResult

	// PaymentResponse is the settlement attached by the server, if any.
	PaymentResponse *types.SettleResponse
	// PaymentRequired is set when the server rejected the call.
	PaymentRequired *types.PaymentRequired
}

// PaymentMade reports whether the server burned credits for the call.
func (r *ToolCallResult) PaymentMade() bool {
	return r.PaymentResponse != nil && r.PaymentResponse.Success
}
