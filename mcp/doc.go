// Package mcp provides MCP (Model Context Protocol) transport integration for Nevermined x402 credits.
//
// Servers wrap go-sdk tool, resource and prompt handlers with a paywall.
// Clients call them with an access token carried in _meta.
//
// # Server Usage
//
//	import (
//	    "context"
//	    "github.com/nevermined-io/payments-go/mcp"
//	    "github.com/nevermined-io/payments-go/paywall"
//	    mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
//	)
//
//	wrapper := mcp.NewPaymentWrapper(pw, mcp.WithServerName("weather"))
//
//	// Register paid tool
//	mcpServer.AddTool(tool, wrapper.WrapTool(paywall.Registration{
//	    PlanID:  planID,
//	    AgentID: agentID,
//	    Credits: paywall.Range(1, 10),
//	}, func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
//	    paywall.FromContext(ctx).ReportConsumed(3)
//	    return &mcpsdk.CallToolResult{Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "result"}}}, nil
//	}))
//
// The caller's credential is read from _meta["x402/payment"], either a bare
// access token or a full PaymentPayload, then from the Authorization or
// payment-signature header of an HTTP transport.
//
// # Client Usage
//
//	session, _ := mcpClient.Connect(ctx, transport, nil)
//	client := mcp.NewClient(session, accessToken)
//	result, err := client.CallTool(ctx, "get_weather", map[string]interface{}{"city": "NYC"})
//	if result.PaymentRequired != nil {
//	    // buy the plan
//	}
package mcp
