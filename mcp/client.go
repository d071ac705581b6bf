package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Client calls paid handlers of an MCP server with an x402 access token.
//
// Example:
//
//	mcpClient := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "my-agent", Version: "1.0.0"}, nil)
//	session, err := mcpClient.Connect(ctx, transport, nil)
//	if err != nil { ... }
//
//	client := mcp.NewClient(session, accessToken)
//	result, err := client.CallTool(ctx, "weather", map[string]interface{}{"city": "Madrid"})
type Client struct {
	session     *mcpsdk.ClientSession
	accessToken string
}

// NewClient wraps a connected go-sdk client session.
func NewClient(session *mcpsdk.ClientSession, accessToken string) *Client {
	return &Client{session: session, accessToken: accessToken}
}

// CallTool calls a tool with the access token in _meta. A rejection is not
// an error: it is reported in ToolCallResult.PaymentRequired.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolCallResult, error) {
	result, err := c.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      name,
		Arguments: args,
		Meta:      AttachPaymentToMeta(nil, c.accessToken),
	})
	if err != nil {
		return nil, err
	}

	out := &ToolCallResult{CallToolResult: result}
	if out.PaymentRequired = ExtractPaymentRequiredFromResult(result); out.PaymentRequired != nil {
		return out, nil
	}
	if out.PaymentResponse, err = ExtractPaymentResponseFromMeta(result.Meta); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadResource reads a resource with the access token in _meta.
func (c *Client) ReadResource(ctx context.Context, uri string) (*mcpsdk.ReadResourceResult, error) {
	return c.session.ReadResource(ctx, &mcpsdk.ReadResourceParams{
		URI:  uri,
		Meta: AttachPaymentToMeta(nil, c.accessToken),
	})
}

// GetPrompt gets a prompt with the access token in _meta.
func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*mcpsdk.GetPromptResult, error) {
	return c.session.GetPrompt(ctx, &mcpsdk.GetPromptParams{
		Name:      name,
		Arguments: args,
		Meta:      AttachPaymentToMeta(nil, c.accessToken),
	})
}

func (c *Client) Close() error {
	return c.session.Close()
}
