package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/nevermined-io/payments-go/paywall"
	"github.com/nevermined-io/payments-go/types"
)

// errToolResultError marks a tool result flagged IsError; such calls are not
// settled.
var errToolResultError = errors.New("mcp: tool returned an error result")

// PaymentWrapper protects the handlers of one MCP server with a paywall.
type PaymentWrapper struct {
	paywall    *paywall.Paywall
	serverName string
	logger     *zap.Logger
}

// WrapperOption configures a PaymentWrapper.
type WrapperOption func(*PaymentWrapper)

// WithServerName sets the server segment of the logical resource URLs.
func WithServerName(name string) WrapperOption {
	return func(w *PaymentWrapper) {
		w.serverName = name
	}
}

// WithLogger sets the wrapper's logger.
func WithLogger(logger *zap.Logger) WrapperOption {
	return func(w *PaymentWrapper) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewPaymentWrapper creates a wrapper for go-sdk handlers.
func NewPaymentWrapper(pw *paywall.Paywall, opts ...WrapperOption) *PaymentWrapper {
	if pw == nil {
		panic("mcp: NewPaymentWrapper requires a paywall")
	}
	w := &PaymentWrapper{paywall: pw, logger: zap.L()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// registration fills in what the wrapper knows about a call.
func (w *PaymentWrapper) registration(reg paywall.Registration, kind paywall.Kind, name string) paywall.Registration {
	reg.Kind = kind
	if reg.Name == "" {
		reg.Name = name
	}
	if reg.Endpoint == "" {
		reg.Endpoint = CreateResourceUrl(w.serverName, kind, reg.Name)
	}
	return reg
}

// WrapTool protects a tool handler. A rejected call gets an error result
// carrying the 402 body in StructuredContent and as text. A result flagged
// IsError is returned as is and not settled. A settled call carries the
// settlement in _meta under MCP_PAYMENT_RESPONSE_META_KEY.
func (w *PaymentWrapper) WrapTool(reg paywall.Registration, handler mcpsdk.ToolHandler) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var (
			name  string
			creds paywall.Credentials
		)
		if req.Params != nil {
			name = req.Params.Name
			creds = RequestCredentials(req.Params.Meta, req.Extra)
		}

		session, err := w.paywall.Begin(ctx, w.registration(reg, paywall.KindTool, name), creds)
		if err != nil {
			if rej, ok := paywall.IsRejected(err); ok {
				return createPaymentRequiredResult(rej.PaymentRequired)
			}
			return nil, err
		}

		var result *mcpsdk.CallToolResult
		herr := session.Execute(ctx, func(ctx context.Context) error {
			var err error
			result, err = handler(ctx, req)
			if err != nil {
				return err
			}
			if result != nil && result.IsError {
				return errToolResultError
			}
			return nil
		})
		if herr != nil {
			if errors.Is(herr, errToolResultError) {
				return result, nil
			}
			return result, herr
		}

		outcome := session.Outcome()
		if outcome.Settlement != nil {
			if result == nil {
				result = &mcpsdk.CallToolResult{Content: []mcpsdk.Content{}}
			}
			AttachPaymentResponseToMeta(result, *outcome.Settlement)
		}
		if outcome.State == paywall.SettlementFailed {
			w.logger.Warn("mcp tool settlement failed",
				zap.String("context_id", outcome.ContextID),
				zap.String("tool", name),
				zap.String("reason", outcome.Reason))
		}
		return result, nil
	}
}

// WrapResource protects a resource handler. Rejections are returned as a
// *PaymentRequiredError.
func (w *PaymentWrapper) WrapResource(reg paywall.Registration, handler mcpsdk.ResourceHandler) mcpsdk.ResourceHandler {
	return func(ctx context.Context, req *mcpsdk.ReadResourceRequest) (*mcpsdk.ReadResourceResult, error) {
		var (
			uri   string
			creds paywall.Credentials
		)
		if req.Params != nil {
			uri = req.Params.URI
			creds = RequestCredentials(req.Params.Meta, req.Extra)
		}

		var result *mcpsdk.ReadResourceResult
		outcome, err := w.paywall.Run(ctx, w.registration(reg, paywall.KindResource, uri), creds, func(ctx context.Context) error {
			var err error
			result, err = handler(ctx, req)
			return err
		})
		if err != nil {
			return nil, paymentRequiredError(err)
		}
		if outcome.Settlement != nil && result != nil {
			if result.Meta == nil {
				result.Meta = make(mcpsdk.Meta)
			}
			result.Meta[MCP_PAYMENT_RESPONSE_META_KEY] = *outcome.Settlement
		}
		return result, nil
	}
}

// WrapPrompt protects a prompt handler. Rejections are returned as a
// *PaymentRequiredError.
func (w *PaymentWrapper) WrapPrompt(reg paywall.Registration, handler mcpsdk.PromptHandler) mcpsdk.PromptHandler {
	return func(ctx context.Context, req *mcpsdk.GetPromptRequest) (*mcpsdk.GetPromptResult, error) {
		var (
			name  string
			creds paywall.Credentials
		)
		if req.Params != nil {
			name = req.Params.Name
			creds = RequestCredentials(req.Params.Meta, req.Extra)
		}

		var result *mcpsdk.GetPromptResult
		outcome, err := w.paywall.Run(ctx, w.registration(reg, paywall.KindPrompt, name), creds, func(ctx context.Context) error {
			var err error
			result, err = handler(ctx, req)
			return err
		})
		if err != nil {
			return nil, paymentRequiredError(err)
		}
		if outcome.Settlement != nil && result != nil {
			if result.Meta == nil {
				result.Meta = make(mcpsdk.Meta)
			}
			result.Meta[MCP_PAYMENT_RESPONSE_META_KEY] = *outcome.Settlement
		}
		return result, nil
	}
}

// paymentRequiredError turns a rejection into a *PaymentRequiredError and
// passes any other error through.
func paymentRequiredError(err error) error {
	rej, ok := paywall.IsRejected(err)
	if !ok {
		return err
	}
	message := "Payment required"
	if rej.Reason != "" {
		message = fmt.Sprintf("Payment required: %s", rej.Reason)
	}
	return CreatePaymentRequiredError(message, rej.PaymentRequired)
}

// createPaymentRequiredResult creates a 402 payment required result
func createPaymentRequiredResult(paymentRequired *types.PaymentRequired) (*mcpsdk.CallToolResult, error) {
	paymentRequiredBytes, err := json.Marshal(paymentRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment required: %w", err)
	}

	// Convert to map for structuredContent
	var structuredContent map[string]interface{}
	if err := json.Unmarshal(paymentRequiredBytes, &structuredContent); err != nil {
		return nil, fmt.Errorf("failed to unmarshal structured content: %w", err)
	}

	return &mcpsdk.CallToolResult{
		StructuredContent: structuredContent,
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: string(paymentRequiredBytes)},
		},
		IsError: true,
	}, nil
}
