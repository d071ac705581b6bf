// Package echo adapts the paywall to Echo.
package echo

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	nvmhttp "github.com/nevermined-io/payments-go/http"
	"github.com/nevermined-io/payments-go/paywall"
)

// PaymentMiddlewareOptions is the options for the PaymentMiddleware.
type PaymentMiddlewareOptions struct {
	ResourceRootURL string
	Description     string
	MimeType        string
}

// Options is the type for the options for the PaymentMiddleware.
type Options func(*PaymentMiddlewareOptions)

func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

func WithDescription(description string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Description = description
	}
}

func WithMimeType(mimeType string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// PaymentMiddleware protects an Echo handler with a paywall. A handler
// error, or a non-2xx response, closes the payment without settling; the
// error is returned to Echo unchanged.
func PaymentMiddleware(pw *paywall.Paywall, reg paywall.Registration, opts ...Options) echo.MiddlewareFunc {
	options := &PaymentMiddlewareOptions{}
	for _, opt := range opts {
		opt(options)
	}
	if reg.Description == "" {
		reg.Description = options.Description
	}
	if reg.MimeType == "" {
		reg.MimeType = options.MimeType
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			session, err := pw.Begin(req.Context(),
				nvmhttp.RequestRegistration(reg, req, options.ResourceRootURL),
				nvmhttp.Credentials(req.Header))
			if err != nil {
				if rej, ok := paywall.IsRejected(err); ok {
					nvmhttp.SetRejectionHeaders(c.Response().Header(), rej)
					c.Response().Header().Set(nvmhttp.HeaderAgentRequestID, rej.ContextID)
					return c.JSON(rej.Status, nvmhttp.RejectionBody(rej))
				}
				return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
			}

			res := c.Response()
			original := res.Writer
			buffer := nvmhttp.NewResponseBuffer()
			res.Writer = buffer

			var handlerErr error
			_ = session.Execute(req.Context(), func(ctx context.Context) error {
				c.SetRequest(req.WithContext(ctx))
				if handlerErr = next(c); handlerErr != nil {
					return handlerErr
				}
				if !nvmhttp.Successful(buffer.StatusCode()) {
					return &nvmhttp.StatusError{StatusCode: buffer.StatusCode()}
				}
				return nil
			})
			res.Writer = original

			if handlerErr != nil && !res.Committed {
				original.Header().Set(nvmhttp.HeaderAgentRequestID, session.ID())
				return handlerErr
			}
			nvmhttp.SetOutcomeHeaders(original.Header(), session.Outcome())
			if err := buffer.Flush(original); err != nil {
				return err
			}
			return handlerErr
		}
	}
}

// FromContext returns the paywall context of the current request.
func FromContext(c echo.Context) *paywall.Context {
	return paywall.FromContext(c.Request().Context())
}
