package stdlib

import (
	"context"
	"net/http"

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

// WithResourceRootURL prefixes the request path to build the endpoint the
// ledger checks, e.g. "https://agent.example.com".
func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

// WithDescription is an option for the PaymentMiddleware to set the description.
func WithDescription(description string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.Description = description
	}
}

// WithMimeType is an option for the PaymentMiddleware to set the mime type.
func WithMimeType(mimeType string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.MimeType = mimeType
	}
}

// PaymentMiddleware is the Go standard library middleware protecting a
// handler with a paywall.
//
// The handler's response is buffered. Credits are settled only when it
// answers 2xx, and the payment-response header is added before the buffered
// response is written. Handlers report dynamic usage through
// paywall.FromContext(r.Context()).ReportConsumed(n).
func PaymentMiddleware(pw *paywall.Paywall, reg paywall.Registration, opts ...Options) func(http.Handler) http.Handler {
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

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := pw.Begin(r.Context(), nvmhttp.RequestRegistration(reg, r, options.ResourceRootURL), nvmhttp.Credentials(r.Header))
			if err != nil {
				if rej, ok := paywall.IsRejected(err); ok {
					nvmhttp.WriteRejection(w, rej)
					return
				}
				nvmhttp.WriteError(w, http.StatusInternalServerError, err.Error())
				return
			}

			buffer := nvmhttp.NewResponseBuffer()
			_ = session.Execute(r.Context(), func(ctx context.Context) error {
				next.ServeHTTP(buffer, r.WithContext(ctx))
				if !nvmhttp.Successful(buffer.StatusCode()) {
					return &nvmhttp.StatusError{StatusCode: buffer.StatusCode()}
				}
				return nil
			})

			nvmhttp.SetOutcomeHeaders(w.Header(), session.Outcome())
			_ = buffer.Flush(w)
		})
	}
}
