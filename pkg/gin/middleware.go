package gin

import (
	"bytes"
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

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

func WithResourceRootURL(resourceRootURL string) Options {
	return func(options *PaymentMiddlewareOptions) {
		options.ResourceRootURL = resourceRootURL
	}
}

// PaymentMiddleware is the Gin middleware protecting the remaining handlers
// of the chain with a paywall. Credits are settled only for a 2xx response
// from a chain that was not aborted.
func PaymentMiddleware(pw *paywall.Paywall, reg paywall.Registration, opts ...Options) gin.HandlerFunc {
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

	return func(c *gin.Context) {
		session, err := pw.Begin(c.Request.Context(),
			nvmhttp.RequestRegistration(reg, c.Request, options.ResourceRootURL),
			nvmhttp.Credentials(c.Request.Header))
		if err != nil {
			if rej, ok := paywall.IsRejected(err); ok {
				nvmhttp.SetRejectionHeaders(c.Writer.Header(), rej)
				c.Header(nvmhttp.HeaderAgentRequestID, rej.ContextID)
				c.AbortWithStatusJSON(rej.Status, nvmhttp.RejectionBody(rej))
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Create a custom response writer to intercept the response
		writer := &responseWriter{
			ResponseWriter: c.Writer,
			body:           &bytes.Buffer{},
			statusCode:     http.StatusOK,
		}
		c.Writer = writer

		_ = session.Execute(c.Request.Context(), func(ctx context.Context) error {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
			if c.IsAborted() || !nvmhttp.Successful(writer.statusCode) {
				return &nvmhttp.StatusError{StatusCode: writer.statusCode}
			}
			return nil
		})

		// Reset the response writer to the original
		c.Writer = writer.ResponseWriter
		nvmhttp.SetOutcomeHeaders(c.Writer.Header(), session.Outcome())
		c.Writer.WriteHeader(writer.statusCode)
		_, _ = c.Writer.Write(writer.body.Bytes())
	}
}

// FromContext returns the paywall context of the current request.
func FromContext(c *gin.Context) *paywall.Context {
	return paywall.FromContext(c.Request.Context())
}

// responseWriter is a custom response writer that captures the response
type responseWriter struct {
	gin.ResponseWriter
	body       *bytes.Buffer
	statusCode int
	written    bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.written {
		w.statusCode = code
		w.written = true
	}
}

func (w *responseWriter) WriteHeaderNow() {}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.Write(b)
}

func (w *responseWriter) WriteString(s string) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.body.WriteString(s)
}

func (w *responseWriter) Status() int {
	return w.statusCode
}

func (w *responseWriter) Written() bool {
	return w.written
}

func (w *responseWriter) Size() int {
	return w.body.Len()
}
