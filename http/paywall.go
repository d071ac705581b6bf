package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nevermined-io/payments-go/paywall"
	"github.com/nevermined-io/payments-go/types"
)

// ============================================================================
// Paywall Request/Response Helpers
// ============================================================================

// Credentials reads the caller's credentials from request headers. A full
// base64 payload in payment-signature wins over a bare token.
func Credentials(h http.Header) paywall.Credentials {
	if payload := PaymentPayloadFromHeader(h); payload != nil {
		return paywall.Credentials{Payload: payload}
	}
	return paywall.Credentials{Token: CredentialFromHeader(h)}
}

// RequestRegistration fills the per-request parts of an HTTP registration:
// the endpoint (rootURL plus path) and verb, unless already set.
func RequestRegistration(reg paywall.Registration, r *http.Request, rootURL string) paywall.Registration {
	if reg.Kind == "" {
		reg.Kind = paywall.KindHTTP
	}
	if reg.Name == "" {
		reg.Name = r.URL.Path
	}
	if reg.Endpoint == "" {
		reg.Endpoint = strings.TrimSuffix(rootURL, "/") + r.URL.Path
	}
	if reg.HTTPVerb == "" {
		reg.HTTPVerb = r.Method
	}
	return reg
}

// RejectionBody is the JSON body of a 401 or 402 answer.
func RejectionBody(rej *paywall.RejectedError) interface{} {
	if rej.PaymentRequired != nil {
		return rej.PaymentRequired
	}
	return map[string]interface{}{
		"x402Version": types.X402Version,
		"error":       rej.Reason,
	}
}

// SetRejectionHeaders adds the base64 payment-required header.
func SetRejectionHeaders(h http.Header, rej *paywall.RejectedError) {
	if rej.PaymentRequired == nil {
		return
	}
	if encoded, err := types.EncodeHeader(rej.PaymentRequired); err == nil {
		h.Set(HeaderPaymentRequired, encoded)
	}
}

// WriteRejection answers a turned-away caller.
func WriteRejection(w http.ResponseWriter, rej *paywall.RejectedError) {
	SetRejectionHeaders(w.Header(), rej)
	if rej.ContextID != "" {
		w.Header().Set(HeaderAgentRequestID, rej.ContextID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rej.Status)
	_ = json.NewEncoder(w).Encode(RejectionBody(rej))
}

// WriteError answers with a JSON error body.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"x402Version": types.X402Version,
		"error":       message,
	})
}

// SetOutcomeHeaders adds the request id and, when settle was attempted, the
// base64 payment-response header.
func SetOutcomeHeaders(h http.Header, outcome paywall.Outcome) {
	h.Set(HeaderAgentRequestID, outcome.ContextID)
	if outcome.Settlement == nil {
		return
	}
	if encoded, err := types.EncodeHeader(outcome.Settlement); err == nil {
		h.Set(HeaderPaymentResponse, encoded)
	}
}

// StatusError is returned for a handler response that must not be paid for.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "handler responded " + http.StatusText(e.StatusCode)
}

// Successful reports whether status is a 2xx.
func Successful(status int) bool {
	return status >= 200 && status < 300
}

// ============================================================================
// Response Buffer
// ============================================================================

// ResponseBuffer holds a handler's response until settlement has run, so
// the settlement header can still be added.
type ResponseBuffer struct {
	header      http.Header
	body        bytes.Buffer
	statusCode  int
	wroteHeader bool
}

// NewResponseBuffer creates an empty buffer defaulting to 200.
func NewResponseBuffer() *ResponseBuffer {
	return &ResponseBuffer{header: http.Header{}, statusCode: http.StatusOK}
}

func (b *ResponseBuffer) Header() http.Header {
	return b.header
}

func (b *ResponseBuffer) WriteHeader(code int) {
	if !b.wroteHeader {
		b.statusCode = code
		b.wroteHeader = true
	}
}

func (b *ResponseBuffer) Write(p []byte) (int, error) {
	b.WriteHeader(http.StatusOK)
	return b.body.Write(p)
}

// StatusCode returns the status the handler wrote.
func (b *ResponseBuffer) StatusCode() int {
	return b.statusCode
}

// Body returns the buffered body.
func (b *ResponseBuffer) Body() []byte {
	return b.body.Bytes()
}

// Flush copies the buffered response to w.
func (b *ResponseBuffer) Flush(w http.ResponseWriter) error {
	dst := w.Header()
	for k, v := range b.header {
		dst[k] = v
	}
	w.WriteHeader(b.statusCode)
	_, err := w.Write(b.body.Bytes())
	return err
}
