package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/nevermined-io/payments-go/types"
)

// ============================================================================
// Subscriber-side HTTP client
// ============================================================================

// TokenSource yields the access token to present to a protected endpoint.
// required is the endpoint's 402 body when one was received, nil before the
// first request.
type TokenSource interface {
	Token(ctx context.Context, required *types.PaymentRequired) (string, error)
}

// TokenSourceFunc adapts a function to TokenSource.
type TokenSourceFunc func(ctx context.Context, required *types.PaymentRequired) (string, error)

func (f TokenSourceFunc) Token(ctx context.Context, required *types.PaymentRequired) (string, error) {
	return f(ctx, required)
}

// StaticToken always presents the same token.
type StaticToken string

func (s StaticToken) Token(context.Context, *types.PaymentRequired) (string, error) {
	return string(s), nil
}

var errNoPaymentRequired = errors.New("no payment required information found in response")

// WrapHTTPClientWithPayment makes client present an access token on every
// request. client is modified in place; nil means a new client.
func WrapHTTPClientWithPayment(client *http.Client, source TokenSource) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &PaymentRoundTripper{Transport: transport, Source: source}
	return client
}

// PaymentRoundTripper sends the current access token in payment-signature.
// On a 401 or 402 carrying requirements it asks Source for a token matching
// them and retries once. The last token is reused for later requests.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Source    TokenSource

	mu    sync.Mutex
	token string
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	tok := t.current()
	if tok == "" && t.Source != nil {
		var err error
		if tok, err = t.fetch(req.Context(), nil); err != nil {
			return nil, err
		}
	}

	resp, err := transport.RoundTrip(withToken(req, tok, req.Body))
	if err != nil || !paymentRejected(resp.StatusCode) || t.Source == nil {
		return resp, err
	}
	// A consumed body can only be replayed through GetBody.
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	required, err := PaymentRequiredFromResponse(resp.Header, body)
	if err != nil {
		return resp, nil
	}
	fresh, err := t.fetch(req.Context(), required)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain access token: %w", err)
	}
	if fresh == tok {
		return resp, nil
	}

	var replay io.ReadCloser
	if req.GetBody != nil {
		if replay, err = req.GetBody(); err != nil {
			return nil, err
		}
	}
	return transport.RoundTrip(withToken(req, fresh, replay))
}

// paymentRejected reports the statuses a paywall turns callers away with.
func paymentRejected(status int) bool {
	return status == http.StatusPaymentRequired || status == http.StatusUnauthorized
}

func (t *PaymentRoundTripper) current() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

func (t *PaymentRoundTripper) fetch(ctx context.Context, required *types.PaymentRequired) (string, error) {
	tok, err := t.Source.Token(ctx, required)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.token = tok
	t.mu.Unlock()
	return tok, nil
}

// withToken clones req with tok in payment-signature. RoundTrippers must not
// modify the caller's request.
func withToken(req *http.Request, tok string, body io.ReadCloser) *http.Request {
	out := req.Clone(req.Context())
	out.Body = body
	if tok != "" {
		out.Header.Set(HeaderPaymentSignature, tok)
	}
	return out
}

// ============================================================================
// Response Decoding
// ============================================================================

// PaymentRequiredFromResponse reads the 402 body from the payment-required
// header, falling back to a JSON body.
func PaymentRequiredFromResponse(h http.Header, body []byte) (*types.PaymentRequired, error) {
	if header := h.Get(HeaderPaymentRequired); header != "" {
		var required types.PaymentRequired
		if err := types.DecodeHeader(header, &required); err != nil {
			return nil, fmt.Errorf("invalid payment-required header: %w", err)
		}
		return &required, nil
	}
	if len(body) > 0 {
		var required types.PaymentRequired
		if err := json.Unmarshal(body, &required); err == nil && required.X402Version > 0 && len(required.Accepts) > 0 {
			return &required, nil
		}
	}
	return nil, errNoPaymentRequired
}

// PaymentResponseFromHeader reads the settlement receipt of a paid call.
func PaymentResponseFromHeader(h http.Header) (*types.SettleResponse, error) {
	header := h.Get(HeaderPaymentResponse)
	if header == "" {
		return nil, fmt.Errorf("payment response header not found")
	}
	var response types.SettleResponse
	if err := types.DecodeHeader(header, &response); err != nil {
		return nil, fmt.Errorf("invalid payment-response header: %w", err)
	}
	return &response, nil
}
