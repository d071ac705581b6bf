package stdlib

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	payments "github.com/nevermined-io/payments-go"
	nvmhttp "github.com/nevermined-io/payments-go/http"
	"github.com/nevermined-io/payments-go/paywall"
	"github.com/nevermined-io/payments-go/types"
)

type ledgerRecorder struct {
	mu       sync.Mutex
	verifies []payments.PermissionRequest
	settles  []payments.PermissionRequest
	verify   *types.VerifyResponse
}

func (l *ledgerRecorder) VerifyPermissions(_ context.Context, req payments.PermissionRequest) (*types.VerifyResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verifies = append(l.verifies, req)
	if l.verify != nil {
		return l.verify, nil
	}
	return &types.VerifyResponse{IsValid: true}, nil
}

func (l *ledgerRecorder) SettlePermissions(_ context.Context, req payments.PermissionRequest) (*types.SettleResponse, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settles = append(l.settles, req)
	return &types.SettleResponse{Success: true, Transaction: "0xtx"}, nil
}

func newTestPaywall(t *testing.T, ledger payments.Ledger) *paywall.Paywall {
	t.Helper()
	logger := zaptest.NewLogger(t)
	facilitator, err := payments.NewFacilitator(ledger, payments.WithLogger(logger))
	require.NoError(t, err)
	pw, err := paywall.New(facilitator, paywall.WithLogger(logger))
	require.NoError(t, err)
	return pw
}

var registration = paywall.Registration{PlanID: "P1", AgentID: "A1", Credits: paywall.Range(1, 5)}

func TestPaymentMiddlewareSettlesReportedCredits(t *testing.T) {
	ledger := &ledgerRecorder{}
	mw := PaymentMiddleware(newTestPaywall(t, ledger), registration, WithResourceRootURL("https://agent.example"))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paywall.FromContext(r.Context()).ReportConsumed(3)
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodPost, "/run", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get(nvmhttp.HeaderAgentRequestID))

	var settle types.SettleResponse
	require.NoError(t, types.DecodeHeader(rec.Header().Get(nvmhttp.HeaderPaymentResponse), &settle))
	assert.True(t, settle.Success)
	assert.Equal(t, "3", settle.CreditsBurned)

	require.Len(t, ledger.settles, 1)
	assert.Equal(t, "3", ledger.settles[0].MaxAmount)
	assert.Equal(t, "https://agent.example/run", ledger.settles[0].Endpoint)
	assert.Equal(t, http.MethodPost, ledger.settles[0].HTTPVerb)
	assert.Equal(t, "tok", ledger.settles[0].AccessToken)
}

func TestPaymentMiddlewareMissingCredential(t *testing.T) {
	ledger := &ledgerRecorder{}
	mw := PaymentMiddleware(newTestPaywall(t, ledger), registration)

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/run", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
	assert.Empty(t, ledger.verifies)
	assert.NotEmpty(t, rec.Header().Get(nvmhttp.HeaderPaymentRequired))
}

func TestPaymentMiddlewareInsufficientBalance(t *testing.T) {
	ledger := &ledgerRecorder{verify: &types.VerifyResponse{IsValid: false, InvalidReason: payments.ReasonInsufficientBalance}}
	mw := PaymentMiddleware(newTestPaywall(t, ledger), registration, WithDescription("search the web"))

	called := false
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	req.Header.Set(nvmhttp.HeaderPaymentSignature, "tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, called)

	var body types.PaymentRequired
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, payments.ReasonInsufficientBalance, body.Error)
	require.Len(t, body.Accepts, 1)
	assert.Equal(t, "P1", body.Accepts[0].PlanID)
	assert.Equal(t, "search the web", body.Resource.Description)

	var header types.PaymentRequired
	require.NoError(t, types.DecodeHeader(rec.Header().Get(nvmhttp.HeaderPaymentRequired), &header))
	assert.Equal(t, body.Accepts[0].PlanID, header.Accepts[0].PlanID)
}

func TestPaymentMiddlewareDoesNotSettleErrors(t *testing.T) {
	ledger := &ledgerRecorder{}
	mw := PaymentMiddleware(newTestPaywall(t, ledger), registration)

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paywall.FromContext(r.Context()).ReportConsumed(2)
		http.Error(w, "broken", http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/run", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "broken")
	assert.Empty(t, rec.Header().Get(nvmhttp.HeaderPaymentResponse))
	assert.Len(t, ledger.verifies, 1)
	assert.Empty(t, ledger.settles)
}

func TestPaymentMiddlewareAcceptsFullPayload(t *testing.T) {
	ledger := &ledgerRecorder{}
	mw := PaymentMiddleware(newTestPaywall(t, ledger), paywall.Registration{PlanID: "P1", AgentID: "A1", Credits: paywall.Fixed(2)})

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	requirements, err := types.NewPaymentRequirements("P1", "A1", "2", "", "")
	require.NoError(t, err)
	payload, err := payments.BuildPaymentRequired(nil, "", *requirements)
	require.NoError(t, err)
	header, err := types.EncodeHeader(types.PaymentPayload{
		X402Version: types.X402Version,
		Payload:     types.NewSessionKeyPayload("client-token"),
		Extensions:  payload.Extensions,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/items", nil)
	req.Header.Set(nvmhttp.HeaderPaymentSignature, header)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, ledger.settles, 1)
	assert.Equal(t, "client-token", ledger.settles[0].AccessToken)
	assert.Equal(t, "2", ledger.settles[0].MaxAmount)
}
