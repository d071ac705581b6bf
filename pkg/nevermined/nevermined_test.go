package nevermined

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nevermined-io/payments-go/config"
	nvmhttp "github.com/nevermined-io/payments-go/http"
	"github.com/nevermined-io/payments-go/paywall"
	"github.com/nevermined-io/payments-go/pkg/stdlib"
	"github.com/nevermined-io/payments-go/token"
	"github.com/nevermined-io/payments-go/types"
)

const testAddress = "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4"

func apiKey(t *testing.T) string {
	t.Helper()
	key, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": testAddress}).SignedString([]byte("secret"))
	require.NoError(t, err)
	return key
}

// backend fakes the Nevermined API and records every request body by path.
type backend struct {
	mu     sync.Mutex
	bodies map[string][]map[string]interface{}
	auth   []string
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	b := &backend{bodies: map[string][]map[string]interface{}{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)

		b.mu.Lock()
		b.bodies[r.URL.Path] = append(b.bodies[r.URL.Path], body)
		b.auth = append(b.auth, r.Header.Get("Authorization"))
		b.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case nvmhttp.VerifyPermissionsPath:
			_, _ = w.Write([]byte(`{"isValid":true,"payer":"0xpayer"}`))
		case nvmhttp.SettlePermissionsPath:
			_, _ = w.Write([]byte(`{"success":true,"txHash":"0xabc","creditsRedeemed":"2"}`))
		case nvmhttp.CreatePermissionPath:
			_, _ = w.Write([]byte(`{"accessToken":"issued-token"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) requests(path string) []map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[path]
}

func newPayments(t *testing.T, url string, opts ...Option) *Payments {
	t.Helper()
	cfg := config.Config{APIKey: apiKey(t), Environment: config.EnvironmentCustom, BackendURL: url}
	p, err := New(cfg, append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(config.Config{})
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)

	_, err = New(config.Config{APIKey: apiKey(t), Environment: "mars"})
	assert.ErrorIs(t, err, config.ErrUnknownEnvironment)
}

func TestNewAppliesDefaults(t *testing.T) {
	_, srv := newBackend(t)
	p := newPayments(t, srv.URL+"/")

	assert.Equal(t, testAddress, p.AccountAddress())
	assert.Equal(t, srv.URL, p.Ledger().URL())
	assert.Equal(t, config.DefaultSettleTimeout, p.Config().Timeouts.Settle)
	assert.NotNil(t, p.Facilitator())
	assert.NotNil(t, p.Paywall())
}

func TestGetX402AccessToken(t *testing.T) {
	b, srv := newBackend(t)
	p := newPayments(t, srv.URL)

	tok, err := p.GetX402AccessToken(t.Context(), "P1", "A1",
		token.WithRedemptionLimit(3),
		token.WithExpiration(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	assert.Equal(t, "issued-token", tok)

	reqs := b.requests(nvmhttp.CreatePermissionPath)
	require.Len(t, reqs, 1)
	accepted := reqs[0]["accepted"].(map[string]interface{})
	assert.Equal(t, "P1", accepted["planId"])
	assert.Equal(t, nvmhttp.DefaultTokenScheme, accepted["scheme"])
	assert.Equal(t, "A1", accepted["extra"].(map[string]interface{})["agentId"])
	skc := reqs[0]["sessionKeyConfig"].(map[string]interface{})
	assert.EqualValues(t, 3, skc["redemptionLimit"])
	assert.Equal(t, "2030-01-01T00:00:00Z", skc["expiration"])

	_, err = p.GetX402AccessToken(t.Context(), "", "A1")
	assert.ErrorIs(t, err, token.ErrMissingPlanID)
}

func TestPaidRequestThroughBackend(t *testing.T) {
	b, srv := newBackend(t)
	p := newPayments(t, srv.URL)

	reg := paywall.Registration{PlanID: "P1", AgentID: "A1", Credits: paywall.Range(1, 5)}
	handler := stdlib.PaymentMiddleware(p.Paywall(), reg, stdlib.WithResourceRootURL("https://agent.example"))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paywall.FromContext(r.Context()).ReportConsumed(2)
			_, _ = w.Write([]byte("done"))
		}))

	req := httptest.NewRequest(http.MethodPost, "/ask", nil)
	req.Header.Set("Authorization", "Bearer sub-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())

	var settle types.SettleResponse
	require.NoError(t, types.DecodeHeader(rec.Header().Get(nvmhttp.HeaderPaymentResponse), &settle))
	assert.True(t, settle.Success)
	assert.Equal(t, "0xabc", settle.Transaction)

	verifies := b.requests(nvmhttp.VerifyPermissionsPath)
	require.Len(t, verifies, 1)
	assert.Equal(t, "sub-token", verifies[0]["x402AccessToken"])
	assert.Equal(t, "5", verifies[0]["maxAmount"])

	settles := b.requests(nvmhttp.SettlePermissionsPath)
	require.Len(t, settles, 1)
	assert.Equal(t, "2", settles[0]["maxAmount"])
	assert.Equal(t, "https://agent.example/ask", settles[0]["endpoint"])

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, auth := range b.auth {
		assert.Equal(t, "Bearer "+p.Config().APIKey, auth)
	}
}

func TestSharedTokenSettlesEveryCall(t *testing.T) {
	for name, opts := range map[string][]Option{
		"default":    nil,
		"with cache": {WithSettlementCacheTTL(time.Minute)},
	} {
		t.Run(name, func(t *testing.T) {
			b, srv := newBackend(t)
			p := newPayments(t, srv.URL, opts...)

			reg := paywall.Registration{PlanID: "P1", AgentID: "A1", Credits: paywall.Fixed(1)}
			handler := stdlib.PaymentMiddleware(p.Paywall(), reg)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					_, _ = w.Write([]byte("work"))
				}))

			for i := 0; i < 3; i++ {
				req := httptest.NewRequest(http.MethodPost, "/ask", nil)
				req.Header.Set("Authorization", "Bearer sub-token")
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)
				require.Equal(t, http.StatusOK, rec.Code)
			}

			assert.Len(t, b.requests(nvmhttp.VerifyPermissionsPath), 3)
			assert.Len(t, b.requests(nvmhttp.SettlePermissionsPath), 3)
		})
	}
}

func TestA2AAndMCPShareThePaywall(t *testing.T) {
	_, srv := newBackend(t)
	p := newPayments(t, srv.URL, WithSettlementCacheTTL(0))

	h, err := p.A2A(paywall.Registration{PlanID: "P1", AgentID: "A1", Credits: paywall.Fixed(1)})
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, err = p.A2A(paywall.Registration{AgentID: "A1", Credits: paywall.Fixed(1)})
	assert.Error(t, err)

	assert.NotNil(t, p.MCP())
}

func TestHTTPClientDiscoversPlanFrom402(t *testing.T) {
	b, srv := newBackend(t)
	p := newPayments(t, srv.URL)

	reg := paywall.Registration{PlanID: "P9", AgentID: "A9", Credits: paywall.Fixed(1)}
	agent := httptest.NewServer(stdlib.PaymentMiddleware(p.Paywall(), reg)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("paid"))
		})))
	defer agent.Close()

	client := p.HTTPClient(p.TokenSource("", ""))
	resp, err := client.Get(agent.URL + "/run")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	settle, err := nvmhttp.PaymentResponseFromHeader(resp.Header)
	require.NoError(t, err)
	assert.True(t, settle.Success)

	issued := b.requests(nvmhttp.CreatePermissionPath)
	require.Len(t, issued, 1)
	accepted := issued[0]["accepted"].(map[string]interface{})
	assert.Equal(t, "P9", accepted["planId"])
	assert.Equal(t, "A9", accepted["extra"].(map[string]interface{})["agentId"])

	verifies := b.requests(nvmhttp.VerifyPermissionsPath)
	require.Len(t, verifies, 1)
	assert.Equal(t, "issued-token", verifies[0]["x402AccessToken"])
}
