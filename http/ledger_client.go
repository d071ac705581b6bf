package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	payments "github.com/nevermined-io/payments-go"
	"github.com/nevermined-io/payments-go/token"
	"github.com/nevermined-io/payments-go/types"
)

// ============================================================================
// HTTP Ledger Client
// ============================================================================

// Backend routes, relative to the environment's backend URL.
const (
	VerifyPermissionsPath = "/api/v1/x402/verify"
	SettlePermissionsPath = "/api/v1/x402/settle"
	CreatePermissionPath  = "/api/v1/x402/permissions"
)

// Defaults used when issuing tokens without an explicit scheme.
const (
	DefaultTokenScheme  = "nvm:erc4337"
	DefaultTokenNetwork = "eip155:84532"
)

// LedgerClient talks to the Nevermined backend over HTTP. It implements
// payments.Ledger and token.Issuer.
type LedgerClient struct {
	url          string
	httpClient   *http.Client
	authProvider AuthProvider
	logger       *zap.Logger
}

// AuthProvider generates authentication headers for backend requests
type AuthProvider interface {
	GetAuthHeaders(ctx context.Context) (AuthHeaders, error)
}

// AuthHeaders contains authentication headers per endpoint
type AuthHeaders struct {
	Verify map[string]string
	Settle map[string]string
	Issue  map[string]string
}

// BearerAuth authenticates every request with a Nevermined API key.
type BearerAuth string

func (k BearerAuth) GetAuthHeaders(_ context.Context) (AuthHeaders, error) {
	if k == "" {
		return AuthHeaders{}, nil
	}
	h := map[string]string{"Authorization": "Bearer " + string(k)}
	return AuthHeaders{Verify: h, Settle: h, Issue: h}, nil
}

// LedgerConfig configures the HTTP ledger client
type LedgerConfig struct {
	// URL is the backend base URL (required)
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// AuthProvider provides authentication headers (optional)
	AuthProvider AuthProvider

	// Timeout for requests when HTTPClient is nil (optional, defaults to 30s)
	Timeout time.Duration

	// Logger (optional, defaults to zap.L())
	Logger *zap.Logger
}

// NewLedgerClient creates a new HTTP ledger client
func NewLedgerClient(config *LedgerConfig) *LedgerClient {
	if config == nil {
		config = &LedgerConfig{}
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.L()
	}

	return &LedgerClient{
		url:          config.URL,
		httpClient:   httpClient,
		authProvider: config.AuthProvider,
		logger:       logger.Named("ledger"),
	}
}

// URL returns the backend base URL.
func (c *LedgerClient) URL() string {
	return c.url
}

// permissionBody is the backend's camelCase shape of a permission request.
type permissionBody struct {
	PlanID            string `json:"planId"`
	AgentID           string `json:"agentId,omitempty"`
	MaxAmount         string `json:"maxAmount,omitempty"`
	X402AccessToken   string `json:"x402AccessToken"`
	SubscriberAddress string `json:"subscriberAddress,omitempty"`
	Endpoint          string `json:"endpoint,omitempty"`
	HTTPVerb          string `json:"httpVerb,omitempty"`
}

func toPermissionBody(req payments.PermissionRequest) permissionBody {
	return permissionBody{
		PlanID:            req.PlanID,
		AgentID:           req.AgentID,
		MaxAmount:         req.MaxAmount,
		X402AccessToken:   req.AccessToken,
		SubscriberAddress: req.SubscriberAddress,
		Endpoint:          req.Endpoint,
		HTTPVerb:          req.HTTPVerb,
	}
}

// errorBody is what the backend returns alongside non-2xx statuses.
type errorBody struct {
	Message       string `json:"message"`
	Code          string `json:"code"`
	InvalidReason string `json:"invalidReason"`
	ErrorReason   string `json:"errorReason"`
}

// ============================================================================
// payments.Ledger Implementation
// ============================================================================

// VerifyPermissions checks the subscriber's balance and credential without
// burning credits.
func (c *LedgerClient) VerifyPermissions(ctx context.Context, req payments.PermissionRequest) (*types.VerifyResponse, error) {
	headers, err := c.authHeaders(ctx, func(h AuthHeaders) map[string]string { return h.Verify })
	if err != nil {
		return nil, err
	}

	responseBody, err := c.post(ctx, VerifyPermissionsPath, toPermissionBody(req), headers)
	if err != nil {
		return nil, err
	}

	var verifyResponse types.VerifyResponse
	if err := json.Unmarshal(responseBody, &verifyResponse); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verify response: %w", err)
	}
	return &verifyResponse, nil
}

// SettlePermissions burns req.MaxAmount credits.
func (c *LedgerClient) SettlePermissions(ctx context.Context, req payments.PermissionRequest) (*types.SettleResponse, error) {
	headers, err := c.authHeaders(ctx, func(h AuthHeaders) map[string]string { return h.Settle })
	if err != nil {
		return nil, err
	}

	responseBody, err := c.post(ctx, SettlePermissionsPath, toPermissionBody(req), headers)
	if err != nil {
		return nil, err
	}

	var settle struct {
		types.SettleResponse
		CreditsRedeemed string `json:"creditsRedeemed"`
		TxHash          string `json:"txHash"`
	}
	if err := json.Unmarshal(responseBody, &settle); err != nil {
		return nil, fmt.Errorf("failed to unmarshal settle response: %w", err)
	}
	result := settle.SettleResponse
	if result.CreditsBurned == "" {
		result.CreditsBurned = settle.CreditsRedeemed
	}
	if result.Transaction == "" {
		result.Transaction = settle.TxHash
	}
	return &result, nil
}

// ============================================================================
// token.Issuer Implementation
// ============================================================================

type issueBody struct {
	Accepted struct {
		Scheme  string            `json:"scheme"`
		Network string            `json:"network"`
		PlanID  string            `json:"planId"`
		Extra   map[string]string `json:"extra"`
	} `json:"accepted"`
	SessionKeyConfig *sessionKeyConfig `json:"sessionKeyConfig,omitempty"`
}

type sessionKeyConfig struct {
	RedemptionLimit int    `json:"redemptionLimit,omitempty"`
	OrderLimit      string `json:"orderLimit,omitempty"`
	Expiration      string `json:"expiration,omitempty"`
}

// IssueToken creates a permission on the backend and returns its access token.
func (c *LedgerClient) IssueToken(ctx context.Context, req token.IssueRequest) (string, error) {
	headers, err := c.authHeaders(ctx, func(h AuthHeaders) map[string]string { return h.Issue })
	if err != nil {
		return "", err
	}

	var body issueBody
	body.Accepted.Scheme = req.Scheme
	if body.Accepted.Scheme == "" {
		body.Accepted.Scheme = DefaultTokenScheme
	}
	body.Accepted.Network = req.Network
	if body.Accepted.Network == "" {
		body.Accepted.Network = DefaultTokenNetwork
	}
	body.Accepted.PlanID = req.PlanID
	body.Accepted.Extra = map[string]string{}
	if req.AgentID != "" {
		body.Accepted.Extra["agentId"] = req.AgentID
	}
	if req.RedemptionLimit > 0 || req.OrderLimit != "" || !req.Expiration.IsZero() {
		cfg := &sessionKeyConfig{RedemptionLimit: req.RedemptionLimit, OrderLimit: req.OrderLimit}
		if !req.Expiration.IsZero() {
			cfg.Expiration = req.Expiration.UTC().Format(time.RFC3339)
		}
		body.SessionKeyConfig = cfg
	}

	responseBody, err := c.post(ctx, CreatePermissionPath, body, headers)
	if err != nil {
		return "", err
	}

	var issued struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(responseBody, &issued); err != nil {
		return "", fmt.Errorf("failed to unmarshal permission response: %w", err)
	}
	return issued.AccessToken, nil
}

// ============================================================================
// Internal HTTP Methods
// ============================================================================

func (c *LedgerClient) authHeaders(ctx context.Context, pick func(AuthHeaders) map[string]string) (map[string]string, error) {
	if c.authProvider == nil {
		return nil, nil
	}
	headers, err := c.authProvider.GetAuthHeaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get auth headers: %w", err)
	}
	return pick(headers), nil
}

// post sends body as JSON and returns the response body of a 2xx answer.
// Non-2xx answers become *payments.LedgerError.
func (c *LedgerClient) post(ctx context.Context, path string, body interface{}, headers map[string]string) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("ledger request failed", zap.String("path", path), zap.Error(err))
		return nil, &payments.LedgerError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &payments.LedgerError{StatusCode: resp.StatusCode, Message: "failed to read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(responseBody, &eb)
		reason := eb.InvalidReason
		if reason == "" {
			reason = eb.ErrorReason
		}
		if reason == "" {
			reason = eb.Code
		}
		message := eb.Message
		if message == "" {
			message = string(responseBody)
		}
		c.logger.Info("ledger rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("reason", reason))
		return nil, payments.NewLedgerError(resp.StatusCode, reason, message)
	}

	return responseBody, nil
}
