// Package config holds the settings shared by the Nevermined clients: the
// API key, the backend environment and per-call timeouts.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v4"
	"github.com/joho/godotenv"
)

// Environment variables read by FromEnv.
const (
	EnvAPIKey      = "NVM_API_KEY"
	EnvEnvironment = "NVM_ENVIRONMENT"
	EnvBackendURL  = "NVM_BACKEND_URL"
)

// Default timeouts for calls to the backend.
const (
	DefaultVerifyTimeout = 10 * time.Second
	DefaultSettleTimeout = 30 * time.Second
	DefaultIssueTimeout  = 30 * time.Second
)

// Timeouts bounds each kind of backend call. Zero means the default.
type Timeouts struct {
	Verify time.Duration `json:"verify,omitempty"`
	Settle time.Duration `json:"settle,omitempty"`
	Issue  time.Duration `json:"issue,omitempty"`
}

// Config is the configuration of a Nevermined payments client.
type Config struct {
	// APIKey is the Nevermined API key, a JWT whose subject is the account
	// address. It is sent as a bearer token to the backend.
	APIKey string `json:"apiKey"`
	// Environment names the backend. Defaults to EnvironmentSandbox.
	Environment EnvironmentName `json:"environment,omitempty"`
	// BackendURL overrides the environment's backend.
	BackendURL string   `json:"backendUrl,omitempty"`
	Timeouts   Timeouts `json:"timeouts,omitempty"`
}

// WithDefaults returns a copy of c with every unset field defaulted.
func (c Config) WithDefaults() Config {
	if c.Environment == "" {
		c.Environment = EnvironmentSandbox
	}
	if c.Timeouts.Verify <= 0 {
		c.Timeouts.Verify = DefaultVerifyTimeout
	}
	if c.Timeouts.Settle <= 0 {
		c.Timeouts.Settle = DefaultSettleTimeout
	}
	if c.Timeouts.Issue <= 0 {
		c.Timeouts.Issue = DefaultIssueTimeout
	}
	return c
}

// Validate checks if the config has all required fields
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if _, err := c.AccountAddress(); err != nil {
		return err
	}
	if c.Environment != "" {
		if _, err := GetEnvironment(c.Environment); err != nil {
			return err
		}
	}
	if c.BackendURL != "" {
		if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: %q", ErrInvalidBackendURL, c.BackendURL)
		}
	}
	return nil
}

// Backend returns the backend URL: BackendURL when set, the environment's
// otherwise.
func (c *Config) Backend() (string, error) {
	if c.BackendURL != "" {
		return strings.TrimRight(c.BackendURL, "/"), nil
	}
	name := c.Environment
	if name == "" {
		name = EnvironmentSandbox
	}
	env, err := GetEnvironment(name)
	if err != nil {
		return "", err
	}
	return env.Backend, nil
}

// AccountAddress reads the account address from the API key's subject.
// The signature is not checked; the backend does that.
func (c *Config) AccountAddress() (string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(apiKeyJWT(c.APIKey), claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
	}
	sub, _ := claims["sub"].(string)
	if !common.IsHexAddress(sub) {
		return "", fmt.Errorf("%w: subject %q is not an address", ErrInvalidAPIKey, sub)
	}
	return common.HexToAddress(sub).Hex(), nil
}

// apiKeyJWT strips an "<environment>:" prefix from key.
func apiKeyJWT(key string) string {
	key = strings.TrimSpace(key)
	if prefix, rest, ok := strings.Cut(key, ":"); ok && !strings.Contains(prefix, ".") {
		return rest
	}
	return key
}

// FromEnv builds a Config from NVM_API_KEY, NVM_ENVIRONMENT and
// NVM_BACKEND_URL. The given .env files are loaded first if present;
// variables already set win.
func FromEnv(dotenvFiles ...string) (Config, error) {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("config: failed to load %s: %w", f, err)
		}
	}

	cfg := Config{
		APIKey:      os.Getenv(EnvAPIKey),
		Environment: EnvironmentName(os.Getenv(EnvEnvironment)),
		BackendURL:  os.Getenv(EnvBackendURL),
	}
	if cfg.Environment == EnvironmentCustom && cfg.BackendURL == "" {
		cfg.BackendURL = customBackend()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg.WithDefaults(), nil
}
