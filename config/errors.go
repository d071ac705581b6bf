package config

import "errors"

// Config validation errors
var (
	ErrMissingAPIKey      = errors.New("config: NVM API key is required")
	ErrInvalidAPIKey      = errors.New("config: invalid NVM API key")
	ErrUnknownEnvironment = errors.New("config: unknown environment")
	ErrInvalidBackendURL  = errors.New("config: invalid backend URL")
)
