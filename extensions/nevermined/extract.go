package nevermined

import (
	"encoding/json"
	"fmt"

	"github.com/nevermined-io/payments-go/types"
)

// ExtractOption customises Extract.
type ExtractOption func(*extractConfig)

type extractConfig struct {
	validate bool
	policy   ConflictPolicy
}

// WithoutValidation skips the JSON Schema check of the extracted info.
func WithoutValidation() ExtractOption {
	return func(c *extractConfig) {
		c.validate = false
	}
}

// WithConflictPolicy sets how a v1/v2 disagreement is handled.
func WithConflictPolicy(policy ConflictPolicy) ExtractOption {
	return func(c *extractConfig) {
		c.policy = policy
	}
}

// carrier is one way of finding Info in an envelope. It returns nil, nil
// when its carrier is absent.
type carrier struct {
	version int
	name    string
	find    func(payload types.PaymentPayload, requirements *types.PaymentRequirements) (*Info, error)
}

// carriers are tried in order; the first hit wins.
var carriers = []carrier{
	{version: types.X402Version, name: "extensions." + NEVERMINED, find: fromExtensions},
	{version: types.X402VersionV1, name: "extra", find: fromExtra},
}

// Extract finds the Nevermined info in payload, falling back to the v1
// requirements.extra carrier. It returns nil, nil when neither carrier holds
// Nevermined data. A carrier that is present but malformed (or fails the
// schema when validating) yields a *types.ValidationError unless a later
// carrier supplies valid info.
func Extract(payload types.PaymentPayload, requirements *types.PaymentRequirements, opts ...ExtractOption) (*ExtractResult, error) {
	cfg := extractConfig{validate: true, policy: PreferV2}
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		result   *ExtractResult
		firstErr error
		warnings []string
	)

	for i, c := range carriers {
		info, err := c.find(payload, requirements)
		if err == nil && info != nil && cfg.validate {
			if vr := ValidateInfo(*info); !vr.Valid {
				err = &types.ValidationError{
					Field:   c.name,
					Message: "info does not match schema",
					Errors:  vr.Errors,
				}
			}
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			warnings = append(warnings, fmt.Sprintf("%s carrier unusable: %v", c.name, err))
			continue
		}
		if info == nil {
			continue
		}

		result = &ExtractResult{Info: *info, Version: c.version}

		// Peek at the remaining carriers only to detect disagreement.
		for _, later := range carriers[i+1:] {
			other, otherErr := later.find(payload, requirements)
			if otherErr != nil || other == nil {
				continue
			}
			if other.PlanID == info.PlanID && other.AgentID == info.AgentID {
				continue
			}
			msg := fmt.Sprintf("%s names plan %q agent %q but %s names plan %q agent %q",
				c.name, info.PlanID, info.AgentID, later.name, other.PlanID, other.AgentID)
			if cfg.policy == Strict {
				return nil, types.NewValidationError(NEVERMINED, "%s", msg)
			}
			warnings = append(warnings, msg)
		}
		break
	}

	if result == nil {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, nil
	}
	result.Warnings = warnings
	return result, nil
}

// ExtractInfo is Extract without the warnings.
func ExtractInfo(payload types.PaymentPayload, requirements *types.PaymentRequirements, opts ...ExtractOption) (*Info, error) {
	result, err := Extract(payload, requirements, opts...)
	if err != nil || result == nil {
		return nil, err
	}
	return &result.Info, nil
}

// ExtractFromBytes extracts from raw JSON at a network boundary.
// requirementsBytes may be nil.
func ExtractFromBytes(payloadBytes, requirementsBytes []byte, validate bool) (*Info, error) {
	payload, err := types.ToPaymentPayload(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment payload: %w", err)
	}

	var requirements *types.PaymentRequirements
	if len(requirementsBytes) > 0 {
		requirements, err = types.ToPaymentRequirements(requirementsBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal payment requirements: %w", err)
		}
	}

	var opts []ExtractOption
	if !validate {
		opts = append(opts, WithoutValidation())
	}
	return ExtractInfo(*payload, requirements, opts...)
}

func fromExtensions(payload types.PaymentPayload, _ *types.PaymentRequirements) (*Info, error) {
	if payload.X402Version < types.X402Version || payload.Extensions == nil {
		return nil, nil
	}
	raw, ok := payload.Extensions[NEVERMINED]
	if !ok || raw == nil {
		return nil, nil
	}

	// The value may be an Extension or a decoded map; normalise via JSON.
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, types.NewValidationError("extensions."+NEVERMINED, "failed to marshal extension: %v", err)
	}
	var ext struct {
		Info *Info `json:"info"`
	}
	if err := json.Unmarshal(data, &ext); err != nil {
		return nil, types.NewValidationError("extensions."+NEVERMINED, "malformed extension: %v", err)
	}
	if ext.Info == nil {
		return nil, types.NewValidationError("extensions."+NEVERMINED, "extension has no info")
	}
	return ext.Info, nil
}

func fromExtra(_ types.PaymentPayload, requirements *types.PaymentRequirements) (*Info, error) {
	if requirements == nil || requirements.Extra == nil {
		return nil, nil
	}
	extra := requirements.Extra
	if _, ok := extra["plan_id"]; !ok {
		return nil, nil
	}
	if _, ok := extra["agent_id"]; !ok {
		return nil, nil
	}

	// Fields the flat carrier omits are taken from the requirements.
	info := Info{
		PlanID:            stringField(extra, "plan_id", ""),
		AgentID:           stringField(extra, "agent_id", ""),
		MaxAmount:         stringField(extra, "max_amount", requirements.MaxAmount),
		Network:           types.Network(stringField(extra, "network", string(requirements.Network))),
		Scheme:            types.Scheme(stringField(extra, "scheme", string(requirements.Scheme))),
		SubscriberAddress: stringField(extra, "subscriber_address", requirements.SubscriberAddress),
		Environment:       stringField(extra, "environment", ""),
	}
	return &info, nil
}

func stringField(m map[string]interface{}, key, fallback string) string {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case json.Number:
		return v.String()
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return fallback
}
