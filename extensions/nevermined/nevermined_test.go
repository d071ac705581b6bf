package nevermined

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevermined-io/payments-go/types"
)

const subscriber = "0x1234567890abcdef1234567890abcdef12345678"

func v2Payload(t *testing.T, ext map[string]interface{}) types.PaymentPayload {
	t.Helper()
	return types.PaymentPayload{
		X402Version: types.X402Version,
		Scheme:      types.SchemeContract,
		Network:     types.NetworkBaseSepolia,
		Payload:     types.NewSessionKeyPayload("token"),
		Extensions:  ext,
	}
}

func TestDeclareDefaults(t *testing.T) {
	ext, err := Declare("P1", "A1", "5")
	require.NoError(t, err)

	assert.Equal(t, types.NetworkBaseSepolia, ext.Info.Network)
	assert.Equal(t, types.SchemeContract, ext.Info.Scheme)
	assert.True(t, Validate(*ext).Valid)
}

func TestDeclareRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		plan  string
		agent string
		max   string
		opts  []DeclareOption
		field string
	}{
		{"empty plan", "", "A1", "5", nil, "plan_id"},
		{"empty agent", "P1", "", "5", nil, "agent_id"},
		{"bad amount", "P1", "A1", "five", nil, "max_amount"},
		{"bad network", "P1", "A1", "5", []DeclareOption{WithNetwork("mainnet")}, "network"},
		{"bad scheme", "P1", "A1", "5", []DeclareOption{WithScheme("exact")}, "scheme"},
		{"bad subscriber", "P1", "A1", "5", []DeclareOption{WithSubscriberAddress("1234567890abcdef1234567890abcdef12345678")}, "subscriber_address"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Declare(tt.plan, tt.agent, tt.max, tt.opts...)
			var vErr *types.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestRoundTripV2(t *testing.T) {
	exts, err := DeclareExtensions("P1", "A1", "5",
		WithNetwork(types.NetworkEIP155Base),
		WithScheme(types.SchemeDynamic),
		WithEnvironment("sandbox"),
		WithSubscriberAddress(subscriber),
	)
	require.NoError(t, err)

	// Simulate the wire: the client copies extensions from the 402 body.
	data, err := json.Marshal(v2Payload(t, exts))
	require.NoError(t, err)
	var decoded types.PaymentPayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	result, err := Extract(decoded, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, types.X402Version, result.Version)
	assert.Equal(t, Info{
		PlanID:            "P1",
		AgentID:           "A1",
		MaxAmount:         "5",
		Network:           types.NetworkEIP155Base,
		Scheme:            types.SchemeDynamic,
		SubscriberAddress: subscriber,
		Environment:       "sandbox",
	}, result.Info)
	assert.Empty(t, result.Warnings)
}

func TestRoundTripV1(t *testing.T) {
	ext, err := Declare("P1", "A1", "5")
	require.NoError(t, err)

	req := &types.PaymentRequirements{
		PlanID:    "P1",
		AgentID:   "A1",
		MaxAmount: "5",
		Network:   types.NetworkBaseSepolia,
		Scheme:    types.SchemeContract,
		Extra:     ToExtra(ext.Info),
	}
	payload := types.PaymentPayload{X402Version: types.X402VersionV1, Payload: types.NewSessionKeyPayload("t")}

	info, err := ExtractInfo(payload, req)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, ext.Info, *info)
}

func TestExtractV1FillsMissingFieldsFromRequirements(t *testing.T) {
	req := &types.PaymentRequirements{
		PlanID:    "P1",
		AgentID:   "A1",
		MaxAmount: "7",
		Network:   types.NetworkBase,
		Scheme:    types.SchemeFixed,
		Extra:     map[string]interface{}{"plan_id": "P1", "agent_id": "A1"},
	}
	info, err := ExtractInfo(types.PaymentPayload{}, req)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, "7", info.MaxAmount)
	assert.Equal(t, types.NetworkBase, info.Network)
	assert.Equal(t, types.SchemeFixed, info.Scheme)
}

func TestExtractAbsent(t *testing.T) {
	info, err := ExtractInfo(v2Payload(t, nil), nil)
	assert.NoError(t, err)
	assert.Nil(t, info)

	req := &types.PaymentRequirements{Extra: map[string]interface{}{"foo": "bar"}}
	info, err = ExtractInfo(v2Payload(t, map[string]interface{}{"other": 1}), req)
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestExtractIgnoresExtensionsOnV1Payload(t *testing.T) {
	exts, err := DeclareExtensions("P1", "A1", "5")
	require.NoError(t, err)
	payload := v2Payload(t, exts)
	payload.X402Version = types.X402VersionV1

	info, err := ExtractInfo(payload, nil)
	assert.NoError(t, err)
	assert.Nil(t, info)
}

func TestExtractSchemaInvalid(t *testing.T) {
	payload := v2Payload(t, map[string]interface{}{
		NEVERMINED: map[string]interface{}{
			"info": map[string]interface{}{
				"plan_id":    "P1",
				"agent_id":   "A1",
				"max_amount": "-3",
				"network":    "base-sepolia",
				"scheme":     "contract",
			},
		},
	})

	_, err := Extract(payload, nil)
	var vErr *types.ValidationError
	require.True(t, errors.As(err, &vErr))
	assert.NotEmpty(t, vErr.Errors)

	// Without validation the info is returned as-is.
	info, err := ExtractInfo(payload, nil, WithoutValidation())
	require.NoError(t, err)
	assert.Equal(t, "-3", info.MaxAmount)
}

func TestExtractFallsBackToV1WhenV2Malformed(t *testing.T) {
	payload := v2Payload(t, map[string]interface{}{NEVERMINED: "garbage"})
	req := &types.PaymentRequirements{
		MaxAmount: "5",
		Network:   types.NetworkBaseSepolia,
		Scheme:    types.SchemeContract,
		Extra:     map[string]interface{}{"plan_id": "P1", "agent_id": "A1"},
	}

	result, err := Extract(payload, req)
	require.NoError(t, err)
	assert.Equal(t, types.X402VersionV1, result.Version)
	assert.Equal(t, "P1", result.Info.PlanID)
	assert.Len(t, result.Warnings, 1)
}

func TestExtractDisagreement(t *testing.T) {
	exts, err := DeclareExtensions("P2", "A1", "5")
	require.NoError(t, err)
	payload := v2Payload(t, exts)
	req := &types.PaymentRequirements{
		MaxAmount: "5",
		Network:   types.NetworkBaseSepolia,
		Scheme:    types.SchemeContract,
		Extra:     map[string]interface{}{"plan_id": "P1", "agent_id": "A1"},
	}

	result, err := Extract(payload, req)
	require.NoError(t, err)
	assert.Equal(t, "P2", result.Info.PlanID)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], `"P1"`)

	_, err = Extract(payload, req, WithConflictPolicy(Strict))
	var vErr *types.ValidationError
	assert.True(t, errors.As(err, &vErr))
}

func TestExtractFromBytes(t *testing.T) {
	exts, err := DeclareExtensions("P1", "A1", "5")
	require.NoError(t, err)
	data, err := json.Marshal(v2Payload(t, exts))
	require.NoError(t, err)

	info, err := ExtractFromBytes(data, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "P1", info.PlanID)

	_, err = ExtractFromBytes([]byte("{"), nil, true)
	assert.Error(t, err)
}

func TestValidateReportsErrors(t *testing.T) {
	result := Validate(Extension{Info: Info{PlanID: "P1"}})
	assert.False(t, result.Valid)
	assert.NotEmpty(t, result.Errors)
}
