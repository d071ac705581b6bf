package token

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenJSON = `{
	"x402Version": 2,
	"accepted": {"scheme": "nvm:erc4337", "network": "eip155:84532", "planId": "P1", "extra": {"agentId": "A1"}},
	"payload": {"authorization": {"from": "0x1234567890abcdef1234567890abcdef12345678"}}
}`

func TestDecode(t *testing.T) {
	want := &Claims{
		WalletAddress: "0x1234567890abcdef1234567890abcdef12345678",
		PlanID:        "P1",
		AgentID:       "A1",
		Scheme:        "nvm:erc4337",
		Network:       "eip155:84532",
	}

	for name, enc := range map[string]*base64.Encoding{
		"std":     base64.StdEncoding,
		"url":     base64.URLEncoding,
		"raw url": base64.RawURLEncoding,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, Decode(enc.EncodeToString([]byte(tokenJSON))))
		})
	}

	jwt := "eyJhbGciOiJub25lIn0." + base64.RawURLEncoding.EncodeToString([]byte(tokenJSON)) + ".sig"
	assert.Equal(t, want, Decode(jwt))
}

func TestDecodeFailSoft(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not-base64!!",
		base64.StdEncoding.EncodeToString([]byte("not json")),
		base64.StdEncoding.EncodeToString([]byte(`{"unrelated":true}`)),
		base64.StdEncoding.EncodeToString([]byte(`[1,2,3]`)),
		"a.b.c",
	}
	for _, in := range inputs {
		assert.Nil(t, Decode(in), "input %q", in)
	}
}

type fakeIssuer struct {
	got   IssueRequest
	token string
	err   error
}

func (f *fakeIssuer) IssueToken(_ context.Context, req IssueRequest) (string, error) {
	f.got = req
	return f.token, f.err
}

func TestGenerate(t *testing.T) {
	issuer := &fakeIssuer{token: "opaque"}
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tok, err := Generate(context.Background(), issuer, "P1", "A1",
		WithRedemptionLimit(10),
		WithOrderLimit("1000"),
		WithExpiration(exp),
		WithScheme("nvm:erc4337", "eip155:84532"),
	)
	require.NoError(t, err)
	assert.Equal(t, "opaque", tok)
	assert.Equal(t, IssueRequest{
		PlanID:          "P1",
		AgentID:         "A1",
		Scheme:          "nvm:erc4337",
		Network:         "eip155:84532",
		RedemptionLimit: 10,
		OrderLimit:      "1000",
		Expiration:      exp,
	}, issuer.got)
}

func TestGenerateErrors(t *testing.T) {
	_, err := Generate(context.Background(), nil, "P1", "A1")
	assert.ErrorIs(t, err, ErrNilIssuer)

	_, err = Generate(context.Background(), &fakeIssuer{token: "x"}, " ", "A1")
	assert.ErrorIs(t, err, ErrMissingPlanID)

	_, err = Generate(context.Background(), &fakeIssuer{}, "P1", "A1")
	assert.ErrorIs(t, err, ErrEmptyToken)

	boom := errors.New("boom")
	_, err = Generate(context.Background(), &fakeIssuer{err: boom}, "P1", "A1")
	assert.ErrorIs(t, err, boom)
}
