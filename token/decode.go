package token

import (
	"encoding/json"
	"strings"

	"github.com/nevermined-io/payments-go/types"
)

// Claims is what Decode can read out of a token.
type Claims struct {
	WalletAddress string
	PlanID        string
	AgentID       string
	Scheme        string
	Network       string
}

// document mirrors the JSON the backend base64-encodes into tokens.
type document struct {
	Accepted struct {
		Scheme  string `json:"scheme"`
		Network string `json:"network"`
		PlanID  string `json:"planId"`
		Extra   struct {
			AgentID string `json:"agentId"`
		} `json:"extra"`
	} `json:"accepted"`
	Payload struct {
		Authorization struct {
			From string `json:"from"`
		} `json:"authorization"`
	} `json:"payload"`
	SubscriberAddress string `json:"subscriberAddress"`
}

// Decode reads the claims of an access token. It returns nil for anything it
// cannot parse and never panics. JWT-shaped tokens are decoded from their
// payload segment.
func Decode(accessToken string) *Claims {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil
	}

	candidates := []string{accessToken}
	if parts := strings.Split(accessToken, "."); len(parts) == 3 {
		candidates = append(candidates, parts[1])
	}

	for _, candidate := range candidates {
		raw, err := types.DecodeBase64(candidate)
		if err != nil {
			continue
		}
		var doc document
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		claims := &Claims{
			WalletAddress: doc.Payload.Authorization.From,
			PlanID:        doc.Accepted.PlanID,
			AgentID:       doc.Accepted.Extra.AgentID,
			Scheme:        doc.Accepted.Scheme,
			Network:       doc.Accepted.Network,
		}
		if claims.WalletAddress == "" {
			claims.WalletAddress = doc.SubscriberAddress
		}
		if *claims == (Claims{}) {
			continue
		}
		return claims
	}
	return nil
}
