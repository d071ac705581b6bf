package types

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common/math"
)

var amountPattern = regexp.MustCompile(`^[0-9]+$`)

// ParseAmount parses a non-negative decimal credit amount that fits in 256 bits.
func ParseAmount(s string) (*big.Int, error) {
	if !amountPattern.MatchString(s) {
		return nil, fmt.Errorf("amount %q is not a non-negative integer string", s)
	}
	v, ok := math.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("amount %q exceeds 256 bits", s)
	}
	return v, nil
}

// FormatAmount renders an amount the way it travels on the wire. nil is "0".
func FormatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ClampAmount bounds v to [0, limit]. A nil v yields nil.
func ClampAmount(v, limit *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return new(big.Int)
	}
	if limit != nil && v.Cmp(limit) > 0 {
		return new(big.Int).Set(limit)
	}
	return new(big.Int).Set(v)
}
