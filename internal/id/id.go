package id

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	clierr "github.com/ncastellan/flare-portfolio/internal/errors"
	"github.com/shopspring/decimal"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// NormalizeAddress validates an EVM address and returns its canonical
// lower-case form. Snapshots and store files are always keyed by this form.
func NormalizeAddress(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if !addressPattern.MatchString(trimmed) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid address %q: expected 0x-prefixed 40 hex chars", input))
	}
	return strings.ToLower(trimmed), nil
}

// FromBaseUnits converts an integer on-chain amount into a decimal quantity
// using the token's decimals, e.g. 1500000000000000000 wei -> 1.5.
func FromBaseUnits(raw *big.Int, decimals int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
