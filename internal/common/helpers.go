package common

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	ETHDecimals = 18 // ETH has 18 decimals (wei)
	SOLDecimals = 9  // SOL has 9 decimals (lamports)
)

// WeiToETH converts wei to an ETH string without float precision loss
func WeiToETH(wei *big.Int) string {
	return formatWithDecimals(wei, ETHDecimals)
}

// ETHToWei converts an ETH string to wei without float precision loss
func ETHToWei(eth string) (*big.Int, error) {
	return parseWithDecimals(eth, ETHDecimals)
}

// LamportsToSOL converts lamports to a SOL string without float precision loss
func LamportsToSOL(lamports *big.Int) string {
	return formatWithDecimals(lamports, SOLDecimals)
}

// SOLToLamports converts a SOL string to lamports without float precision loss
func SOLToLamports(sol string) (*big.Int, error) {
	return parseWithDecimals(sol, SOLDecimals)
}

// FormatUnits renders base units with the given number of decimals.
func FormatUnits(value *big.Int, decimals int) string {
	return formatWithDecimals(value, decimals)
}

// ParseUnits parses a decimal string into base units, truncating extra precision.
func ParseUnits(s string, decimals int) (*big.Int, error) {
	return parseWithDecimals(s, decimals)
}

// ToDecimal converts base units into a decimal amount.
func ToDecimal(value *big.Int, decimals int) decimal.Decimal {
	if value == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(value, int32(-decimals))
}

// FromDecimal converts a decimal amount into base units, truncating extra precision.
func FromDecimal(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// formatWithDecimals converts integer to decimal string by inserting decimal point
// Example: formatWithDecimals(24981836, 9) = "0.024981836"
func formatWithDecimals(value *big.Int, decimals int) string {
	if value == nil {
		value = new(big.Int)
	}
	neg := value.Sign() < 0
	s := new(big.Int).Abs(value).String()

	// Pad with leading zeros if needed
	for len(s) <= decimals {
		s = "0" + s
	}

	// Insert decimal point
	pos := len(s) - decimals
	out := s[:pos] + "." + s[pos:]
	if neg {
		out = "-" + out
	}
	return out
}

// parseWithDecimals converts decimal string to integer by removing decimal point
// Example: parseWithDecimals("0.024981836", 9) = 24981836
func parseWithDecimals(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty string")
	}
	if strings.HasPrefix(s, "-") || strings.HasPrefix(s, "+") {
		return nil, fmt.Errorf("signed amounts are not allowed")
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid decimal format")
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if whole == "" {
		whole = "0"
	}

	// Pad or truncate fractional part to exact decimals
	if len(frac) < decimals {
		frac += strings.Repeat("0", decimals-len(frac))
	} else if len(frac) > decimals {
		frac = frac[:decimals]
	}

	n, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal format")
	}
	return n, nil
}

// CompareAmounts compares two decimal string amounts without float precision loss.
// Returns: -1 if a < b, 0 if a == b, 1 if a > b, and error if parsing fails
func CompareAmounts(a, b string) (int, error) {
	aVal, err := decimal.NewFromString(strings.TrimSpace(a))
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount '%s': %w", a, err)
	}

	bVal, err := decimal.NewFromString(strings.TrimSpace(b))
	if err != nil {
		return 0, fmt.Errorf("failed to parse amount '%s': %w", b, err)
	}

	return aVal.Cmp(bVal), nil
}
