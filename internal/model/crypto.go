package model

import (
	"fmt"
	"strings"
)

// CryptoType identifies the chain an address or transfer belongs to.
type CryptoType string

const (
	CryptoETH CryptoType = "ETH"
	CryptoSOL CryptoType = "SOL"
)

// ParseCryptoType accepts case-insensitive input and rejects unknown chains.
func ParseCryptoType(s string) (CryptoType, error) {
	ct := CryptoType(strings.ToUpper(strings.TrimSpace(s)))
	if !ct.Valid() {
		return "", fmt.Errorf("cryptoType must be ETH or SOL")
	}
	return ct, nil
}

// Valid reports whether the crypto type is supported.
func (c CryptoType) Valid() bool {
	return c == CryptoETH || c == CryptoSOL
}

// Decimals returns the number of base-unit decimals of the chain's native coin.
func (c CryptoType) Decimals() int {
	if c == CryptoSOL {
		return 9
	}
	return 18
}
