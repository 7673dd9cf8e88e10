package common

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatWithDecimals(t *testing.T) {
	assert.Equal(t, "0.024981836", LamportsToSOL(big.NewInt(24981836)))
	assert.Equal(t, "1.000000000000000000", WeiToETH(big.NewInt(1_000_000_000_000_000_000)))
	assert.Equal(t, "0.000000000", LamportsToSOL(nil))
}

func TestParseWithDecimals(t *testing.T) {
	wei, err := ETHToWei("0.01")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", wei.String())

	lamports, err := SOLToLamports("2")
	require.NoError(t, err)
	assert.Equal(t, "2000000000", lamports.String())

	truncated, err := ParseUnits("1.1234567", 6)
	require.NoError(t, err)
	assert.Equal(t, "1123456", truncated.String())

	for _, bad := range []string{"", "-1", "1.2.3", "abc"} {
		_, err := ETHToWei(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecimalConversions(t *testing.T) {
	d := ToDecimal(big.NewInt(9_999_900_000_000_000), ETHDecimals)
	assert.True(t, d.Equal(decimal.RequireFromString("0.0099999")))
	assert.Equal(t, "9999900000000000", FromDecimal(d, ETHDecimals).String())
}

func TestCompareAmounts(t *testing.T) {
	cmp, err := CompareAmounts("0.010", "0.01")
	require.NoError(t, err)
	assert.Equal(t, 0, cmp)

	cmp, err = CompareAmounts("0.02", "0.01")
	require.NoError(t, err)
	assert.Equal(t, 1, cmp)

	_, err = CompareAmounts("x", "1")
	assert.Error(t, err)
}
