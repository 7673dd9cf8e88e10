package crypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlexZinkM/paygate/internal/model"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

var cheap = params{n: 1 << 10, r: 8, p: 1}

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault([]byte("correct horse"))
	require.NoError(t, err)
	v.prm = cheap
	return v
}

func TestSealOpenRoundTrip(t *testing.T) {
	v := testVault(t)
	sealed, err := v.Seal([]byte(testMnemonic))
	require.NoError(t, err)
	assert.NotContains(t, sealed, "abandon")

	plain, err := v.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, testMnemonic, string(plain))

	_, err = open(sealed, []byte("wrong"), cheap)
	assert.ErrorIs(t, err, ErrInvalidPassword)
}

func TestOpenRejectsGarbage(t *testing.T) {
	_, err := open("", []byte("pw"), cheap)
	assert.ErrorContains(t, err, "not configured")

	_, err = open("not-base64!", []byte("pw"), cheap)
	assert.Error(t, err)
}

func TestMnemonicToSeedValidatesWordCount(t *testing.T) {
	_, err := MnemonicToSeed([]byte("abandon abandon"), "")
	assert.Error(t, err)

	seed, err := MnemonicToSeed([]byte("  "+testMnemonic+"\n"), "")
	require.NoError(t, err)
	assert.Len(t, seed, 64)
}

func TestDeriveEthereumKnownVector(t *testing.T) {
	seed, err := MnemonicToSeed([]byte(testMnemonic), "")
	require.NoError(t, err)

	priv, addr, err := DeriveEthereum(seed, 0)
	require.NoError(t, err)
	assert.Len(t, priv, 32)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", addr)

	_, next, err := DeriveEthereum(seed, 1)
	require.NoError(t, err)
	assert.NotEqual(t, addr, next)
}

func TestDeriveSolanaIsDeterministic(t *testing.T) {
	seed, err := MnemonicToSeed([]byte(testMnemonic), "")
	require.NoError(t, err)

	priv, addr, err := DeriveSolana(seed, 0)
	require.NoError(t, err)
	require.Len(t, priv, ed25519.PrivateKeySize)

	again, addrAgain, err := DeriveSolana(seed, 0)
	require.NoError(t, err)
	assert.Equal(t, priv, again)
	assert.Equal(t, addr, addrAgain)

	_, other, err := DeriveSolana(seed, 1)
	require.NoError(t, err)
	assert.NotEqual(t, addr, other)

	pub := ed25519.PrivateKey(priv).Public().(ed25519.PublicKey)
	assert.Equal(t, []byte(pub), priv[32:])
}

func TestVaultDeriveWallet(t *testing.T) {
	v := testVault(t)
	w, err := v.DeriveWallet([]byte(testMnemonic), model.CryptoETH, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), w.Index)
	assert.Equal(t, model.CryptoETH, w.CryptoType)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", w.Address)

	_, err = v.DeriveWallet([]byte(testMnemonic), model.CryptoType("BTC"), 0)
	assert.Error(t, err)
}
