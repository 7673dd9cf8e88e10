package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/pbkdf2"

	"github.com/AlexZinkM/paygate/internal/model"
)

const (
	purpose     = 44
	coinTypeETH = 60
	coinTypeSOL = 501
)

// MnemonicToSeed derives the 64-byte BIP-39 seed.
func MnemonicToSeed(mnemonic []byte, passphrase string) ([]byte, error) {
	words := strings.Fields(string(mnemonic))
	switch len(words) {
	case 12, 15, 18, 21, 24:
	default:
		return nil, fmt.Errorf("mnemonic must have 12, 15, 18, 21 or 24 words, got %d", len(words))
	}
	normalized := []byte(strings.Join(words, " "))
	defer clear(normalized)
	return pbkdf2.Key(normalized, []byte("mnemonic"+passphrase), 2048, 64, sha512.New), nil
}

// DeriveEthereum derives m/44'/60'/0'/0/index and returns the private key scalar and
// the checksummed address.
func DeriveEthereum(seed []byte, index uint32) ([]byte, string, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create master key: %w", err)
	}
	path := []uint32{
		hdkeychain.HardenedKeyStart + purpose,
		hdkeychain.HardenedKeyStart + coinTypeETH,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
	for _, i := range path {
		key, err = key.Child(i)
		if err != nil {
			return nil, "", fmt.Errorf("failed to derive child %d: %w", i, err)
		}
	}

	ecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get private key: %w", err)
	}
	scalar := ecPriv.Serialize()

	priv, err := ethcrypto.ToECDSA(scalar)
	if err != nil {
		return nil, "", fmt.Errorf("failed to convert private key: %w", err)
	}
	return scalar, ethcrypto.PubkeyToAddress(priv.PublicKey).Hex(), nil
}

// DeriveSolana derives m/44'/501'/index'/0' with SLIP-0010 ed25519 and returns the
// 64-byte private key and the base58 address.
func DeriveSolana(seed []byte, index uint32) ([]byte, string, error) {
	if len(seed) == 0 {
		return nil, "", errors.New("seed is empty")
	}
	k, c := slip10Master(seed)
	for _, i := range []uint32{purpose, coinTypeSOL, index, 0} {
		k, c = slip10Child(k, c, i)
	}
	priv := solana.PrivateKey(ed25519.NewKeyFromSeed(k))
	return []byte(priv), priv.PublicKey().String(), nil
}

// slip10Master returns the ed25519 master key and chain code.
func slip10Master(seed []byte) ([]byte, []byte) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// slip10Child derives a hardened child; ed25519 only supports hardened derivation.
func slip10Child(key, chainCode []byte, index uint32) ([]byte, []byte) {
	data := make([]byte, 0, 37)
	data = append(data, 0)
	data = append(data, key...)
	data = binary.BigEndian.AppendUint32(data, index|hdkeychain.HardenedKeyStart)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// Derive dispatches to the chain-specific derivation.
func Derive(seed []byte, crypto model.CryptoType, index uint32) (*model.DerivedWallet, error) {
	var (
		priv []byte
		addr string
		err  error
	)
	switch crypto {
	case model.CryptoETH:
		priv, addr, err = DeriveEthereum(seed, index)
	case model.CryptoSOL:
		priv, addr, err = DeriveSolana(seed, index)
	default:
		return nil, fmt.Errorf("unsupported crypto type %q", crypto)
	}
	if err != nil {
		return nil, err
	}
	return &model.DerivedWallet{Address: addr, Index: index, CryptoType: crypto, PrivateKey: priv}, nil
}
