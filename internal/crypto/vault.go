package crypto

import (
	"crypto/sha256"
	"errors"
	"sync"

	"github.com/AlexZinkM/paygate/internal/model"
)

// Vault unseals the mnemonic and derives child wallets. The password is held in memory
// for the life of the process; derived seeds are memoized per mnemonic.
type Vault struct {
	password []byte
	prm      params

	mu         sync.Mutex
	seedDigest [32]byte
	seed       []byte
}

// NewVault copies password; the caller may zero its slice afterwards.
func NewVault(password []byte) (*Vault, error) {
	if len(password) == 0 {
		return nil, errors.New("password cannot be empty")
	}
	p := make([]byte, len(password))
	copy(p, password)
	return &Vault{password: p, prm: defaultParams}, nil
}

// Decrypt opens a sealed mnemonic.
func (v *Vault) Decrypt(sealed string) ([]byte, error) {
	return open(sealed, v.password, v.prm)
}

// Seal encrypts a mnemonic with the vault password.
func (v *Vault) Seal(mnemonic []byte) (string, error) {
	return seal(mnemonic, v.password, v.prm)
}

// DeriveWallet derives the child wallet at index. Deterministic per (mnemonic, index).
func (v *Vault) DeriveWallet(mnemonic []byte, crypto model.CryptoType, index uint32) (*model.DerivedWallet, error) {
	seed, err := v.seedFor(mnemonic)
	if err != nil {
		return nil, err
	}
	return Derive(seed, crypto, index)
}

func (v *Vault) seedFor(mnemonic []byte) ([]byte, error) {
	digest := sha256.Sum256(mnemonic)

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.seed != nil && digest == v.seedDigest {
		return v.seed, nil
	}
	seed, err := MnemonicToSeed(mnemonic, "")
	if err != nil {
		return nil, err
	}
	v.seed, v.seedDigest = seed, digest
	return seed, nil
}

// Wipe zeroes the password and cached seed.
func (v *Vault) Wipe() {
	v.mu.Lock()
	defer v.mu.Unlock()
	clear(v.password)
	clear(v.seed)
	v.seed = nil
}
