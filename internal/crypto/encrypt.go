package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"

	"github.com/AlexZinkM/paygate/internal/model"
)

const (
	// scrypt parameters for the sealed mnemonic
	// Security is prioritized over performance: N=2^18 costs ~256MB RAM and 0.5-2s,
	// paid once at startup when the mnemonic is unsealed.
	scryptN      = 1 << 18
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32
	saltLen      = 32
	nonceLen     = 12

	sealVersion = 1
)

// params lets tests run with a cheap work factor.
type params struct {
	n, r, p int
}

var defaultParams = params{n: scryptN, r: scryptR, p: scryptP}

// SealMnemonic encrypts the mnemonic with a key derived from password and returns the
// string stored in the address book.
// password must be []byte for security (caller should zero it after use)
func SealMnemonic(mnemonic, password []byte) (string, error) {
	return seal(mnemonic, password, defaultParams)
}

func seal(mnemonic, password []byte, prm params) (string, error) {
	if len(mnemonic) == 0 {
		return "", errors.New("mnemonic is empty")
	}
	if len(password) == 0 {
		return "", errors.New("password cannot be empty")
	}

	// Generate salt and nonce
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesGCM, err := newGCM(password, salt, prm)
	if err != nil {
		return "", err
	}

	// Encrypt
	ciphertext := aesGCM.Seal(nil, nonce, mnemonic, nil)

	sealed := model.SealedSecret{
		Version:    sealVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		CipherText: base64.StdEncoding.EncodeToString(ciphertext),
	}

	data, err := json.Marshal(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sealed mnemonic: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func newGCM(password, salt []byte, prm params) (cipher.AEAD, error) {
	// Derive key from password
	key, err := scrypt.Key(password, salt, prm.n, prm.r, prm.p, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	// Create AES cipher
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	// Create GCM
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
