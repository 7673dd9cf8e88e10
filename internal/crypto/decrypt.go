package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/AlexZinkM/paygate/internal/model"
)

// ErrInvalidPassword is returned when the sealed mnemonic cannot be opened.
var ErrInvalidPassword = errors.New("invalid password")

// OpenMnemonic decrypts a value produced by SealMnemonic.
// password must be []byte for security (caller should zero it after use)
func OpenMnemonic(sealed string, password []byte) ([]byte, error) {
	return open(sealed, password, defaultParams)
}

func open(sealed string, password []byte, prm params) ([]byte, error) {
	sealed = strings.TrimSpace(sealed)
	if sealed == "" {
		return nil, errors.New("mnemonic is not configured")
	}

	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sealed mnemonic: %w", err)
	}

	var secret model.SealedSecret
	if err := json.Unmarshal(raw, &secret); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sealed mnemonic: %w", err)
	}
	if secret.Version != sealVersion {
		return nil, fmt.Errorf("unsupported sealed mnemonic version %d", secret.Version)
	}

	// Decode salt and nonce
	salt, err := base64.StdEncoding.DecodeString(secret.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}

	nonce, err := base64.StdEncoding.DecodeString(secret.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(secret.CipherText)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	aesGCM, err := newGCM(password, salt, prm)
	if err != nil {
		return nil, err
	}

	// Decrypt
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassword
	}
	return plaintext, nil
}
