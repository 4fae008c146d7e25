package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ricardoborges/nautilus/internal/errors"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// Cipher seals and opens secrets with AES-256-GCM under a fixed key.
type Cipher struct {
	key []byte
}

// NewCipher creates a Cipher from raw key material. Keys shorter than
// KeySize are zero-padded, longer keys are truncated.
func NewCipher(key []byte) *Cipher {
	k := make([]byte, KeySize)
	copy(k, key)
	return &Cipher{key: k}
}

// Seal encrypts plaintext and returns hex(nonce || ciphertext).
func (c *Cipher) Seal(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrVault, "failed to create cipher")
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrVault, "failed to create GCM")
	}

	nonce := make([]byte, aesGCM.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrVault, "failed to generate nonce")
	}

	sealed := aesGCM.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal.
func (c *Cipher) Open(sealedHex string) (string, error) {
	sealed, err := hex.DecodeString(sealedHex)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrVault, "failed to decode sealed value")
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrVault, "failed to create cipher")
	}

	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrVault, "failed to create GCM")
	}

	nonceSize := aesGCM.NonceSize()
	if len(sealed) < nonceSize {
		return "", errors.New(errors.ErrVault, fmt.Sprintf("sealed value too short: %d bytes", len(sealed)))
	}

	plaintext, err := aesGCM.Open(nil, sealed[:nonceSize], sealed[nonceSize:], nil)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrVault, "failed to decrypt secret")
	}

	return string(plaintext), nil
}
