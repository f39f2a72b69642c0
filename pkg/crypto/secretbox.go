/**
 * @description
 * Symmetric encryption for vendor secrets at rest. Ciphertexts are base64(nonce || box)
 * sealed with NaCl secretbox under a 32-byte key.
 *
 * @dependencies
 * - golang.org/x/crypto/nacl/secretbox: authenticated encryption.
 */
package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrInvalidKey        = errors.New("encryption key must decode to 32 bytes")
	ErrMalformedCipher   = errors.New("ciphertext is malformed")
	ErrDecryptionFailure = errors.New("ciphertext could not be opened")
)

// Encryptor seals and opens values with a single static key.
type Encryptor struct {
	key [keySize]byte
}

// NewEncryptor accepts a key encoded as base64 (std or url), hex, or a raw 32-byte string.
func NewEncryptor(rawKey string) (*Encryptor, error) {
	decoded, err := decodeKey(strings.TrimSpace(rawKey))
	if err != nil {
		return nil, err
	}
	e := &Encryptor{}
	copy(e.key[:], decoded)
	return e, nil
}

func decodeKey(raw string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(raw); err == nil && len(b) == keySize {
		return b, nil
	}
	if b, err := base64.URLEncoding.DecodeString(raw); err == nil && len(b) == keySize {
		return b, nil
	}
	if b, err := hex.DecodeString(raw); err == nil && len(b) == keySize {
		return b, nil
	}
	if len(raw) == keySize {
		return []byte(raw), nil
	}
	return nil, ErrInvalidKey
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &e.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt.
func (e *Encryptor) Decrypt(ciphertext string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return nil, ErrMalformedCipher
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return nil, ErrMalformedCipher
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &e.key)
	if !ok {
		return nil, ErrDecryptionFailure
	}
	return opened, nil
}
