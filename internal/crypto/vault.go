package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

const ciphertextPrefix = "vault:v1:"

var (
	ErrInvalidKeySize      = errors.New("invalid key size: must be 32 bytes for AES-256")
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
	ErrDecryption          = errors.New("decryption failed: invalid key or tampered ciphertext")
)

// Vault seals and opens camera secrets with AES-256-GCM.
// The ciphertext string is self-contained: prefix + base64(nonce || ciphertext || tag).
type Vault struct {
	aead cipher.AEAD
}

func NewVault(key []byte) (*Vault, error) {
	if len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext with a fresh random nonce.
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Seal appends the tag to the ciphertext; we prepend the nonce.
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return ciphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a sealed string. A ciphertext that does not parse returns
// ErrMalformedCiphertext; one that fails authentication returns ErrDecryption.
// Both are distinct from "no secret stored", which is the caller's concern.
func (v *Vault) Open(ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, ciphertextPrefix) {
		return "", ErrMalformedCiphertext
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, ciphertextPrefix))
	if err != nil {
		return "", ErrMalformedCiphertext
	}
	if len(raw) < v.aead.NonceSize()+v.aead.Overhead() {
		return "", ErrMalformedCiphertext
	}

	nonce := raw[:v.aead.NonceSize()]
	sealed := raw[v.aead.NonceSize():]

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Generic error to the caller; never reveal which check failed.
		return "", ErrDecryption
	}
	return string(plaintext), nil
}
