// Package crypto provides optional end-to-end content protection for chat
// payloads. Keys are per-user 32-byte AES keys exchanged out of band and
// supplied hex-encoded; ciphertexts are AES-256-GCM with the nonce prepended,
// base64 on the wire.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	ErrBadKey        = errors.New("crypto: key must be 32 bytes hex-encoded")
	ErrBadCiphertext = errors.New("crypto: ciphertext is malformed or forged")
)

// ParseKeyHex decodes a hex-encoded 256-bit key.
func ParseKeyHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil || len(key) != 32 {
		return nil, ErrBadKey
	}
	return key, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext).
func Seal(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a value produced by Seal. Any tampering, truncation or key
// mismatch yields ErrBadCiphertext.
func Open(key []byte, encoded string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	ns := gcm.NonceSize()
	if len(raw) < ns {
		return nil, ErrBadCiphertext
	}
	plaintext, err := gcm.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return nil, ErrBadCiphertext
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
