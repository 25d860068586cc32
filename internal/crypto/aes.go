// Package crypto provides AES-256-GCM encryption for credentials at rest.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
)

var prefix = []byte("aes-gcm:")

// Encrypt seals plaintext with AES-256-GCM.
// Returns "aes-gcm:" + base64(nonce + ciphertext + tag).
// If key is empty, returns plaintext unchanged.
func Encrypt(plaintext []byte, key string) ([]byte, error) {
	if key == "" || len(plaintext) == 0 {
		return plaintext, nil
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, 0, len(prefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	out = append(out, prefix...)
	out = base64.StdEncoding.AppendEncode(out, sealed)
	return out, nil
}

// Decrypt opens data produced by Encrypt.
// Values without the "aes-gcm:" prefix are returned as-is, so credentials
// stored before a key was configured keep working.
func Decrypt(data []byte, key string) ([]byte, error) {
	if key == "" || len(data) == 0 || !IsEncrypted(data) {
		return data, nil
	}

	raw, err := base64.StdEncoding.DecodeString(string(data[len(prefix):]))
	if err != nil {
		return nil, errors.New("decrypt failed: malformed ciphertext")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, errors.New("decrypt failed: ciphertext too short")
	}

	plaintext, err := gcm.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, errors.New("decrypt failed: invalid key or corrupted data")
	}
	return plaintext, nil
}

// IsEncrypted returns true if the value has the "aes-gcm:" encryption prefix.
func IsEncrypted(value []byte) bool {
	return bytes.HasPrefix(value, prefix)
}

func newGCM(key string) (cipher.AEAD, error) {
	keyBytes, err := DeriveKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(keyBytes)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey converts the input string to a 32-byte AES key.
// Accepts: hex-encoded (64 chars), base64-encoded (44 chars), or raw 32 bytes.
func DeriveKey(input string) ([]byte, error) {
	// Hex-encoded: 64 hex chars = 32 bytes
	if len(input) == 64 {
		if b, err := hex.DecodeString(input); err == nil {
			return b, nil
		}
	}

	// Base64-encoded: 44 chars = 32 bytes
	if len(input) == 44 && strings.HasSuffix(input, "=") {
		if b, err := base64.StdEncoding.DecodeString(input); err == nil && len(b) == 32 {
			return b, nil
		}
	}

	// Raw 32 bytes
	if len(input) == 32 {
		return []byte(input), nil
	}

	return nil, errors.New("encryption key must be 32 bytes (hex-encoded 64 chars, base64 44 chars, or raw 32 bytes)")
}
