// Package crypto encrypts the cloud session token for storage at rest.
// Uses AES-256-GCM with a key derived from a machine identifier.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrInvalidKey is returned when the key is invalid.
	ErrInvalidKey = errors.New("invalid key")
)

// Encrypt encrypts plaintext using AES-256-GCM.
// The key is derived from the input using SHA-256.
func Encrypt(plaintext, key []byte) (string, error) {
	// Derive a 32-byte key from the input key
	derivedKey := sha256.Sum256(key)

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	// Generate a random nonce
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	// Encrypt and authenticate
	ciphertext := gcm.Seal(nonce, nonce, plaintext, nil)

	// Encode as base64 for storage
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt decrypts ciphertext that was encrypted with Encrypt.
func Decrypt(ciphertext string, key []byte) ([]byte, error) {
	// Derive the same key
	derivedKey := sha256.Sum256(key)

	// Decode base64
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(derivedKey[:])
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	// Check minimum length
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	// Extract nonce and ciphertext
	nonce, cipherData := data[:nonceSize], data[nonceSize:]

	// Decrypt and verify
	plaintext, err := gcm.Open(nil, nonce, cipherData, nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	return plaintext, nil
}

// EncryptString encrypts a string to a base64-encoded string.
func EncryptString(plaintext, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	return Encrypt([]byte(plaintext), []byte(key))
}

// DecryptString decrypts a base64-encoded string to a string.
func DecryptString(ciphertext, key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	plaintext, err := Decrypt(ciphertext, []byte(key))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DeriveKey derives a consistent 32-byte key from a machine identifier.
func DeriveKey(machineID string) []byte {
	hash := sha256.Sum256([]byte("notecove:" + machineID))
	return hash[:]
}

// GetMachineKey returns the at-rest encryption key for this device.
// An explicit machine ID overrides detection.
func GetMachineKey(machineID string) []byte {
	if machineID == "" {
		machineID = machineIdentifier()
	}
	return DeriveKey(machineID)
}

// EncryptToken encrypts a session token for the sync account row.
func EncryptToken(token, machineID string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("token cannot be empty")
	}
	key := GetMachineKey(machineID)
	return EncryptString(token, string(key))
}

// DecryptToken decrypts a stored session token. Empty input means no
// token is stored.
func DecryptToken(stored, machineID string) (string, error) {
	if stored == "" {
		return "", nil
	}
	key := GetMachineKey(machineID)
	return DecryptString(stored, string(key))
}

// machineIdentifier returns a stable per-device identifier for key
// derivation: systemd's machine-id where present, hostname elsewhere.
func machineIdentifier() string {
	if data, err := os.ReadFile("/etc/machine-id"); err == nil {
		return "machine:" + strings.TrimSpace(string(data))
	}
	if data, err := os.ReadFile("/var/lib/dbus/machine-id"); err == nil {
		return "machine:" + strings.TrimSpace(string(data))
	}
	hostname, _ := os.Hostname()
	return "host:" + hostname
}
