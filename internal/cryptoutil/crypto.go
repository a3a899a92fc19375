// Package cryptoutil implements the encryption and signing primitives
// spec.md calls for: AES-256-GCM at rest for SMTP config passwords and
// HMAC-SHA256 for outbound webhook signatures. Adapted from
// defmans7-notifuse's pkg/crypto/crypto.go.
package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
)

// keyFromPassphrase derives a 32-byte AES-256 key from an arbitrary-length
// operator-supplied passphrase, same approach as notifuse's Sha256Hash step
// ahead of aes.NewCipher.
func keyFromPassphrase(passphrase string) [32]byte {
	return sha256.Sum256([]byte(passphrase))
}

// EncryptString encrypts plaintext with AES-256-GCM under a key derived
// from passphrase, returning a hex-encoded nonce‖ciphertext string. This is
// how SMTP Config passwords are stored at rest (spec.md §3): the password
// ciphertext never leaves the process in plaintext except inside the
// Worker/SMTP Engine that calls Decrypt.
func EncryptString(plaintext, passphrase string) (string, error) {
	key := keyFromPassphrase(passphrase)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cryptoutil: nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. Called only from the Worker/SMTP
// Engine, per spec.md §3's invariant that plaintext never otherwise exists.
func DecryptString(ciphertextHex, passphrase string) (string, error) {
	data, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: decode hex: %w", err)
	}
	key := keyFromPassphrase(passphrase)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: new gcm: %w", err)
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("cryptoutil: ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// ComputeHMAC256 returns the hex-encoded HMAC-SHA256 of toSign under secret.
func ComputeHMAC256(toSign []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(toSign)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyHMAC256 recomputes the HMAC and compares it to provided in constant
// time.
func VerifyHMAC256(toSign []byte, secret, provided string) bool {
	expected := ComputeHMAC256(toSign, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// HashAPIKey hashes a raw API key for storage, same cost as notifuse's
// password hashing.
func HashAPIKey(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), 14)
	if err != nil {
		return "", fmt.Errorf("cryptoutil: hash api key: %w", err)
	}
	return string(hash), nil
}

// CheckAPIKey reports whether raw matches the stored bcrypt hash.
func CheckAPIKey(hashed, raw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(raw)) == nil
}
