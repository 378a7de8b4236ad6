// Package vault encrypts stored subscription passwords with a key derived
// from the user's master password.
//
// Ciphertexts are base64(salt ‖ nonce ‖ AES-256-GCM sealed data), with the
// key derived by PBKDF2-SHA256 from the master password and the salt.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltLength  = 16
	NonceLength = 12
	KeyLength   = 32

	// Iterations is the PBKDF2 work factor for encryption keys.
	Iterations = 100_000
	// HashIterations is the PBKDF2 work factor for master password hashes.
	HashIterations = 200_000
)

var (
	// ErrDecrypt is returned when a ciphertext cannot be opened, either
	// because the master password is wrong or the data was altered.
	ErrDecrypt = errors.New("wrong master password or corrupted data")
	// ErrEmptyMaster is returned when no master password is given.
	ErrEmptyMaster = errors.New("master password is required")
)

// Encrypt seals plaintext under master.
func Encrypt(plaintext, master string) (string, error) {
	if master == "" {
		return "", ErrEmptyMaster
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	gcm, err := newGCM(master, salt)
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, SaltLength+NonceLength+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(encoded, master string) (string, error) {
	if master == "" {
		return "", ErrEmptyMaster
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(data) < SaltLength+NonceLength {
		return "", ErrDecrypt
	}

	salt := data[:SaltLength]
	nonce := data[SaltLength : SaltLength+NonceLength]
	gcm, err := newGCM(master, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, data[SaltLength+NonceLength:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plaintext), nil
}

func newGCM(master string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(master), salt, Iterations, KeyLength, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// HashMaster returns a base64 hash of master and the base64 salt it was
// computed with, for later checks with VerifyMaster.
func HashMaster(master string) (hash, salt string, err error) {
	if master == "" {
		return "", "", ErrEmptyMaster
	}
	raw := make([]byte, SaltLength)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("failed to generate salt: %w", err)
	}
	sum := pbkdf2.Key([]byte(master), raw, HashIterations, KeyLength, sha256.New)
	return base64.StdEncoding.EncodeToString(sum), base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyMaster reports whether master matches hash and salt from HashMaster.
func VerifyMaster(master, hash, salt string) bool {
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(hash)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(master), raw, HashIterations, KeyLength, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
