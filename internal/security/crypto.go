// Package security encrypts configuration files that carry notification credentials.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltSize is the size of the salt in bytes.
	SaltSize = 16
	// NonceSize is the size of the GCM nonce in bytes.
	NonceSize = 12
	// KeySize is the AES-256 key size in bytes.
	KeySize = 32
	// Iterations is the number of PBKDF2 iterations.
	Iterations = 100000
	// EncryptedSuffix marks an encrypted config file.
	EncryptedSuffix = ".enc"
)

// header prefixes every sealed file so a plain YAML file is never mistaken for one.
var header = []byte("stockalert-sealed-v1\n")

var (
	// ErrNoPassphrase is returned when an encrypted file is read without a passphrase.
	ErrNoPassphrase = errors.New("passphrase required for encrypted file")
	// ErrNotSealed is returned when the content lacks the sealed header.
	ErrNotSealed = errors.New("content is not sealed")
)

func deriveKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, Iterations, KeySize, sha256.New)
}

func newGCM(passphrase, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM under a key derived from passphrase.
// The output is the header followed by base64(salt | nonce | ciphertext).
func Seal(plaintext, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrNoPassphrase
	}

	buf := make([]byte, SaltSize+NonceSize)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate salt and nonce: %w", err)
	}
	salt, nonce := buf[:SaltSize], buf[SaltSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	// The header is authenticated as additional data.
	sealed := gcm.Seal(buf, nonce, plaintext, header)

	out := make([]byte, len(header), len(header)+base64.StdEncoding.EncodedLen(len(sealed))+1)
	copy(out, header)
	out = base64.StdEncoding.AppendEncode(out, sealed)
	return append(out, '\n'), nil
}

// Open reverses Seal.
func Open(data, passphrase []byte) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, ErrNoPassphrase
	}
	if !bytes.HasPrefix(data, header) {
		return nil, ErrNotSealed
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data[len(header):])))
	if err != nil {
		return nil, fmt.Errorf("decode sealed content: %w", err)
	}
	if len(raw) < SaltSize+NonceSize {
		return nil, fmt.Errorf("sealed content too short: %d bytes", len(raw))
	}
	salt, nonce, ciphertext := raw[:SaltSize], raw[SaltSize:SaltSize+NonceSize], raw[SaltSize+NonceSize:]

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, fmt.Errorf("decrypt: wrong passphrase or corrupted file")
	}
	return plaintext, nil
}

// IsEncryptedFile reports whether path has the encrypted suffix.
func IsEncryptedFile(path string) bool {
	return strings.HasSuffix(path, EncryptedSuffix)
}

// ReadFile reads path, decrypting it when it has the encrypted suffix.
func ReadFile(path string, passphrase []byte) ([]byte, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if !IsEncryptedFile(path) {
		return content, nil
	}
	return Open(content, passphrase)
}

// WriteFile seals plaintext into path, adding the encrypted suffix when missing.
// It returns the path written. The file is created with mode 0600.
func WriteFile(path string, plaintext, passphrase []byte) (string, error) {
	if !IsEncryptedFile(path) {
		path += EncryptedSuffix
	}
	sealed, err := Seal(plaintext, passphrase)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, sealed, 0600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}
