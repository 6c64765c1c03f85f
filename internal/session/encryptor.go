// Offcourse - Offline-First Learning Client
// Copyright 2026 Offcourse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/offcourse/offcourse

package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrDecryptionFailed indicates the stored token could not be decrypted.
	ErrDecryptionFailed = errors.New("session: decryption failed")

	// ErrInvalidCiphertext indicates the stored ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("session: invalid ciphertext")
)

// tokenEncryptor encrypts the session token before it touches disk, using
// AES-256-GCM with an HKDF-derived key. A nil encryptor passes tokens
// through unchanged (encryption disabled, no master key configured).
type tokenEncryptor struct {
	aead cipher.AEAD
}

// newTokenEncryptor derives the at-rest key from the base64 master key.
// An empty master key disables encryption.
func newTokenEncryptor(masterKey string) (*tokenEncryptor, error) {
	if masterKey == "" {
		return nil, nil
	}

	secret, err := base64.StdEncoding.DecodeString(masterKey)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(secret) < 16 {
		return nil, errors.New("session: master key must be at least 16 bytes")
	}

	reader := hkdf.New(sha256.New, secret, nil, []byte("offcourse-session-token"))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &tokenEncryptor{aead: aead}, nil
}

// encrypt returns base64(nonce || ciphertext). Empty input passes through.
func (e *tokenEncryptor) encrypt(plaintext string) (string, error) {
	if e == nil || plaintext == "" {
		return plaintext, nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

func (e *tokenEncryptor) decrypt(ciphertext string) (string, error) {
	if e == nil || ciphertext == "" {
		return ciphertext, nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64", ErrInvalidCiphertext)
	}
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize+e.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidCiphertext)
	}
	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}
	return string(plaintext), nil
}
