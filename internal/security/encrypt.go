// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// NonceSize is the AES-GCM nonce length (96 bits).
const NonceSize = 12

// tokenVersion prefixes every token and is bound into the GCM tag as
// additional data.
const tokenVersion byte = 0x01

// tokenOverhead is version + nonce + GCM tag.
const tokenOverhead = 1 + NonceSize + 16

// =============================================================================
// ENCRYPTION SERVICE
// =============================================================================

// Cipher is the authenticated encryption capability used by UserStore.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(token []byte) ([]byte, error)
	Enabled() bool
}

// EncryptionService seals data with AES-256-GCM under a locally stored key.
//
// Token layout: version(1) || nonce(12) || ciphertext || tag(16). Every byte
// is authenticated, so any modification makes Decrypt fail.
//
// A disabled service passes data through unchanged in both directions.
type EncryptionService struct {
	aead    cipher.AEAD
	enabled bool
}

// NewEncryptionService builds an enabled service from a 256-bit key.
func NewEncryptionService(key []byte) (*EncryptionService, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidKey, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &EncryptionService{aead: aead, enabled: true}, nil
}

// NewPassthroughService returns a disabled service.
func NewPassthroughService() *EncryptionService {
	return &EncryptionService{}
}

// OpenEncryptionService loads (or creates on first run) the key from ks and
// returns an enabled service.
func OpenEncryptionService(ks KeyStore) (svc *EncryptionService, created bool, err error) {
	key, created, err := LoadOrCreateKey(ks)
	if err != nil {
		return nil, false, err
	}
	defer ZeroBytes(key)

	svc, err = NewEncryptionService(key)
	if err != nil {
		return nil, false, err
	}
	return svc, created, nil
}

// Enabled reports whether the service encrypts.
func (e *EncryptionService) Enabled() bool {
	return e.enabled
}

// Encrypt seals plaintext with a fresh random nonce.
func (e *EncryptionService) Encrypt(plaintext []byte) ([]byte, error) {
	if !e.enabled {
		return append([]byte(nil), plaintext...), nil
	}

	token := make([]byte, 1+NonceSize, tokenOverhead+len(plaintext))
	token[0] = tokenVersion
	nonce := token[1 : 1+NonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(token, nonce, plaintext, token[:1]), nil
}

// Decrypt opens a token produced by Encrypt. Tampered, truncated, or foreign
// tokens return ErrDecryptionFailed.
func (e *EncryptionService) Decrypt(token []byte) ([]byte, error) {
	if !e.enabled {
		return append([]byte(nil), token...), nil
	}

	if len(token) < tokenOverhead || token[0] != tokenVersion {
		return nil, ErrDecryptionFailed
	}
	nonce := token[1 : 1+NonceSize]
	plaintext, err := e.aead.Open(nil, nonce, token[1+NonceSize:], token[:1])
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
