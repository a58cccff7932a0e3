// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/rand"
	"fmt"
)

// =============================================================================
// KEYSTORE INTERFACE
// =============================================================================

// KeyStore holds the symmetric key that protects the user store.
// NewKeyStore returns the platform implementation:
//   - Unix: a raw key file with mode 0600 inside a 0700 directory
//   - Windows: the key wrapped with DPAPI for the current user
type KeyStore interface {
	Store(key []byte) error
	Retrieve() ([]byte, error)
	Exists() bool
	Path() string
}

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// LoadOrCreateKey returns the stored key, generating and storing a new one on
// first run. An existing key of the wrong size is an error, never replaced.
func LoadOrCreateKey(ks KeyStore) (key []byte, created bool, err error) {
	if ks.Exists() {
		key, err := ks.Retrieve()
		if err != nil {
			return nil, false, err
		}
		if len(key) != KeySize {
			ZeroBytes(key)
			return nil, false, fmt.Errorf("%w: %s holds %d bytes, want %d", ErrInvalidKey, ks.Path(), len(key), KeySize)
		}
		return key, false, nil
	}

	key = make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate key: %w", err)
	}
	if err := ks.Store(key); err != nil {
		ZeroBytes(key)
		return nil, false, err
	}
	return key, true, nil
}

// ZeroBytes overwrites key material in place.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
