// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher is an adaptive, salted one-way password hash.
//
// Hash returns the encoded digest and the salt used to produce it. The digest
// is self-describing, so Verify needs nothing else. Verify never errors: a
// malformed digest simply does not match.
type PasswordHasher interface {
	Hash(password string) (digest, salt string, err error)
	Verify(password, digest string) bool
}

// Hash algorithm names accepted by NewHasher and the configuration file.
const (
	HashBcrypt   = "bcrypt"
	HashArgon2id = "argon2id"
)

// NewHasher returns the hasher for a configured algorithm name.
func NewHasher(algorithm string, bcryptCost int) (PasswordHasher, error) {
	switch algorithm {
	case "", HashBcrypt:
		return NewBcryptHasher(bcryptCost), nil
	case HashArgon2id:
		return NewArgon2Hasher(DefaultArgon2Params()), nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}

// =============================================================================
// BCRYPT
// =============================================================================

// bcryptMaxPasswordBytes is the longest input bcrypt reads; later bytes are
// ignored by the algorithm.
const bcryptMaxPasswordBytes = 72

// BcryptHasher hashes with bcrypt. bcrypt generates its own 16-byte salt and
// embeds it in the digest; Hash reports that embedded salt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher clamps cost into bcrypt's accepted range.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost returns the work factor.
func (h *BcryptHasher) Cost() int { return h.cost }

// Hash rejects passwords longer than 72 bytes with a *PolicyViolation.
func (h *BcryptHasher) Hash(password string) (string, string, error) {
	if len(password) > bcryptMaxPasswordBytes {
		return "", "", &PolicyViolation{
			Rule:    RuleMaxLength,
			Message: fmt.Sprintf("password must be at most %d bytes long", bcryptMaxPasswordBytes),
		}
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", "", err
	}
	return string(digest), bcryptSalt(string(digest)), nil
}

// Verify never matches a password Hash would have refused.
func (h *BcryptHasher) Verify(password, digest string) bool {
	if digest == "" || len(password) > bcryptMaxPasswordBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

// bcryptSalt extracts the 22-character salt from "$2a$12$<salt><hash>".
func bcryptSalt(digest string) string {
	parts := strings.Split(digest, "$")
	if len(parts) != 4 || len(parts[3]) < 22 {
		return ""
	}
	return parts[3][:22]
}

// =============================================================================
// ARGON2ID
// =============================================================================

// Argon2Params tunes argon2id.
type Argon2Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params follows the RFC 9106 second recommended option.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2Hasher hashes with argon2id and encodes digests in PHC string format.
type Argon2Hasher struct {
	params Argon2Params
}

func NewArgon2Hasher(params Argon2Params) *Argon2Hasher {
	return &Argon2Hasher{params: params}
}

func (h *Argon2Hasher) Hash(password string) (string, string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.Memory, h.params.Parallelism, h.params.KeyLength)
	saltEncoded := base64.RawStdEncoding.EncodeToString(salt)

	digest := fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		HashArgon2id, argon2.Version,
		h.params.Memory, h.params.Time, h.params.Parallelism,
		saltEncoded, base64.RawStdEncoding.EncodeToString(key))
	return digest, saltEncoded, nil
}

func (h *Argon2Hasher) Verify(password, digest string) bool {
	p, salt, key, err := parseArgon2(digest)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1
}

func parseArgon2(digest string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != HashArgon2id {
		return p, nil, nil, errors.New("invalid argon2id digest")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return p, nil, nil, errors.New("unsupported argon2 version")
	}

	var parallelism uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("invalid argon2 parameters: %w", err)
	}
	if p.Memory == 0 || p.Time == 0 || parallelism == 0 || parallelism > 255 {
		return p, nil, nil, errors.New("invalid argon2 parameters")
	}
	p.Parallelism = uint8(parallelism)

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, errors.New("invalid argon2 salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errors.New("invalid argon2 hash")
	}
	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
