// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows
// +build !windows

package security

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/morganforge/kontor/internal/util"
)

// UnixKeyStore keeps the key in a file protected by filesystem permissions.
// Both the file and its directory must be owner-only; anything looser is
// refused on read and write.
type UnixKeyStore struct {
	path string
}

// NewKeyStore returns a file-based key store at path.
func NewKeyStore(path string) KeyStore {
	return &UnixKeyStore{path: path}
}

func (u *UnixKeyStore) Path() string { return u.path }

func (u *UnixKeyStore) Store(key []byte) error {
	dir := filepath.Dir(u.path)
	if err := util.EnsurePrivateDir(dir); err != nil {
		return fmt.Errorf("key directory: %w", err)
	}
	if err := util.CheckPrivateMode(dir); err != nil {
		return fmt.Errorf("key directory: %w (fix with: chmod 700 %s)", err, dir)
	}

	if err := util.AtomicWriteFile(u.path, key, util.PrivateFileMode); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	if err := util.CheckPrivateMode(u.path); err != nil {
		_ = os.Remove(u.path)
		return fmt.Errorf("key file was created with insecure permissions and has been removed: %w", err)
	}
	return nil
}

func (u *UnixKeyStore) Retrieve() ([]byte, error) {
	dir := filepath.Dir(u.path)
	if err := util.CheckPrivateMode(dir); err != nil {
		return nil, fmt.Errorf("key directory: %w (fix with: chmod 700 %s)", err, dir)
	}
	if err := util.CheckPrivateMode(u.path); err != nil {
		return nil, fmt.Errorf("key file: %w (fix with: chmod 600 %s)", err, u.path)
	}

	key, err := os.ReadFile(u.path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return key, nil
}

func (u *UnixKeyStore) Exists() bool {
	_, err := os.Stat(u.path)
	return err == nil
}
