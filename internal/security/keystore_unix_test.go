// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnixKeyStore_OwnerOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "encryption.key")
	ks := NewKeyStore(path)
	require.False(t, ks.Exists())

	key, created, err := LoadOrCreateKey(ks)
	require.NoError(t, err)
	require.True(t, created)
	require.Len(t, key, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0700), dirInfo.Mode().Perm())

	again, created, err := LoadOrCreateKey(ks)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, key, again)
}

func TestUnixKeyStore_RefusesLooseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "encryption.key")
	ks := NewKeyStore(path)
	_, _, err := LoadOrCreateKey(ks)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(path, 0644))
	_, _, err = LoadOrCreateKey(ks)
	require.ErrorContains(t, err, "chmod 600")
}

func TestUnixKeyStore_RefusesLooseDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	path := filepath.Join(dir, "encryption.key")
	ks := NewKeyStore(path)
	_, _, err := LoadOrCreateKey(ks)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(dir, 0755))
	_, err = ks.Retrieve()
	require.ErrorContains(t, err, "chmod 700")
}

func TestLoadOrCreateKey_WrongSizeNotReplaced(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "encryption.key")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))

	_, _, err := LoadOrCreateKey(NewKeyStore(path))
	require.ErrorIs(t, err, ErrInvalidKey)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, []byte("short"), data)
}
