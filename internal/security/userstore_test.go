// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newStoreUser(username, email string) *User {
	return NewUser(username, email, RoleUser, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestUserStore_MissingFileIsFirstRun(t *testing.T) {
	s := NewUserStore(filepath.Join(t.TempDir(), "users.dat"), newTestEncryption(t))
	require.NoError(t, s.Load())
	require.Equal(t, 0, s.Len())
}

func TestUserStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "users.dat")
	enc := newTestEncryption(t)

	s := NewUserStore(path, enc)
	alice := newStoreUser("alice", "alice@example.com")
	require.NoError(t, alice.SetPassword(fastHasher(), "Secret123!", alice.CreatedAt))
	alice.Grant(PermArticlesDelete)
	require.NoError(t, s.Insert(alice))
	require.NoError(t, s.Insert(newStoreUser("bob", "bob@example.com")))
	require.NoError(t, s.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(raw), "alice", "store must be encrypted on disk")

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := NewUserStore(path, enc)
	require.NoError(t, loaded.Load())
	require.Equal(t, 2, loaded.Len())

	got, ok := loaded.GetByUsername("ALICE")
	require.True(t, ok)
	require.Equal(t, alice.ID, got.ID)
	require.True(t, got.VerifyPassword(fastHasher(), "Secret123!"))
	require.Equal(t, []Permission{PermArticlesDelete}, got.AdditionalPermissions)
}

func TestUserStore_UnreadableIsNotEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.dat")

	s := NewUserStore(path, newTestEncryption(t))
	require.NoError(t, s.Insert(newStoreUser("alice", "alice@example.com")))
	require.NoError(t, s.Save())

	// Different key: the file exists but cannot be decrypted.
	other := NewUserStore(path, newTestEncryption(t))
	require.NoError(t, other.Insert(newStoreUser("carol", "carol@example.com")))
	err := other.Load()
	require.ErrorIs(t, err, ErrStoreUnreadable)
	require.ErrorIs(t, err, ErrDecryptionFailed)

	// The in-memory map is untouched.
	_, ok := other.GetByUsername("carol")
	require.True(t, ok)
}

func TestUserStore_CorruptPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.dat")
	enc := newTestEncryption(t)

	sealed, err := enc.Encrypt([]byte("not json"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, sealed, 0600))
	require.ErrorIs(t, NewUserStore(path, enc).Load(), ErrStoreCorrupt)

	sealed, err = enc.Encrypt([]byte(`{"version":1,"users":[
		{"user_id":"1","username":"a","email":"x@example.com","role":"user"},
		{"user_id":"2","username":"A","email":"y@example.com","role":"user"}]}`))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, sealed, 0600))
	require.ErrorIs(t, NewUserStore(path, enc).Load(), ErrStoreCorrupt)

	sealed, err = enc.Encrypt([]byte(`{"version":1,"users":[{"user_id":"1","username":"a","role":"root"}]}`))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, sealed, 0600))
	require.ErrorIs(t, NewUserStore(path, enc).Load(), ErrStoreCorrupt)

	sealed, err = enc.Encrypt([]byte(`{"version":9,"users":[]}`))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, sealed, 0600))
	require.ErrorIs(t, NewUserStore(path, enc).Load(), ErrStoreCorrupt)
}

func TestUserStore_UniquenessIsCaseInsensitive(t *testing.T) {
	s := NewUserStore(filepath.Join(t.TempDir(), "users.dat"), nil)
	require.NoError(t, s.Insert(newStoreUser("Alice", "Alice@Example.com")))

	require.ErrorIs(t, s.Insert(newStoreUser("alice", "other@example.com")), ErrUsernameTaken)
	require.ErrorIs(t, s.Insert(newStoreUser("ALICE ", "other@example.com")), ErrUsernameTaken)
	require.ErrorIs(t, s.Insert(newStoreUser("alice2", "alice@EXAMPLE.com")), ErrEmailTaken)

	// Unicode folding: "STRASSE" and "straße" fold to the same key.
	require.NoError(t, s.Insert(newStoreUser("straße", "s@example.com")))
	require.ErrorIs(t, s.Insert(newStoreUser("STRASSE", "t@example.com")), ErrUsernameTaken)
}

func TestUserStore_UpdateChecksEmailAndKeepsIdentity(t *testing.T) {
	s := NewUserStore(filepath.Join(t.TempDir(), "users.dat"), nil)
	a := newStoreUser("a", "a@example.com")
	b := newStoreUser("b", "b@example.com")
	require.NoError(t, s.Insert(a))
	require.NoError(t, s.Insert(b))

	_, err := s.Update(b.ID, func(u *User) error {
		u.Email = "A@example.com"
		return nil
	})
	require.ErrorIs(t, err, ErrEmailTaken)
	got, _ := s.Get(b.ID)
	require.Equal(t, "b@example.com", got.Email)

	updated, err := s.Update(b.ID, func(u *User) error {
		u.Email = "new@example.com"
		u.Username = "hijack"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "b", updated.Username)

	_, ok := s.GetByEmail("b@example.com")
	require.False(t, ok, "old email released")
	found, ok := s.GetByEmail("NEW@example.com")
	require.True(t, ok)
	require.Equal(t, b.ID, found.ID)

	_, err = s.Update("missing", func(*User) error { return nil })
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserStore_ReturnsCopies(t *testing.T) {
	s := NewUserStore(filepath.Join(t.TempDir(), "users.dat"), nil)
	a := newStoreUser("a", "a@example.com")
	require.NoError(t, s.Insert(a))

	a.Locked = true
	got, _ := s.Get(a.ID)
	require.False(t, got.Locked)

	got.Locked = true
	again, _ := s.Get(a.ID)
	require.False(t, again.Locked)
}

func TestUserStore_ListSorted(t *testing.T) {
	s := NewUserStore(filepath.Join(t.TempDir(), "users.dat"), nil)
	for _, name := range []string{"carol", "Alice", "bob"} {
		require.NoError(t, s.Insert(newStoreUser(name, name+"@example.com")))
	}
	var names []string
	for _, u := range s.List() {
		names = append(names, u.Username)
	}
	require.Equal(t, []string{"Alice", "bob", "carol"}, names)
}

func TestUserStore_PassthroughWritesPlainJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.dat")
	s := NewUserStore(path, NewPassthroughService())
	require.False(t, s.Encrypted())
	require.NoError(t, s.Insert(newStoreUser("alice", "alice@example.com")))
	require.NoError(t, s.Save())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"username":"alice"`)
}
