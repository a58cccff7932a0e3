// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/morganforge/kontor/internal/util"
)

// userStoreVersion is the schema version of the decrypted payload.
const userStoreVersion = 1

type userStoreFile struct {
	Version int     `json:"version"`
	Users   []*User `json:"users"`
}

// UserStore is the id-keyed account map. It is decrypted wholesale on Load
// and re-encrypted wholesale on Save. Usernames and emails are unique under
// Unicode case folding.
type UserStore struct {
	mu         sync.RWMutex
	saveMu     sync.Mutex // orders snapshots so the newest one lands last
	path       string
	cipher     Cipher
	logger     *slog.Logger
	users      map[string]*User
	byUsername map[string]string
	byEmail    map[string]string
}

// UserStoreOption configures a UserStore.
type UserStoreOption func(*UserStore)

// WithUserStoreLogger sets the logger.
func WithUserStoreLogger(l *slog.Logger) UserStoreOption {
	return func(s *UserStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewUserStore returns an empty store persisted at path through c.
// A nil cipher means pass-through.
func NewUserStore(path string, c Cipher, opts ...UserStoreOption) *UserStore {
	if c == nil {
		c = NewPassthroughService()
	}
	s := &UserStore{
		path:   path,
		cipher: c,
		logger: slog.New(slog.DiscardHandler),
	}
	s.reset()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *UserStore) reset() {
	s.users = make(map[string]*User)
	s.byUsername = make(map[string]string)
	s.byEmail = make(map[string]string)
}

// foldKey is the comparison form of a username or email.
func foldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Path returns the backing file.
func (s *UserStore) Path() string { return s.path }

// Encrypted reports whether the store is written through an enabled cipher.
func (s *UserStore) Encrypted() bool { return s.cipher.Enabled() }

// =============================================================================
// PERSISTENCE
// =============================================================================

// Load replaces the in-memory map with the file contents. A missing file
// leaves the store empty and returns nil. A file that cannot be decrypted
// returns ErrStoreUnreadable and a bad payload returns ErrStoreCorrupt; in
// both cases the in-memory map is left untouched.
func (s *UserStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("user store not found, starting empty", "path", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read user store: %w", err)
	}

	plain, err := s.cipher.Decrypt(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnreadable, s.path, err)
	}

	var file userStoreFile
	if err := json.Unmarshal(plain, &file); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrStoreCorrupt, s.path, err)
	}
	if file.Version != userStoreVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrStoreCorrupt, file.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prevUsers, prevNames, prevEmails := s.users, s.byUsername, s.byEmail
	s.reset()
	for _, u := range file.Users {
		if err := s.insertLocked(u); err != nil {
			s.users, s.byUsername, s.byEmail = prevUsers, prevNames, prevEmails
			return fmt.Errorf("%w: %w", ErrStoreCorrupt, err)
		}
	}
	s.logger.Info("user store loaded", "path", s.path, "users", len(s.users), "encrypted", s.cipher.Enabled())
	return nil
}

// Save writes the whole store atomically with owner-only permissions.
func (s *UserStore) Save() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	file := userStoreFile{Version: userStoreVersion, Users: s.sortedLocked()}
	data, err := json.Marshal(file)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("%w: encode user store: %w", ErrPersist, err)
	}

	sealed, err := s.cipher.Encrypt(data)
	ZeroBytes(data)
	if err != nil {
		return fmt.Errorf("%w: encrypt user store: %w", ErrPersist, err)
	}

	if err := util.AtomicWriteFile(s.path, sealed, util.PrivateFileMode); err != nil {
		return fmt.Errorf("%w: %w", ErrPersist, err)
	}
	return nil
}

// =============================================================================
// ACCESS
// =============================================================================

// Insert adds a new user. Username and email must be unique.
func (s *UserStore) Insert(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(u.Clone())
}

func (s *UserStore) insertLocked(u *User) error {
	if u.ID == "" || strings.TrimSpace(u.Username) == "" {
		return fmt.Errorf("%w: id and username are required", ErrMissingField)
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRole, u.Role)
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("duplicate user id %s", u.ID)
	}
	name := foldKey(u.Username)
	if _, ok := s.byUsername[name]; ok {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, u.Username)
	}
	email := foldKey(u.Email)
	if email != "" {
		if _, ok := s.byEmail[email]; ok {
			return fmt.Errorf("%w: %s", ErrEmailTaken, u.Email)
		}
		s.byEmail[email] = u.ID
	}
	s.byUsername[name] = u.ID
	s.users[u.ID] = u
	return nil
}

// Update applies fn to the stored user under the write lock. If fn returns an
// error, or changes the email to one already in use, the user is unchanged.
// The username is immutable.
func (s *UserStore) Update(id string, fn func(u *User) error) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Username = cur.Username

	oldEmail, newEmail := foldKey(cur.Email), foldKey(next.Email)
	if newEmail != oldEmail {
		if owner, taken := s.byEmail[newEmail]; taken && newEmail != "" && owner != id {
			return nil, fmt.Errorf("%w: %s", ErrEmailTaken, next.Email)
		}
		delete(s.byEmail, oldEmail)
		if newEmail != "" {
			s.byEmail[newEmail] = id
		}
	}
	s.users[id] = next
	return next.Clone(), nil
}

// Get returns a copy of the user with the given id.
func (s *UserStore) Get(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// GetByUsername looks a user up case-insensitively.
func (s *UserStore) GetByUsername(username string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[foldKey(username)]
	if !ok {
		return nil, false
	}
	return s.users[id].Clone(), true
}

// GetByEmail looks a user up case-insensitively.
func (s *UserStore) GetByEmail(email string) (*User, bool) {
	key := foldKey(email)
	if key == "" {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[key]
	if !ok {
		return nil, false
	}
	return s.users[id].Clone(), true
}

// List returns copies of all users ordered by username.
func (s *UserStore) List() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := s.sortedLocked()
	for i, u := range users {
		users[i] = u.Clone()
	}
	return users
}

// Len returns the number of users.
func (s *UserStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

func (s *UserStore) sortedLocked() []*User {
	users := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b *User) int {
		return strings.Compare(foldKey(a.Username), foldKey(b.Username))
	})
	return users
}
