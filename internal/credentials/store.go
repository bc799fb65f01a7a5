// Package credentials persists the signed-in user's token and profile.
package credentials

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// EnvToken overrides the stored token.
const EnvToken = "CRM_AUTH_TOKEN"

// User is the profile returned at sign-in.
type User struct {
	ID       string `toml:"id"`
	Email    string `toml:"email"`
	FullName string `toml:"full_name"`
	Role     string `toml:"role"`
}

type file struct {
	Token string `toml:"token"`
	User  *User  `toml:"user,omitempty"`
}

// Store is a credentials file. It is safe for concurrent use and serves as
// the token source for the gateway and the socket.
type Store struct {
	path string

	mu   sync.RWMutex
	data file
}

// Open reads the credentials at path. A missing file is an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	_, err := toml.DecodeFile(path, &s.data)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return s, nil
}

// Token returns the bearer token, or "" when signed out.
func (s *Store) Token() string {
	if v := os.Getenv(EnvToken); v != "" {
		return v
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.Token
}

// IsAuthenticated reports whether a token is available.
func (s *Store) IsAuthenticated() bool {
	return s.Token() != ""
}

// User returns the stored profile.
func (s *Store) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.User == nil {
		return User{}, false
	}
	return *s.data.User, true
}

// Save stores token and user and writes the file.
func (s *Store) Save(token string, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := file{Token: token, User: user}
	if err := write(s.path, next); err != nil {
		return err
	}
	s.data = next
	return nil
}

// Clear signs out, removing the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = file{}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func write(path string, data file) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(data)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
