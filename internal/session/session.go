// Package session keeps the signed-in user that gates task processing. The
// session is persisted as a small JSON document so it survives restarts.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrInvalidEmail is returned by Login for malformed addresses.
var ErrInvalidEmail = errors.New("invalid email address")

// User is the signed-in identity.
type User struct {
	Email    string    `json:"email"`
	SignedIn time.Time `json:"signed_in,omitempty"`
}

// Store holds the current session and notifies listeners on change.
type Store struct {
	mu        sync.RWMutex
	path      string
	user      *User
	listeners []func(authenticated bool)
	logger    *slog.Logger
}

// NewStore creates a store persisted at path and loads any saved session.
// An empty path keeps the session in memory only.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{path: path, logger: logger}

	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil || u.Email == "" {
		logger.Warn("Ignoring unreadable session file", slog.String("path", path))
		return s, nil
	}
	s.user = &u
	return s, nil
}

// Login signs email in and persists it.
func (s *Store) Login(email string) (User, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return User{}, fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}

	u := User{Email: email, SignedIn: time.Now().UTC()}

	s.mu.Lock()
	if err := s.save(&u); err != nil {
		s.mu.Unlock()
		return User{}, err
	}
	s.user = &u
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()

	s.logger.Info("User signed in", slog.String("email", email))
	notify(listeners, true)
	return u, nil
}

// Logout clears the session. Logging out without a session is not an error.
func (s *Store) Logout() error {
	s.mu.Lock()
	if s.user == nil {
		s.mu.Unlock()
		return nil
	}
	if err := s.save(nil); err != nil {
		s.mu.Unlock()
		return err
	}
	email := s.user.Email
	s.user = nil
	listeners := append([]func(bool){}, s.listeners...)
	s.mu.Unlock()

	s.logger.Info("User signed out", slog.String("email", email))
	notify(listeners, false)
	return nil
}

// Current returns the signed-in user.
func (s *Store) Current() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return User{}, false
	}
	return *s.user, true
}

// Authenticated reports whether a user is signed in.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil
}

// OnChange registers fn to be called after every login and logout.
func (s *Store) OnChange(fn func(authenticated bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// save writes u to disk, or removes the file when u is nil. Must hold s.mu.
func (s *Store) save(u *User) error {
	if s.path == "" {
		return nil
	}

	if u == nil {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove session file: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

func notify(listeners []func(bool), authenticated bool) {
	for _, fn := range listeners {
		fn(authenticated)
	}
}
