package chatsync

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	toml "github.com/pelletier/go-toml/v2"
)

// Identity is the signed-in user together with its bearer token.
type Identity struct {
	User  User   `toml:"user"`
	Token string `toml:"token"`
}

// SessionStore persists the identity between process runs.
type SessionStore interface {
	Load() (*Identity, error)
	Save(Identity) error
	Clear() error
}

// ============================================================================
// AuthSession
// ============================================================================

// AuthSession holds the current identity. It is created empty, filled by
// login (or Restore) and emptied by Clear. Every component that talks to the
// server receives it explicitly.
type AuthSession struct {
	mu      sync.RWMutex
	current *Identity
	store   SessionStore
	now     func() time.Time
}

// NewAuthSession returns an unauthenticated session. store may be nil.
func NewAuthSession(store SessionStore) *AuthSession {
	return &AuthSession{store: store, now: time.Now}
}

// Current returns the signed-in identity, or ErrUnauthenticated when there is
// none or its JWT has expired.
func (s *AuthSession) Current() (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil || s.current.Token == "" || s.current.User.ID == "" {
		return Identity{}, ErrUnauthenticated
	}
	if exp, ok := TokenExpiry(s.current.Token); ok && !s.now().Before(exp) {
		return Identity{}, fmt.Errorf("token expired at %s: %w", exp.Format(time.RFC3339), ErrUnauthenticated)
	}
	return *s.current, nil
}

// Set installs id as the current identity and persists it.
func (s *AuthSession) Set(id Identity) error {
	s.mu.Lock()
	s.current = &id
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(id); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Restore loads a previously persisted identity. A missing one leaves the
// session unauthenticated without error.
func (s *AuthSession) Restore() error {
	if s.store == nil {
		return nil
	}
	id, err := s.store.Load()
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	s.mu.Lock()
	s.current = id
	s.mu.Unlock()
	return nil
}

// Clear removes the identity from memory and from the store.
func (s *AuthSession) Clear() error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	return s.store.Clear()
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// ok is false for opaque tokens and tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// ============================================================================
// FileSessionStore
// ============================================================================

// FileSessionStore keeps the identity in a TOML file under the well-known
// keys "token" and "user".
type FileSessionStore struct {
	path string
}

func NewFileSessionStore(path string) *FileSessionStore {
	return &FileSessionStore{path: path}
}

// Path returns the file backing the store.
func (f *FileSessionStore) Path() string {
	return f.path
}

func (f *FileSessionStore) Load() (*Identity, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cannot read session: %w", err)
	}
	var id Identity
	if err := toml.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("cannot parse session: %w", err)
	}
	if id.Token == "" {
		return nil, nil
	}
	return &id, nil
}

func (f *FileSessionStore) Save(id Identity) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("cannot create session directory: %w", err)
	}
	data, err := toml.Marshal(id)
	if err != nil {
		return fmt.Errorf("cannot marshal session: %w", err)
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("cannot write session: %w", err)
	}
	return nil
}

func (f *FileSessionStore) Clear() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove session: %w", err)
	}
	return nil
}
