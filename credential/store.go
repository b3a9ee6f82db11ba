package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrIncompleteCredential is returned when a write is attempted with a missing token.
var ErrIncompleteCredential = errors.New("incomplete credential pair")

// ErrBackendUnavailable wraps persistence failures.
var ErrBackendUnavailable = errors.New("credential backend unavailable")

// Backend persists the session record.
type Backend interface {
	// Load returns whatever is persisted. Missing fields are left zero.
	Load(ctx context.Context) (Record, error)
	// Save persists identity and both tokens in one atomic step.
	Save(ctx context.Context, sess Session) error
	// Clear removes every persisted field and reports whether anything existed.
	Clear(ctx context.Context) (bool, error)
}

// Store is the process-wide holder of the current session.
//
// Reads are lock-free. Writes and clears are serialized so the in-memory snapshot
// always matches what the backend last acknowledged.
type Store struct {
	backend Backend
	current atomic.Pointer[Session]
	mu      sync.Mutex
}

// NewStore creates a Store over backend. A nil backend selects a [MemoryBackend].
func NewStore(backend Backend) *Store {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &Store{backend: backend}
}

// Read returns the current session snapshot.
func (s *Store) Read() (Session, bool) {
	if s == nil {
		return Session{}, false
	}
	sess := s.current.Load()
	if sess == nil {
		return Session{}, false
	}
	return *sess, true
}

// AccessToken returns the current access token or "".
func (s *Store) AccessToken() string {
	if s == nil {
		return ""
	}
	if sess := s.current.Load(); sess != nil {
		return sess.AccessToken
	}
	return ""
}

// RefreshToken returns the current refresh token or "".
func (s *Store) RefreshToken() string {
	if s == nil {
		return ""
	}
	if sess := s.current.Load(); sess != nil {
		return sess.RefreshToken
	}
	return ""
}

// Write replaces the session with cred and identity.
//
// The backend is written first; the in-memory snapshot only changes once the
// backend has accepted the full record.
func (s *Store) Write(ctx context.Context, cred Credential, identity Identity) error {
	if !cred.Complete() {
		return ErrIncompleteCredential
	}

	next := &Session{Credential: cred, Identity: identity}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Save(ctx, *next); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	s.current.Store(next)
	return nil
}

// Clear drops the session from memory and the backend. It reports whether a session
// existed in either place and is safe to call repeatedly.
func (s *Store) Clear(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hadMemory := s.current.Swap(nil) != nil
	hadBackend, err := s.backend.Clear(ctx)
	if err != nil {
		return hadMemory, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return hadMemory || hadBackend, nil
}

// Restore loads the persisted session at process start.
//
// A record missing any of identity, access token or refresh token is treated as no
// session and wiped from the backend.
func (s *Store) Restore(ctx context.Context) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.backend.Load(ctx)
	if err != nil {
		return Session{}, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if !rec.Complete() {
		s.current.Store(nil)
		if !rec.Empty() {
			if _, err := s.backend.Clear(ctx); err != nil {
				return Session{}, false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			}
		}
		return Session{}, false, nil
	}

	sess := &Session{
		Credential: Credential{AccessToken: rec.AccessToken, RefreshToken: rec.RefreshToken},
		Identity:   *rec.Identity,
	}
	s.current.Store(sess)
	return *sess, true, nil
}
