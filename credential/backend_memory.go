package credential

import (
	"context"
	"sync"
)

// MemoryBackend keeps the record in process memory. It does not survive restarts and
// is meant for tests and short-lived clients.
type MemoryBackend struct {
	mu  sync.Mutex
	rec Record
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load implements [Backend].
func (m *MemoryBackend) Load(context.Context) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyRecord(m.rec), nil
}

// Save implements [Backend].
func (m *MemoryBackend) Save(_ context.Context, sess Session) error {
	identity := sess.Identity

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = Record{
		Identity:     &identity,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
	}
	return nil
}

// Clear implements [Backend].
func (m *MemoryBackend) Clear(context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existed := !m.rec.Empty()
	m.rec = Record{}
	return existed, nil
}

// Seed overwrites the stored record as-is, including partial records. It exists so
// callers can reproduce state left behind by older clients.
func (m *MemoryBackend) Seed(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = copyRecord(rec)
}

func copyRecord(rec Record) Record {
	out := rec
	if rec.Identity != nil {
		identity := *rec.Identity
		out.Identity = &identity
	}
	return out
}
