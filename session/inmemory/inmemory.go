package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/physical-ai/textbook-rag/session"
)

// Store keeps sessions in process memory. Suitable for a single instance;
// swap in the redis or postgres backend when the service is replicated.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	opts     session.Options
}

func New(opts session.Options) *Store {
	return &Store{
		sessions: make(map[string]*memSession),
		opts:     session.Normalize(opts),
	}
}

func (s *Store) EnsureSession(ctx context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if session.ValidID(id) {
		if sess, ok := s.sessions[id]; ok && sess.expiresAt().After(now) {
			sess.touch(now.Add(s.opts.TTL))
			return sess, nil
		}
	}
	sess := &memSession{
		id:       session.NewID(),
		maxTurns: s.opts.MaxTurns,
		ttl:      s.opts.TTL,
		expiry:   now.Add(s.opts.TTL),
	}
	s.sessions[sess.id] = sess
	return sess, nil
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if !sess.expiresAt().After(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Janitor periodically evicts expired sessions until ctx is cancelled.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Sweep(now)
		}
	}
}

type memSession struct {
	id       string
	maxTurns int
	ttl      time.Duration

	mu     sync.Mutex
	turns  []session.Turn
	expiry time.Time
}

func (m *memSession) ID() string { return m.id }

func (m *memSession) Append(ctx context.Context, turn session.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	// FIFO eviction: the newest turn is never dropped.
	if len(m.turns) > m.maxTurns {
		m.turns = m.turns[len(m.turns)-m.maxTurns:]
	}
	m.expiry = time.Now().Add(m.ttl)
	return nil
}

func (m *memSession) History(ctx context.Context) ([]session.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]session.Turn, len(m.turns))
	copy(out, m.turns)
	return out, nil
}

func (m *memSession) expiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiry
}

func (m *memSession) touch(expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiry = expiry
}
