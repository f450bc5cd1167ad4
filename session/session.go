package session

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Turn is one request/response pair within a session: the user question,
// the ids of the chunks the answer was grounded on, and the answer itself.
// Turns are append-only.
type Turn struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	ChunkIDs  []string  `json:"chunk_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is one conversation thread. Appends are serialized per session
// by the implementation; history is capped at the store's MaxTurns with
// oldest-first eviction.
type Session interface {
	ID() string
	Append(ctx context.Context, turn Turn) error
	History(ctx context.Context) ([]Turn, error)
}

// Store manages sessions keyed by an opaque id. A blank, malformed or
// unknown id yields a fresh session whose id the caller returns to the
// client for reuse.
type Store interface {
	EnsureSession(ctx context.Context, id string) (Session, error)
}

// Options bound history growth and session lifetime across all backends.
type Options struct {
	MaxTurns int
	TTL      time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = 10
	}
	if o.TTL <= 0 {
		o.TTL = 30 * time.Minute
	}
	return o
}

// Normalize applies defaults to zero-valued options.
func Normalize(o Options) Options { return o.withDefaults() }

// ValidID reports whether a client-supplied session id is well formed.
// Malformed ids are treated as absent rather than rejected.
func ValidID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NewID generates a fresh opaque session id.
func NewID() string { return uuid.NewString() }
