package redis_session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/physical-ai/textbook-rag/session"
)

// Store keeps sessions as Redis lists. RPUSH/LTRIM run atomically inside a
// pipeline, so per-session append ordering comes for free from Redis's
// single-threaded command execution.
type Store struct {
	client *redis.Client
	opts   session.Options
}

func New(client *redis.Client, opts session.Options) *Store {
	return &Store{client: client, opts: session.Normalize(opts)}
}

func (s *Store) EnsureSession(ctx context.Context, id string) (session.Session, error) {
	if session.ValidID(id) {
		exists, err := s.client.Exists(ctx, metaKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("redis session lookup: %w", err)
		}
		if exists == 1 {
			pipe := s.client.Pipeline()
			pipe.Expire(ctx, metaKey(id), s.opts.TTL)
			pipe.Expire(ctx, turnsKey(id), s.opts.TTL)
			if _, err := pipe.Exec(ctx); err != nil {
				return nil, fmt.Errorf("redis session touch: %w", err)
			}
			return &redisSession{store: s, id: id}, nil
		}
	}
	newID := session.NewID()
	if err := s.client.Set(ctx, metaKey(newID), time.Now().UTC().Format(time.RFC3339), s.opts.TTL).Err(); err != nil {
		return nil, fmt.Errorf("redis session create: %w", err)
	}
	return &redisSession{store: s, id: newID}, nil
}

type redisSession struct {
	store *Store
	id    string
}

func (r *redisSession) ID() string { return r.id }

func (r *redisSession) Append(ctx context.Context, turn session.Turn) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return err
	}
	opts := r.store.opts
	pipe := r.store.client.TxPipeline()
	pipe.RPush(ctx, turnsKey(r.id), data)
	pipe.LTrim(ctx, turnsKey(r.id), int64(-opts.MaxTurns), -1)
	pipe.Expire(ctx, turnsKey(r.id), opts.TTL)
	pipe.Expire(ctx, metaKey(r.id), opts.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis session append: %w", err)
	}
	return nil
}

func (r *redisSession) History(ctx context.Context) ([]session.Turn, error) {
	raw, err := r.store.client.LRange(ctx, turnsKey(r.id), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis session history: %w", err)
	}
	turns := make([]session.Turn, 0, len(raw))
	for _, item := range raw {
		var t session.Turn
		if err := json.Unmarshal([]byte(item), &t); err != nil {
			return nil, fmt.Errorf("decode session turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func metaKey(id string) string  { return "session:" + id + ":meta" }
func turnsKey(id string) string { return "session:" + id + ":turns" }
