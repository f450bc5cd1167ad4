package postgres_session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/physical-ai/textbook-rag/session"
)

// Store persists sessions in the chat_sessions/chat_turns tables so
// conversations survive process restarts.
type Store struct {
	DB   *sql.DB
	opts session.Options
}

func New(db *sql.DB, opts session.Options) *Store {
	return &Store{DB: db, opts: session.Normalize(opts)}
}

func (s *Store) EnsureSession(ctx context.Context, id string) (session.Session, error) {
	if session.ValidID(id) {
		// A session idle past its TTL is treated as unknown.
		res, err := s.DB.ExecContext(ctx, `
UPDATE chat_sessions SET last_active_at = NOW()
WHERE id = $1 AND last_active_at > NOW() - make_interval(secs => $2)
`, id, s.opts.TTL.Seconds())
		if err != nil {
			return nil, fmt.Errorf("session lookup: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			return &pgSession{store: s, id: id}, nil
		}
	}
	newID := session.NewID()
	if _, err := s.DB.ExecContext(ctx, `
INSERT INTO chat_sessions (id, created_at, last_active_at) VALUES ($1, NOW(), NOW())
`, newID); err != nil {
		return nil, fmt.Errorf("session create: %w", err)
	}
	return &pgSession{store: s, id: newID}, nil
}

// DeleteExpired removes sessions idle past the TTL along with their turns.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
DELETE FROM chat_sessions WHERE last_active_at <= NOW() - make_interval(secs => $1)
`, s.opts.TTL.Seconds())
	if err != nil {
		return 0, fmt.Errorf("session expiry: %w", err)
	}
	return res.RowsAffected()
}

type pgSession struct {
	store *Store
	id    string
}

func (p *pgSession) ID() string { return p.id }

func (p *pgSession) Append(ctx context.Context, turn session.Turn) (err error) {
	chunkIDs := turn.ChunkIDs
	if chunkIDs == nil {
		chunkIDs = []string{}
	}
	ids, err := json.Marshal(chunkIDs)
	if err != nil {
		return err
	}
	tx, err := p.store.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
INSERT INTO chat_turns (session_id, question, answer, chunk_ids, created_at)
VALUES ($1,$2,$3,$4,NOW())
`, p.id, turn.Question, turn.Answer, ids); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
DELETE FROM chat_turns
WHERE session_id = $1
  AND id NOT IN (
    SELECT id FROM chat_turns WHERE session_id = $1 ORDER BY id DESC LIMIT $2
  )
`, p.id, p.store.opts.MaxTurns); err != nil {
		return fmt.Errorf("trim turns: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
UPDATE chat_sessions SET last_active_at = NOW() WHERE id = $1
`, p.id); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return err
}

func (p *pgSession) History(ctx context.Context) ([]session.Turn, error) {
	rows, err := p.store.DB.QueryContext(ctx, `
SELECT question, answer, chunk_ids, created_at
FROM (
  SELECT id, question, answer, chunk_ids, created_at
  FROM chat_turns WHERE session_id = $1 ORDER BY id DESC LIMIT $2
) latest
ORDER BY id ASC
`, p.id, p.store.opts.MaxTurns)
	if err != nil {
		return nil, fmt.Errorf("session history: %w", err)
	}
	defer rows.Close()
	var turns []session.Turn
	for rows.Next() {
		var (
			t   session.Turn
			ids []byte
		)
		if err := rows.Scan(&t.Question, &t.Answer, &ids, &t.CreatedAt); err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			if err := json.Unmarshal(ids, &t.ChunkIDs); err != nil {
				return nil, fmt.Errorf("decode chunk ids: %w", err)
			}
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}
