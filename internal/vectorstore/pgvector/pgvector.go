package pgvector

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/physical-ai/textbook-rag/internal/vectorstore"
)

// Store keeps chunk vectors in Postgres with the pgvector extension.
// Similarity uses the cosine distance operator; scores are reported as
// 1 - distance so higher is better, matching the other store backends.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Upsert(ctx context.Context, chunks []vectorstore.Chunk) (err error) {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO chunks (chunk_id, source, ordinal, text, embedding, created_at)
VALUES ($1,$2,$3,$4,$5::vector,NOW())
ON CONFLICT (chunk_id) DO UPDATE SET
  source = EXCLUDED.source,
  ordinal = EXCLUDED.ordinal,
  text = EXCLUDED.text,
  embedding = EXCLUDED.embedding,
  created_at = NOW();
`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("chunk id required")
		}
		lit, encErr := encodeVectorLiteral(c.Vector)
		if encErr != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, encErr)
		}
		if _, err = stmt.ExecContext(ctx, c.ID, c.Source, c.Ordinal, c.Text, lit); err != nil {
			return err
		}
	}
	return err
}

func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		topK = 5
	}
	lit, err := encodeVectorLiteral(vector)
	if err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT chunk_id, source, ordinal, text, 1 - (embedding <=> $1::vector) AS score
FROM chunks
ORDER BY embedding <=> $1::vector, chunk_id
LIMIT $2
`, lit, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var results []vectorstore.SearchResult
	for rows.Next() {
		var r vectorstore.SearchResult
		if err := rows.Scan(&r.Chunk.ID, &r.Chunk.Source, &r.Chunk.Ordinal, &r.Chunk.Text, &r.Score); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Store) List(ctx context.Context) ([]vectorstore.Chunk, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT chunk_id, source, ordinal, text FROM chunks ORDER BY chunk_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	defer rows.Close()
	var out []vectorstore.Chunk
	for rows.Next() {
		var c vectorstore.Chunk
		if err := rows.Scan(&c.ID, &c.Source, &c.Ordinal, &c.Text); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, `TRUNCATE chunks`); err != nil {
		return fmt.Errorf("%w: %v", vectorstore.ErrStoreUnavailable, err)
	}
	return nil
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}
