package postgres_session

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/physical-ai/textbook-rag/session"
)

func newMockStore(t *testing.T, opts session.Options) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, opts), mock
}

func TestEnsureSessionReusesLiveSession(t *testing.T) {
	st, mock := newMockStore(t, session.Options{TTL: 30 * time.Minute})
	id := session.NewID()

	mock.ExpectExec(regexp.QuoteMeta(`
UPDATE chat_sessions SET last_active_at = NOW()
WHERE id = $1 AND last_active_at > NOW() - make_interval(secs => $2)
`)).WithArgs(id, float64(1800)).WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := st.EnsureSession(context.Background(), id)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if sess.ID() != id {
		t.Fatalf("expected session %s, got %s", id, sess.ID())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSessionCreatesWhenExpired(t *testing.T) {
	st, mock := newMockStore(t, session.Options{TTL: 30 * time.Minute})
	id := session.NewID()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chat_sessions SET last_active_at = NOW()`)).
		WithArgs(id, float64(1800)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO chat_sessions (id, created_at, last_active_at) VALUES ($1, NOW(), NOW())`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := st.EnsureSession(context.Background(), id)
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if sess.ID() == id {
		t.Fatalf("expired session id must not be reused")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSessionSkipsLookupForMalformedID(t *testing.T) {
	st, mock := newMockStore(t, session.Options{})

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO chat_sessions`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := st.EnsureSession(context.Background(), "not-a-uuid")
	if err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if !session.ValidID(sess.ID()) {
		t.Fatalf("expected generated uuid, got %q", sess.ID())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendInsertsTrimsAndTouches(t *testing.T) {
	st, mock := newMockStore(t, session.Options{MaxTurns: 10})
	id := session.NewID()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO chat_turns (session_id, question, answer, chunk_ids, created_at)
VALUES ($1,$2,$3,$4,NOW())
`)).WithArgs(id, "q", "a", []byte(`["c1","c2"]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_turns`)).
		WithArgs(id, 10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chat_sessions SET last_active_at = NOW() WHERE id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sess := &pgSession{store: st, id: id}
	err := sess.Append(context.Background(), session.Turn{Question: "q", Answer: "a", ChunkIDs: []string{"c1", "c2"}})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendEncodesNilChunkIDsAsEmptyArray(t *testing.T) {
	st, mock := newMockStore(t, session.Options{MaxTurns: 10})
	id := session.NewID()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO chat_turns`)).
		WithArgs(id, "q", "a", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_turns`)).
		WithArgs(id, 10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chat_sessions`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sess := &pgSession{store: st, id: id}
	if err := sess.Append(context.Background(), session.Turn{Question: "q", Answer: "a"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendSurfacesCommitError(t *testing.T) {
	st, mock := newMockStore(t, session.Options{MaxTurns: 10})
	id := session.NewID()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO chat_turns`)).
		WithArgs(id, "q", "a", []byte(`[]`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_turns`)).
		WithArgs(id, 10).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE chat_sessions`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset during commit"))

	sess := &pgSession{store: st, id: id}
	err := sess.Append(context.Background(), session.Turn{Question: "q", Answer: "a"})
	if err == nil {
		t.Fatalf("expected commit error to surface")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestHistoryReturnsOldestFirst(t *testing.T) {
	st, mock := newMockStore(t, session.Options{MaxTurns: 10})
	id := session.NewID()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"question", "answer", "chunk_ids", "created_at"}).
		AddRow("q1", "a1", []byte(`["c1"]`), now.Add(-time.Minute)).
		AddRow("q2", "a2", []byte(`[]`), now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT question, answer, chunk_ids, created_at`)).
		WithArgs(id, 10).
		WillReturnRows(rows)

	sess := &pgSession{store: st, id: id}
	turns, err := sess.History(context.Background())
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[0].Question != "q1" || turns[1].Question != "q2" {
		t.Fatalf("unexpected order: %+v", turns)
	}
	if len(turns[0].ChunkIDs) != 1 || turns[0].ChunkIDs[0] != "c1" {
		t.Fatalf("chunk ids not decoded: %+v", turns[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteExpired(t *testing.T) {
	st, mock := newMockStore(t, session.Options{TTL: time.Hour})

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM chat_sessions WHERE last_active_at <= NOW() - make_interval(secs => $1)`)).
		WithArgs(float64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := st.DeleteExpired(context.Background())
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
