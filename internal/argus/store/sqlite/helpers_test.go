package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	sqlitestore "github.com/BrandonDHaskell/Argus/internal/argus/store/sqlite"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/db"
)

// openTestDB returns an in-memory SQLite connection with the production
// PRAGMAs and schema. Each test gets its own database.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name,
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}
	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestStore wires an ExamStore to a fresh database and worker.
func newTestStore(t *testing.T) (*sqlitestore.ExamStore, *sql.DB) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return sqlitestore.NewExamStore(conn, w), conn
}

// seedExam creates an active exam with the dev sample questions.
func seedExam(t *testing.T, es *sqlitestore.ExamStore, examID string) {
	t.Helper()

	var qs []store.QuestionRecord
	for _, q := range db.SampleQuestions {
		qs = append(qs, store.QuestionRecord{ID: q.ID, Prompt: q.Prompt, Options: q.Options, Answer: q.Answer})
	}

	err := es.CreateExam(context.Background(), store.ExamRecord{
		ID:        examID,
		StudentID: "student-1",
		Status:    types.StatusActive,
		StartedAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		Questions: qs,
	})
	if err != nil {
		t.Fatalf("seedExam %s: %v", examID, err)
	}
}

// keepStatus is a DecideFunc that never changes status.
func keepStatus(t store.Tally) types.ExamStatus { return t.Status }
