package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	dbpkg "github.com/BrandonDHaskell/Argus/internal/db"
)

// ExamStore persists exam sessions and their violation ledger. Reads go
// straight to db; every write goes through the single-writer worker.
type ExamStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewExamStore(db *sql.DB, writer *dbpkg.Worker) *ExamStore {
	return &ExamStore{db: db, writer: writer}
}

func (s *ExamStore) QuestionBank(ctx context.Context) ([]store.QuestionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT question_id, prompt, options_json, answer
FROM question_bank
ORDER BY question_id;
`)
	if err != nil {
		return nil, fmt.Errorf("QuestionBank query: %w", err)
	}
	defer rows.Close()

	var out []store.QuestionRecord
	for rows.Next() {
		var (
			q    store.QuestionRecord
			opts string
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &opts, &q.Answer); err != nil {
			return nil, fmt.Errorf("QuestionBank scan: %w", err)
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("QuestionBank options %d: %w", q.ID, err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *ExamStore) CreateExam(ctx context.Context, rec store.ExamRecord) error {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return fmt.Errorf("CreateExam: empty exam id")
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = types.StatusActive
	}
	startedMs := rec.StartedAt.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO exams(exam_id, student_id, status, started_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?);
`, id, rec.StudentID, string(rec.Status), startedMs, startedMs); err != nil {
			return fmt.Errorf("CreateExam insert exam: %w", err)
		}

		for i, q := range rec.Questions {
			opts, err := json.Marshal(q.Options)
			if err != nil {
				return fmt.Errorf("CreateExam options: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
INSERT INTO exam_questions(exam_id, position, question_id, prompt, options_json, answer)
VALUES (?, ?, ?, ?, ?, ?);
`, id, i, q.ID, q.Prompt, string(opts), q.Answer); err != nil {
				return fmt.Errorf("CreateExam insert question: %w", err)
			}
		}
		return nil
	})
}

func (s *ExamStore) GetExam(ctx context.Context, examID string) (store.ExamRecord, error) {
	var (
		rec         store.ExamRecord
		status      string
		startedMs   int64
		completedMs sql.NullInt64
		flaggedMs   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
SELECT exam_id, student_id, status, started_at_ms, completed_at_ms, flagged_at_ms
FROM exams
WHERE exam_id = ?;
`, examID).Scan(&rec.ID, &rec.StudentID, &status, &startedMs, &completedMs, &flaggedMs)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ExamRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ExamRecord{}, fmt.Errorf("GetExam query: %w", err)
	}

	rec.Status = types.ExamStatus(status)
	rec.StartedAt = fromMs(startedMs)
	rec.CompletedAt = fromNullMs(completedMs)
	rec.FlaggedAt = fromNullMs(flaggedMs)

	// The pool holds one connection: each query's rows must be closed before
	// the next one is issued.
	if rec.Questions, err = s.examQuestions(ctx, examID); err != nil {
		return store.ExamRecord{}, err
	}
	if rec.Answers, err = s.examAnswers(ctx, examID); err != nil {
		return store.ExamRecord{}, err
	}
	if rec.Violations, err = s.examViolations(ctx, examID); err != nil {
		return store.ExamRecord{}, err
	}
	return rec, nil
}

func (s *ExamStore) ListExamsByStatus(ctx context.Context, status types.ExamStatus) ([]store.ExamRecord, error) {
	ids, err := s.examIDsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}

	out := make([]store.ExamRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.GetExam(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *ExamStore) AppendAnswer(ctx context.Context, examID string, ans store.AnswerRecord) error {
	if ans.SubmittedAt.IsZero() {
		ans.SubmittedAt = time.Now().UTC()
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		status, err := examStatus(ctx, tx, examID)
		if err != nil {
			return err
		}
		if status != types.StatusActive {
			return store.ErrClosed
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO exam_answers(exam_id, question_id, answer, submitted_at_ms)
VALUES (?, ?, ?, ?);
`, examID, ans.QuestionID, ans.Answer, ans.SubmittedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("AppendAnswer insert: %w", err)
		}
		return nil
	})
}

func (s *ExamStore) AppendViolation(
	ctx context.Context,
	examID, idemKey string,
	rec store.ViolationRecord,
	decide store.DecideFunc,
) (store.AppendResult, error) {
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	receivedMs := rec.ReceivedAt.UTC().UnixMilli()

	var reportedMs any
	if rec.ReportedAt != nil {
		reportedMs = rec.ReportedAt.UTC().UnixMilli()
	}

	var evidence any
	if rec.Evidence != "" {
		evidence = rec.Evidence
	}

	var res store.AppendResult
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res = store.AppendResult{}

		status, err := examStatus(ctx, tx, examID)
		if err != nil {
			return err
		}
		if status == types.StatusCompleted {
			return store.ErrClosed
		}

		if idemKey != "" {
			var seq int
			err := tx.QueryRowContext(ctx, `
SELECT seq FROM violation_keys WHERE exam_id = ? AND idem_key = ?;
`, examID, idemKey).Scan(&seq)
			switch {
			case err == nil:
				orig, err := violationBySeq(ctx, tx, examID, seq)
				if err != nil {
					return err
				}
				res = store.AppendResult{Record: orig, PrevStatus: status, Status: status, Duplicate: true}
				return nil
			case !errors.Is(err, sql.ErrNoRows):
				return fmt.Errorf("AppendViolation lookup key: %w", err)
			}
		}

		var seq int
		if err := tx.QueryRowContext(ctx, `
SELECT COALESCE(MAX(seq), 0) + 1 FROM violations WHERE exam_id = ?;
`, examID).Scan(&seq); err != nil {
			return fmt.Errorf("AppendViolation next seq: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO violations(exam_id, seq, kind, reported_at_ms, received_at_ms, evidence)
VALUES (?, ?, ?, ?, ?, ?);
`, examID, seq, rec.Kind, reportedMs, receivedMs, evidence); err != nil {
			return fmt.Errorf("AppendViolation insert: %w", err)
		}

		if idemKey != "" {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO violation_keys(exam_id, idem_key, seq, received_at_ms)
VALUES (?, ?, ?, ?);
`, examID, idemKey, seq, receivedMs); err != nil {
				return fmt.Errorf("AppendViolation insert key: %w", err)
			}
		}

		tally := store.Tally{Status: status, Kind: rec.Kind, Total: seq}
		if err := tx.QueryRowContext(ctx, `
SELECT COUNT(*) FROM violations WHERE exam_id = ? AND kind = ?;
`, examID, rec.Kind).Scan(&tally.KindCount); err != nil {
			return fmt.Errorf("AppendViolation count: %w", err)
		}

		next := status
		if decide != nil {
			next = decide(tally)
		}
		if next != status {
			if err := setStatus(ctx, tx, examID, next, receivedMs); err != nil {
				return err
			}
		}

		appended := rec
		appended.Seq = seq
		res = store.AppendResult{Record: appended, PrevStatus: status, Status: next}
		return nil
	})
	if err != nil {
		return store.AppendResult{}, err
	}
	return res, nil
}

func (s *ExamStore) TransitionStatus(
	ctx context.Context,
	examID string,
	at time.Time,
	fn store.TransitionFunc,
) (types.ExamStatus, types.ExamStatus, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	atMs := at.UTC().UnixMilli()

	var prev, next types.ExamStatus
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := examStatus(ctx, tx, examID)
		if err != nil {
			return err
		}
		prev, next = cur, cur

		to, err := fn(cur)
		if err != nil {
			return err
		}
		if to == cur {
			return nil
		}
		if err := setStatus(ctx, tx, examID, to, atMs); err != nil {
			return err
		}
		next = to
		return nil
	})
	if err != nil {
		return prev, prev, err
	}
	return prev, next, nil
}

// PruneKeysOlderThan deletes idempotency keys with received_at_ms before
// cutoff, using idx_violation_keys_time.
func (s *ExamStore) PruneKeysOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMs := cutoff.UTC().UnixMilli()

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
DELETE FROM violation_keys
WHERE received_at_ms < ?;
`, cutoffMs)
		if err != nil {
			return fmt.Errorf("PruneKeysOlderThan: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

func (s *ExamStore) examIDsByStatus(ctx context.Context, status types.ExamStatus) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT exam_id FROM exams
WHERE status = ?
ORDER BY started_at_ms, exam_id;
`, string(status))
	if err != nil {
		return nil, fmt.Errorf("ListExamsByStatus query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListExamsByStatus scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *ExamStore) examQuestions(ctx context.Context, examID string) ([]store.QuestionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT question_id, prompt, options_json, answer
FROM exam_questions
WHERE exam_id = ?
ORDER BY position;
`, examID)
	if err != nil {
		return nil, fmt.Errorf("GetExam questions: %w", err)
	}
	defer rows.Close()

	var out []store.QuestionRecord
	for rows.Next() {
		var (
			q    store.QuestionRecord
			opts string
		)
		if err := rows.Scan(&q.ID, &q.Prompt, &opts, &q.Answer); err != nil {
			return nil, fmt.Errorf("GetExam questions scan: %w", err)
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, fmt.Errorf("GetExam question options: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *ExamStore) examAnswers(ctx context.Context, examID string) ([]store.AnswerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT question_id, answer, submitted_at_ms
FROM exam_answers
WHERE exam_id = ?
ORDER BY answer_id;
`, examID)
	if err != nil {
		return nil, fmt.Errorf("GetExam answers: %w", err)
	}
	defer rows.Close()

	var out []store.AnswerRecord
	for rows.Next() {
		var (
			a  store.AnswerRecord
			ms int64
		)
		if err := rows.Scan(&a.QuestionID, &a.Answer, &ms); err != nil {
			return nil, fmt.Errorf("GetExam answers scan: %w", err)
		}
		a.SubmittedAt = fromMs(ms)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *ExamStore) examViolations(ctx context.Context, examID string) ([]store.ViolationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, kind, reported_at_ms, received_at_ms, evidence
FROM violations
WHERE exam_id = ?
ORDER BY seq;
`, examID)
	if err != nil {
		return nil, fmt.Errorf("GetExam violations: %w", err)
	}
	defer rows.Close()

	var out []store.ViolationRecord
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, fmt.Errorf("GetExam violations scan: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
