package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

// examStatus reads the current status of examID inside tx, mapping a missing
// row to store.ErrNotFound.
func examStatus(ctx context.Context, tx *sql.Tx, examID string) (types.ExamStatus, error) {
	var status string
	err := tx.QueryRowContext(ctx, `
SELECT status FROM exams WHERE exam_id = ?;
`, examID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("examStatus %s: %w", examID, err)
	}
	return types.ExamStatus(status), nil
}

// setStatus writes next and stamps the matching timestamp column. Moving
// back to active clears flagged_at_ms; history rows are untouched.
func setStatus(ctx context.Context, tx *sql.Tx, examID string, next types.ExamStatus, atMs int64) error {
	var q string
	switch next {
	case types.StatusCompleted:
		q = `UPDATE exams SET status = ?, completed_at_ms = ?, updated_at_ms = ? WHERE exam_id = ?;`
	case types.StatusFlagged:
		q = `UPDATE exams SET status = ?, flagged_at_ms = ?, updated_at_ms = ? WHERE exam_id = ?;`
	case types.StatusActive:
		q = `UPDATE exams SET status = ?, flagged_at_ms = NULL, updated_at_ms = ? WHERE exam_id = ?;`
		if _, err := tx.ExecContext(ctx, q, string(next), atMs, examID); err != nil {
			return fmt.Errorf("setStatus %s: %w", next, err)
		}
		return nil
	default:
		return fmt.Errorf("setStatus: invalid status %q", next)
	}

	if _, err := tx.ExecContext(ctx, q, string(next), atMs, atMs, examID); err != nil {
		return fmt.Errorf("setStatus %s: %w", next, err)
	}
	return nil
}

func violationBySeq(ctx context.Context, tx *sql.Tx, examID string, seq int) (store.ViolationRecord, error) {
	row := tx.QueryRowContext(ctx, `
SELECT seq, kind, reported_at_ms, received_at_ms, evidence
FROM violations
WHERE exam_id = ? AND seq = ?;
`, examID, seq)
	v, err := scanViolation(row)
	if err != nil {
		return store.ViolationRecord{}, fmt.Errorf("violationBySeq %s/%d: %w", examID, seq, err)
	}
	return v, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanViolation(sc scanner) (store.ViolationRecord, error) {
	var (
		v          store.ViolationRecord
		reportedMs sql.NullInt64
		receivedMs int64
		evidence   sql.NullString
	)
	if err := sc.Scan(&v.Seq, &v.Kind, &reportedMs, &receivedMs, &evidence); err != nil {
		return store.ViolationRecord{}, err
	}
	v.ReportedAt = fromNullMs(reportedMs)
	v.ReceivedAt = fromMs(receivedMs)
	v.Evidence = evidence.String
	return v, nil
}

func fromMs(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func fromNullMs(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := fromMs(ms.Int64)
	return &t
}
