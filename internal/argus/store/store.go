package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var (
	// ErrNotFound is returned for an unknown exam id.
	ErrNotFound = errors.New("exam session not found")
	// ErrClosed is returned when mutating an exam that no longer accepts the write.
	ErrClosed = errors.New("exam session closed")
)

type QuestionRecord struct {
	ID      int64
	Prompt  string
	Options []string
	Answer  string
}

type AnswerRecord struct {
	QuestionID  int64
	Answer      string
	SubmittedAt time.Time
}

// ViolationRecord is immutable once appended. Seq is assigned by the store in
// arrival order and starts at 1 for each exam.
type ViolationRecord struct {
	Seq        int
	Kind       string
	ReportedAt *time.Time
	ReceivedAt time.Time
	Evidence   string
}

type ExamRecord struct {
	ID          string
	StudentID   string
	Status      types.ExamStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	FlaggedAt   *time.Time
	Questions   []QuestionRecord
	Answers     []AnswerRecord
	Violations  []ViolationRecord
}

// Tally is what the flag policy sees after an append: the exam's status
// before the append and how many records of the appended kind it now holds
// (the new record included).
type Tally struct {
	Status    types.ExamStatus
	Kind      string
	KindCount int
	Total     int
}

// DecideFunc maps a tally to the status the exam should have after the
// append. Returning tally.Status leaves the exam unchanged.
type DecideFunc func(Tally) types.ExamStatus

// TransitionFunc maps the current status to the next one, or rejects the
// transition with an error that is returned unchanged to the caller.
type TransitionFunc func(current types.ExamStatus) (types.ExamStatus, error)

// AppendResult describes the outcome of AppendViolation.
type AppendResult struct {
	Record     ViolationRecord
	PrevStatus types.ExamStatus
	Status     types.ExamStatus
	// Duplicate is set when the idempotency key was already recorded for
	// this exam; Record then holds the original record and nothing changed.
	Duplicate bool
}

type ExamStore interface {
	CreateExam(ctx context.Context, rec ExamRecord) error
	GetExam(ctx context.Context, examID string) (ExamRecord, error)
	ListExamsByStatus(ctx context.Context, status types.ExamStatus) ([]ExamRecord, error)
	QuestionBank(ctx context.Context) ([]QuestionRecord, error)

	// AppendAnswer fails with ErrClosed unless the exam is active.
	AppendAnswer(ctx context.Context, examID string, ans AnswerRecord) error

	// AppendViolation appends rec, counts, applies decide and persists the
	// resulting status as one serialized unit. It fails with ErrClosed for a
	// completed exam. idemKey may be empty.
	AppendViolation(ctx context.Context, examID, idemKey string, rec ViolationRecord, decide DecideFunc) (AppendResult, error)

	// TransitionStatus applies fn to the current status under the same
	// serialization as AppendViolation and returns the previous and new status.
	TransitionStatus(ctx context.Context, examID string, at time.Time, fn TransitionFunc) (prev, next types.ExamStatus, err error)

	// PruneKeysOlderThan forgets idempotency keys received before cutoff.
	// Violation records are never pruned.
	PruneKeysOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
