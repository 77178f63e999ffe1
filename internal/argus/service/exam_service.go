package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

var (
	ErrNotFound      = store.ErrNotFound
	ErrClosed        = store.ErrClosed
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidExamID = errors.New("exam id is required")
	ErrInvalidKind   = errors.New("violation kind is required")
)

// Notifier receives every accepted violation and every status transition.
// Delivery is advisory: a failing Notifier never fails the ledger write.
type Notifier interface {
	Notify(ctx context.Context, examID string, a types.Alert) error
}

type Dependencies struct {
	Store    store.ExamStore
	Policy   FlagPolicy
	Notifier Notifier // optional
	Logger   *log.Logger
}

// ExamService is the ledger: the single authority on an exam's answers,
// violation history and flag state.
type ExamService struct {
	store    store.ExamStore
	policy   FlagPolicy
	notifier Notifier
	logger   *log.Logger
	now      func() time.Time
	newID    func() string
}

func NewExamService(d Dependencies) *ExamService {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &ExamService{
		store:    d.Store,
		policy:   d.Policy,
		notifier: d.Notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

// Start snapshots the question bank into a new active exam owned by caller.
func (s *ExamService) Start(ctx context.Context, caller types.Caller) (types.ExamSession, error) {
	if caller.Role != types.RoleStudent || strings.TrimSpace(caller.ID) == "" {
		return types.ExamSession{}, ErrForbidden
	}

	bank, err := s.store.QuestionBank(ctx)
	if err != nil {
		return types.ExamSession{}, fmt.Errorf("Start: %w", err)
	}

	rec := store.ExamRecord{
		ID:        s.newID(),
		StudentID: caller.ID,
		Status:    types.StatusActive,
		StartedAt: s.now(),
		Questions: bank,
	}
	if err := s.store.CreateExam(ctx, rec); err != nil {
		return types.ExamSession{}, fmt.Errorf("Start: %w", err)
	}

	s.logger.Printf("exam %s started by %s (%d questions)", rec.ID, caller.ID, len(bank))
	return toSession(rec), nil
}

// Get returns the full session, history included. Monitors call this on
// connect since the relay never replays.
func (s *ExamService) Get(ctx context.Context, caller types.Caller, examID string) (types.ExamSession, error) {
	rec, err := s.load(ctx, caller, examID)
	if err != nil {
		return types.ExamSession{}, err
	}
	return toSession(rec), nil
}

func (s *ExamService) SubmitAnswer(ctx context.Context, caller types.Caller, examID string, req types.AnswerRequest) error {
	if caller.Role != types.RoleStudent {
		return ErrForbidden
	}
	if _, err := s.load(ctx, caller, examID); err != nil {
		return err
	}
	return s.store.AppendAnswer(ctx, examID, store.AnswerRecord{
		QuestionID:  req.QuestionID,
		Answer:      req.Answer,
		SubmittedAt: s.now(),
	})
}

// Complete ends the caller's own exam. Only an active exam can be completed
// by its student; a flagged one is left for an administrator.
func (s *ExamService) Complete(ctx context.Context, caller types.Caller, examID string) (types.StatusResponse, error) {
	if caller.Role != types.RoleStudent {
		return types.StatusResponse{}, ErrForbidden
	}
	if _, err := s.load(ctx, caller, examID); err != nil {
		return types.StatusResponse{}, err
	}

	return s.transition(ctx, examID, func(cur types.ExamStatus) (types.ExamStatus, error) {
		switch cur {
		case types.StatusActive, types.StatusCompleted:
			return types.StatusCompleted, nil
		default:
			return cur, ErrClosed
		}
	})
}

// Record appends one violation and applies the flag policy. A non-empty
// idemKey already seen for this exam returns the original acceptance without
// appending, re-evaluating or notifying.
func (s *ExamService) Record(
	ctx context.Context,
	caller types.Caller,
	examID, idemKey string,
	req types.ViolationRequest,
) (types.ViolationResponse, error) {
	examID = strings.TrimSpace(examID)
	kind := strings.TrimSpace(req.Kind)
	if examID == "" {
		return types.ViolationResponse{}, ErrInvalidExamID
	}
	if kind == "" {
		return types.ViolationResponse{}, ErrInvalidKind
	}
	if caller.Role != types.RoleStudent && !caller.IsAdmin() {
		return types.ViolationResponse{}, ErrForbidden
	}
	if _, err := s.load(ctx, caller, examID); err != nil {
		return types.ViolationResponse{}, err
	}

	rec := store.ViolationRecord{
		Kind:       kind,
		ReportedAt: parseOptionalTimestamp(req.ReportedAt),
		ReceivedAt: s.now(),
		Evidence:   req.Evidence,
	}

	res, err := s.store.AppendViolation(ctx, examID, strings.TrimSpace(idemKey), rec, s.policy.Decide)
	if err != nil {
		return types.ViolationResponse{}, err
	}

	if !res.Duplicate {
		s.notify(ctx, examID, types.Alert{
			Type:          types.AlertViolation,
			ExamSessionID: examID,
			Kind:          res.Record.Kind,
			Evidence:      res.Record.Evidence,
			Seq:           res.Record.Seq,
			Status:        res.Status,
			At:            res.Record.ReceivedAt,
		})
		if res.Status != res.PrevStatus {
			s.logger.Printf("exam %s %s -> %s after %s #%d", examID, res.PrevStatus, res.Status, kind, res.Record.Seq)
			s.notifyStatus(ctx, examID, res.PrevStatus, res.Status, res.Record.ReceivedAt)
		}
	}

	return types.ViolationResponse{
		Accepted:  true,
		ExamID:    examID,
		Seq:       res.Record.Seq,
		Status:    res.Status,
		Duplicate: res.Duplicate,
	}, nil
}

// ClearFlag moves a flagged exam back to active, keeping its history.
func (s *ExamService) ClearFlag(ctx context.Context, caller types.Caller, examID string) (types.StatusResponse, error) {
	if !caller.IsAdmin() {
		return types.StatusResponse{}, ErrForbidden
	}
	return s.transition(ctx, examID, func(cur types.ExamStatus) (types.ExamStatus, error) {
		switch cur {
		case types.StatusFlagged, types.StatusActive:
			return types.StatusActive, nil
		default:
			return cur, ErrClosed
		}
	})
}

// Terminate forces an exam to completed regardless of its current status.
func (s *ExamService) Terminate(ctx context.Context, caller types.Caller, examID string) (types.StatusResponse, error) {
	if !caller.IsAdmin() {
		return types.StatusResponse{}, ErrForbidden
	}
	return s.transition(ctx, examID, func(types.ExamStatus) (types.ExamStatus, error) {
		return types.StatusCompleted, nil
	})
}

func (s *ExamService) ListActive(ctx context.Context, caller types.Caller) ([]types.ExamSession, error) {
	return s.list(ctx, caller, types.StatusActive)
}

func (s *ExamService) ListFlagged(ctx context.Context, caller types.Caller) ([]types.ExamSession, error) {
	return s.list(ctx, caller, types.StatusFlagged)
}

func (s *ExamService) list(ctx context.Context, caller types.Caller, status types.ExamStatus) ([]types.ExamSession, error) {
	if !caller.IsAdmin() {
		return nil, ErrForbidden
	}
	recs, err := s.store.ListExamsByStatus(ctx, status)
	if err != nil {
		return nil, err
	}
	out := make([]types.ExamSession, 0, len(recs))
	for _, r := range recs {
		out = append(out, toSession(r))
	}
	return out, nil
}

// load fetches examID and enforces ownership: a student only sees their own
// exams and gets ErrNotFound for anyone else's.
func (s *ExamService) load(ctx context.Context, caller types.Caller, examID string) (store.ExamRecord, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return store.ExamRecord{}, ErrInvalidExamID
	}
	rec, err := s.store.GetExam(ctx, examID)
	if err != nil {
		return store.ExamRecord{}, err
	}
	if !caller.IsAdmin() && rec.StudentID != caller.ID {
		return store.ExamRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *ExamService) transition(ctx context.Context, examID string, fn store.TransitionFunc) (types.StatusResponse, error) {
	examID = strings.TrimSpace(examID)
	if examID == "" {
		return types.StatusResponse{}, ErrInvalidExamID
	}

	at := s.now()
	prev, next, err := s.store.TransitionStatus(ctx, examID, at, fn)
	if err != nil {
		return types.StatusResponse{}, err
	}
	if prev != next {
		s.logger.Printf("exam %s %s -> %s", examID, prev, next)
		s.notifyStatus(ctx, examID, prev, next, at)
	}
	return types.StatusResponse{OK: true, ExamID: examID, Status: next}, nil
}

func (s *ExamService) notifyStatus(ctx context.Context, examID string, prev, next types.ExamStatus, at time.Time) {
	s.notify(ctx, examID, types.Alert{
		Type:          types.AlertStatus,
		ExamSessionID: examID,
		Status:        next,
		PrevStatus:    prev,
		At:            at,
	})
}

// notify hands a to the Notifier. Errors are logged, never returned: the
// ledger write has already committed.
func (s *ExamService) notify(ctx context.Context, examID string, a types.Alert) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, examID, a); err != nil {
		s.logger.Printf("notify exam %s (%s): %v", examID, a.Type, err)
	}
}

func toSession(r store.ExamRecord) types.ExamSession {
	out := types.ExamSession{
		ID:             r.ID,
		StudentID:      r.StudentID,
		Status:         r.Status,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		FlaggedAt:      r.FlaggedAt,
		Questions:      make([]types.Question, 0, len(r.Questions)),
		Answers:        make([]types.Answer, 0, len(r.Answers)),
		Violations:     make([]types.Violation, 0, len(r.Violations)),
		ViolationCount: len(r.Violations),
	}
	for _, q := range r.Questions {
		out.Questions = append(out.Questions, types.Question{ID: q.ID, Prompt: q.Prompt, Options: q.Options})
	}
	for _, a := range r.Answers {
		out.Answers = append(out.Answers, types.Answer{QuestionID: a.QuestionID, Answer: a.Answer, SubmittedAt: a.SubmittedAt})
	}
	for _, v := range r.Violations {
		out.Violations = append(out.Violations, types.Violation{
			Seq:        v.Seq,
			Kind:       v.Kind,
			ReportedAt: v.ReportedAt,
			ReceivedAt: v.ReceivedAt,
			Evidence:   v.Evidence,
		})
	}
	return out
}

// parseOptionalTimestamp parses a client-reported timestamp. Empty or
// unparseable input yields nil; the server receive time is authoritative.
func parseOptionalTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			u := t.UTC()
			return &u
		}
	}
	return nil
}
