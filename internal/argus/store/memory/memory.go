package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
)

type keyEntry struct {
	seq        int
	receivedAt time.Time
}

// Store is an in-memory ExamStore for tests and dev. One mutex serializes
// every mutation, which is stronger than the per-exam ordering required.
type Store struct {
	mu    sync.RWMutex
	bank  []store.QuestionRecord
	exams map[string]*store.ExamRecord
	keys  map[string]map[string]keyEntry // exam id -> idempotency key
}

func New(bank []store.QuestionRecord) *Store {
	b := make([]store.QuestionRecord, len(bank))
	copy(b, bank)
	return &Store{
		bank:  b,
		exams: make(map[string]*store.ExamRecord),
		keys:  make(map[string]map[string]keyEntry),
	}
}

func (s *Store) QuestionBank(_ context.Context) ([]store.QuestionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneQuestions(s.bank), nil
}

func (s *Store) CreateExam(_ context.Context, rec store.ExamRecord) error {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		return fmt.Errorf("CreateExam: empty exam id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.exams[id]; exists {
		return fmt.Errorf("CreateExam: exam %s already exists", id)
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if rec.Status == "" {
		rec.Status = types.StatusActive
	}
	c := cloneExam(rec)
	s.exams[id] = &c
	return nil
}

func (s *Store) GetExam(_ context.Context, examID string) (store.ExamRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.exams[examID]
	if !ok {
		return store.ExamRecord{}, store.ErrNotFound
	}
	return cloneExam(*e), nil
}

func (s *Store) ListExamsByStatus(_ context.Context, status types.ExamStatus) ([]store.ExamRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.ExamRecord
	for _, e := range s.exams {
		if e.Status == status {
			out = append(out, cloneExam(*e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (s *Store) AppendAnswer(_ context.Context, examID string, ans store.AnswerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exams[examID]
	if !ok {
		return store.ErrNotFound
	}
	if e.Status != types.StatusActive {
		return store.ErrClosed
	}
	if ans.SubmittedAt.IsZero() {
		ans.SubmittedAt = time.Now().UTC()
	}
	e.Answers = append(e.Answers, ans)
	return nil
}

func (s *Store) AppendViolation(
	_ context.Context,
	examID, idemKey string,
	rec store.ViolationRecord,
	decide store.DecideFunc,
) (store.AppendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exams[examID]
	if !ok {
		return store.AppendResult{}, store.ErrNotFound
	}
	if e.Status == types.StatusCompleted {
		return store.AppendResult{}, store.ErrClosed
	}

	if idemKey != "" {
		if k, seen := s.keys[examID][idemKey]; seen {
			return store.AppendResult{
				Record:     e.Violations[k.seq-1],
				PrevStatus: e.Status,
				Status:     e.Status,
				Duplicate:  true,
			}, nil
		}
	}

	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	rec.Seq = len(e.Violations) + 1
	e.Violations = append(e.Violations, rec)

	if idemKey != "" {
		if s.keys[examID] == nil {
			s.keys[examID] = make(map[string]keyEntry)
		}
		s.keys[examID][idemKey] = keyEntry{seq: rec.Seq, receivedAt: rec.ReceivedAt}
	}

	tally := store.Tally{Status: e.Status, Kind: rec.Kind, Total: len(e.Violations)}
	for _, v := range e.Violations {
		if v.Kind == rec.Kind {
			tally.KindCount++
		}
	}

	prev := e.Status
	next := prev
	if decide != nil {
		next = decide(tally)
	}
	if next != prev {
		applyStatus(e, next, rec.ReceivedAt)
	}

	return store.AppendResult{Record: rec, PrevStatus: prev, Status: next}, nil
}

func (s *Store) TransitionStatus(
	_ context.Context,
	examID string,
	at time.Time,
	fn store.TransitionFunc,
) (types.ExamStatus, types.ExamStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exams[examID]
	if !ok {
		return "", "", store.ErrNotFound
	}
	prev := e.Status
	next, err := fn(prev)
	if err != nil {
		return prev, prev, err
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if next != prev {
		applyStatus(e, next, at)
	}
	return prev, next, nil
}

func (s *Store) PruneKeysOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for examID, keys := range s.keys {
		for k, v := range keys {
			if v.receivedAt.Before(cutoff) {
				delete(keys, k)
				n++
			}
		}
		if len(keys) == 0 {
			delete(s.keys, examID)
		}
	}
	return n, nil
}

func applyStatus(e *store.ExamRecord, next types.ExamStatus, at time.Time) {
	e.Status = next
	switch next {
	case types.StatusCompleted:
		t := at
		e.CompletedAt = &t
	case types.StatusFlagged:
		t := at
		e.FlaggedAt = &t
	case types.StatusActive:
		e.FlaggedAt = nil
	}
}

func cloneExam(e store.ExamRecord) store.ExamRecord {
	c := e
	c.Questions = cloneQuestions(e.Questions)
	c.Answers = append([]store.AnswerRecord(nil), e.Answers...)
	c.Violations = append([]store.ViolationRecord(nil), e.Violations...)
	return c
}

func cloneQuestions(qs []store.QuestionRecord) []store.QuestionRecord {
	out := make([]store.QuestionRecord, len(qs))
	for i, q := range qs {
		q.Options = append([]string(nil), q.Options...)
		out[i] = q
	}
	return out
}
