package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Argus/internal/argus/store"
	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/db"
)

// ── CreateExam / GetExam ────────────────────────────────────────────────────

func TestExamStore_CreateAndGet_RoundTrip(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")

	rec, err := es.GetExam(context.Background(), "exam-1")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}

	if rec.StudentID != "student-1" {
		t.Errorf("expected student_id=student-1, got %q", rec.StudentID)
	}
	if rec.Status != types.StatusActive {
		t.Errorf("expected status=active, got %q", rec.Status)
	}
	if len(rec.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(rec.Questions))
	}
	if rec.Questions[0].Prompt != "What is the capital of France?" {
		t.Errorf("unexpected first question %q", rec.Questions[0].Prompt)
	}
	if len(rec.Questions[1].Options) != 4 {
		t.Errorf("expected 4 options, got %v", rec.Questions[1].Options)
	}
	if !rec.StartedAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected started_at %v", rec.StartedAt)
	}
}

func TestExamStore_GetExam_Unknown(t *testing.T) {
	es, _ := newTestStore(t)

	_, err := es.GetExam(context.Background(), "nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExamStore_QuestionBank_FromSeed(t *testing.T) {
	es, conn := newTestStore(t)
	if err := db.SeedDev(context.Background(), conn); err != nil {
		t.Fatalf("SeedDev: %v", err)
	}

	bank, err := es.QuestionBank(context.Background())
	if err != nil {
		t.Fatalf("QuestionBank: %v", err)
	}
	if len(bank) != 2 || bank[1].Answer != "4" {
		t.Fatalf("unexpected bank: %+v", bank)
	}
}

// ── AppendViolation ─────────────────────────────────────────────────────────

func TestExamStore_AppendViolation_AssignsSeqInArrivalOrder(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	kinds := []string{"tab-switch", "noise", "tab-switch"}
	for i, k := range kinds {
		res, err := es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: k}, keepStatus)
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if res.Record.Seq != i+1 {
			t.Errorf("expected seq=%d, got %d", i+1, res.Record.Seq)
		}
	}

	rec, err := es.GetExam(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if len(rec.Violations) != 3 {
		t.Fatalf("expected 3 violations, got %d", len(rec.Violations))
	}
	for i, v := range rec.Violations {
		if v.Kind != kinds[i] {
			t.Errorf("violation %d: expected kind %q, got %q", i, kinds[i], v.Kind)
		}
	}
}

func TestExamStore_AppendViolation_TallyCountsKind(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	var last store.Tally
	capture := func(t store.Tally) types.ExamStatus {
		last = t
		return t.Status
	}

	_, _ = es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "tab-switch"}, capture)
	_, _ = es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "noise"}, capture)
	_, err := es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "tab-switch"}, capture)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if last.KindCount != 2 {
		t.Errorf("expected kind count 2, got %d", last.KindCount)
	}
	if last.Total != 3 {
		t.Errorf("expected total 3, got %d", last.Total)
	}
	if last.Status != types.StatusActive {
		t.Errorf("expected status active, got %q", last.Status)
	}
}

func TestExamStore_AppendViolation_PersistsDecidedStatus(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	flag := func(store.Tally) types.ExamStatus { return types.StatusFlagged }
	res, err := es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "face-absent"}, flag)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if res.PrevStatus != types.StatusActive || res.Status != types.StatusFlagged {
		t.Fatalf("unexpected transition %s -> %s", res.PrevStatus, res.Status)
	}

	rec, err := es.GetExam(ctx, "exam-1")
	if err != nil {
		t.Fatalf("GetExam: %v", err)
	}
	if rec.Status != types.StatusFlagged {
		t.Errorf("expected persisted status flagged, got %q", rec.Status)
	}
	if rec.FlaggedAt == nil {
		t.Error("expected flagged_at to be set")
	}
}

func TestExamStore_AppendViolation_ColumnsCorrect(t *testing.T) {
	es, conn := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	received := time.Date(2026, 3, 1, 9, 5, 0, 0, time.UTC)
	reported := received.Add(-2 * time.Second)
	_, err := es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{
		Kind:       "face-absent",
		ReportedAt: &reported,
		ReceivedAt: received,
		Evidence:   "data:image/jpeg;base64,AAAA",
	}, keepStatus)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	var (
		kind       string
		receivedMs int64
		reportedMs int64
		evidence   string
	)
	err = conn.QueryRowContext(ctx, `
SELECT kind, received_at_ms, reported_at_ms, evidence
FROM violations WHERE exam_id = ?`, "exam-1",
	).Scan(&kind, &receivedMs, &reportedMs, &evidence)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if kind != "face-absent" {
		t.Errorf("expected kind face-absent, got %q", kind)
	}
	if receivedMs != received.UnixMilli() {
		t.Errorf("expected received_at_ms=%d, got %d", received.UnixMilli(), receivedMs)
	}
	if reportedMs != reported.UnixMilli() {
		t.Errorf("expected reported_at_ms=%d, got %d", reported.UnixMilli(), reportedMs)
	}
	if evidence != "data:image/jpeg;base64,AAAA" {
		t.Errorf("unexpected evidence %q", evidence)
	}
}

func TestExamStore_AppendViolation_CompletedIsClosed(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	_, _, err := es.TransitionStatus(ctx, "exam-1", time.Time{}, func(types.ExamStatus) (types.ExamStatus, error) {
		return types.StatusCompleted, nil
	})
	if err != nil {
		t.Fatalf("TransitionStatus: %v", err)
	}

	_, err = es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "tab-switch"}, keepStatus)
	if !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	rec, _ := es.GetExam(ctx, "exam-1")
	if len(rec.Violations) != 0 {
		t.Errorf("closed exam must not gain records, got %d", len(rec.Violations))
	}
}

func TestExamStore_AppendViolation_FlaggedStillAccepts(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	flag := func(store.Tally) types.ExamStatus { return types.StatusFlagged }
	if _, err := es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "face-absent"}, flag); err != nil {
		t.Fatalf("first append: %v", err)
	}
	res, err := es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "tab-switch"}, keepStatus)
	if err != nil {
		t.Fatalf("append on flagged exam: %v", err)
	}
	if res.Record.Seq != 2 {
		t.Errorf("expected seq 2, got %d", res.Record.Seq)
	}
}

func TestExamStore_AppendViolation_UnknownExam(t *testing.T) {
	es, _ := newTestStore(t)

	_, err := es.AppendViolation(context.Background(), "ghost", "", store.ViolationRecord{Kind: "tab-switch"}, keepStatus)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExamStore_AppendViolation_DuplicateKey(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	calls := 0
	counting := func(t store.Tally) types.ExamStatus {
		calls++
		return t.Status
	}

	first, err := es.AppendViolation(ctx, "exam-1", "evt-1", store.ViolationRecord{Kind: "tab-switch"}, counting)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := es.AppendViolation(ctx, "exam-1", "evt-1", store.ViolationRecord{Kind: "tab-switch"}, counting)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if !second.Duplicate {
		t.Error("expected duplicate=true on retry")
	}
	if second.Record.Seq != first.Record.Seq {
		t.Errorf("expected original seq %d, got %d", first.Record.Seq, second.Record.Seq)
	}
	if calls != 1 {
		t.Errorf("policy must run once, ran %d times", calls)
	}

	rec, _ := es.GetExam(ctx, "exam-1")
	if len(rec.Violations) != 1 {
		t.Errorf("expected 1 stored violation, got %d", len(rec.Violations))
	}
}

// ── AppendAnswer ────────────────────────────────────────────────────────────

func TestExamStore_AppendAnswer(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	if err := es.AppendAnswer(ctx, "exam-1", store.AnswerRecord{QuestionID: 1, Answer: "Paris"}); err != nil {
		t.Fatalf("AppendAnswer: %v", err)
	}

	flag := func(store.Tally) types.ExamStatus { return types.StatusFlagged }
	if _, err := es.AppendViolation(ctx, "exam-1", "", store.ViolationRecord{Kind: "face-absent"}, flag); err != nil {
		t.Fatalf("flag: %v", err)
	}

	err := es.AppendAnswer(ctx, "exam-1", store.AnswerRecord{QuestionID: 2, Answer: "4"})
	if !errors.Is(err, store.ErrClosed) {
		t.Fatalf("expected ErrClosed on flagged exam, got %v", err)
	}

	rec, _ := es.GetExam(ctx, "exam-1")
	if len(rec.Answers) != 1 || rec.Answers[0].Answer != "Paris" {
		t.Errorf("unexpected answers %+v", rec.Answers)
	}
}

// ── TransitionStatus / List ─────────────────────────────────────────────────

func TestExamStore_TransitionStatus_RejectedLeavesStatus(t *testing.T) {
	es, _ := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	reject := errors.New("nope")
	prev, next, err := es.TransitionStatus(ctx, "exam-1", time.Time{}, func(types.ExamStatus) (types.ExamStatus, error) {
		return "", reject
	})
	if !errors.Is(err, reject) {
		t.Fatalf("expected reject error, got %v", err)
	}
	if prev != types.StatusActive || next != types.StatusActive {
		t.Errorf("unexpected %s -> %s", prev, next)
	}
}

func TestExamStore_ListExamsByStatus(t *testing.T) {
	es, _ := newTestStore(t)
	ctx := context.Background()
	seedExam(t, es, "exam-a")
	seedExam(t, es, "exam-b")
	seedExam(t, es, "exam-c")

	flag := func(store.Tally) types.ExamStatus { return types.StatusFlagged }
	if _, err := es.AppendViolation(ctx, "exam-b", "", store.ViolationRecord{Kind: "face-absent"}, flag); err != nil {
		t.Fatalf("flag: %v", err)
	}

	active, err := es.ListExamsByStatus(ctx, types.StatusActive)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("expected 2 active, got %d", len(active))
	}

	flagged, err := es.ListExamsByStatus(ctx, types.StatusFlagged)
	if err != nil {
		t.Fatalf("list flagged: %v", err)
	}
	if len(flagged) != 1 || flagged[0].ID != "exam-b" {
		t.Fatalf("unexpected flagged list %+v", flagged)
	}
	if len(flagged[0].Violations) != 1 {
		t.Errorf("expected history to be loaded with the list")
	}
}

// ── PruneKeysOlderThan ──────────────────────────────────────────────────────

func TestExamStore_PruneKeys_KeepsRecords(t *testing.T) {
	es, conn := newTestStore(t)
	seedExam(t, es, "exam-1")
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -10)
	recent := time.Now().UTC().Add(-time.Hour)
	if _, err := es.AppendViolation(ctx, "exam-1", "old", store.ViolationRecord{Kind: "tab-switch", ReceivedAt: old}, keepStatus); err != nil {
		t.Fatalf("append old: %v", err)
	}
	if _, err := es.AppendViolation(ctx, "exam-1", "new", store.ViolationRecord{Kind: "tab-switch", ReceivedAt: recent}, keepStatus); err != nil {
		t.Fatalf("append recent: %v", err)
	}

	deleted, err := es.PruneKeysOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("PruneKeysOlderThan: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 key pruned, got %d", deleted)
	}

	var n int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM violations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Errorf("violation records must survive pruning, got %d", n)
	}
}
