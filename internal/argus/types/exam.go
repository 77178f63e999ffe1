package types

import "time"

type ExamStatus string

const (
	StatusActive    ExamStatus = "active"
	StatusCompleted ExamStatus = "completed"
	StatusFlagged   ExamStatus = "flagged"
)

func (s ExamStatus) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusFlagged:
		return true
	}
	return false
}

// Question is the examinee-facing snapshot of a bank question. The correct
// answer is never serialized.
type Question struct {
	ID      int64    `json:"id"`
	Prompt  string   `json:"question"`
	Options []string `json:"options"`
}

type Answer struct {
	QuestionID  int64     `json:"question_id"`
	Answer      string    `json:"answer"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Violation struct {
	Seq        int        `json:"seq"`
	Kind       string     `json:"kind"`
	ReportedAt *time.Time `json:"reported_at,omitempty"`
	ReceivedAt time.Time  `json:"received_at"`
	Evidence   string     `json:"evidence,omitempty"`
}

type ExamSession struct {
	ID             string      `json:"id"`
	StudentID      string      `json:"student_id"`
	Status         ExamStatus  `json:"status"`
	StartedAt      time.Time   `json:"started_at"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	FlaggedAt      *time.Time  `json:"flagged_at,omitempty"`
	Questions      []Question  `json:"questions"`
	Answers        []Answer    `json:"answers"`
	Violations     []Violation `json:"violations"`
	ViolationCount int         `json:"violation_count"`
}

type StartExamResponse struct {
	Exam ExamSession `json:"exam"`
}

type ExamListResponse struct {
	Exams []ExamSession `json:"exams"`
}

type AnswerRequest struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
}

// StatusResponse answers the admin and completion endpoints.
type StatusResponse struct {
	OK     bool       `json:"ok"`
	ExamID string     `json:"exam_id"`
	Status ExamStatus `json:"status"`
}
