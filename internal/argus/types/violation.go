package types

// Violation kinds with a flagging rule attached. Any other non-empty kind is
// recorded without changing status.
const (
	KindFaceAbsent = "face-absent"
	KindTabSwitch  = "tab-switch"
)

type ViolationRequest struct {
	Kind       string `json:"kind"`
	Evidence   string `json:"evidence,omitempty"`
	ReportedAt string `json:"reported_at,omitempty"` // optional client timestamp, RFC3339
}

type ViolationResponse struct {
	Accepted  bool       `json:"accepted"`
	ExamID    string     `json:"exam_id"`
	Seq       int        `json:"seq"`
	Status    ExamStatus `json:"status"`
	Duplicate bool       `json:"duplicate,omitempty"`
}

// LegacyProctorRequest is the body accepted on /exam/{id}/proctor.
type LegacyProctorRequest struct {
	ViolationType string `json:"violationType"`
	Screenshot    string `json:"screenshot,omitempty"`
	WebcamStream  string `json:"webcamStream,omitempty"`
	Count         int    `json:"count,omitempty"`
}
