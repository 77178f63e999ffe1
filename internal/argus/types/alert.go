package types

import "time"

type AlertType string

const (
	// AlertViolation is pushed for every accepted violation record.
	AlertViolation AlertType = "alert"
	// AlertStatus is pushed for every exam status transition.
	AlertStatus AlertType = "status"
)

// Alert is the notification the ledger hands to the relay and the relay
// hands to monitors.
type Alert struct {
	Type          AlertType  `json:"type"`
	ExamSessionID string     `json:"examSessionId"`
	Kind          string     `json:"kind,omitempty"`
	Evidence      string     `json:"evidence,omitempty"`
	Seq           int        `json:"seq,omitempty"`
	Status        ExamStatus `json:"status,omitempty"`
	PrevStatus    ExamStatus `json:"prevStatus,omitempty"`
	At            time.Time  `json:"at"`
}
