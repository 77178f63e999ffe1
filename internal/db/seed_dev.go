package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SampleQuestion is one entry of the dev question bank.
type SampleQuestion struct {
	ID      int64
	Prompt  string
	Options []string
	Answer  string
}

// SampleQuestions is the demonstration bank every dev exam is started from.
var SampleQuestions = []SampleQuestion{
	{ID: 1, Prompt: "What is the capital of France?", Options: []string{"Paris", "London", "Berlin", "Madrid"}, Answer: "Paris"},
	{ID: 2, Prompt: "2 + 2 = ?", Options: []string{"3", "4", "5", "6"}, Answer: "4"},
}

// SeedDev inserts SampleQuestions into question_bank. Existing rows win.
func SeedDev(ctx context.Context, db *sql.DB) error {
	now := time.Now().UTC().UnixMilli()

	for _, q := range SampleQuestions {
		opts, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("seed question %d: %w", q.ID, err)
		}
		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO question_bank(question_id, prompt, options_json, answer, created_at_ms)
VALUES (?, ?, ?, ?, ?);`, q.ID, q.Prompt, string(opts), q.Answer, now); err != nil {
			return fmt.Errorf("seed question %d: %w", q.ID, err)
		}
	}
	return nil
}

// QuestionCount reports how many questions the bank holds. Only dev seeds
// the bank, so outside dev an empty bank means exams start with no
// questions.
func QuestionCount(ctx context.Context, db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM question_bank;`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count questions: %w", err)
	}
	return n, nil
}
