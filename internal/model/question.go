package model

import (
	"github.com/google/uuid"
)

// Option is one answer choice of a question. Exam authoring guarantees
// exactly one option per question has Correct set.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct,omitempty"`
}

// Question represents a single exam question with its mark value.
type Question struct {
	ID           uuid.UUID `json:"id"`
	ExamID       uuid.UUID `json:"exam_id"`
	QuestionText string    `json:"question_text"`
	Options      []Option  `json:"options"`
	Mark         float64   `json:"mark"`
	OrderNum     int       `json:"order_num"`
}

// CorrectOption returns the question's single correct option, or nil if
// the authoring invariant was violated.
func (q *Question) CorrectOption() *Option {
	for i := range q.Options {
		if q.Options[i].Correct {
			return &q.Options[i]
		}
	}
	return nil
}
