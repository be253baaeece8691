package model

import (
	"time"

	"github.com/google/uuid"
)

// AttemptStatus enumerates exam attempt states.
type AttemptStatus string

const (
	AttemptStatusStarted    AttemptStatus = "STARTED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
	AttemptStatusTerminated AttemptStatus = "TERMINATED"
)

// Terminal reports whether the status is final. Terminal attempts are
// immutable; any transition against them is a no-op.
func (s AttemptStatus) Terminal() bool {
	return s == AttemptStatusCompleted || s == AttemptStatusTerminated
}

// ExamAttempt is one attempt instance, owned by the attempt state machine.
// Legal transitions: STARTED → IN_PROGRESS → {COMPLETED, TERMINATED};
// submitting straight from STARTED is also allowed (client never called begin).
type ExamAttempt struct {
	ID                uuid.UUID     `json:"id"`
	UserExamID        uuid.UUID     `json:"user_exam_id"`
	AttemptNumber     int           `json:"attempt_number"`
	Status            AttemptStatus `json:"status"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Marks             *float64      `json:"marks,omitempty"`
	TimeSpentSeconds  *int          `json:"time_spent_seconds,omitempty"`
	TerminationReason *string       `json:"termination_reason,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
}

// AttemptResponse is one scored answer record, written once as a batch
// alongside the attempt's COMPLETED transition and never mutated.
// IsCorrect and Score are snapshots computed at submission time.
type AttemptResponse struct {
	UserExamID uuid.UUID `json:"user_exam_id"`
	AttemptID  uuid.UUID `json:"attempt_id"`
	QuestionID uuid.UUID `json:"question_id"`
	OptionID   *string   `json:"option_id,omitempty"`
	IsCorrect  bool      `json:"is_correct"`
	Score      float64   `json:"score"`
}

// AnswerInput is one submitted answer. A nil OptionID means the question
// was left unanswered.
type AnswerInput struct {
	QuestionID uuid.UUID `json:"question_id" binding:"required"`
	OptionID   *string   `json:"option_id"`
}

// SubmitAttemptRequest is the payload for submitting an attempt.
type SubmitAttemptRequest struct {
	Answers          []AnswerInput `json:"answers" binding:"dive"`
	TimeSpentSeconds *int          `json:"time_spent_seconds" binding:"omitempty,min=0"`
}

// TerminateAttemptRequest is the payload for an explicit termination.
type TerminateAttemptRequest struct {
	Reason string `json:"reason" binding:"required,min=1,max=255"`
}
