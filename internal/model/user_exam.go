package model

import (
	"time"

	"github.com/google/uuid"
)

// UserExam is the assignment of one exam to one user. Attempts is a
// monotonic counter mutated only through the attempt state machine and
// must never exceed MaxAttempts.
type UserExam struct {
	ID          uuid.UUID `json:"id"`
	UserID      int       `json:"user_id"`
	ExamID      uuid.UUID `json:"exam_id"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AttemptsRemaining reports how many attempts the user still has.
func (u *UserExam) AttemptsRemaining() int {
	rem := u.MaxAttempts - u.Attempts
	if rem < 0 {
		return 0
	}
	return rem
}
