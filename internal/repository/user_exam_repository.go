package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/examly/examportal-backend/internal/model"
)

// UserExamRepository handles user-exam assignment data access.
type UserExamRepository struct {
	pool *pgxpool.Pool
}

// NewUserExamRepository creates a new UserExamRepository.
func NewUserExamRepository(pool *pgxpool.Pool) *UserExamRepository {
	return &UserExamRepository{pool: pool}
}

// GetByID retrieves one assignment by its ID.
func (r *UserExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.UserExam, error) {
	u := &model.UserExam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, exam_id, attempts, max_attempts, created_at, updated_at
		 FROM user_exams
		 WHERE id = $1`, id,
	).Scan(&u.ID, &u.UserID, &u.ExamID, &u.Attempts, &u.MaxAttempts, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user_exam: %w", err)
	}
	return u, nil
}

// FindByUserAndExam retrieves the assignment of an exam to a user.
func (r *UserExamRepository) FindByUserAndExam(ctx context.Context, userID int, examID uuid.UUID) (*model.UserExam, error) {
	u := &model.UserExam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, exam_id, attempts, max_attempts, created_at, updated_at
		 FROM user_exams
		 WHERE user_id = $1 AND exam_id = $2`, userID, examID,
	).Scan(&u.ID, &u.UserID, &u.ExamID, &u.Attempts, &u.MaxAttempts, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user_exam: %w", err)
	}
	return u, nil
}

// ReserveAttempt atomically increments the attempt counter while it is
// below the quota, returning the new count (which doubles as the 1-based
// attempt number). The guard and the increment are one statement, so
// concurrent creations for the same assignment cannot both slip past a
// stale read of the counter.
func (r *UserExamRepository) ReserveAttempt(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx,
		`UPDATE user_exams
		 SET attempts = attempts + 1, updated_at = NOW()
		 WHERE id = $1 AND attempts < max_attempts
		 RETURNING attempts`, id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		// Zero rows: either the assignment is missing or the quota is
		// spent. A follow-up read tells the two apart.
		var exists bool
		if probeErr := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM user_exams WHERE id = $1)`, id,
		).Scan(&exists); probeErr != nil {
			return 0, fmt.Errorf("probe user_exam: %w", probeErr)
		}
		if !exists {
			return 0, ErrNotFound
		}
		return 0, ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("reserve attempt: %w", err)
	}
	return attempts, nil
}
