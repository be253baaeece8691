package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/examly/examportal-backend/internal/model"
)

// AttemptRepository handles exam attempt data access. Status transitions
// are guarded UPDATEs keyed on the current status, so every write against
// a terminal row is a 0-row no-op rather than an overwrite.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByID retrieves one attempt.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a := &model.ExamAttempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_exam_id, attempt_number, status, started_at, completed_at,
		        marks, time_spent_seconds, termination_reason, created_at
		 FROM exam_attempts
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.UserExamID, &a.AttemptNumber, &a.Status, &a.StartedAt, &a.CompletedAt,
		&a.Marks, &a.TimeSpentSeconds, &a.TerminationReason, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Insert creates a new STARTED attempt row and fills in its generated ID.
func (r *AttemptRepository) Insert(ctx context.Context, a *model.ExamAttempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (user_exam_id, attempt_number, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		a.UserExamID, a.AttemptNumber, model.AttemptStatusStarted,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert attempt: %w", err)
	}
	a.Status = model.AttemptStatusStarted
	return nil
}

// MarkInProgress transitions STARTED → IN_PROGRESS, setting started_at.
// Returns false without error when the attempt was not in STARTED, so a
// retried begin call never resets the start time.
func (r *AttemptRepository) MarkInProgress(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, started_at = $2
		 WHERE id = $3 AND status = $4`,
		model.AttemptStatusInProgress, startedAt, id, model.AttemptStatusStarted)
	if err != nil {
		return false, fmt.Errorf("mark in progress: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Complete writes the terminal COMPLETED status with marks and the full
// response batch in a single transaction. Returns false when the attempt
// was already terminal; in that case nothing is written.
func (r *AttemptRepository) Complete(ctx context.Context, id uuid.UUID, marks float64, timeSpent *int, responses []model.AttemptResponse) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	tag, err := tx.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, marks = $2, completed_at = $3, time_spent_seconds = $4
		 WHERE id = $5 AND status IN ($6, $7)`,
		model.AttemptStatusCompleted, marks, now, timeSpent, id,
		model.AttemptStatusStarted, model.AttemptStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("complete attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if len(responses) > 0 {
		rows := make([][]interface{}, 0, len(responses))
		for _, resp := range responses {
			rows = append(rows, []interface{}{
				resp.UserExamID, resp.AttemptID, resp.QuestionID,
				resp.OptionID, resp.IsCorrect, resp.Score,
			})
		}
		if _, err := tx.CopyFrom(
			ctx,
			pgx.Identifier{"attempt_responses"},
			[]string{"user_exam_id", "attempt_id", "question_id", "option_id", "is_correct", "score"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return false, fmt.Errorf("insert responses: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// Terminate writes the terminal TERMINATED status. Terminated attempts
// carry marks = 0, never NULL, so downstream aggregates count them as
// scored zero. Returns false when the attempt was already terminal.
func (r *AttemptRepository) Terminate(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET status = $1, marks = 0, completed_at = $2, termination_reason = $3
		 WHERE id = $4 AND status IN ($5, $6)`,
		model.AttemptStatusTerminated, time.Now(), reason, id,
		model.AttemptStatusStarted, model.AttemptStatusInProgress)
	if err != nil {
		return false, fmt.Errorf("terminate attempt: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListResponses retrieves the response rows of one attempt.
func (r *AttemptRepository) ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.AttemptResponse, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_exam_id, attempt_id, question_id, option_id, is_correct, score
		 FROM attempt_responses
		 WHERE attempt_id = $1`, attemptID,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var responses []model.AttemptResponse
	for rows.Next() {
		var resp model.AttemptResponse
		if err := rows.Scan(&resp.UserExamID, &resp.AttemptID, &resp.QuestionID,
			&resp.OptionID, &resp.IsCorrect, &resp.Score); err != nil {
			return nil, err
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
