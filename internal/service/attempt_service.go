package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/model"
	"github.com/examly/examportal-backend/internal/repository"
	"github.com/examly/examportal-backend/internal/scoring"
)

// UserExamStore is the durable assignment store consumed by the state
// machine. Implemented by repository.UserExamRepository.
type UserExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.UserExam, error)
	FindByUserAndExam(ctx context.Context, userID int, examID uuid.UUID) (*model.UserExam, error)
	ReserveAttempt(ctx context.Context, id uuid.UUID) (int, error)
}

// AttemptStore is the durable attempt store. All transition methods are
// conditional on the current status and report whether they applied.
// Implemented by repository.AttemptRepository.
type AttemptStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamAttempt, error)
	Insert(ctx context.Context, a *model.ExamAttempt) error
	MarkInProgress(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, marks float64, timeSpent *int, responses []model.AttemptResponse) (bool, error)
	Terminate(ctx context.Context, id uuid.UUID, reason string) (bool, error)
	ListResponses(ctx context.Context, attemptID uuid.UUID) ([]model.AttemptResponse, error)
}

// QuestionStore provides the question data the scoring engine needs.
// Implemented by repository.QuestionRepository.
type QuestionStore interface {
	ListByExam(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SessionTracker is the ephemeral-session side the state machine talks
// to. Implemented by ProctorTracker.
type SessionTracker interface {
	CreateSession(ctx context.Context, examID, attemptID uuid.UUID, meta model.SessionMeta) error
	Terminate(ctx context.Context, examID, attemptID uuid.UUID, reason string) (bool, error)
}

// AttemptService is the attempt state machine — the authoritative source
// of truth for whether an attempt is still gradeable. Legal transitions:
//
//	STARTED → IN_PROGRESS → {COMPLETED, TERMINATED}
//
// Terminal states are immutable. Transitions racing against an already
// terminal attempt are swallowed and logged, never surfaced as hard
// errors, because submissions legitimately race with reaper or unload
// terminations. Ephemeral-store failures never fail the durable path.
type AttemptService struct {
	userExams UserExamStore
	attempts  AttemptStore
	questions QuestionStore
	tracker   SessionTracker
	log       zerolog.Logger
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	userExams UserExamStore,
	attempts AttemptStore,
	questions QuestionStore,
	tracker SessionTracker,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		userExams: userExams,
		attempts:  attempts,
		questions: questions,
		tracker:   tracker,
		log:       log.With().Str("component", "attempt_service").Logger(),
	}
}

// CreateAttempt authorizes and creates a new STARTED attempt. The quota
// check and the counter increment are one atomic conditional update, so
// concurrent creations cannot exceed max_attempts. Fails with
// repository.ErrQuotaExceeded or repository.ErrNotFound.
func (s *AttemptService) CreateAttempt(ctx context.Context, userExamID uuid.UUID, userID int) (*model.ExamAttempt, error) {
	userExam, err := s.userExams.GetByID(ctx, userExamID)
	if err != nil {
		return nil, fmt.Errorf("get user_exam: %w", err)
	}
	// Ownership is reported as not-found so assignment IDs cannot be probed.
	if userExam.UserID != userID {
		return nil, fmt.Errorf("user_exam %s not owned by user %d: %w", userExamID, userID, repository.ErrNotFound)
	}

	attemptNumber, err := s.userExams.ReserveAttempt(ctx, userExamID)
	if err != nil {
		return nil, fmt.Errorf("reserve attempt: %w", err)
	}

	attempt := &model.ExamAttempt{
		UserExamID:    userExamID,
		AttemptNumber: attemptNumber,
	}
	if err := s.attempts.Insert(ctx, attempt); err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}

	s.log.Info().
		Str("user_exam_id", userExamID.String()).
		Str("attempt_id", attempt.ID.String()).
		Int("attempt_number", attemptNumber).
		Msg("Attempt created")
	return attempt, nil
}

// BeginAttempt transitions STARTED → IN_PROGRESS and opens the proctor
// session. A duplicate or retried begin is a no-op that keeps the
// original started_at. Begin against a terminal attempt is swallowed.
func (s *AttemptService) BeginAttempt(ctx context.Context, examID, attemptID uuid.UUID, meta model.SessionMeta) (*model.ExamAttempt, error) {
	attempt, userExam, err := s.loadAttempt(ctx, examID, attemptID)
	if err != nil {
		return nil, err
	}

	if attempt.Status.Terminal() {
		s.log.Debug().
			Str("attempt_id", attemptID.String()).
			Str("status", string(attempt.Status)).
			Msg("Begin against terminal attempt ignored")
		return attempt, nil
	}

	now := time.Now()
	applied, err := s.attempts.MarkInProgress(ctx, attemptID, now)
	if err != nil {
		return nil, fmt.Errorf("mark in progress: %w", err)
	}
	if applied {
		attempt.Status = model.AttemptStatusInProgress
		attempt.StartedAt = &now
	} else {
		// Retried begin or lost race; re-read what actually happened.
		attempt, err = s.attempts.GetByID(ctx, attemptID)
		if err != nil {
			return nil, fmt.Errorf("reload attempt: %w", err)
		}
		if attempt.Status.Terminal() {
			return attempt, nil
		}
	}

	// Proctoring is best-effort: a session-store failure must not fail
	// the durable transition.
	if err := s.tracker.CreateSession(ctx, userExam.ExamID, attemptID, meta); err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Proctor session creation failed")
	}

	return attempt, nil
}

// SubmitAttempt scores the answers and writes marks plus response rows in
// one atomic batch with the COMPLETED transition. Idempotent: submitting
// a terminal attempt returns the stored result without rescoring.
func (s *AttemptService) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, answers []model.AnswerInput, timeSpent *int) (*model.ExamAttempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status.Terminal() {
		s.log.Debug().
			Str("attempt_id", attemptID.String()).
			Str("status", string(attempt.Status)).
			Msg("Duplicate submit ignored")
		return attempt, nil
	}

	userExam, err := s.userExams.GetByID(ctx, attempt.UserExamID)
	if err != nil {
		return nil, fmt.Errorf("get user_exam: %w", err)
	}

	questions, err := s.questions.ListByExam(ctx, userExam.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	total, responses := scoring.Score(questions, answers)
	for i := range responses {
		responses[i].UserExamID = attempt.UserExamID
		responses[i].AttemptID = attemptID
	}

	applied, err := s.attempts.Complete(ctx, attemptID, total, timeSpent, responses)
	if err != nil {
		return nil, fmt.Errorf("complete attempt: %w", err)
	}
	if !applied {
		// A concurrent termination landed first; its write wins.
		s.log.Info().
			Str("attempt_id", attemptID.String()).
			Msg("Submit lost race against terminal transition")
		return s.attempts.GetByID(ctx, attemptID)
	}

	if _, err := s.tracker.Terminate(ctx, userExam.ExamID, attemptID, "submitted"); err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Proctor session teardown failed after submit")
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Float64("marks", total).
		Int("responses", len(responses)).
		Msg("Attempt submitted")
	return s.attempts.GetByID(ctx, attemptID)
}

// TerminateAttempt forces an attempt into TERMINATED with the given
// reason and tears down its proctor session. Idempotent: terminating a
// terminal attempt is a logged no-op.
func (s *AttemptService) TerminateAttempt(ctx context.Context, attemptID uuid.UUID, reason string) (*model.ExamAttempt, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.Status.Terminal() {
		s.log.Debug().
			Str("attempt_id", attemptID.String()).
			Str("status", string(attempt.Status)).
			Msg("Terminate against terminal attempt ignored")
		return attempt, nil
	}

	applied, err := s.attempts.Terminate(ctx, attemptID, reason)
	if err != nil {
		return nil, fmt.Errorf("terminate attempt: %w", err)
	}
	if !applied {
		s.log.Info().
			Str("attempt_id", attemptID.String()).
			Msg("Terminate lost race against terminal transition")
		return s.attempts.GetByID(ctx, attemptID)
	}

	if userExam, ueErr := s.userExams.GetByID(ctx, attempt.UserExamID); ueErr != nil {
		// Best-effort teardown; the reaper converges the session later.
		s.log.Warn().Err(ueErr).
			Str("attempt_id", attemptID.String()).
			Msg("Skipping proctor session teardown, user_exam lookup failed")
	} else if _, err := s.tracker.Terminate(ctx, userExam.ExamID, attemptID, reason); err != nil {
		s.log.Warn().Err(err).
			Str("attempt_id", attemptID.String()).
			Msg("Proctor session teardown failed after terminate")
	}

	s.log.Info().
		Str("attempt_id", attemptID.String()).
		Str("reason", reason).
		Msg("Attempt terminated")
	return s.attempts.GetByID(ctx, attemptID)
}

// GetAssignment returns the caller's assignment for an exam, so the
// client can show attempts remaining before creating one.
func (s *AttemptService) GetAssignment(ctx context.Context, userID int, examID uuid.UUID) (*model.UserExam, error) {
	userExam, err := s.userExams.FindByUserAndExam(ctx, userID, examID)
	if err != nil {
		return nil, fmt.Errorf("find user_exam: %w", err)
	}
	return userExam, nil
}

// AuthorizeAttempt verifies that an attempt belongs to the given user.
// A mismatch is reported as not-found so attempt IDs cannot be probed.
func (s *AttemptService) AuthorizeAttempt(ctx context.Context, attemptID uuid.UUID, userID int) error {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return fmt.Errorf("get attempt: %w", err)
	}
	userExam, err := s.userExams.GetByID(ctx, attempt.UserExamID)
	if err != nil {
		return fmt.Errorf("get user_exam: %w", err)
	}
	if userExam.UserID != userID {
		return fmt.Errorf("attempt %s not owned by user %d: %w", attemptID, userID, repository.ErrNotFound)
	}
	return nil
}

// GetAttempt fetches one attempt, verifying it belongs to the given exam.
// Once the attempt is terminal its scored responses come back with it;
// mid-attempt the per-question verdicts stay hidden.
func (s *AttemptService) GetAttempt(ctx context.Context, examID, attemptID uuid.UUID) (*model.ExamAttempt, []model.AttemptResponse, error) {
	attempt, _, err := s.loadAttempt(ctx, examID, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if !attempt.Status.Terminal() {
		return attempt, nil, nil
	}
	responses, err := s.attempts.ListResponses(ctx, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("list responses: %w", err)
	}
	return attempt, responses, nil
}

func (s *AttemptService) loadAttempt(ctx context.Context, examID, attemptID uuid.UUID) (*model.ExamAttempt, *model.UserExam, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return nil, nil, fmt.Errorf("get attempt: %w", err)
	}
	userExam, err := s.userExams.GetByID(ctx, attempt.UserExamID)
	if err != nil {
		return nil, nil, fmt.Errorf("get user_exam: %w", err)
	}
	if userExam.ExamID != examID {
		// Treated as not-found so attempt IDs cannot be probed across exams.
		return nil, nil, fmt.Errorf("attempt %s does not belong to exam %s: %w",
			attemptID, examID, repository.ErrNotFound)
	}
	return attempt, userExam, nil
}
