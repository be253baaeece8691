package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/middleware"
	"github.com/examly/examportal-backend/internal/model"
	"github.com/examly/examportal-backend/internal/repository"
	"github.com/examly/examportal-backend/internal/response"
	"github.com/examly/examportal-backend/internal/service"
	"github.com/examly/examportal-backend/internal/signal"
	"github.com/examly/examportal-backend/internal/validator"
)

// AttemptHandler exposes the attempt lifecycle to exam takers.
type AttemptHandler struct {
	attempts *service.AttemptService
	hub      *signal.Hub
	log      zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attempts *service.AttemptService, hub *signal.Hub, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts: attempts,
		hub:      hub,
		log:      log.With().Str("component", "attempt_handler").Logger(),
	}
}

// CreateAttempt godoc
// POST /api/v1/user/user-exams/:user_exam_id/attempts
// Authorizes a new attempt against the quota and creates it in STARTED.
func (h *AttemptHandler) CreateAttempt(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	userExamID, err := uuid.Parse(c.Param("user_exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	attempt, err := h.attempts.CreateAttempt(c.Request.Context(), userExamID, claims.UserID)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"attempt": attempt})
}

// GetAssignment godoc
// GET /api/v1/user/exams/:exam_id/assignment
// Returns the caller's assignment with the attempt quota, so the client
// can show attempts remaining before creating one.
func (h *AttemptHandler) GetAssignment(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	userExam, err := h.attempts.GetAssignment(c.Request.Context(), claims.UserID, examID)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"assignment":         userExam,
		"attempts_remaining": userExam.AttemptsRemaining(),
	})
}

// BeginAttempt godoc
// POST /api/v1/user/exams/:exam_id/attempts/:attempt_id/begin
// Transitions the attempt to IN_PROGRESS and opens its proctor session.
// Idempotent — a retried begin keeps the original start time.
func (h *AttemptHandler) BeginAttempt(c *gin.Context) {
	claims, examID, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		h.failAttemptError(c, err)
		return
	}

	meta := model.SessionMeta{
		SessionID: uuid.New().String(),
		UserAgent: c.Request.UserAgent(),
	}

	attempt, err := h.attempts.BeginAttempt(c.Request.Context(), examID, attemptID, meta)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// SubmitAttempt godoc
// POST /api/v1/user/exams/:exam_id/attempts/:attempt_id/submit
// Scores the answers and completes the attempt. Idempotent — a duplicate
// submit returns the stored result without rescoring.
func (h *AttemptHandler) SubmitAttempt(c *gin.Context) {
	claims, _, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		h.failAttemptError(c, err)
		return
	}

	var req model.SubmitAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.SubmitAttempt(c.Request.Context(), attemptID, req.Answers, req.TimeSpentSeconds)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	// Suppress any pending signal-driven termination; the user finished
	// legitimately.
	h.hub.MarkSubmitted(attemptID)

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// TerminateAttempt godoc
// POST /api/v1/user/exams/:exam_id/attempts/:attempt_id/terminate
// Explicit client-side termination with a reason. Idempotent.
func (h *AttemptHandler) TerminateAttempt(c *gin.Context) {
	claims, _, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		h.failAttemptError(c, err)
		return
	}

	var req model.TerminateAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	attempt, err := h.attempts.TerminateAttempt(c.Request.Context(), attemptID, req.Reason)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	h.hub.Drop(attemptID)

	response.Success(c, http.StatusOK, gin.H{"attempt": attempt})
}

// GetAttempt godoc
// GET /api/v1/user/exams/:exam_id/attempts/:attempt_id
// Returns the attempt's current state, including termination reason.
func (h *AttemptHandler) GetAttempt(c *gin.Context) {
	claims, examID, attemptID, ok := h.attemptParams(c)
	if !ok {
		return
	}

	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		h.failAttemptError(c, err)
		return
	}

	attempt, responses, err := h.attempts.GetAttempt(c.Request.Context(), examID, attemptID)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	payload := gin.H{"attempt": attempt}
	if responses != nil {
		payload["responses"] = responses
	}
	response.Success(c, http.StatusOK, payload)
}

func (h *AttemptHandler) attemptParams(c *gin.Context) (*service.Claims, uuid.UUID, uuid.UUID, bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return nil, uuid.Nil, uuid.Nil, false
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, uuid.Nil, false
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, uuid.Nil, uuid.Nil, false
	}

	return claims, examID, attemptID, true
}

func (h *AttemptHandler) failAttemptError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
	case errors.Is(err, repository.ErrQuotaExceeded):
		response.Fail(c, http.StatusConflict, response.ErrQuotaExceeded)
	default:
		h.log.Error().Err(err).Msg("Attempt operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
