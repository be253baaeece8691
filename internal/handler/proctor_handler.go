package handler

import (
	"errors"
	"net/http"
	"time"

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

// ProctorHandler exposes heartbeat and the unload beacon.
type ProctorHandler struct {
	tracker  *service.ProctorTracker
	attempts *service.AttemptService
	hub      *signal.Hub
	log      zerolog.Logger
}

// NewProctorHandler creates a new ProctorHandler.
func NewProctorHandler(tracker *service.ProctorTracker, attempts *service.AttemptService, hub *signal.Hub, log zerolog.Logger) *ProctorHandler {
	return &ProctorHandler{
		tracker:  tracker,
		attempts: attempts,
		hub:      hub,
		log:      log.With().Str("component", "proctor_handler").Logger(),
	}
}

// Heartbeat godoc
// POST /api/v1/user/exams/:exam_id/attempts/:attempt_id/heartbeat
// Refreshes session liveness. Returns {"alive": false} when no live
// session exists — the client should treat that as "attempt over".
func (h *ProctorHandler) Heartbeat(c *gin.Context) {
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
	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	// Same ownership check as the other attempt routes; a taker must not
	// keep someone else's session alive.
	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, claims.UserID); err != nil {
		h.failProctorError(c, err)
		return
	}

	var req model.HeartbeatRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	at := time.Now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	alive, err := h.tracker.Heartbeat(c.Request.Context(), examID, attemptID, at)
	if err != nil {
		// Proctoring is best-effort; report unavailability, don't 500 the
		// whole exam UI.
		h.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Heartbeat failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrStoreUnavailable)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"alive": alive})
}

// UnloadBeacon godoc
// POST /api/v1/user/exams/:exam_id/attempts/:attempt_id/beacon
// Fire-and-forget termination dispatched from the page unload handler.
// sendBeacon cannot read a response, so this always answers 204; the
// reaper remains the authoritative backstop if the beacon never arrives.
func (h *ProctorHandler) UnloadBeacon(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.Status(http.StatusNoContent)
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}

	if err := h.attempts.AuthorizeAttempt(c.Request.Context(), attemptID, claims.UserID); err == nil {
		if _, err := h.attempts.TerminateAttempt(c.Request.Context(), attemptID, "page hidden/closed"); err != nil {
			h.log.Warn().Err(err).Str("attempt_id", attemptID.String()).Msg("Beacon termination failed")
		}
		h.hub.Drop(attemptID)
	}

	c.Status(http.StatusNoContent)
}

func (h *ProctorHandler) failProctorError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}
	h.log.Error().Err(err).Msg("Proctor operation failed")
	response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
}
