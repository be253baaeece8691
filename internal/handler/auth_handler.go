package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/middleware"
	"github.com/examly/examportal-backend/internal/model"
	"github.com/examly/examportal-backend/internal/repository"
	"github.com/examly/examportal-backend/internal/response"
	"github.com/examly/examportal-backend/internal/service"
	"github.com/examly/examportal-backend/internal/validator"
)

// AuthHandler issues and revokes exam-taker tokens. Exam takers are
// single-device: a second login while a session is live is rejected
// until the first one logs out or expires.
type AuthHandler struct {
	auth  *service.AuthService
	users *repository.UserRepository
	log   zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth *service.AuthService, users *repository.UserRepository, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:  auth,
		users: users,
		log:   log.With().Str("component", "auth_handler").Logger(),
	}
}

// Login godoc
// POST /api/v1/auth/user/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		// Unknown email and wrong password answer identically.
		if errors.Is(err, repository.ErrNotFound) {
			response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
			return
		}
		h.log.Error().Err(err).Msg("Login lookup failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	if err := h.auth.CheckPassword(user.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.auth.GenerateUserToken(c.Request.Context(), user.ID)
	if err != nil {
		if errors.Is(err, service.ErrSessionAlreadyActive) {
			response.Fail(c, http.StatusConflict, response.ErrSessionActive)
			return
		}
		h.log.Error().Err(err).Int("user_id", user.ID).Msg("Token generation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}

// Logout godoc
// POST /api/v1/user/logout
// Clears the login session so the taker can sign in from another device.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.auth.ResetUserSession(c.Request.Context(), claims.UserID); err != nil {
		h.log.Error().Err(err).Int("user_id", claims.UserID).Msg("Session reset failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}
