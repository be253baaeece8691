package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/examly/examportal-backend/internal/config"
	"github.com/examly/examportal-backend/internal/handler"
	"github.com/examly/examportal-backend/internal/middleware"
	"github.com/examly/examportal-backend/internal/response"
	"github.com/examly/examportal-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth    *handler.AuthHandler
	Attempt *handler.AttemptHandler
	Proctor *handler.ProctorHandler
	WS      *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── Auth Group (public) ───────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/user/login", handlers.Auth.Login)
	}

	// ─── Exam Taker Group (JWT) ────────────────────────────────────────
	userAPI := router.Group("/api/v1/user")
	userAPI.Use(middleware.RequireUserJWT(authService))
	{
		userAPI.POST("/logout", handlers.Auth.Logout)
		userAPI.POST("/user-exams/:user_exam_id/attempts", handlers.Attempt.CreateAttempt)
		userAPI.GET("/exams/:exam_id/assignment", handlers.Attempt.GetAssignment)

		attempts := userAPI.Group("/exams/:exam_id/attempts/:attempt_id")
		{
			attempts.GET("", handlers.Attempt.GetAttempt)
			attempts.POST("/begin", handlers.Attempt.BeginAttempt)
			attempts.POST("/submit", handlers.Attempt.SubmitAttempt)
			attempts.POST("/terminate", handlers.Attempt.TerminateAttempt)
			attempts.POST("/heartbeat", handlers.Proctor.Heartbeat)
			// sendBeacon target; must never require the page to stay alive.
			attempts.POST("/beacon", handlers.Proctor.UnloadBeacon)
		}
	}

	// ─── WebSocket Group (WS Auth via query token) ─────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireUserWSAuth(authService))
	{
		ws.GET("/user/exams/:exam_id/attempts/:attempt_id/signals", handlers.WS.SignalStream)
	}

	return router
}
