package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/config"
	"github.com/examly/examportal-backend/internal/database"
	"github.com/examly/examportal-backend/internal/handler"
	"github.com/examly/examportal-backend/internal/logger"
	"github.com/examly/examportal-backend/internal/repository"
	"github.com/examly/examportal-backend/internal/router"
	"github.com/examly/examportal-backend/internal/service"
	sig "github.com/examly/examportal-backend/internal/signal"
	"github.com/examly/examportal-backend/internal/store"
	"github.com/examly/examportal-backend/internal/validator"
	"github.com/examly/examportal-backend/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Dur("heartbeat_timeout", cfg.HeartbeatTimeout).
		Dur("reap_interval", cfg.ReapInterval).
		Msg("Starting ExamPortal Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	userExamRepo := repository.NewUserExamRepository(pool)
	attemptRepo := repository.NewAttemptRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, rdb)
	sessionStore := store.NewRedisStore(rdb)
	auditSink := service.NewRedisAuditSink(rdb)
	tracker := service.NewProctorTracker(sessionStore, auditSink, cfg.HeartbeatTimeout, log)
	attemptService := service.NewAttemptService(userExamRepo, attemptRepo, questionRepo, tracker, log)

	// ─── Signal Aggregation Hub ───────────────────────────────────────
	// Escalation past MaxWarnings terminates both the durable attempt and
	// the ephemeral session after the grace delay.
	var hub *sig.Hub
	hub = sig.NewHub(func(examID, attemptID uuid.UUID) *sig.Aggregator {
		return sig.New(
			sig.Config{
				MaxWarnings: cfg.MaxWarnings,
				Debounce:    cfg.WarningDebounce,
				Grace:       cfg.TerminationGrace,
			},
			func(reason string) {
				termCtx, termCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer termCancel()
				if _, err := attemptService.TerminateAttempt(termCtx, attemptID, reason); err != nil {
					log.Error().Err(err).
						Str("attempt_id", attemptID.String()).
						Msg("Signal-triggered termination failed")
				}
				// The attempt is terminal now; release its escalation state.
				hub.Drop(attemptID)
			},
			log,
		)
	})

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:    handler.NewAuthHandler(authService, userRepo, log),
		Attempt: handler.NewAttemptHandler(attemptService, hub, log),
		Proctor: handler.NewProctorHandler(tracker, attemptService, hub, log),
		WS:      handler.NewWSHandler(tracker, attemptService, hub, log, cfg.AllowedOrigins),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())

	reaperWorker := worker.NewReaperWorker(tracker, attemptService, hub, cfg.ReapInterval, log)
	auditWorker := worker.NewAuditWorker(pool, rdb, log)

	go reaperWorker.Start(workerCtx)
	go auditWorker.Start(workerCtx)

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg)

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: r,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	s := <-quit

	log.Info().Str("signal", s.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop the reaper and the audit worker, letting queues drain.
	workerCancel()
	time.Sleep(2 * time.Second) // Allow workers to drain.

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
