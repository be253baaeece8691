package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/model"
	"github.com/examly/examportal-backend/internal/service"
)

// SessionSweeper expires stale ephemeral sessions. Implemented by
// service.ProctorTracker.
type SessionSweeper interface {
	SweepOnce(ctx context.Context) ([]service.ExpiredSession, error)
}

// AttemptTerminator forces attempts into their terminal state.
// Implemented by service.AttemptService.
type AttemptTerminator interface {
	TerminateAttempt(ctx context.Context, attemptID uuid.UUID, reason string) (*model.ExamAttempt, error)
}

// AggregatorHub releases per-attempt escalation state. Implemented by
// signal.Hub.
type AggregatorHub interface {
	Drop(attemptID uuid.UUID)
}

// ReaperWorker periodically sweeps the ephemeral session store and
// terminates the durable attempt behind every expired session, so the
// two stores converge even when the client vanished without a beacon.
// The client-side countdown is advisory; this loop is the safety net.
type ReaperWorker struct {
	tracker  SessionSweeper
	attempts AttemptTerminator
	hub      AggregatorHub
	interval time.Duration
	log      zerolog.Logger
}

// NewReaperWorker creates a new ReaperWorker.
func NewReaperWorker(tracker SessionSweeper, attempts AttemptTerminator, hub AggregatorHub, interval time.Duration, log zerolog.Logger) *ReaperWorker {
	return &ReaperWorker{
		tracker:  tracker,
		attempts: attempts,
		hub:      hub,
		interval: interval,
		log:      log.With().Str("component", "reaper_worker").Logger(),
	}
}

// Start begins the sweep loop. Call in a goroutine; returns when ctx is
// cancelled.
func (w *ReaperWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Reaper started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Reaper stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *ReaperWorker) sweep(ctx context.Context) {
	expired, err := w.tracker.SweepOnce(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Sweep failed")
		return
	}

	for _, e := range expired {
		// Converge the durable record. TerminateAttempt is idempotent, so
		// racing a submission that landed first is harmless.
		if _, err := w.attempts.TerminateAttempt(ctx, e.AttemptID, "heartbeat timeout"); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", e.AttemptID.String()).
				Msg("Failed to terminate attempt for expired session")
		}
		// The attempt is over either way; its escalation state is garbage.
		w.hub.Drop(e.AttemptID)
	}

	if len(expired) > 0 {
		w.log.Info().Int("count", len(expired)).Msg("Expired sessions reaped")
	}
}
