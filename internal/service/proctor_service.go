package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/config"
	"github.com/examly/examportal-backend/internal/model"
	"github.com/examly/examportal-backend/internal/store"
)

// AuditSink receives termination audit records. Implementations must be
// fire-and-forget: a sink failure is logged by the tracker and never
// blocks or fails the caller.
type AuditSink interface {
	RecordTermination(ctx context.Context, rec model.ProctorAuditRecord) error
}

// ExpiredSession identifies a session the reaper found past the
// heartbeat timeout.
type ExpiredSession struct {
	ExamID    uuid.UUID
	AttemptID uuid.UUID
}

// ProctorTracker owns ephemeral proctor session lifecycle: creation,
// heartbeat refresh, explicit termination, and the sweep that expires
// stale sessions. It is constructed explicitly and injected; there is no
// package-level instance. Loss of any session record never corrupts the
// durable attempt — worst case is a missed termination, recovered on the
// next sweep.
type ProctorTracker struct {
	sessions store.Store
	audit    AuditSink
	timeout  time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewProctorTracker creates a tracker with the given heartbeat timeout.
func NewProctorTracker(sessions store.Store, audit AuditSink, timeout time.Duration, log zerolog.Logger) *ProctorTracker {
	return &ProctorTracker{
		sessions: sessions,
		audit:    audit,
		timeout:  timeout,
		log:      log.With().Str("component", "proctor_tracker").Logger(),
		now:      time.Now,
	}
}

// CreateSession writes a fresh session record for an attempt. Overwriting
// an existing (stale) record is safe.
func (t *ProctorTracker) CreateSession(ctx context.Context, examID, attemptID uuid.UUID, meta model.SessionMeta) error {
	now := t.now()
	sess := &model.ProctorSession{
		SessionID:     meta.SessionID,
		LastHeartbeat: now,
		IsActive:      true,
		WarningCount:  0,
		StartTime:     now,
		UserAgent:     meta.UserAgent,
	}
	raw, err := sess.Encode()
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return t.sessions.Set(ctx, config.CacheKey.ProctorSessionKey(examID.String(), attemptID.String()), raw)
}

// Heartbeat refreshes a session's liveness timestamp. Returns false when
// no session exists or it is inactive. Stale timestamps are accepted as
// written — last write wins, no ordering is assumed from the transport.
func (t *ProctorTracker) Heartbeat(ctx context.Context, examID, attemptID uuid.UUID, at time.Time) (bool, error) {
	key := config.CacheKey.ProctorSessionKey(examID.String(), attemptID.String())
	sess, ok, err := t.load(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if !sess.IsActive {
		return false, nil
	}

	sess.LastHeartbeat = at
	raw, err := sess.Encode()
	if err != nil {
		return false, fmt.Errorf("encode session: %w", err)
	}
	if err := t.sessions.Set(ctx, key, raw); err != nil {
		return false, err
	}
	return true, nil
}

// RecordWarning bumps the stored warning counter and returns the new
// count. Returns 0 when no live session exists.
func (t *ProctorTracker) RecordWarning(ctx context.Context, examID, attemptID uuid.UUID) (int, error) {
	key := config.CacheKey.ProctorSessionKey(examID.String(), attemptID.String())
	sess, ok, err := t.load(ctx, key)
	if err != nil || !ok {
		return 0, err
	}
	if !sess.IsActive {
		return 0, nil
	}

	sess.WarningCount++
	raw, err := sess.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode session: %w", err)
	}
	if err := t.sessions.Set(ctx, key, raw); err != nil {
		return 0, err
	}
	return sess.WarningCount, nil
}

// Terminate ends a session: marks it inactive, emits an audit record and
// deletes the key. Idempotent — returns false when no session exists.
func (t *ProctorTracker) Terminate(ctx context.Context, examID, attemptID uuid.UUID, reason string) (bool, error) {
	key := config.CacheKey.ProctorSessionKey(examID.String(), attemptID.String())
	sess, ok, err := t.load(ctx, key)
	if err != nil || !ok {
		return false, err
	}

	sess.IsActive = false

	if t.audit != nil {
		rec := model.ProctorAuditRecord{
			ExamID:       examID.String(),
			AttemptID:    attemptID.String(),
			Reason:       reason,
			WarningCount: sess.WarningCount,
			RecordedAt:   t.now().Unix(),
		}
		if err := t.audit.RecordTermination(ctx, rec); err != nil {
			// Audit is best-effort; the session still goes away.
			t.log.Warn().Err(err).
				Str("attempt_id", attemptID.String()).
				Msg("Failed to enqueue termination audit record")
		}
	}

	if err := t.sessions.Delete(ctx, key); err != nil {
		return false, err
	}

	t.log.Info().
		Str("exam_id", examID.String()).
		Str("attempt_id", attemptID.String()).
		Str("reason", reason).
		Msg("Proctor session terminated")
	return true, nil
}

// SweepOnce enumerates all live sessions and terminates those past the
// heartbeat timeout, returning them so the caller can converge the
// durable attempt records. Sessions that are merely quiet but within the
// timeout are left untouched.
func (t *ProctorTracker) SweepOnce(ctx context.Context) ([]ExpiredSession, error) {
	keys, err := t.sessions.KeysWithPrefix(ctx, config.CacheKey.ProctorSessionPrefix())
	if err != nil {
		return nil, fmt.Errorf("enumerate sessions: %w", err)
	}

	now := t.now()
	var expired []ExpiredSession

	for _, key := range keys {
		sess, ok, err := t.load(ctx, key)
		if err != nil {
			t.log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable session")
			continue
		}
		if !ok {
			continue // Deleted between enumeration and read.
		}

		if !sess.IsActive || now.Sub(sess.LastHeartbeat) <= t.timeout {
			continue
		}

		examID, attemptID, err := parseSessionKey(key)
		if err != nil {
			t.log.Error().Err(err).Str("key", key).Msg("Dropping malformed session key")
			_ = t.sessions.Delete(ctx, key)
			continue
		}

		if _, err := t.Terminate(ctx, examID, attemptID, "heartbeat timeout"); err != nil {
			t.log.Error().Err(err).Str("key", key).Msg("Sweep termination failed")
			continue
		}
		expired = append(expired, ExpiredSession{ExamID: examID, AttemptID: attemptID})
	}

	return expired, nil
}

func (t *ProctorTracker) load(ctx context.Context, key string) (*model.ProctorSession, bool, error) {
	raw, ok, err := t.sessions.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	sess, err := model.DecodeProctorSession(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", key, err)
	}
	return sess, true, nil
}

// parseSessionKey inverts config.CacheKey.ProctorSessionKey.
func parseSessionKey(key string) (examID, attemptID uuid.UUID, err error) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "proctor" || parts[1] != "exam" || parts[3] != "attempt" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("unexpected session key format: %s", key)
	}
	examID, err = uuid.Parse(parts[2])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	attemptID, err = uuid.Parse(parts[4])
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return examID, attemptID, nil
}
