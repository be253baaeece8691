package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/config"
	"github.com/examly/examportal-backend/internal/model"
)

const (
	AuditBatchSize    = 50
	AuditBatchTimeout = 2 * time.Second
	AuditPollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AuditWorker drains the proctor audit queue and persists termination
// records in batches. The tracker enqueues fire-and-forget; this worker
// is the durable end of that path.
type AuditWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAuditWorker creates a new AuditWorker.
func NewAuditWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "audit_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")

	buffer := make([]*model.ProctorAuditRecord, 0, AuditBatchSize)
	lastFlush := time.Now()

	for {
		if len(buffer) > 0 &&
			(len(buffer) >= AuditBatchSize || time.Since(lastFlush) >= AuditBatchTimeout) {
			w.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		result, err := w.rdb.BLPop(ctx, AuditPollTimeout, config.WorkerKey.ProctorAuditQueue).Result()
		if err != nil {
			if err == redis.Nil {
				continue // Queue empty; loop back to check the flush timer.
			}
			if ctx.Err() != nil {
				w.shutdown(buffer)
				return
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}

		if len(result) < 2 {
			continue
		}

		var rec model.ProctorAuditRecord
		if err := json.Unmarshal([]byte(result[1]), &rec); err != nil {
			// Malformed JSON cannot be retried. Log and discard.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed audit record")
			continue
		}

		buffer = append(buffer, &rec)
	}
}

// flushSafe attempts bulk insert, then row-by-row fallback, then requeue.
func (w *AuditWorker) flushSafe(ctx context.Context, batch []*model.ProctorAuditRecord) {
	if len(batch) == 0 {
		return
	}
	if err := w.bulkInsert(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *AuditWorker) bulkInsert(ctx context.Context, batch []*model.ProctorAuditRecord) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, rec := range batch {
		examID, attemptID, err := parseIDs(rec)
		if err != nil {
			// Trigger the fallback, which handles the bad row individually.
			return err
		}
		rows = append(rows, []interface{}{
			examID, attemptID, rec.Reason, rec.WarningCount, time.Unix(rec.RecordedAt, 0),
		})
	}

	_, err := w.pool.CopyFrom(
		ctx,
		pgx.Identifier{"proctor_audit"},
		[]string{"exam_id", "attempt_id", "reason", "warning_count", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

func (w *AuditWorker) fallbackInsert(ctx context.Context, batch []*model.ProctorAuditRecord) {
	requeueList := make([]*model.ProctorAuditRecord, 0)

	for _, rec := range batch {
		examID, attemptID, err := parseIDs(rec)
		if err != nil {
			w.log.Error().
				Str("exam_id", rec.ExamID).
				Str("attempt_id", rec.AttemptID).
				Msg("Dropping audit record with invalid UUID")
			continue
		}

		_, err = w.pool.Exec(ctx,
			`INSERT INTO proctor_audit (exam_id, attempt_id, reason, warning_count, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			examID, attemptID, rec.Reason, rec.WarningCount, time.Unix(rec.RecordedAt, 0),
		)
		if err != nil {
			w.log.Error().Err(err).Str("attempt_id", rec.AttemptID).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, rec)
		}
	}

	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *AuditWorker) requeue(ctx context.Context, items []*model.ProctorAuditRecord) {
	pipe := w.rdb.Pipeline()
	for _, rec := range items {
		data, _ := json.Marshal(rec)
		pipe.RPush(ctx, config.WorkerKey.ProctorAuditQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue audit records. Data loss occurred.")
	} else {
		w.log.Info().Int("count", len(items)).Msg("Requeued failed audit records")
		// Back off so we don't thrash while the DB is down hard.
		time.Sleep(2 * time.Second)
	}
}

func (w *AuditWorker) shutdown(buffer []*model.ProctorAuditRecord) {
	w.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w.flushSafe(shutdownCtx, buffer)
}

func parseIDs(rec *model.ProctorAuditRecord) (uuid.UUID, uuid.UUID, error) {
	examID, err := uuid.Parse(rec.ExamID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	attemptID, err := uuid.Parse(rec.AttemptID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return examID, attemptID, nil
}
