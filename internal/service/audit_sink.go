package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/examly/examportal-backend/internal/config"
	"github.com/examly/examportal-backend/internal/model"
)

// RedisAuditSink pushes termination audit records onto the Redis queue
// drained by the audit worker.
type RedisAuditSink struct {
	rdb *redis.Client
}

// NewRedisAuditSink creates a RedisAuditSink.
func NewRedisAuditSink(rdb *redis.Client) *RedisAuditSink {
	return &RedisAuditSink{rdb: rdb}
}

func (s *RedisAuditSink) RecordTermination(ctx context.Context, rec model.ProctorAuditRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.ProctorAuditQueue, raw).Err(); err != nil {
		return fmt.Errorf("enqueue audit record: %w", err)
	}
	return nil
}
