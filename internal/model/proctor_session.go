package model

import (
	"encoding/json"
	"time"
)

// ProctorSession is the ephemeral liveness record of one active attempt.
// It lives only in the session store and is never durable: losing it
// costs at most a missed termination, which the reaper recovers on the
// next sweep. The JSON round-trip below is the serialization boundary
// between the typed record and the store's raw string values.
type ProctorSession struct {
	SessionID     string    `json:"session_id"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	IsActive      bool      `json:"is_active"`
	WarningCount  int       `json:"warning_count"`
	StartTime     time.Time `json:"start_time"`
	UserAgent     string    `json:"user_agent,omitempty"`
}

// Encode serializes the session for the ephemeral store.
func (s *ProctorSession) Encode() (string, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeProctorSession parses a stored session value.
func DecodeProctorSession(raw string) (*ProctorSession, error) {
	s := &ProctorSession{}
	if err := json.Unmarshal([]byte(raw), s); err != nil {
		return nil, err
	}
	return s, nil
}

// SessionMeta carries optional client metadata attached at session creation.
type SessionMeta struct {
	SessionID string `json:"session_id,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// HeartbeatRequest is the payload for a heartbeat call. Timestamp is the
// client's wall clock; last-write-wins, no ordering assumed.
type HeartbeatRequest struct {
	Timestamp *time.Time `json:"timestamp" binding:"omitempty"`
}
