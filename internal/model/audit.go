package model

// ProctorAuditRecord is the queue payload describing one proctor session
// termination. Produced fire-and-forget by the tracker, drained to
// PostgreSQL by the audit worker.
type ProctorAuditRecord struct {
	ExamID       string `json:"exam_id"`
	AttemptID    string `json:"attempt_id"`
	Reason       string `json:"reason"`
	WarningCount int    `json:"warning_count"`
	RecordedAt   int64  `json:"recorded_at"`
}
