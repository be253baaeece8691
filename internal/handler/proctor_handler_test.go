package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/middleware"
	"github.com/examly/examportal-backend/internal/model"
	"github.com/examly/examportal-backend/internal/repository"
	"github.com/examly/examportal-backend/internal/service"
	"github.com/examly/examportal-backend/internal/signal"
	"github.com/examly/examportal-backend/internal/store"
)

// ─── Minimal durable-store stubs ────────────────────────────────────

type stubUserExams struct {
	rows map[uuid.UUID]*model.UserExam
}

func (s *stubUserExams) GetByID(_ context.Context, id uuid.UUID) (*model.UserExam, error) {
	ue, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ue, nil
}

func (s *stubUserExams) FindByUserAndExam(context.Context, int, uuid.UUID) (*model.UserExam, error) {
	return nil, repository.ErrNotFound
}

func (s *stubUserExams) ReserveAttempt(context.Context, uuid.UUID) (int, error) {
	return 0, repository.ErrNotFound
}

type stubAttempts struct {
	rows map[uuid.UUID]*model.ExamAttempt
}

func (s *stubAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return a, nil
}

func (s *stubAttempts) Insert(context.Context, *model.ExamAttempt) error { return nil }

func (s *stubAttempts) MarkInProgress(context.Context, uuid.UUID, time.Time) (bool, error) {
	return false, nil
}

func (s *stubAttempts) Complete(context.Context, uuid.UUID, float64, *int, []model.AttemptResponse) (bool, error) {
	return false, nil
}

func (s *stubAttempts) Terminate(context.Context, uuid.UUID, string) (bool, error) {
	return false, nil
}

func (s *stubAttempts) ListResponses(context.Context, uuid.UUID) ([]model.AttemptResponse, error) {
	return nil, nil
}

type stubQuestions struct{}

func (stubQuestions) ListByExam(context.Context, uuid.UUID) ([]model.Question, error) {
	return nil, nil
}

type nopAuditSink struct{}

func (nopAuditSink) RecordTermination(context.Context, model.ProctorAuditRecord) error {
	return nil
}

// ─── Fixture ────────────────────────────────────────────────────────

type heartbeatFixture struct {
	router    *gin.Engine
	tracker   *service.ProctorTracker
	examID    uuid.UUID
	attemptID uuid.UUID
}

// newHeartbeatFixture wires the heartbeat route the way the router does,
// with claims injected directly. The attempt belongs to user 1.
func newHeartbeatFixture(t *testing.T, callerID int) *heartbeatFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	examID := uuid.New()
	userExamID := uuid.New()
	attemptID := uuid.New()

	userExams := &stubUserExams{rows: map[uuid.UUID]*model.UserExam{
		userExamID: {ID: userExamID, UserID: 1, ExamID: examID, MaxAttempts: 1},
	}}
	attempts := &stubAttempts{rows: map[uuid.UUID]*model.ExamAttempt{
		attemptID: {ID: attemptID, UserExamID: userExamID, Status: model.AttemptStatusInProgress},
	}}

	tracker := service.NewProctorTracker(store.NewMemoryStore(), nopAuditSink{}, time.Minute, zerolog.Nop())
	attemptService := service.NewAttemptService(userExams, attempts, stubQuestions{}, tracker, zerolog.Nop())
	hub := signal.NewHub(func(_, _ uuid.UUID) *signal.Aggregator {
		return signal.New(signal.Config{MaxWarnings: 1, Debounce: time.Second, Grace: time.Second}, func(string) {}, zerolog.Nop())
	})
	h := NewProctorHandler(tracker, attemptService, hub, zerolog.Nop())

	router := gin.New()
	router.POST("/exams/:exam_id/attempts/:attempt_id/heartbeat",
		func(c *gin.Context) {
			c.Set(middleware.ContextKeyClaims, &service.Claims{UserID: callerID, TokenType: service.TokenTypeUser})
		},
		h.Heartbeat,
	)

	return &heartbeatFixture{router: router, tracker: tracker, examID: examID, attemptID: attemptID}
}

func (f *heartbeatFixture) post(t *testing.T) *httptest.ResponseRecorder {
	t.Helper()
	url := "/exams/" + f.examID.String() + "/attempts/" + f.attemptID.String() + "/heartbeat"
	req := httptest.NewRequest(http.MethodPost, url, strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestHeartbeatRejectsForeignAttempt(t *testing.T) {
	f := newHeartbeatFixture(t, 99)

	if err := f.tracker.CreateSession(context.Background(), f.examID, f.attemptID, model.SessionMeta{}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	rec := f.post(t)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHeartbeatOwnerRefreshesSession(t *testing.T) {
	f := newHeartbeatFixture(t, 1)

	if err := f.tracker.CreateSession(context.Background(), f.examID, f.attemptID, model.SessionMeta{}); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	rec := f.post(t)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}

	var envelope struct {
		Data struct {
			Alive bool `json:"alive"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !envelope.Data.Alive {
		t.Errorf("alive = false, want true")
	}
}
