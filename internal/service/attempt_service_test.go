package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/examly/examportal-backend/internal/model"
	"github.com/examly/examportal-backend/internal/repository"
)

// ─── In-memory fakes for the durable stores ─────────────────────────

type fakeUserExams struct {
	rows map[uuid.UUID]*model.UserExam
}

func (f *fakeUserExams) GetByID(_ context.Context, id uuid.UUID) (*model.UserExam, error) {
	ue, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *ue
	return &copy, nil
}

func (f *fakeUserExams) FindByUserAndExam(_ context.Context, userID int, examID uuid.UUID) (*model.UserExam, error) {
	for _, ue := range f.rows {
		if ue.UserID == userID && ue.ExamID == examID {
			copy := *ue
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserExams) ReserveAttempt(_ context.Context, id uuid.UUID) (int, error) {
	ue, ok := f.rows[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if ue.Attempts >= ue.MaxAttempts {
		return 0, repository.ErrQuotaExceeded
	}
	ue.Attempts++
	return ue.Attempts, nil
}

type fakeAttempts struct {
	rows          map[uuid.UUID]*model.ExamAttempt
	responses     map[uuid.UUID][]model.AttemptResponse
	completeCalls int
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{
		rows:      make(map[uuid.UUID]*model.ExamAttempt),
		responses: make(map[uuid.UUID][]model.AttemptResponse),
	}
}

func (f *fakeAttempts) GetByID(_ context.Context, id uuid.UUID) (*model.ExamAttempt, error) {
	a, ok := f.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copy := *a
	return &copy, nil
}

func (f *fakeAttempts) Insert(_ context.Context, a *model.ExamAttempt) error {
	a.ID = uuid.New()
	a.Status = model.AttemptStatusStarted
	a.CreatedAt = time.Now()
	stored := *a
	f.rows[a.ID] = &stored
	return nil
}

func (f *fakeAttempts) MarkInProgress(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	a, ok := f.rows[id]
	if !ok || a.Status != model.AttemptStatusStarted {
		return false, nil
	}
	a.Status = model.AttemptStatusInProgress
	a.StartedAt = &startedAt
	return true, nil
}

func (f *fakeAttempts) Complete(_ context.Context, id uuid.UUID, marks float64, timeSpent *int, responses []model.AttemptResponse) (bool, error) {
	f.completeCalls++
	a, ok := f.rows[id]
	if !ok || a.Status.Terminal() {
		return false, nil
	}
	now := time.Now()
	a.Status = model.AttemptStatusCompleted
	a.Marks = &marks
	a.CompletedAt = &now
	a.TimeSpentSeconds = timeSpent
	f.responses[id] = append(f.responses[id], responses...)
	return true, nil
}

func (f *fakeAttempts) Terminate(_ context.Context, id uuid.UUID, reason string) (bool, error) {
	a, ok := f.rows[id]
	if !ok || a.Status.Terminal() {
		return false, nil
	}
	now := time.Now()
	zero := 0.0
	a.Status = model.AttemptStatusTerminated
	a.Marks = &zero
	a.CompletedAt = &now
	a.TerminationReason = &reason
	return true, nil
}

func (f *fakeAttempts) ListResponses(_ context.Context, attemptID uuid.UUID) ([]model.AttemptResponse, error) {
	return f.responses[attemptID], nil
}

type fakeQuestions struct {
	byExam map[uuid.UUID][]model.Question
}

func (f *fakeQuestions) ListByExam(_ context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f.byExam[examID], nil
}

type fakeTracker struct {
	created    int
	terminated []string
}

func (f *fakeTracker) CreateSession(_ context.Context, _, _ uuid.UUID, _ model.SessionMeta) error {
	f.created++
	return nil
}

func (f *fakeTracker) Terminate(_ context.Context, _, _ uuid.UUID, reason string) (bool, error) {
	f.terminated = append(f.terminated, reason)
	return true, nil
}

// ─── Fixture ────────────────────────────────────────────────────────

type fixture struct {
	svc        *AttemptService
	userExams  *fakeUserExams
	attempts   *fakeAttempts
	tracker    *fakeTracker
	userExamID uuid.UUID
	examID     uuid.UUID
	userID     int
	questions  []model.Question
}

func newFixture(t *testing.T, maxAttempts int) *fixture {
	t.Helper()

	examID := uuid.New()
	userExamID := uuid.New()
	userID := 7

	questions := make([]model.Question, 0, 3)
	for i := 0; i < 3; i++ {
		questions = append(questions, model.Question{
			ID:     uuid.New(),
			ExamID: examID,
			Mark:   5,
			Options: []model.Option{
				{ID: "A", Correct: true},
				{ID: "B"},
			},
			OrderNum: i,
		})
	}

	userExams := &fakeUserExams{rows: map[uuid.UUID]*model.UserExam{
		userExamID: {ID: userExamID, UserID: userID, ExamID: examID, MaxAttempts: maxAttempts},
	}}
	attempts := newFakeAttempts()
	tracker := &fakeTracker{}

	svc := NewAttemptService(
		userExams,
		attempts,
		&fakeQuestions{byExam: map[uuid.UUID][]model.Question{examID: questions}},
		tracker,
		zerolog.Nop(),
	)

	return &fixture{
		svc:        svc,
		userExams:  userExams,
		attempts:   attempts,
		tracker:    tracker,
		userExamID: userExamID,
		examID:     examID,
		userID:     userID,
		questions:  questions,
	}
}

func (f *fixture) answers(correct int) []model.AnswerInput {
	right := "A"
	wrong := "B"
	answers := make([]model.AnswerInput, 0, len(f.questions))
	for i, q := range f.questions {
		opt := &wrong
		if i < correct {
			opt = &right
		}
		answers = append(answers, model.AnswerInput{QuestionID: q.ID, OptionID: opt})
	}
	return answers
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestCreateAttemptEnforcesQuota(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	first, err := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	if first.AttemptNumber != 1 || first.Status != model.AttemptStatusStarted {
		t.Errorf("first attempt = %+v", first)
	}

	second, err := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if second.AttemptNumber != 2 {
		t.Errorf("attempt_number = %d, want 2", second.AttemptNumber)
	}

	if _, err := f.svc.CreateAttempt(ctx, f.userExamID, f.userID); !errors.Is(err, repository.ErrQuotaExceeded) {
		t.Errorf("third create err = %v, want ErrQuotaExceeded", err)
	}
}

func TestCreateAttemptUnknownAssignment(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.CreateAttempt(context.Background(), uuid.New(), f.userID)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateAttemptWrongOwner(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.svc.CreateAttempt(context.Background(), f.userExamID, f.userID+1)
	if !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound (ownership hidden as not-found)", err)
	}
	if f.userExams.rows[f.userExamID].Attempts != 0 {
		t.Errorf("attempts counter mutated by rejected create")
	}
}

func TestBeginAttemptIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)

	began, err := f.svc.BeginAttempt(ctx, f.examID, attempt.ID, model.SessionMeta{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if began.Status != model.AttemptStatusInProgress || began.StartedAt == nil {
		t.Fatalf("begin result = %+v", began)
	}
	firstStart := *began.StartedAt

	again, err := f.svc.BeginAttempt(ctx, f.examID, attempt.ID, model.SessionMeta{})
	if err != nil {
		t.Fatalf("retried begin: %v", err)
	}
	if !again.StartedAt.Equal(firstStart) {
		t.Errorf("retried begin reset started_at: %v != %v", again.StartedAt, firstStart)
	}
	if f.tracker.created == 0 {
		t.Errorf("proctor session never created")
	}
}

func TestBeginAgainstTerminalAttemptIsSwallowed(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)
	if _, err := f.svc.TerminateAttempt(ctx, attempt.ID, "left exam"); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	got, err := f.svc.BeginAttempt(ctx, f.examID, attempt.ID, model.SessionMeta{})
	if err != nil {
		t.Fatalf("begin after terminate must not error: %v", err)
	}
	if got.Status != model.AttemptStatusTerminated {
		t.Errorf("status = %s, want TERMINATED", got.Status)
	}
}

func TestSubmitScoresAndCompletes(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)
	if _, err := f.svc.BeginAttempt(ctx, f.examID, attempt.ID, model.SessionMeta{}); err != nil {
		t.Fatalf("begin: %v", err)
	}

	spent := 120
	got, err := f.svc.SubmitAttempt(ctx, attempt.ID, f.answers(2), &spent)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if got.Status != model.AttemptStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", got.Status)
	}
	if got.Marks == nil || *got.Marks != 10 {
		t.Errorf("marks = %v, want 10", got.Marks)
	}
	if len(f.attempts.responses[attempt.ID]) != 3 {
		t.Errorf("responses = %d, want 3", len(f.attempts.responses[attempt.ID]))
	}
	if len(f.tracker.terminated) == 0 || f.tracker.terminated[0] != "submitted" {
		t.Errorf("proctor session not torn down after submit: %v", f.tracker.terminated)
	}
}

func TestSubmitFromStartedWithoutBegin(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)

	got, err := f.svc.SubmitAttempt(ctx, attempt.ID, f.answers(3), nil)
	if err != nil {
		t.Fatalf("submit from STARTED: %v", err)
	}
	if got.Status != model.AttemptStatusCompleted || *got.Marks != 15 {
		t.Errorf("got %+v, want COMPLETED with 15 marks", got)
	}
}

func TestSubmitIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)
	if _, err := f.svc.SubmitAttempt(ctx, attempt.ID, f.answers(2), nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	callsAfterFirst := f.attempts.completeCalls

	got, err := f.svc.SubmitAttempt(ctx, attempt.ID, f.answers(3), nil)
	if err != nil {
		t.Fatalf("second submit must not error: %v", err)
	}
	if *got.Marks != 10 {
		t.Errorf("second submit rescored: marks = %v, want 10", *got.Marks)
	}
	if f.attempts.completeCalls != callsAfterFirst {
		t.Errorf("second submit reached the store")
	}
	if len(f.attempts.responses[attempt.ID]) != 3 {
		t.Errorf("responses duplicated: %d rows", len(f.attempts.responses[attempt.ID]))
	}
}

func TestGetAssignmentReportsRemainingQuota(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	ue, err := f.svc.GetAssignment(ctx, f.userID, f.examID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if ue.AttemptsRemaining() != 2 {
		t.Errorf("remaining = %d, want 2", ue.AttemptsRemaining())
	}

	if _, err := f.svc.CreateAttempt(ctx, f.userExamID, f.userID); err != nil {
		t.Fatalf("create: %v", err)
	}
	ue, _ = f.svc.GetAssignment(ctx, f.userID, f.examID)
	if ue.AttemptsRemaining() != 1 {
		t.Errorf("remaining after create = %d, want 1", ue.AttemptsRemaining())
	}

	if _, err := f.svc.GetAssignment(ctx, f.userID, uuid.New()); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("unknown exam err = %v, want ErrNotFound", err)
	}
}

func TestGetAttemptHidesResponsesUntilTerminal(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)

	_, responses, err := f.svc.GetAttempt(ctx, f.examID, attempt.ID)
	if err != nil {
		t.Fatalf("get before submit: %v", err)
	}
	if responses != nil {
		t.Errorf("responses exposed mid-attempt")
	}

	if _, err := f.svc.SubmitAttempt(ctx, attempt.ID, f.answers(2), nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, responses, err := f.svc.GetAttempt(ctx, f.examID, attempt.ID)
	if err != nil {
		t.Fatalf("get after submit: %v", err)
	}
	if got.Status != model.AttemptStatusCompleted || len(responses) != 3 {
		t.Errorf("status = %s, responses = %d, want COMPLETED with 3", got.Status, len(responses))
	}
}

func TestGetAttemptWrongExam(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)

	if _, _, err := f.svc.GetAttempt(ctx, uuid.New(), attempt.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("cross-exam get err = %v, want ErrNotFound", err)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)

	first, err := f.svc.TerminateAttempt(ctx, attempt.ID, "heartbeat timeout")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if first.Status != model.AttemptStatusTerminated {
		t.Fatalf("status = %s", first.Status)
	}
	if first.Marks == nil || *first.Marks != 0 {
		t.Errorf("terminated attempt marks = %v, want 0", first.Marks)
	}
	if first.TerminationReason == nil || *first.TerminationReason != "heartbeat timeout" {
		t.Errorf("reason = %v", first.TerminationReason)
	}

	second, err := f.svc.TerminateAttempt(ctx, attempt.ID, "another reason")
	if err != nil {
		t.Fatalf("second terminate must not error: %v", err)
	}
	if *second.TerminationReason != "heartbeat timeout" {
		t.Errorf("second terminate overwrote reason: %v", *second.TerminationReason)
	}
}

func TestTerminateSurvivesAssignmentLookupFailure(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)

	// The durable transition must land even when the assignment row
	// cannot be read for session teardown; the reaper converges later.
	delete(f.userExams.rows, f.userExamID)

	terminated, err := f.svc.TerminateAttempt(ctx, attempt.ID, "heartbeat timeout")
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if terminated.Status != model.AttemptStatusTerminated {
		t.Fatalf("status = %s, want TERMINATED", terminated.Status)
	}
	if len(f.tracker.terminated) != 0 {
		t.Errorf("tracker teardown attempted without the exam ID: %v", f.tracker.terminated)
	}
}

func TestTerminateAfterSubmitIsNoOp(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)
	if _, err := f.svc.SubmitAttempt(ctx, attempt.ID, f.answers(2), nil); err != nil {
		t.Fatalf("submit: %v", err)
	}

	got, err := f.svc.TerminateAttempt(ctx, attempt.ID, "heartbeat timeout")
	if err != nil {
		t.Fatalf("terminate after submit must not error: %v", err)
	}
	if got.Status != model.AttemptStatusCompleted || *got.Marks != 10 {
		t.Errorf("completed attempt mutated by late terminate: %+v", got)
	}
}

func TestSubmitAfterTerminateIsNoOp(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	attempt, _ := f.svc.CreateAttempt(ctx, f.userExamID, f.userID)
	if _, err := f.svc.TerminateAttempt(ctx, attempt.ID, "heartbeat timeout"); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	got, err := f.svc.SubmitAttempt(ctx, attempt.ID, f.answers(3), nil)
	if err != nil {
		t.Fatalf("submit after terminate must not error: %v", err)
	}
	if got.Status != model.AttemptStatusTerminated || *got.Marks != 0 {
		t.Errorf("terminated attempt mutated by late submit: %+v", got)
	}
	if len(f.attempts.responses[attempt.ID]) != 0 {
		t.Errorf("responses written for terminated attempt")
	}
}
