package scoring

import (
	"testing"

	"github.com/google/uuid"
	"github.com/examly/examportal-backend/internal/model"
)

func strPtr(s string) *string { return &s }

func twoOptionQuestion(mark float64) model.Question {
	return model.Question{
		ID:     uuid.New(),
		ExamID: uuid.New(),
		Mark:   mark,
		Options: []model.Option{
			{ID: "A", Text: "right", Correct: true},
			{ID: "B", Text: "wrong"},
		},
	}
}

func TestScoreCorrectAnswer(t *testing.T) {
	q := twoOptionQuestion(5)

	total, responses := Score([]model.Question{q}, []model.AnswerInput{
		{QuestionID: q.ID, OptionID: strPtr("A")},
	})

	if total != 5 {
		t.Errorf("total = %v, want 5", total)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	if !responses[0].IsCorrect || responses[0].Score != 5 {
		t.Errorf("response = %+v, want correct with score 5", responses[0])
	}
}

func TestScoreWrongAnswer(t *testing.T) {
	q := twoOptionQuestion(5)

	total, responses := Score([]model.Question{q}, []model.AnswerInput{
		{QuestionID: q.ID, OptionID: strPtr("B")},
	})

	if total != 0 {
		t.Errorf("total = %v, want 0", total)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	if responses[0].IsCorrect || responses[0].Score != 0 {
		t.Errorf("response = %+v, want incorrect with score 0", responses[0])
	}
}

func TestScoreUnansweredQuestionProducesNoRow(t *testing.T) {
	q := twoOptionQuestion(5)

	total, responses := Score([]model.Question{q}, nil)

	if total != 0 {
		t.Errorf("total = %v, want 0", total)
	}
	if len(responses) != 0 {
		t.Errorf("got %d responses, want 0", len(responses))
	}
}

func TestScoreNilOptionIsIncorrect(t *testing.T) {
	q := twoOptionQuestion(3)

	total, responses := Score([]model.Question{q}, []model.AnswerInput{
		{QuestionID: q.ID, OptionID: nil},
	})

	if total != 0 {
		t.Errorf("total = %v, want 0", total)
	}
	if len(responses) != 1 || responses[0].IsCorrect {
		t.Errorf("nil option must yield an incorrect response row")
	}
}

func TestScoreSkipsRetiredQuestions(t *testing.T) {
	q := twoOptionQuestion(5)

	total, responses := Score([]model.Question{q}, []model.AnswerInput{
		{QuestionID: uuid.New(), OptionID: strPtr("A")}, // not in the exam
		{QuestionID: q.ID, OptionID: strPtr("A")},
	})

	if total != 5 {
		t.Errorf("total = %v, want 5", total)
	}
	if len(responses) != 1 {
		t.Errorf("got %d responses, want 1 (retired question skipped)", len(responses))
	}
}

func TestScoreDuplicateAnswersCollapseToLast(t *testing.T) {
	q := twoOptionQuestion(5)

	total, responses := Score([]model.Question{q}, []model.AnswerInput{
		{QuestionID: q.ID, OptionID: strPtr("A")},
		{QuestionID: q.ID, OptionID: strPtr("A")},
	})

	if total != 5 {
		t.Errorf("total = %v, want 5 (duplicate must not double-count)", total)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}

	// A changed resubmission keeps only the last answer.
	total, responses = Score([]model.Question{q}, []model.AnswerInput{
		{QuestionID: q.ID, OptionID: strPtr("A")},
		{QuestionID: q.ID, OptionID: strPtr("B")},
	})

	if total != 0 {
		t.Errorf("total = %v, want 0 (last answer wins)", total)
	}
	if len(responses) != 1 {
		t.Fatalf("got %d responses, want 1", len(responses))
	}
	if responses[0].IsCorrect || responses[0].OptionID == nil || *responses[0].OptionID != "B" {
		t.Errorf("response = %+v, want incorrect option B", responses[0])
	}
}

func TestScoreSumsAcrossQuestions(t *testing.T) {
	q1 := twoOptionQuestion(5)
	q2 := twoOptionQuestion(5)
	q3 := twoOptionQuestion(5)

	total, responses := Score(
		[]model.Question{q1, q2, q3},
		[]model.AnswerInput{
			{QuestionID: q1.ID, OptionID: strPtr("A")},
			{QuestionID: q2.ID, OptionID: strPtr("A")},
			{QuestionID: q3.ID, OptionID: strPtr("B")},
		},
	)

	if total != 10 {
		t.Errorf("total = %v, want 10", total)
	}
	if len(responses) != 3 {
		t.Errorf("got %d responses, want 3", len(responses))
	}
}
