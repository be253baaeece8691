// Package scoring grades submitted answers against exam questions. It is
// deterministic and side-effect-free; persisting the result is the
// caller's job.
package scoring

import (
	"github.com/examly/examportal-backend/internal/model"
)

// Score maps submitted answers to a total mark and one response record
// per answered question.
//
// Rules:
//   - An answer referencing an unknown question is skipped, not an error
//     (the question may have been retired after the paper was served).
//   - A response is correct iff the submitted option ID is set and equals
//     the question's single correct option.
//   - Correct answers earn the question's mark; wrong ones earn 0.
//   - Unanswered questions produce no response row and contribute 0.
//   - Duplicate answers for the same question collapse into a single
//     response; the last one in submission order wins. A question can
//     therefore never contribute more than its own mark.
func Score(questions []model.Question, answers []model.AnswerInput) (float64, []model.AttemptResponse) {
	byID := make(map[string]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID.String()] = &questions[i]
	}

	var total float64
	responses := make([]model.AttemptResponse, 0, len(answers))
	answered := make(map[string]int, len(answers))

	for _, ans := range answers {
		q, ok := byID[ans.QuestionID.String()]
		if !ok {
			continue
		}

		correct := q.CorrectOption()
		isCorrect := ans.OptionID != nil && correct != nil && *ans.OptionID == correct.ID

		score := 0.0
		if isCorrect {
			score = q.Mark
		}

		resp := model.AttemptResponse{
			QuestionID: q.ID,
			OptionID:   ans.OptionID,
			IsCorrect:  isCorrect,
			Score:      score,
		}

		if idx, seen := answered[q.ID.String()]; seen {
			total += score - responses[idx].Score
			responses[idx] = resp
			continue
		}

		answered[q.ID.String()] = len(responses)
		responses = append(responses, resp)
		total += score
	}

	return total, responses
}
