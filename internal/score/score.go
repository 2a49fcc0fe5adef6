package score

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/victornm/livequiz/internal/domain"
)

const defaultBasePoints = 1

// Result is the outcome of grading a single submission.
type Result struct {
	Correct bool
	Points  int
}

// Score grades answer against q. A correct answer earns basePoints*(1+bonus), rounded half
// away from zero, where bonus = 1 - elapsed/limit clamped to [0, 1]. A negative elapsed means
// the response time is unknown and earns no bonus; so does a non-positive limit.
func Score(q domain.Question, answer string, elapsed, limit time.Duration) Result {
	if !IsCorrect(q, answer) {
		return Result{}
	}

	base := decimal.NewFromInt(int64(BasePoints(q)))
	bonus := TimeBonus(elapsed, limit)
	points := base.Mul(decimal.NewFromInt(1).Add(bonus)).Round(0)

	return Result{
		Correct: true,
		Points:  int(points.IntPart()),
	}
}

func BasePoints(q domain.Question) int {
	if q.Points <= 0 {
		return defaultBasePoints
	}
	return q.Points
}

// TimeBonus returns the bonus factor in [0, 1].
func TimeBonus(elapsed, limit time.Duration) decimal.Decimal {
	if elapsed < 0 || limit <= 0 {
		return decimal.Zero
	}

	ratio := decimal.NewFromInt(int64(elapsed)).Div(decimal.NewFromInt(int64(limit)))
	f := decimal.NewFromInt(1).Sub(ratio)
	switch {
	case f.IsNegative():
		return decimal.Zero
	case f.GreaterThan(decimal.NewFromInt(1)):
		return decimal.NewFromInt(1)
	}
	return f
}

// IsCorrect checks answer according to the question type.
func IsCorrect(q domain.Question, answer string) bool {
	if q.Type == domain.QuestionShortAnswer {
		if len(q.Answers) == 0 {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(answer), strings.TrimSpace(q.Answers[0].Text))
	}

	for _, a := range q.Answers {
		if a.Correct {
			return answer == a.Text
		}
	}
	return false
}
