package score_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/score"
)

func mcQuestion(points int) domain.Question {
	return domain.Question{
		ID:     "q1",
		Text:   "Capital of France?",
		Type:   domain.QuestionMultipleChoice,
		Points: points,
		Answers: []domain.Answer{
			{Text: "Berlin"},
			{Text: "Paris", Correct: true},
			{Text: "Rome"},
		},
	}
}

func TestScore(t *testing.T) {
	const limit = 30 * time.Second

	tests := map[string]struct {
		question domain.Question
		answer   string
		elapsed  time.Duration
		want     score.Result
	}{
		"correct at zero elapsed doubles base": {
			question: mcQuestion(100),
			answer:   "Paris",
			elapsed:  0,
			want:     score.Result{Correct: true, Points: 200},
		},
		"correct at the limit earns base": {
			question: mcQuestion(100),
			answer:   "Paris",
			elapsed:  limit,
			want:     score.Result{Correct: true, Points: 100},
		},
		"correct half way": {
			question: mcQuestion(100),
			answer:   "Paris",
			elapsed:  15 * time.Second,
			want:     score.Result{Correct: true, Points: 150},
		},
		"correct after the limit is floored at base": {
			question: mcQuestion(100),
			answer:   "Paris",
			elapsed:  45 * time.Second,
			want:     score.Result{Correct: true, Points: 100},
		},
		"unknown elapsed earns no bonus": {
			question: mcQuestion(100),
			answer:   "Paris",
			elapsed:  -1,
			want:     score.Result{Correct: true, Points: 100},
		},
		"incorrect earns nothing": {
			question: mcQuestion(100),
			answer:   "Rome",
			elapsed:  0,
			want:     score.Result{},
		},
		"multiple choice is case sensitive": {
			question: mcQuestion(100),
			answer:   "paris",
			elapsed:  0,
			want:     score.Result{},
		},
		"missing points default to one": {
			question: mcQuestion(0),
			answer:   "Paris",
			elapsed:  0,
			want:     score.Result{Correct: true, Points: 2},
		},
		"rounds half away from zero": {
			question: mcQuestion(1),
			answer:   "Paris",
			elapsed:  15 * time.Second,
			want:     score.Result{Correct: true, Points: 2},
		},
		"short answer ignores case and surrounding space": {
			question: domain.Question{
				Type:    domain.QuestionShortAnswer,
				Points:  10,
				Answers: []domain.Answer{{Text: "Blue Whale"}},
			},
			answer:  "  blue whale ",
			elapsed: limit,
			want:    score.Result{Correct: true, Points: 10},
		},
		"true false": {
			question: domain.Question{
				Type:    domain.QuestionTrueFalse,
				Points:  10,
				Answers: []domain.Answer{{Text: "True", Correct: true}, {Text: "False"}},
			},
			answer:  "False",
			elapsed: 0,
			want:    score.Result{},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := score.Score(tt.question, tt.answer, tt.elapsed, limit)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScore_Bounds(t *testing.T) {
	const limit = 10 * time.Second
	q := mcQuestion(37)

	for elapsed := -time.Second; elapsed <= 2*limit; elapsed += 250 * time.Millisecond {
		r := score.Score(q, "Paris", elapsed, limit)
		require.True(t, r.Correct)
		require.GreaterOrEqual(t, r.Points, 37, "elapsed=%s", elapsed)
		require.LessOrEqual(t, r.Points, 74, "elapsed=%s", elapsed)

		require.Zero(t, score.Score(q, "Berlin", elapsed, limit).Points)
	}
}
