package lifecycle

import (
	"context"
	"log/slog"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/score"
	"github.com/victornm/livequiz/internal/session"
	"github.com/victornm/livequiz/internal/telemetry"
)

type SubmitAnswerRequest struct {
	SessionID     string
	ParticipantID string
	QuestionIndex int
	Answer        string
}

type SubmitAnswerResult struct {
	QuestionIndex int
	Correct       bool
	Points        int
	Score         int
}

// SubmitAnswer records the participant's answer for the open question and credits its points.
// The answer and its points are applied together or not at all.
func (c *Controller) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResult, error) {
	var res SubmitAnswerResult
	err := c.store.Update(req.SessionID, func(tx *session.Tx) error {
		s := tx.Session()

		if s.Status == domain.StatusActive && (req.QuestionIndex != s.CurrentQuestionIndex || s.QuestionClosed) {
			if req.QuestionIndex < 0 || req.QuestionIndex >= len(s.Questions) {
				return errors.New(errors.CodeInvalidArgument,
					errors.WithMessagef("question index out of range: %d", req.QuestionIndex))
			}
			return errors.New(errors.CodeQuestionClosed,
				errors.WithMessagef("question is not open for answers: session=%s, question=%d", s.SessionID, req.QuestionIndex))
		}

		rec, err := tx.RecordAnswer(req.ParticipantID, req.QuestionIndex, req.Answer, tx.Now())
		if err != nil {
			return err
		}

		q := s.Questions[req.QuestionIndex]
		r := score.Score(q, req.Answer, rec.ResponseTime, s.Config.QuestionTimeLimit)

		total, err := tx.ApplyScoreDelta(req.ParticipantID, r.Points)
		if err != nil {
			return err
		}

		res = SubmitAnswerResult{
			QuestionIndex: req.QuestionIndex,
			Correct:       r.Correct,
			Points:        r.Points,
			Score:         total,
		}

		c.eb.Publish(ctx, domain.EventScoreUpdated{
			SessionID:     s.SessionID,
			ParticipantID: req.ParticipantID,
			QuestionIndex: req.QuestionIndex,
			Correct:       r.Correct,
			Points:        r.Points,
			Score:         total,
		})
		return nil
	})
	if err != nil {
		telemetry.AnswersSubmitted.WithLabelValues(string(errors.Convert(err).Code)).Inc()
		return nil, err
	}

	outcome := "incorrect"
	if res.Correct {
		outcome = "correct"
	}
	telemetry.AnswersSubmitted.WithLabelValues(outcome).Inc()

	slog.DebugContext(ctx, "lifecycle: answer submitted",
		"session", req.SessionID, "participant", req.ParticipantID, "question", req.QuestionIndex,
		"correct", res.Correct, "points", res.Points)

	return &res, nil
}
