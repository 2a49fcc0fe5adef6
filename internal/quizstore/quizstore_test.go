package quizstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/quizstore"
)

func TestMemory_GetQuizByID(t *testing.T) {
	m := quizstore.NewMemory(domain.Quiz{
		ID: "q1", Title: "Capitals", Status: domain.QuizStatusPublished,
		Questions: []domain.Question{{ID: "a", Text: "France?"}},
	})

	q, err := m.GetQuizByID(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "Capitals", q.Title)

	q.Questions[0].Text = "changed"
	again, err := m.GetQuizByID(context.Background(), "q1")
	require.NoError(t, err)
	assert.Equal(t, "France?", again.Questions[0].Text, "callers must not mutate the stored quiz")

	_, err = m.GetQuizByID(context.Background(), "missing")
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))
}

func TestMemory_LoadFile(t *testing.T) {
	tests := map[string]struct {
		content string
		assert  func(t *testing.T, m *quizstore.Memory, n int, err error)
	}{
		"valid seed": {
			content: `
quizzes:
  - id: capitals
    title: Capitals
    questions:
      - id: q1
        text: Capital of France?
        type: multiple-choice
        points: 100
        answers:
          - text: Paris
            correct: true
          - text: Rome
  - id: draft
    title: Draft
    status: draft
    questions:
      - id: q1
        text: Is this a draft?
        type: true-false
        answers:
          - text: "true"
            correct: true
          - text: "false"
`,
			assert: func(t *testing.T, m *quizstore.Memory, n int, err error) {
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				q, err := m.GetQuizByID(context.Background(), "capitals")
				require.NoError(t, err)
				assert.Equal(t, domain.QuizStatusPublished, q.Status, "status defaults to published")
				require.Len(t, q.Questions, 1)
				assert.Equal(t, domain.QuestionMultipleChoice, q.Questions[0].Type)
				assert.Equal(t, []domain.Answer{{Text: "Paris", Correct: true}, {Text: "Rome"}}, q.Questions[0].Answers)

				d, err := m.GetQuizByID(context.Background(), "draft")
				require.NoError(t, err)
				assert.Equal(t, "draft", d.Status)

				all := m.All()
				require.Len(t, all, 2)
				assert.Equal(t, []string{"capitals", "draft"}, []string{all[0].ID, all[1].ID})
			},
		},
		"missing id": {
			content: "quizzes:\n  - title: Nameless\n",
			assert: func(t *testing.T, _ *quizstore.Memory, _ int, err error) {
				assert.ErrorContains(t, err, "has no id")
			},
		},
		"malformed yaml": {
			content: "quizzes: [",
			assert: func(t *testing.T, _ *quizstore.Memory, _ int, err error) {
				assert.Error(t, err)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "quizzes.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			m := quizstore.NewMemory()
			n, err := m.LoadFile(path)
			tt.assert(t, m, n, err)
		})
	}
}
