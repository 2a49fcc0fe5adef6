package quizstore

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

//go:embed schema.sql
var schema string

type PostgresConfig struct {
	DB *pgxpool.Pool
}

// Postgres reads quizzes authored elsewhere. The engine never writes to it except Migrate
// and Put, which exist for seeding.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(c PostgresConfig) *Postgres {
	return &Postgres{db: c.DB}
}

// Migrate creates the quiz tables if they do not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate quiz schema: %w", err)
	}
	return nil
}

func (p *Postgres) GetQuizByID(ctx context.Context, id string) (*domain.Quiz, error) {
	const quizStmt = `SELECT quiz_id, title, status FROM quizzes WHERE quiz_id = $1;`

	var q domain.Quiz
	err := p.db.QueryRow(ctx, quizStmt, id).Scan(&q.ID, &q.Title, &q.Status)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", id))
	}
	if err != nil {
		return nil, fmt.Errorf("query quiz: %w", err)
	}

	const questionStmt = `
SELECT question_id, text, type, points
FROM questions
WHERE quiz_id = $1
ORDER BY position;`

	rows, err := p.db.Query(ctx, questionStmt, id)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	q.Questions, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var qu domain.Question
		err := r.Scan(&qu.ID, &qu.Text, &qu.Type, &qu.Points)
		return qu, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect questions: %w", err)
	}

	const answerStmt = `
SELECT question, text, correct
FROM answers
WHERE quiz_id = $1
ORDER BY question, position;`

	rows, err = p.db.Query(ctx, answerStmt, id)
	if err != nil {
		return nil, fmt.Errorf("query answers: %w", err)
	}
	type answerRow struct {
		question int
		answer   domain.Answer
	}
	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (answerRow, error) {
		var a answerRow
		err := r.Scan(&a.question, &a.answer.Text, &a.answer.Correct)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect answers: %w", err)
	}

	for _, a := range answers {
		if a.question < 0 || a.question >= len(q.Questions) {
			continue
		}
		q.Questions[a.question].Answers = append(q.Questions[a.question].Answers, a.answer)
	}

	return &q, nil
}

// Put replaces a quiz and its questions.
func (p *Postgres) Put(ctx context.Context, q domain.Quiz) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		delStmt      = `DELETE FROM quizzes WHERE quiz_id = $1;`
		insQuizStmt  = `INSERT INTO quizzes (quiz_id, title, status) VALUES ($1, $2, $3);`
		insQuestStmt = `INSERT INTO questions (quiz_id, position, question_id, text, type, points) VALUES ($1, $2, $3, $4, $5, $6);`
		insAnsStmt   = `INSERT INTO answers (quiz_id, question, position, text, correct) VALUES ($1, $2, $3, $4, $5);`
	)

	if _, err = tx.Exec(ctx, delStmt, q.ID); err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	if _, err = tx.Exec(ctx, insQuizStmt, q.ID, q.Title, q.Status); err != nil {
		return fmt.Errorf("insert quiz: %w", err)
	}

	batch := &pgx.Batch{}
	for i, qu := range q.Questions {
		batch.Queue(insQuestStmt, q.ID, i, qu.ID, qu.Text, qu.Type, qu.Points)
		for j, a := range qu.Answers {
			batch.Queue(insAnsStmt, q.ID, i, j, a.Text, a.Correct)
		}
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}

	return tx.Commit(ctx)
}
