package quizstore

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
)

// Store resolves quizzes by ID.
type Store interface {
	GetQuizByID(ctx context.Context, id string) (*domain.Quiz, error)
}

// Memory is a Store backed by a map. It is safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
}

func NewMemory(quizzes ...domain.Quiz) *Memory {
	m := &Memory{quizzes: make(map[string]domain.Quiz, len(quizzes))}
	for _, q := range quizzes {
		m.Put(q)
	}
	return m
}

func (m *Memory) Put(q domain.Quiz) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quizzes[q.ID] = q
}

func (m *Memory) GetQuizByID(_ context.Context, id string) (*domain.Quiz, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.quizzes[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("quiz not found: %s", id))
	}

	q.Questions = append([]domain.Question(nil), q.Questions...)
	return &q, nil
}

// All returns every quiz ordered by ID.
func (m *Memory) All() []domain.Quiz {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Quiz, 0, len(m.quizzes))
	for _, q := range m.quizzes {
		out = append(out, q)
	}
	slices.SortFunc(out, func(a, b domain.Quiz) int { return strings.Compare(a.ID, b.ID) })
	return out
}

type seedFile struct {
	Quizzes []domain.Quiz `yaml:"quizzes"`
}

// LoadFile reads quizzes from a YAML seed file into the store and returns how many it loaded.
func (m *Memory) LoadFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read quiz seed: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return 0, fmt.Errorf("parse quiz seed %s: %w", path, err)
	}

	for i, q := range f.Quizzes {
		if q.ID == "" {
			return 0, fmt.Errorf("parse quiz seed %s: quiz #%d has no id", path, i)
		}
		if q.Status == "" {
			q.Status = domain.QuizStatusPublished
		}
		m.Put(q)
	}

	return len(f.Quizzes), nil
}
