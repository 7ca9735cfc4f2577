package alerts

import (
	"context"
	"errors"
	"sync"

	"github.com/aimms/backend/internal/domain"
	"github.com/aimms/backend/internal/repository"
)

var (
	ErrMockSave      = errors.New("mock save error")
	ErrMockFind      = errors.New("mock find error")
	ErrMockHeuristic = errors.New("mock heuristic error")
)

// MockStore is an in-memory Store. It enforces the ACTIVE message
// uniqueness the SQLite index provides unless DisableUnique is set.
type MockStore struct {
	mu            sync.Mutex
	alerts        []domain.Alert
	nextID        int64
	SaveFunc      func(a *domain.Alert) error
	FindFunc      func(status domain.AlertStatus) error
	DisableUnique bool
	SaveCalls     int
}

func NewMockStore(seed ...domain.Alert) *MockStore {
	m := &MockStore{}
	for _, a := range seed {
		m.nextID++
		a.ID = m.nextID
		m.alerts = append(m.alerts, a)
	}
	return m
}

func (m *MockStore) Save(ctx context.Context, a *domain.Alert) (*domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls++
	if m.SaveFunc != nil {
		if err := m.SaveFunc(a); err != nil {
			return nil, err
		}
	}
	if !m.DisableUnique && a.Status == domain.AlertStatusActive {
		for _, existing := range m.alerts {
			if existing.Status == domain.AlertStatusActive && existing.Message == a.Message {
				return nil, repository.ErrDuplicateActiveAlert
			}
		}
	}

	m.nextID++
	saved := *a
	saved.ID = m.nextID
	m.alerts = append(m.alerts, saved)
	return &saved, nil
}

func (m *MockStore) FindByStatus(ctx context.Context, status domain.AlertStatus) ([]domain.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindFunc != nil {
		if err := m.FindFunc(status); err != nil {
			return nil, err
		}
	}
	var out []domain.Alert
	for _, a := range m.alerts {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockStore) All() []domain.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

func (m *MockStore) countMessage(msg string) int {
	n := 0
	for _, a := range m.All() {
		if a.Message == msg {
			n++
		}
	}
	return n
}

// MockHeuristic implements Heuristic with an overridable EvaluateFunc.
type MockHeuristic struct {
	NameValue    string
	EvaluateFunc func(ctx context.Context) (*Candidate, error)

	mu        sync.Mutex
	CallCount int
}

func (m *MockHeuristic) Name() string { return m.NameValue }

func (m *MockHeuristic) Evaluate(ctx context.Context) (*Candidate, error) {
	m.mu.Lock()
	m.CallCount++
	m.mu.Unlock()

	if m.EvaluateFunc != nil {
		return m.EvaluateFunc(ctx)
	}
	return nil, nil
}

func (m *MockHeuristic) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCount
}

func firing(name string, c Candidate) *MockHeuristic {
	return &MockHeuristic{
		NameValue: name,
		EvaluateFunc: func(ctx context.Context) (*Candidate, error) {
			cp := c
			return &cp, nil
		},
	}
}

func failing(name string) *MockHeuristic {
	return &MockHeuristic{
		NameValue: name,
		EvaluateFunc: func(ctx context.Context) (*Candidate, error) {
			return nil, ErrMockHeuristic
		},
	}
}
