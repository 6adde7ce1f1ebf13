package store

import (
	"fmt"
	"sync"

	"github.com/eddiefleurent/michael_scarn/internal/models"
)

// MockStore implements Interface in memory for testing.
type MockStore struct {
	mu         sync.Mutex
	partitions map[models.PlayStatus]map[string]*models.Play

	saveError error
	moveError error

	saveCallCount int
	moveCallCount int
}

// NewMockStore creates an empty in-memory store for testing.
func NewMockStore() *MockStore {
	parts := make(map[models.PlayStatus]map[string]*models.Play, len(models.AllStatuses))
	for _, st := range models.AllStatuses {
		parts[st] = make(map[string]*models.Play)
	}
	return &MockStore{partitions: parts}
}

// SetSaveError injects an error on subsequent Save calls.
func (m *MockStore) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetMoveError injects an error on subsequent Move calls.
func (m *MockStore) SetMoveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveError = err
}

// SaveCallCount returns how many times Save has been called.
func (m *MockStore) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

// MoveCallCount returns how many times Move has been called.
func (m *MockStore) MoveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.moveCallCount
}

// ListByStatus returns copies of every play in the partition.
func (m *MockStore) ListByStatus(status models.PlayStatus) ([]*models.Play, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	part := m.partitions[status]
	out := make([]*models.Play, 0, len(part))
	for _, p := range part {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// Load returns a copy of one play from a partition.
func (m *MockStore) Load(status models.PlayStatus, playID string) (*models.Play, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partitions[status][playID]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", status, playID, ErrPlayNotFound)
	}
	cp := *p
	return &cp, nil
}

// Find locates a play by id across all partitions.
func (m *MockStore) Find(playID string) (*models.Play, models.PlayStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range models.AllStatuses {
		if p, ok := m.partitions[st][playID]; ok {
			cp := *p
			return &cp, st, nil
		}
	}
	return nil, "", fmt.Errorf("%s: %w", playID, ErrPlayNotFound)
}

// Save stores a copy of the play in the partition.
func (m *MockStore) Save(from models.PlayStatus, play *models.Play) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	if play.ID == "" {
		return fmt.Errorf("play has no id")
	}
	cp := *play
	m.partitions[from][play.ID] = &cp
	return nil
}

// Move relocates the play between partitions.
func (m *MockStore) Move(play *models.Play, from, to models.PlayStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moveCallCount++
	if m.moveError != nil {
		return m.moveError
	}
	if play.ID == "" {
		return fmt.Errorf("play has no id")
	}
	delete(m.partitions[from], play.ID)
	cp := *play
	m.partitions[to][play.ID] = &cp
	return nil
}

// Delete removes the play from a partition.
func (m *MockStore) Delete(status models.PlayStatus, playID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.partitions[status][playID]; !ok {
		return fmt.Errorf("%s/%s: %w", status, playID, ErrPlayNotFound)
	}
	delete(m.partitions[status], playID)
	return nil
}

// Ensure MockStore implements Interface
var _ Interface = (*MockStore)(nil)
