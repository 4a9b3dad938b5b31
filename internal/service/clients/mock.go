package clients

import (
	"sync"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// MockDirectory — конфигурируемая заглушка справочника клиентов.
type MockDirectory struct {
	mu      sync.RWMutex
	clients map[int64]bool

	ExistsErr error

	ExistsCalls int
}

// NewMockDirectory возвращает пустой справочник.
func NewMockDirectory() *MockDirectory {
	return &MockDirectory{clients: make(map[int64]bool)}
}

// AddClient регистрирует клиента.
func (m *MockDirectory) AddClient(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[id] = true
}

// ClientExists возвращает заранее настроенную ошибку или ищет клиента.
func (m *MockDirectory) ClientExists(clientID int64) (bool, error) {
	m.mu.Lock()
	m.ExistsCalls++
	m.mu.Unlock()

	if m.ExistsErr != nil {
		return false, m.ExistsErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[clientID], nil
}

var _ domain.ClientDirectory = (*MockDirectory)(nil)
