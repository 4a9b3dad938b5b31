package catalog

import (
	"sync"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// MockService — конфигурируемая in-memory реализация CatalogService.
// Используется в тестах и в режиме работы без внешнего каталога.
type MockService struct {
	mu          sync.RWMutex
	restaurants map[int64]bool
	products    map[int64]domain.Product

	RestaurantErr error
	ProductErr    error

	RestaurantCalls int
	ProductCalls    int
}

// NewMockService возвращает пустой каталог.
func NewMockService() *MockService {
	return &MockService{
		restaurants: make(map[int64]bool),
		products:    make(map[int64]domain.Product),
	}
}

// AddRestaurant регистрирует ресторан в каталоге.
func (m *MockService) AddRestaurant(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[id] = true
}

// AddProduct регистрирует продукт в каталоге.
func (m *MockService) AddProduct(p domain.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.restaurants[p.RestaurantID] = true
	m.products[p.ID] = p
}

// RestaurantExists возвращает заранее настроенную ошибку или ищет ресторан.
func (m *MockService) RestaurantExists(restaurantID int64) (bool, error) {
	m.mu.Lock()
	m.RestaurantCalls++
	m.mu.Unlock()

	if m.RestaurantErr != nil {
		return false, m.RestaurantErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restaurants[restaurantID], nil
}

// FindProduct ищет продукт и различает отсутствие продукта
// и принадлежность другому ресторану.
func (m *MockService) FindProduct(restaurantID, productID int64) (domain.Product, error) {
	m.mu.Lock()
	m.ProductCalls++
	m.mu.Unlock()

	if m.ProductErr != nil {
		return domain.Product{}, m.ProductErr
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	product, ok := m.products[productID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if product.RestaurantID != restaurantID {
		return domain.Product{}, domain.ErrProductNotInRestaurant
	}
	return product, nil
}

var _ domain.CatalogService = (*MockService)(nil)
