package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository для
// локальной разработки и тестов. Идентификаторы назначаются счётчиками,
// как это делала бы база.
type orderRepositoryInMemory struct {
	mu         sync.RWMutex
	items      map[int64]domain.Order
	nextOrder  int64
	nextItem   int64
}

// NewOrderRepository возвращает in-memory репозиторий заказов.
func NewOrderRepository() domain.OrderRepository {
	return &orderRepositoryInMemory{
		items: make(map[int64]domain.Order),
	}
}

// Create назначает идентификаторы заказу и позициям и сохраняет копию.
func (r *orderRepositoryInMemory) Create(order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextOrder++
	order.ID = r.nextOrder
	for idx := range order.Items {
		r.nextItem++
		order.Items[idx].ID = r.nextItem
		order.Items[idx].OrderID = order.ID
		// Граница персистентности: subtotal пересчитывается при записи.
		order.Items[idx].RecalculateSubtotal()
	}

	r.items[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

// Get возвращает заказ без позиций или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	header := cloneOrder(order)
	header.Items = nil
	return header, nil
}

// GetWithItems возвращает заказ вместе с позициями или ErrOrderNotFound.
func (r *orderRepositoryInMemory) GetWithItems(id int64) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.items[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// ListByClient возвращает заказы клиента, новые первыми.
func (r *orderRepositoryInMemory) ListByClient(clientID int64) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool {
		return o.ClientID == clientID
	}), nil
}

// ListByRestaurant возвращает заказы ресторана, новые первыми.
func (r *orderRepositoryInMemory) ListByRestaurant(restaurantID int64) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool {
		return o.RestaurantID == restaurantID
	}), nil
}

// ListByStatus возвращает заказы в заданном статусе, новые первыми.
func (r *orderRepositoryInMemory) ListByStatus(status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool {
		return o.Status == status
	}), nil
}

// ListByRestaurantAndStatus возвращает заказы ресторана в заданном статусе,
// новые первыми.
func (r *orderRepositoryInMemory) ListByRestaurantAndStatus(restaurantID int64, status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool {
		return o.RestaurantID == restaurantID && o.Status == status
	}), nil
}

// ListByPeriod возвращает заказы ресторана за период [from, to] включительно,
// новые первыми.
func (r *orderRepositoryInMemory) ListByPeriod(restaurantID int64, from, to time.Time) ([]domain.Order, error) {
	return r.list(func(o domain.Order) bool {
		if o.RestaurantID != restaurantID {
			return false
		}
		return !o.CreatedAt.Before(from) && !o.CreatedAt.After(to)
	}), nil
}

// Statistics считает количество и сумму доставленных заказов за период.
func (r *orderRepositoryInMemory) Statistics(restaurantID int64, from, to time.Time) (domain.OrderStatistics, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := domain.OrderStatistics{TotalSum: decimal.Zero}
	for _, order := range r.items {
		if order.RestaurantID != restaurantID || order.Status != domain.OrderStatusDelivered {
			continue
		}
		if order.CreatedAt.Before(from) || order.CreatedAt.After(to) {
			continue
		}
		stats.DeliveredCount++
		stats.TotalSum = stats.TotalSum.Add(order.Total)
	}
	return stats, nil
}

// Save перезаписывает заказ с проверкой версии (optimistic locking).
func (r *orderRepositoryInMemory) Save(order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	// Списочные чтения не несут позиций; сохранение без позиций
	// не должно их терять.
	if order.Items == nil {
		order.Items = current.Items
	}
	for idx := range order.Items {
		order.Items[idx].RecalculateSubtotal()
	}

	order.Version++
	r.items[order.ID] = cloneOrder(order)
	return nil
}

func (r *orderRepositoryInMemory) list(match func(domain.Order) bool) []domain.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range r.items {
		if !match(order) {
			continue
		}
		header := cloneOrder(order)
		header.Items = nil
		result = append(result, header)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	return result
}

// cloneOrder копирует заказ вместе с позициями, чтобы избежать
// непредсказуемых мутаций извне.
func cloneOrder(src domain.Order) domain.Order {
	dst := src
	if src.Items != nil {
		dst.Items = make([]domain.OrderItem, len(src.Items))
		copy(dst.Items, src.Items)
	}
	if src.DeliveredAt != nil {
		delivered := *src.DeliveredAt
		dst.DeliveredAt = &delivered
	}
	return dst
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
