package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatistics — агрегаты по доставленным заказам ресторана за период.
type OrderStatistics struct {
	// DeliveredCount — количество заказов в статусе ENTREGUE.
	DeliveredCount int64
	// TotalSum — сумма Total этих заказов.
	TotalSum decimal.Decimal
}

// OrderRepository описывает требования к хранилищу заказов.
// Списочные методы возвращают заказы без позиций; позиции загружают
// Get/GetWithItems.
type OrderRepository interface {
	// Create сохраняет новый заказ вместе с позициями в одной транзакции
	// и возвращает заказ с назначенными хранилищем идентификаторами.
	Create(order Order) (Order, error)
	// Get возвращает заказ без позиций или ErrOrderNotFound.
	Get(id int64) (Order, error)
	// GetWithItems возвращает заказ вместе с позициями или ErrOrderNotFound.
	GetWithItems(id int64) (Order, error)
	// ListByClient возвращает заказы клиента.
	ListByClient(clientID int64) ([]Order, error)
	// ListByRestaurant возвращает заказы ресторана.
	ListByRestaurant(restaurantID int64) ([]Order, error)
	// ListByStatus возвращает заказы в заданном статусе.
	ListByStatus(status OrderStatus) ([]Order, error)
	// ListByRestaurantAndStatus возвращает заказы ресторана в заданном
	// статусе, новые первыми.
	ListByRestaurantAndStatus(restaurantID int64, status OrderStatus) ([]Order, error)
	// ListByPeriod возвращает заказы ресторана, созданные в интервале
	// [from, to] (границы включительно), новые первыми.
	ListByPeriod(restaurantID int64, from, to time.Time) ([]Order, error)
	// Statistics считает количество и сумму доставленных заказов ресторана,
	// созданных в интервале [from, to].
	Statistics(restaurantID int64, from, to time.Time) (OrderStatistics, error)
	// Save применяет обновления к заказу с учётом optimistic locking:
	// ErrOrderNotFound, если заказа нет, ErrOrderVersionConflict при
	// конкурентной записи.
	Save(order Order) error
}
