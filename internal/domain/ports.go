package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutboxMessage — событие заказа, ожидающее публикации. Payload хранится
// как сырой JSON и не интерпретируется слоем доставки.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats — снимок backlog: сколько записей ждёт публикации и когда
// создана самая старая из них.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// Product — срез данных каталога, необходимый для оформления позиции:
// текущая цена и доступность продукта.
type Product struct {
	ID           int64
	RestaurantID int64
	Name         string
	// Price — текущая цена каталога; копируется в позицию при создании заказа.
	Price decimal.Decimal
	// Active — доступен ли продукт для заказа.
	Active bool
}

// CatalogService описывает взаимодействие с каталогом ресторанов и продуктов.
// Ядро не владеет каталогом и обращается к нему только на создании заказа.
type CatalogService interface {
	// RestaurantExists проверяет существование ресторана.
	RestaurantExists(restaurantID int64) (bool, error)
	// FindProduct возвращает продукт в рамках заданного ресторана.
	// Возвращает ErrProductNotFound, если продукта нет вовсе, и
	// ErrProductNotInRestaurant, если он принадлежит другому ресторану.
	FindProduct(restaurantID, productID int64) (Product, error)
}

// ClientDirectory описывает справочник клиентов.
type ClientDirectory interface {
	// ClientExists проверяет существование клиента.
	ClientExists(clientID int64) (bool, error)
}

// OutboxPublisher доставляет события outbox наружу (в брокер).
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository — очередь transactional outbox. Запись попадает в неё
// в той же транзакции, что и смена статуса заказа.
type OutboxRepository interface {
	// Enqueue сохраняет событие и возвращает запись с присвоенным id.
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	// PullPending отдаёт до limit неопубликованных записей в порядке создания.
	PullPending(limit int) ([]OutboxMessage, error)
	// Stats возвращает текущее состояние backlog.
	Stats() (OutboxStats, error)
	// MarkSent помечает запись опубликованной.
	MarkSent(id string) error
	// MarkFailed помечает запись неопубликуемой после исчерпания повторов.
	MarkFailed(id string) error
}

// TimelineRepository хранит историю смен статуса заказа.
type TimelineRepository interface {
	// Append дописывает событие в хронику заказа.
	Append(event TimelineEvent) error
	// List возвращает хронику заказа в порядке наступления событий.
	List(orderID int64) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	// CreateProcessing регистрирует новый ключ в статусе PROCESSING.
	// Для уже известного ключа возвращает существующую запись с
	// ErrIdempotencyInProgress либо ErrIdempotencyConflict.
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	// Get возвращает запись по ключу.
	Get(key string) (IdempotencyRecord, error)
	// MarkDone фиксирует успешный результат обработки.
	MarkDone(key string, result []byte) error
	// MarkFailed фиксирует неуспешный результат обработки.
	MarkFailed(key string, result []byte) error
	// DeleteExpired удаляет до limit записей со сроком раньше before.
	DeleteExpired(before time.Time, limit int) (int, error)
}
