package order

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
	"github.com/vladislavdragonenkov/delivery/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/delivery/internal/metrics"
)

// ItemInput описывает позицию создаваемого заказа.
// Цена не принимается от клиента: она фиксируется из каталога.
type ItemInput struct {
	ProductID int64  `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Note      string `json:"note,omitempty"`
}

// CreateInput описывает запрос на создание заказа.
type CreateInput struct {
	ClientID        int64       `json:"client_id"`
	RestaurantID    int64       `json:"restaurant_id"`
	DeliveryAddress string      `json:"delivery_address"`
	Note            string      `json:"note,omitempty"`
	Items           []ItemInput `json:"items"`

	// IdempotencyKey опционален; при повторе с тем же ключом и телом
	// возвращается ранее созданный заказ.
	IdempotencyKey string `json:"-"`
}

// createResult — снимок результата создания для idempotency-записи.
type createResult struct {
	OrderID int64 `json:"order_id"`
}

// Service реализует операции жизненного цикла заказа поверх доменных портов.
type Service struct {
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository
	idemRepo domain.IdempotencyRepository
	catalog  domain.CatalogService
	clients  domain.ClientDirectory
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
}

// NewService конструирует сервис с зависимостями.
func NewService(
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	idemRepo domain.IdempotencyRepository,
	catalog domain.CatalogService,
	clients domain.ClientDirectory,
	logger *log.Entry,
) *Service {
	svc := NewServiceWithoutMetrics(orders, timeline, outbox, idemRepo, catalog, clients, logger)
	svc.metrics = metrics.NewOrderMetrics()
	return svc
}

// NewServiceWithoutMetrics создаёт сервис без метрик (для тестов).
func NewServiceWithoutMetrics(
	orders domain.OrderRepository,
	timeline domain.TimelineRepository,
	outbox domain.OutboxRepository,
	idemRepo domain.IdempotencyRepository,
	catalog domain.CatalogService,
	clients domain.ClientDirectory,
	logger *log.Entry,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "order-service")
	}
	return &Service{
		orders:   orders,
		timeline: timeline,
		outbox:   outbox,
		idemRepo: idemRepo,
		catalog:  catalog,
		clients:  clients,
		logger:   logger,
	}
}

// Create создаёт заказ: валидация входа, проверка ссылок, фиксация цен
// из каталога, запись в репозиторий, timeline и outbox.
func (s *Service) Create(input CreateInput) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordCreateDuration(time.Since(start))
		}
	}()

	// Структурная валидация выполняется до любых обращений к каталогу.
	if err := validateCreateInput(input); err != nil {
		if s.metrics != nil {
			s.metrics.RecordOrderRejected()
		}
		return domain.Order{}, err
	}

	if input.IdempotencyKey != "" && s.idemRepo != nil {
		order, done, err := s.beginIdempotent(input)
		if err != nil || done {
			return order, err
		}
	}

	order, err := s.buildOrder(input)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordOrderRejected()
		}
		s.failIdempotent(input.IdempotencyKey, err)
		return domain.Order{}, err
	}

	created, err := s.orders.Create(order)
	if err != nil {
		s.failIdempotent(input.IdempotencyKey, err)
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.appendTimeline(domain.TimelineEvent{
		OrderID:  created.ID,
		To:       created.Status,
		Occurred: created.CreatedAt,
	})
	s.enqueueEvent(created, kafka.EventTypeOrderPlaced, "")

	if s.metrics != nil {
		s.metrics.RecordOrderCreated()
	}

	if input.IdempotencyKey != "" && s.idemRepo != nil {
		snapshot, _ := json.Marshal(createResult{OrderID: created.ID})
		if err := s.idemRepo.MarkDone(input.IdempotencyKey, snapshot); err != nil {
			s.logger.WithError(err).WithField("order_id", created.ID).
				Warn("failed to mark idempotency key as done")
		}
	}

	s.logger.WithFields(log.Fields{
		"order_id":      created.ID,
		"client_id":     created.ClientID,
		"restaurant_id": created.RestaurantID,
		"total":         created.Total.String(),
	}).Info("order created")

	return created, nil
}

// Get возвращает заказ без позиций.
func (s *Service) Get(id int64) (domain.Order, error) {
	return s.orders.Get(id)
}

// GetWithItems возвращает заказ вместе с позициями.
func (s *Service) GetWithItems(id int64) (domain.Order, error) {
	return s.orders.GetWithItems(id)
}

// ListByClient возвращает заказы клиента, новые первыми.
func (s *Service) ListByClient(clientID int64) ([]domain.Order, error) {
	return s.orders.ListByClient(clientID)
}

// ListByRestaurant возвращает заказы ресторана, новые первыми.
func (s *Service) ListByRestaurant(restaurantID int64) ([]domain.Order, error) {
	return s.orders.ListByRestaurant(restaurantID)
}

// ListByStatus возвращает заказы в заданном статусе.
func (s *Service) ListByStatus(status domain.OrderStatus) ([]domain.Order, error) {
	if !domain.IsKnownStatus(status) {
		return nil, domain.ErrStatusUnknown
	}
	return s.orders.ListByStatus(status)
}

// ListByRestaurantAndStatus возвращает заказы ресторана в заданном статусе.
func (s *Service) ListByRestaurantAndStatus(restaurantID int64, status domain.OrderStatus) ([]domain.Order, error) {
	if !domain.IsKnownStatus(status) {
		return nil, domain.ErrStatusUnknown
	}
	return s.orders.ListByRestaurantAndStatus(restaurantID, status)
}

// ListByPeriod возвращает заказы ресторана за период; обе границы включительные.
func (s *Service) ListByPeriod(restaurantID int64, from, to time.Time) ([]domain.Order, error) {
	return s.orders.ListByPeriod(restaurantID, from, to)
}

// Statistics возвращает количество и сумму доставленных заказов за период.
func (s *Service) Statistics(restaurantID int64, from, to time.Time) (domain.OrderStatistics, error) {
	return s.orders.Statistics(restaurantID, from, to)
}

// Timeline возвращает историю смен статуса заказа.
func (s *Service) Timeline(orderID int64) ([]domain.TimelineEvent, error) {
	if _, err := s.orders.Get(orderID); err != nil {
		return nil, err
	}
	return s.timeline.List(orderID)
}

// Confirm переводит заказ REALIZADO → CONFIRMADO.
func (s *Service) Confirm(id int64) (domain.Order, error) {
	return s.transition(id, domain.ActionConfirm, "")
}

// StartPreparation переводит заказ CONFIRMADO → EM_PREPARO.
func (s *Service) StartPreparation(id int64) (domain.Order, error) {
	return s.transition(id, domain.ActionStartPreparation, "")
}

// FinishPreparation переводит заказ EM_PREPARO → PRONTO.
func (s *Service) FinishPreparation(id int64) (domain.Order, error) {
	return s.transition(id, domain.ActionFinishPreparation, "")
}

// StartDelivery переводит заказ PRONTO → EM_ENTREGA.
func (s *Service) StartDelivery(id int64) (domain.Order, error) {
	return s.transition(id, domain.ActionStartDelivery, "")
}

// FinishDelivery переводит заказ EM_ENTREGA → ENTREGUE и фиксирует
// момент доставки.
func (s *Service) FinishDelivery(id int64) (domain.Order, error) {
	return s.transition(id, domain.ActionFinishDelivery, "")
}

// Cancel отменяет заказ из любого нетерминального статуса до начала доставки.
func (s *Service) Cancel(id int64, reason string) (domain.Order, error) {
	return s.transition(id, domain.ActionCancel, reason)
}

// SetStatus переводит заказ в указанный статус. Допустимы только переходы,
// разрешённые таблицей переходов: перескочить через шаг нельзя.
func (s *Service) SetStatus(id int64, target domain.OrderStatus) (domain.Order, error) {
	if !domain.IsKnownStatus(target) {
		return domain.Order{}, domain.ErrStatusUnknown
	}

	order, err := s.orders.Get(id)
	if err != nil {
		return domain.Order{}, err
	}

	action, err := domain.ResolveTarget(order.Status, target)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordTransition("set_status", "invalid")
		}
		return domain.Order{}, err
	}

	return s.transition(id, action, "")
}

func (s *Service) transition(id int64, action domain.TransitionAction, reason string) (domain.Order, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.RecordTransitionDuration(string(action), time.Since(start))
		}
	}()

	order, err := s.orders.Get(id)
	if err != nil {
		s.recordTransition(action, "error")
		return domain.Order{}, err
	}

	next, err := domain.NextStatus(order.Status, action)
	if err != nil {
		s.recordTransition(action, "invalid")
		return domain.Order{}, err
	}

	from := order.Status
	order.ApplyStatus(next)
	order.UpdatedAt = time.Now().UTC()

	if err := s.orders.Save(order); err != nil {
		if errors.Is(err, domain.ErrOrderVersionConflict) {
			s.recordTransition(action, "conflict")
		} else {
			s.recordTransition(action, "error")
		}
		return domain.Order{}, err
	}
	order.Version++

	s.appendTimeline(domain.TimelineEvent{
		OrderID:  order.ID,
		From:     from,
		To:       next,
		Reason:   reason,
		Occurred: order.UpdatedAt,
	})
	s.enqueueEvent(order, eventTypeForStatus(next), reason)
	s.recordTransition(action, "ok")

	if s.metrics != nil && domain.IsTerminalStatus(next) {
		s.metrics.RecordOrderFinished()
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"from":     string(from),
		"to":       string(next),
		"action":   string(action),
	}).Info("order status changed")

	return order, nil
}

// buildOrder проверяет ссылки на клиента, ресторан и продукты
// и собирает агрегат с зафиксированными ценами каталога.
func (s *Service) buildOrder(input CreateInput) (domain.Order, error) {
	exists, err := s.clients.ClientExists(input.ClientID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("check client: %w", err)
	}
	if !exists {
		return domain.Order{}, domain.ErrClientNotFound
	}

	exists, err = s.catalog.RestaurantExists(input.RestaurantID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("check restaurant: %w", err)
	}
	if !exists {
		return domain.Order{}, domain.ErrRestaurantNotFound
	}

	now := time.Now().UTC()
	order := domain.Order{
		ClientID:        input.ClientID,
		RestaurantID:    input.RestaurantID,
		Status:          domain.OrderStatusPlaced,
		Total:           decimal.Zero,
		DeliveryAddress: input.DeliveryAddress,
		Note:            input.Note,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for _, item := range input.Items {
		product, err := s.catalog.FindProduct(input.RestaurantID, item.ProductID)
		if err != nil {
			return domain.Order{}, err
		}
		if !product.Active {
			return domain.Order{}, domain.ErrProductUnavailable
		}

		order.AddItem(domain.OrderItem{
			ProductID: product.ID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
			Note:      item.Note,
		})
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, errors.Join(errs...)
	}

	return order, nil
}

// beginIdempotent регистрирует ключ и обрабатывает повторные запросы.
// done=true означает, что результат уже определён и создавать заказ не нужно.
func (s *Service) beginIdempotent(input CreateInput) (domain.Order, bool, error) {
	hash := hashCreateInput(input)

	_, err := s.idemRepo.CreateProcessing(input.IdempotencyKey, hash, time.Time{})
	if err == nil {
		return domain.Order{}, false, nil
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		record, getErr := s.idemRepo.Get(input.IdempotencyKey)
		if getErr != nil {
			return domain.Order{}, true, fmt.Errorf("load idempotency record: %w", getErr)
		}
		switch record.Status {
		case domain.IdempotencyStatusDone:
			var result createResult
			if err := json.Unmarshal(record.Result, &result); err != nil {
				return domain.Order{}, true, fmt.Errorf("decode idempotency result: %w", err)
			}
			order, err := s.orders.GetWithItems(result.OrderID)
			if err != nil {
				return domain.Order{}, true, fmt.Errorf("load replayed order: %w", err)
			}
			s.logger.WithFields(log.Fields{
				"order_id":        order.ID,
				"idempotency_key": input.IdempotencyKey,
			}).Info("order creation replayed from idempotency record")
			return order, true, nil
		case domain.IdempotencyStatusProcessing:
			return domain.Order{}, true, domain.ErrIdempotencyInProgress
		default:
			// Прошлая попытка завершилась ошибкой: пробуем снова.
			return domain.Order{}, false, nil
		}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return domain.Order{}, true, err
	default:
		return domain.Order{}, true, fmt.Errorf("register idempotency key: %w", err)
	}
}

func (s *Service) failIdempotent(key string, cause error) {
	if key == "" || s.idemRepo == nil {
		return
	}
	snapshot, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := s.idemRepo.MarkFailed(key, snapshot); err != nil {
		s.logger.WithError(err).Warn("failed to mark idempotency key as failed")
	}
}

func (s *Service) appendTimeline(event domain.TimelineEvent) {
	if s.timeline == nil {
		return
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithField("order_id", event.OrderID).
			Warn("failed to append timeline event")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordTimelineEvent()
	}
}

func (s *Service) enqueueEvent(order domain.Order, eventType kafka.EventType, reason string) {
	if s.outbox == nil {
		return
	}

	var metadata map[string]interface{}
	if reason != "" {
		metadata = map[string]interface{}{"reason": reason}
	}
	event := kafka.NewOrderEvent(
		eventType,
		order.ID,
		order.ClientID,
		order.RestaurantID,
		string(order.Status),
		order.Total.StringFixed(2),
		metadata,
	)

	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).
			Warn("failed to marshal order event")
		return
	}

	if _, err := s.outbox.Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   fmt.Sprintf("%d", order.ID),
		EventType:     string(eventType),
		Payload:       payload,
	}); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).
			Warn("failed to enqueue outbox event")
		return
	}
	if s.metrics != nil {
		s.metrics.RecordOutboxEvent()
	}
}

func (s *Service) recordTransition(action domain.TransitionAction, result string) {
	if s.metrics != nil {
		s.metrics.RecordTransition(string(action), result)
	}
}

func validateCreateInput(input CreateInput) error {
	if input.ClientID <= 0 {
		return domain.ErrClientRequired
	}
	if input.RestaurantID <= 0 {
		return domain.ErrRestaurantRequired
	}
	if len(input.Items) == 0 {
		return domain.ErrItemsRequired
	}
	if l := len([]rune(input.DeliveryAddress)); l < domain.MinDeliveryAddressLen || l > domain.MaxDeliveryAddressLen {
		return domain.ErrAddressLengthInvalid
	}
	if len([]rune(input.Note)) > domain.MaxNoteLen {
		return domain.ErrNoteTooLong
	}
	for _, item := range input.Items {
		if item.ProductID <= 0 {
			return domain.ErrItemProductRequired
		}
		if item.Quantity <= 0 {
			return domain.ErrItemQtyInvalid
		}
		if len([]rune(item.Note)) > domain.MaxNoteLen {
			return domain.ErrNoteTooLong
		}
	}
	return nil
}

// hashCreateInput считает отпечаток тела запроса для idempotency-записи.
func hashCreateInput(input CreateInput) string {
	data, _ := json.Marshal(input)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func eventTypeForStatus(status domain.OrderStatus) kafka.EventType {
	switch status {
	case domain.OrderStatusConfirmed:
		return kafka.EventTypeOrderConfirmed
	case domain.OrderStatusPreparing:
		return kafka.EventTypeOrderPreparing
	case domain.OrderStatusReady:
		return kafka.EventTypeOrderReady
	case domain.OrderStatusDelivering:
		return kafka.EventTypeOrderDelivering
	case domain.OrderStatusDelivered:
		return kafka.EventTypeOrderDelivered
	case domain.OrderStatusCanceled:
		return kafka.EventTypeOrderCanceled
	default:
		return kafka.EventTypeOrderPlaced
	}
}
