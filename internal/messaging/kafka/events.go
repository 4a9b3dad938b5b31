package kafka

import "time"

// EventType определяет тип события заказа
type EventType string

const (
	EventTypeOrderPlaced     EventType = "order.placed"
	EventTypeOrderConfirmed  EventType = "order.confirmed"
	EventTypeOrderPreparing  EventType = "order.preparing"
	EventTypeOrderReady      EventType = "order.ready"
	EventTypeOrderDelivering EventType = "order.delivering"
	EventTypeOrderDelivered  EventType = "order.delivered"
	EventTypeOrderCanceled   EventType = "order.canceled"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "delivery.order.events"
	TopicDeadLetterQueue = "delivery.order.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OrderEvent представляет событие жизненного цикла заказа
type OrderEvent struct {
	EventType    EventType              `json:"event_type"`
	OrderID      int64                  `json:"order_id"`
	ClientID     int64                  `json:"client_id"`
	RestaurantID int64                  `json:"restaurant_id"`
	Status       string                 `json:"status"`
	Total        string                 `json:"total"`
	Timestamp    time.Time              `json:"timestamp"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, clientID, restaurantID int64, status, total string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType:    eventType,
		OrderID:      orderID,
		ClientID:     clientID,
		RestaurantID: restaurantID,
		Status:       status,
		Total:        total,
		Timestamp:    time.Now(),
		Metadata:     metadata,
	}
}
