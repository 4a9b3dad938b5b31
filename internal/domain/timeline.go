package domain

import "time"

// TimelineEvent описывает одну смену статуса в истории заказа.
type TimelineEvent struct {
	OrderID int64
	// From — статус до перехода; пустой для события создания заказа.
	From OrderStatus
	// To — статус после перехода.
	To OrderStatus
	// Reason — необязательное пояснение (например, причина отмены).
	Reason   string
	Occurred time.Time
}
