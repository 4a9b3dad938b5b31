package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MinDeliveryAddressLen — минимальная длина адреса доставки.
	MinDeliveryAddressLen = 5
	// MaxDeliveryAddressLen — максимальная длина адреса доставки.
	MaxDeliveryAddressLen = 200
	// MaxNoteLen — максимальная длина комментария к заказу или позиции.
	MaxNoteLen = 200
)

// OrderItem представляет одну позицию заказа.
// Позиция принадлежит ровно одному заказу; OrderID — ссылка только для
// навигации, жизненным циклом позиции управляет агрегат Order.
type OrderItem struct {
	// ID позиции назначается хранилищем при создании заказа.
	ID int64
	// OrderID — обратная ссылка на заказ-владелец.
	OrderID int64
	// ProductID — ссылка на продукт каталога.
	ProductID int64
	// Quantity — количество единиц продукта, всегда >= 1.
	Quantity int32
	// UnitPrice — цена за единицу, зафиксированная в момент оформления заказа.
	// Последующие изменения цены в каталоге на неё не влияют.
	UnitPrice decimal.Decimal
	// Subtotal — производное значение UnitPrice * Quantity.
	Subtotal decimal.Decimal
	// Note — необязательный комментарий к позиции.
	Note string
}

// RecalculateSubtotal пересчитывает Subtotal из цены и количества.
// Вызывается при сборке заказа и на каждой границе персистентности.
func (i *OrderItem) RecalculateSubtotal() {
	i.Subtotal = i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order агрегирует заказ клиента в одном ресторане: позиции, статус и сумму.
type Order struct {
	ID           int64
	ClientID     int64
	RestaurantID int64
	Status       OrderStatus
	// Total всегда равен сумме Subtotal всех позиций.
	Total decimal.Decimal
	// DeliveryAddress — адрес доставки, 5..200 символов.
	DeliveryAddress string
	// Note — необязательный комментарий к заказу, до 200 символов.
	Note string
	// Items — позиции заказа; коллекция принадлежит исключительно агрегату.
	Items []OrderItem
	// Version используется для optimistic locking при сохранении.
	Version   int64
	CreatedAt time.Time
	// DeliveredAt заполняется только при переходе в статус ENTREGUE.
	DeliveredAt *time.Time
	UpdatedAt   time.Time
}

// AddItem добавляет позицию, проставляет обратную ссылку и пересчитывает сумму.
func (o *Order) AddItem(item OrderItem) {
	item.OrderID = o.ID
	item.RecalculateSubtotal()
	o.Items = append(o.Items, item)
	o.RecalculateTotal()
}

// RemoveItem удаляет позицию по идентификатору, если она есть,
// и пересчитывает сумму. Возвращает true, если позиция была удалена.
func (o *Order) RemoveItem(itemID int64) bool {
	for idx, item := range o.Items {
		if item.ID != itemID {
			continue
		}
		o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
		o.RecalculateTotal()
		return true
	}
	return false
}

// RecalculateTotal пересчитывает сумму заказа как сумму Subtotal всех позиций.
// Для пустой коллекции сумма равна нулю.
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for idx := range o.Items {
		o.Items[idx].RecalculateSubtotal()
		total = total.Add(o.Items[idx].Subtotal)
	}
	o.Total = total
}

// CanBeUpdated сообщает, допускает ли текущий статус изменение состава заказа.
func (o *Order) CanBeUpdated() bool {
	return o.Status == OrderStatusPlaced || o.Status == OrderStatusConfirmed
}

// CanBeCancelled сообщает, допускает ли текущий статус отмену заказа.
func (o *Order) CanBeCancelled() bool {
	switch o.Status {
	case OrderStatusDelivering, OrderStatusDelivered, OrderStatusCanceled:
		return false
	default:
		return true
	}
}

// ApplyStatus устанавливает новый статус без проверки легальности перехода —
// легальность проверяет state machine до вызова. При переходе в ENTREGUE
// фиксируется момент доставки.
func (o *Order) ApplyStatus(newStatus OrderStatus) {
	now := time.Now().UTC()
	o.Status = newStatus
	o.UpdatedAt = now
	if newStatus == OrderStatusDelivered {
		o.DeliveredAt = &now
	}
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ClientID <= 0 {
		errs = append(errs, ErrClientRequired)
	}
	if o.RestaurantID <= 0 {
		errs = append(errs, ErrRestaurantRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if addrLen := len([]rune(o.DeliveryAddress)); addrLen < MinDeliveryAddressLen || addrLen > MaxDeliveryAddressLen {
		errs = append(errs, ErrAddressLengthInvalid)
	}
	if len([]rune(o.Note)) > MaxNoteLen {
		errs = append(errs, ErrNoteTooLong)
	}
	if !IsKnownStatus(o.Status) {
		errs = append(errs, ErrStatusUnknown)
	}

	// Сверяем сумму заказа с суммой позиций: unit price * qty.
	calc := decimal.Zero
	for _, item := range o.Items {
		if item.ProductID <= 0 {
			errs = append(errs, ErrItemProductRequired)
		}
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if len([]rune(item.Note)) > MaxNoteLen {
			errs = append(errs, ErrNoteTooLong)
		}
		calc = calc.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	if !calc.Equal(o.Total) {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
