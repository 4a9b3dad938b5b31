package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrClientRequired = errors.New("client_id is required")
	// Ошибка отсутствующего идентификатора ресторана.
	ErrRestaurantRequired = errors.New("restaurant_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка длины адреса доставки (меньше 5 или больше 200 символов).
	ErrAddressLengthInvalid = errors.New("delivery address must be 5..200 characters")
	// Ошибка слишком длинного комментария (больше 200 символов).
	ErrNoteTooLong = errors.New("note must not exceed 200 characters")
	// Ошибка при некорректном количестве в позиции (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка отрицательной цены позиции.
	ErrItemPriceInvalid = errors.New("item unit price must be non-negative")
	// Ошибка отсутствующего продукта в позиции.
	ErrItemProductRequired = errors.New("item product_id is required")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrTotalMismatch = errors.New("order total does not match items sum")
	// Ошибка статуса вне закрытого перечисления.
	ErrStatusUnknown = errors.New("unknown order status")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrClientNotFound возвращается, если клиент не найден в справочнике.
	ErrClientNotFound = errors.New("client not found")
	// ErrRestaurantNotFound возвращается, если ресторан не найден в каталоге.
	ErrRestaurantNotFound = errors.New("restaurant not found")
	// ErrProductNotFound возвращается, если продукт не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrProductNotInRestaurant — продукт существует, но принадлежит другому ресторану.
	ErrProductNotInRestaurant = errors.New("product does not belong to the restaurant")
	// ErrProductUnavailable — продукт снят с продажи и не может быть заказан.
	ErrProductUnavailable = errors.New("product is not available")

	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении:
	// конкурентный переход успел записаться первым.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrInvalidTransition — маркер для errors.Is; конкретные переходы
	// описывает InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибка пустого idempotency-key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// Ошибка пустого хэша запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован с тем же запросом.
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
	// ErrIdempotencyInProgress — первый запрос с этим ключом ещё обрабатывается.
	ErrIdempotencyInProgress = errors.New("request with this idempotency key is still processing")
)

// InvalidTransitionError описывает отвергнутый переход статуса.
// Несёт текущий и запрошенный статусы для диагностики на границе запроса.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("invalid status transition from %s", e.From)
	}
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

// Is позволяет сопоставлять конкретные переходы с маркером ErrInvalidTransition.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// IsNotFound проверяет, относится ли ошибка к семейству "не найдено".
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrRestaurantNotFound) ||
		errors.Is(err, ErrProductNotFound)
}

// IsInvalidTransition проверяет, является ли ошибка отвергнутым переходом.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsConflict проверяет, является ли ошибка конфликтом версий.
func IsConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsInvalidReference проверяет, указывает ли позиция на чужой продукт.
func IsInvalidReference(err error) bool {
	return errors.Is(err, ErrProductNotInRestaurant)
}
