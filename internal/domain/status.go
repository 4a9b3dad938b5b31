package domain

// OrderStatus описывает жизненный цикл заказа. Значения — канонические
// токены статусов, под которыми заказы хранятся и публикуются наружу.
type OrderStatus string

const (
	// OrderStatusPlaced — заказ принят системой, ресторан его ещё не подтвердил.
	OrderStatusPlaced OrderStatus = "REALIZADO"
	// OrderStatusConfirmed — ресторан подтвердил получение заказа.
	OrderStatusConfirmed OrderStatus = "CONFIRMADO"
	// OrderStatusPreparing — ресторан готовит заказ.
	OrderStatusPreparing OrderStatus = "EM_PREPARO"
	// OrderStatusReady — заказ готов к передаче курьеру.
	OrderStatusReady OrderStatus = "PRONTO"
	// OrderStatusDelivering — заказ в пути к клиенту.
	OrderStatusDelivering OrderStatus = "EM_ENTREGA"
	// OrderStatusDelivered — заказ доставлен; терминальный статус.
	OrderStatusDelivered OrderStatus = "ENTREGUE"
	// OrderStatusCanceled — заказ отменён; терминальный статус.
	OrderStatusCanceled OrderStatus = "CANCELADO"
)

// TransitionAction — именованная операция жизненного цикла.
type TransitionAction string

const (
	ActionConfirm           TransitionAction = "confirm"
	ActionStartPreparation  TransitionAction = "start_preparation"
	ActionFinishPreparation TransitionAction = "finish_preparation"
	ActionStartDelivery     TransitionAction = "start_delivery"
	ActionFinishDelivery    TransitionAction = "finish_delivery"
	ActionCancel            TransitionAction = "cancel"
)

// transitionRule описывает одну строку таблицы переходов:
// действие легально только из перечисленных статусов и ведёт в To.
type transitionRule struct {
	From []OrderStatus
	To   OrderStatus
}

// transitionTable — единственный источник правды о легальных переходах.
// Отмена отдельного правила не имеет: она легальна из любого статуса,
// кроме EM_ENTREGA, ENTREGUE и CANCELADO (см. Order.CanBeCancelled).
var transitionTable = map[TransitionAction]transitionRule{
	ActionConfirm:           {From: []OrderStatus{OrderStatusPlaced}, To: OrderStatusConfirmed},
	ActionStartPreparation:  {From: []OrderStatus{OrderStatusConfirmed}, To: OrderStatusPreparing},
	ActionFinishPreparation: {From: []OrderStatus{OrderStatusPreparing}, To: OrderStatusReady},
	ActionStartDelivery:     {From: []OrderStatus{OrderStatusReady}, To: OrderStatusDelivering},
	ActionFinishDelivery:    {From: []OrderStatus{OrderStatusDelivering}, To: OrderStatusDelivered},
}

// allStatuses перечисляет статусы в порядке пайплайна.
var allStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusConfirmed,
	OrderStatusPreparing,
	OrderStatusReady,
	OrderStatusDelivering,
	OrderStatusDelivered,
	OrderStatusCanceled,
}

// IsKnownStatus сообщает, входит ли статус в закрытое перечисление.
func IsKnownStatus(status OrderStatus) bool {
	for _, s := range allStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// IsTerminalStatus сообщает, запрещены ли любые дальнейшие переходы.
func IsTerminalStatus(status OrderStatus) bool {
	return status == OrderStatusDelivered || status == OrderStatusCanceled
}

// NextStatus возвращает статус, в который переводит действие из текущего
// статуса, или InvalidTransitionError, если таблица переход запрещает.
func NextStatus(current OrderStatus, action TransitionAction) (OrderStatus, error) {
	if action == ActionCancel {
		if !canCancelFrom(current) {
			return "", &InvalidTransitionError{From: current, To: OrderStatusCanceled}
		}
		return OrderStatusCanceled, nil
	}

	rule, ok := transitionTable[action]
	if !ok {
		return "", &InvalidTransitionError{From: current, To: ""}
	}
	for _, from := range rule.From {
		if from == current {
			return rule.To, nil
		}
	}
	return "", &InvalidTransitionError{From: current, To: rule.To}
}

// ResolveTarget проверяет переход в произвольный целевой статус против той же
// таблицы. Используется административной операцией SetStatus: прямой записи
// статуса в обход таблицы нет.
func ResolveTarget(current, target OrderStatus) (TransitionAction, error) {
	if !IsKnownStatus(target) {
		return "", &InvalidTransitionError{From: current, To: target}
	}
	if target == OrderStatusCanceled {
		if !canCancelFrom(current) {
			return "", &InvalidTransitionError{From: current, To: target}
		}
		return ActionCancel, nil
	}
	for action, rule := range transitionTable {
		if rule.To != target {
			continue
		}
		for _, from := range rule.From {
			if from == current {
				return action, nil
			}
		}
	}
	return "", &InvalidTransitionError{From: current, To: target}
}

func canCancelFrom(status OrderStatus) bool {
	switch status {
	case OrderStatusDelivering, OrderStatusDelivered, OrderStatusCanceled:
		return false
	default:
		return IsKnownStatus(status)
	}
}
