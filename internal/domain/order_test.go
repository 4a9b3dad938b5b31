package domain_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

// helper для создания базового заказа с двумя позициями.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	order := domain.Order{
		ID:              1,
		ClientID:        10,
		RestaurantID:    20,
		Status:          domain.OrderStatusPlaced,
		DeliveryAddress: "Avenida Paulista, 1000",
		Version:         0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	order.AddItem(domain.OrderItem{
		ID:        1,
		ProductID: 100,
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("10.00"),
	})
	order.AddItem(domain.OrderItem{
		ID:        2,
		ProductID: 101,
		Quantity:  1,
		UnitPrice: decimal.RequireFromString("5.00"),
	})
	return order
}

func TestOrderTotalAfterConstruction(t *testing.T) {
	order := makeOrder()

	want := decimal.RequireFromString("25.00")
	if !order.Total.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, order.Total)
	}

	// Сумма всегда равна сумме subtotal всех позиций.
	sum := decimal.Zero
	for _, item := range order.Items {
		sum = sum.Add(item.Subtotal)
	}
	if !order.Total.Equal(sum) {
		t.Fatalf("total %s does not match items sum %s", order.Total, sum)
	}
}

func TestOrderAddItemSetsBackReference(t *testing.T) {
	order := makeOrder()

	for _, item := range order.Items {
		if item.OrderID != order.ID {
			t.Fatalf("expected item order_id %d, got %d", order.ID, item.OrderID)
		}
	}
}

func TestOrderRemoveItemRecalculatesTotal(t *testing.T) {
	order := makeOrder()

	if !order.RemoveItem(2) {
		t.Fatal("expected item 2 to be removed")
	}
	if len(order.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(order.Items))
	}
	if want := decimal.RequireFromString("20.00"); !order.Total.Equal(want) {
		t.Fatalf("expected total %s, got %s", want, order.Total)
	}

	if order.RemoveItem(99) {
		t.Fatal("removal of unknown item must be a no-op")
	}
}

func TestOrderRecalculateTotalEmptyIsZero(t *testing.T) {
	order := makeOrder()
	order.RemoveItem(1)
	order.RemoveItem(2)

	if !order.Total.Equal(decimal.Zero) {
		t.Fatalf("expected zero total for empty order, got %s", order.Total)
	}
}

func TestOrderItemSubtotalExact(t *testing.T) {
	// 0.1 * 3 даёт дрейф на float64; decimal обязан дать ровно 0.30.
	item := domain.OrderItem{ProductID: 1, Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")}
	item.RecalculateSubtotal()

	if want := decimal.RequireFromString("0.30"); !item.Subtotal.Equal(want) {
		t.Fatalf("expected subtotal %s, got %s", want, item.Subtotal)
	}
}

func TestOrderCanBeUpdated(t *testing.T) {
	cases := []struct {
		status domain.OrderStatus
		want   bool
	}{
		{domain.OrderStatusPlaced, true},
		{domain.OrderStatusConfirmed, true},
		{domain.OrderStatusPreparing, false},
		{domain.OrderStatusReady, false},
		{domain.OrderStatusDelivering, false},
		{domain.OrderStatusDelivered, false},
		{domain.OrderStatusCanceled, false},
	}

	for _, tc := range cases {
		order := makeOrder()
		order.Status = tc.status
		if got := order.CanBeUpdated(); got != tc.want {
			t.Fatalf("status %s: CanBeUpdated=%v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestOrderCanBeCancelled(t *testing.T) {
	cases := []struct {
		status domain.OrderStatus
		want   bool
	}{
		{domain.OrderStatusPlaced, true},
		{domain.OrderStatusConfirmed, true},
		{domain.OrderStatusPreparing, true},
		{domain.OrderStatusReady, true},
		{domain.OrderStatusDelivering, false},
		{domain.OrderStatusDelivered, false},
		{domain.OrderStatusCanceled, false},
	}

	for _, tc := range cases {
		order := makeOrder()
		order.Status = tc.status
		if got := order.CanBeCancelled(); got != tc.want {
			t.Fatalf("status %s: CanBeCancelled=%v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestOrderApplyStatusStampsDeliveredAt(t *testing.T) {
	order := makeOrder()
	order.Status = domain.OrderStatusDelivering

	order.ApplyStatus(domain.OrderStatusDelivered)

	if order.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected status %s, got %s", domain.OrderStatusDelivered, order.Status)
	}
	if order.DeliveredAt == nil {
		t.Fatal("expected delivered_at to be set")
	}
	if order.DeliveredAt.Before(order.CreatedAt) {
		t.Fatalf("delivered_at %s is before created_at %s", order.DeliveredAt, order.CreatedAt)
	}
}

func TestOrderApplyStatusDoesNotStampOtherTransitions(t *testing.T) {
	order := makeOrder()

	for _, status := range []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusPreparing,
		domain.OrderStatusReady,
		domain.OrderStatusDelivering,
		domain.OrderStatusCanceled,
	} {
		order.ApplyStatus(status)
		if order.DeliveredAt != nil {
			t.Fatalf("status %s must not set delivered_at", status)
		}
	}
}

func TestOrderValidateInvariants_Ok(t *testing.T) {
	order := makeOrder()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no validation errors, got %v", errs)
	}
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	longNote := make([]rune, domain.MaxNoteLen+1)
	for i := range longNote {
		longNote[i] = 'x'
	}

	cases := []struct {
		name string
		mut  func(o *domain.Order)
	}{
		{
			name: "no client",
			mut: func(o *domain.Order) {
				o.ClientID = 0
			},
		},
		{
			name: "no restaurant",
			mut: func(o *domain.Order) {
				o.RestaurantID = 0
			},
		},
		{
			name: "no items",
			mut: func(o *domain.Order) {
				o.Items = nil
			},
		},
		{
			name: "address too short",
			mut: func(o *domain.Order) {
				o.DeliveryAddress = "Rua"
			},
		},
		{
			name: "note too long",
			mut: func(o *domain.Order) {
				o.Note = string(longNote)
			},
		},
		{
			name: "qty invalid",
			mut: func(o *domain.Order) {
				o.Items[0].Quantity = 0
			},
		},
		{
			name: "price invalid",
			mut: func(o *domain.Order) {
				o.Items[0].UnitPrice = decimal.RequireFromString("-1")
			},
		},
		{
			name: "total mismatch",
			mut: func(o *domain.Order) {
				o.Total = decimal.RequireFromString("999")
			},
		},
		{
			name: "unknown status",
			mut: func(o *domain.Order) {
				o.Status = domain.OrderStatus("BROKEN")
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder()
			tc.mut(&order)

			if len(order.ValidateInvariants()) == 0 {
				t.Fatalf("expected validation errors for case %s", tc.name)
			}
		})
	}
}
