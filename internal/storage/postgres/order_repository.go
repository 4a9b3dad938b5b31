package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/delivery/internal/domain"
)

const orderColumns = `id, client_id, restaurant_id, status, total, delivery_address, note,
		version, created_at, delivered_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Create сохраняет заголовок заказа и его позиции одной транзакцией.
func (r *orderRepository) Create(order domain.Order) (domain.Order, error) {
	ctx, cancel := opCtx()
	defer cancel()

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		const insertOrder = `
			INSERT INTO orders (
				client_id, restaurant_id, status, total, delivery_address, note,
				version, created_at, delivered_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING id`
		err := tx.QueryRowContext(ctx, insertOrder,
			order.ClientID, order.RestaurantID, string(order.Status), order.Total,
			order.DeliveryAddress, order.Note, order.Version,
			order.CreatedAt, order.DeliveredAt, order.UpdatedAt,
		).Scan(&order.ID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		const insertItem = `
			INSERT INTO order_items (
				order_id, product_id, quantity, unit_price, subtotal, note
			) VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id`
		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = order.ID
			err := tx.QueryRowContext(ctx, insertItem,
				order.ID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal, item.Note,
			).Scan(&item.ID)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) Get(id int64) (domain.Order, error) {
	ctx, cancel := opCtx()
	defer cancel()

	return r.getHeader(ctx, id)
}

func (r *orderRepository) GetWithItems(id int64) (domain.Order, error) {
	ctx, cancel := opCtx()
	defer cancel()

	order, err := r.getHeader(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items

	return order, nil
}

func (r *orderRepository) ListByClient(clientID int64) ([]domain.Order, error) {
	return r.list(`WHERE client_id = $1`, clientID)
}

func (r *orderRepository) ListByRestaurant(restaurantID int64) ([]domain.Order, error) {
	return r.list(`WHERE restaurant_id = $1`, restaurantID)
}

func (r *orderRepository) ListByStatus(status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(`WHERE status = $1`, string(status))
}

func (r *orderRepository) ListByRestaurantAndStatus(restaurantID int64, status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(`WHERE restaurant_id = $1 AND status = $2`, restaurantID, string(status))
}

func (r *orderRepository) ListByPeriod(restaurantID int64, from, to time.Time) ([]domain.Order, error) {
	// Обе границы периода включительные.
	return r.list(`WHERE restaurant_id = $1 AND created_at >= $2 AND created_at <= $3`,
		restaurantID, from, to)
}

func (r *orderRepository) Statistics(restaurantID int64, from, to time.Time) (domain.OrderStatistics, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var (
		stats domain.OrderStatistics
		sum   decimal.NullDecimal
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(total), 0)
		FROM orders
		WHERE restaurant_id = $1
		  AND status = $2
		  AND created_at >= $3
		  AND created_at <= $4
	`, restaurantID, string(domain.OrderStatusDelivered), from, to).Scan(&stats.DeliveredCount, &sum)
	if err != nil {
		return domain.OrderStatistics{}, fmt.Errorf("query order statistics: %w", err)
	}

	stats.TotalSum = decimal.Zero
	if sum.Valid {
		stats.TotalSum = sum.Decimal
	}

	return stats, nil
}

// Save обновляет заголовок заказа с оптимистической блокировкой по version.
// Позиции заказа после создания не меняются.
func (r *orderRepository) Save(order domain.Order) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    total = $2,
		    delivery_address = $3,
		    note = $4,
		    delivered_at = $5,
		    version = version + 1,
		    updated_at = $6
		WHERE id = $7
		  AND version = $8
	`,
		string(order.Status),
		order.Total,
		order.DeliveryAddress,
		order.Note,
		order.DeliveredAt,
		order.UpdatedAt,
		order.ID,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrOrderNotFound
		}
		return domain.ErrOrderVersionConflict
	}

	return nil
}

func (r *orderRepository) getHeader(ctx context.Context, id int64) (domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return order, nil
}

func (r *orderRepository) list(where string, args ...any) ([]domain.Order, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		`+where+`
		ORDER BY created_at DESC, id DESC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID int64) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, subtotal, note
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID,
			&item.Quantity, &item.UnitPrice, &item.Subtotal, &item.Note,
		); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}

	return items, nil
}

func (r *orderRepository) orderExists(ctx context.Context, orderID int64) (bool, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, orderID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check order exists: %w", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		deliveredAt sql.NullTime
	)
	if err := row.Scan(
		&order.ID, &order.ClientID, &order.RestaurantID, &status, &order.Total,
		&order.DeliveryAddress, &order.Note, &order.Version,
		&order.CreatedAt, &deliveredAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	if deliveredAt.Valid {
		utc := deliveredAt.Time.UTC()
		order.DeliveredAt = &utc
	}
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
