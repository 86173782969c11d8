package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/order"
)

const (
	orderColumns = `id, user_id, subtotal_amount, discount_amount, total_amount,
		status, coupon_id, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	createOrderItemSQL = `INSERT INTO order_items (id, order_id, course_id, unit_price, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id`

	getOrderItemsSQL = `SELECT id, order_id, course_id, unit_price, created_at
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := withTx(ctx, r.pool, func(q querier) error {
		if _, err := q.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, o.SubtotalAmount, o.DiscountAmount, o.TotalAmount,
			string(o.Status), o.CouponID, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return errors.Wrap(err, "insert order")
		}
		for i, it := range o.Items {
			if _, err := q.Exec(ctx, createOrderItemSQL,
				it.ID, o.ID, it.CourseID, it.UnitPrice, i, it.CreatedAt,
			); err != nil {
				return errors.Wrapf(err, "insert item %s", it.CourseID)
			}
		}
		return nil
	})
	if err != nil {
		return dbErr(err, "creating order %q", o.ID)
	}
	return nil
}

// FindByID returns the order with its items.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, dbErr(err, "finding order %q", id)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order", id)
		}
		return nil, dbErr(err, "finding order %q", id)
	}

	orders := []order.Order{o}
	if err := loadOrderItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListByUser returns the user's orders with items, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, dbErr(err, "listing orders of user %q", userID)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, dbErr(err, "listing orders of user %q", userID)
	}
	if err := loadOrderItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateStatus moves the order from one status to another.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status) (bool, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, updateOrderStatusSQL, id, string(from), string(to))
	if err != nil {
		return false, dbErr(err, "updating order %q status", id)
	}
	return tag.RowsAffected() == 1, nil
}

func loadOrderItems(ctx context.Context, q querier, orders []order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	idx := make(map[string]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		idx[o.ID] = i
	}

	rows, err := q.Query(ctx, getOrderItemsSQL, ids)
	if err != nil {
		return dbErr(err, "listing order items")
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.Item, error) {
		var it order.Item
		err := row.Scan(&it.ID, &it.OrderID, &it.CourseID, &it.UnitPrice, &it.CreatedAt)
		return it, err
	})
	if err != nil {
		return dbErr(err, "listing order items")
	}
	for _, it := range items {
		i := idx[it.OrderID]
		orders[i].Items = append(orders[i].Items, it)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.SubtotalAmount, &o.DiscountAmount, &o.TotalAmount,
		&status, &o.CouponID, &o.CreatedAt, &o.UpdatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}
