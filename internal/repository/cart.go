package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/course-checkout/internal/domain/apperr"
	"github.com/xenking/course-checkout/internal/domain/cart"
)

const (
	getCartByUserSQL = `SELECT id, user_id, created_at FROM carts WHERE user_id = $1`

	getCartItemsSQL = `SELECT id, cart_id, course_id, created_at
		FROM cart_items WHERE cart_id = $1 ORDER BY created_at, id`

	// The no-op update makes RETURNING yield the existing row on conflict.
	ensureCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, created_at`

	addCartItemSQL = `INSERT INTO cart_items (id, cart_id, course_id, created_at)
		VALUES ($1, $2, $3, $4)`

	removeCartItemSQL = `DELETE FROM cart_items WHERE cart_id = $1 AND course_id = $2`

	clearCartSQL = `DELETE FROM cart_items WHERE cart_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// FindByUserID returns the user's cart with its items.
func (r *CartRepository) FindByUserID(ctx context.Context, userID string) (*cart.Cart, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, getCartByUserSQL, userID)
	if err != nil {
		return nil, dbErr(err, "finding cart of user %q", userID)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("cart", userID)
		}
		return nil, dbErr(err, "finding cart of user %q", userID)
	}
	if err := r.loadItems(ctx, q, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Ensure returns the user's cart, creating it on first use.
func (r *CartRepository) Ensure(ctx context.Context, userID string) (*cart.Cart, error) {
	q := conn(ctx, r.pool)
	rows, err := q.Query(ctx, ensureCartSQL, uuid.New().String(), userID)
	if err != nil {
		return nil, dbErr(err, "ensuring cart of user %q", userID)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCart)
	if err != nil {
		return nil, dbErr(err, "ensuring cart of user %q", userID)
	}
	if err := r.loadItems(ctx, q, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// AddItem inserts a course into the cart.
func (r *CartRepository) AddItem(ctx context.Context, item *cart.Item) error {
	_, err := conn(ctx, r.pool).Exec(ctx, addCartItemSQL,
		item.ID, item.CartID, item.CourseID, item.CreatedAt,
	)
	switch pgCode(err) {
	case "":
	case uniqueViolation:
		return apperr.AlreadyExists("cart item", item.CourseID)
	case foreignKeyViolation:
		return apperr.NotFound("course", item.CourseID)
	}
	if err != nil {
		return dbErr(err, "adding course %q to cart %q", item.CourseID, item.CartID)
	}
	return nil
}

// RemoveItem deletes a course from the cart.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID, courseID string) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, removeCartItemSQL, cartID, courseID)
	if err != nil {
		return dbErr(err, "removing course %q from cart %q", courseID, cartID)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("cart item", courseID)
	}
	return nil
}

// Clear removes every item from the cart.
func (r *CartRepository) Clear(ctx context.Context, cartID string) error {
	if _, err := conn(ctx, r.pool).Exec(ctx, clearCartSQL, cartID); err != nil {
		return dbErr(err, "clearing cart %q", cartID)
	}
	return nil
}

func (r *CartRepository) loadItems(ctx context.Context, q querier, c *cart.Cart) error {
	rows, err := q.Query(ctx, getCartItemsSQL, c.ID)
	if err != nil {
		return dbErr(err, "listing items of cart %q", c.ID)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ID, &it.CartID, &it.CourseID, &it.CreatedAt)
		return it, err
	})
	if err != nil {
		return dbErr(err, "listing items of cart %q", c.ID)
	}
	c.Items = items
	return nil
}

func scanCart(row pgx.CollectableRow) (cart.Cart, error) {
	var c cart.Cart
	err := row.Scan(&c.ID, &c.UserID, &c.CreatedAt)
	return c, err
}
