package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/quickbite/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (customer_id, discount_amount, promo_code, otp, status, delivery_partner_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	insertAddressSQL = `INSERT INTO order_addresses (order_id, full_name, phone, street, city, state, pincode)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	selectOrderSQL = `SELECT o.id, o.customer_id, o.discount_amount, o.promo_code, o.otp, o.status,
		o.delivery_partner_id, o.created_at, o.updated_at,
		a.full_name, a.phone, a.street, a.city, a.state, a.pincode
		FROM orders o JOIN order_addresses a ON a.order_id = o.id`

	selectItemsSQL = `SELECT order_id, food_id, name, quantity, unit_price
		FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position`

	setDiscountSQL = `UPDATE orders SET promo_code = $2, discount_amount = $3, updated_at = NOW()
		WHERE id = $1`

	assignPartnerSQL = `UPDATE orders SET delivery_partner_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'PENDING'`

	updateStatusSQL = `UPDATE orders SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
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

// Create persists the order, its items and its address in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, insertOrderSQL,
			o.CustomerID, o.DiscountAmount, nullString(o.PromoCode), o.OTP, string(o.Status), o.DeliveryPartnerID,
		).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("inserting order: %w", err)
		}

		a := o.Address
		if _, err := tx.Exec(ctx, insertAddressSQL,
			o.ID, a.FullName, a.Phone, a.Street, a.City, a.State, a.Pincode,
		); err != nil {
			return fmt.Errorf("inserting address: %w", err)
		}

		rows := make([][]any, len(o.Items))
		for i, it := range o.Items {
			rows[i] = []any{o.ID, i, it.FoodID, it.Name, it.Quantity, it.UnitPrice}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"order_items"},
			[]string{"order_id", "position", "food_id", "name", "quantity", "unit_price"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("inserting items: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating order for customer %d: %w", o.CustomerID, err)
	}
	return nil
}

// Get returns the order aggregate or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id int64) (*order.Order, error) {
	orders, err := r.query(ctx, selectOrderSQL+` WHERE o.id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %d: %w", id, err)
	}
	if len(orders) == 0 {
		return nil, order.ErrNotFound
	}
	return &orders[0], nil
}

// SetDiscount stores the applied promo code and discount amount.
func (r *OrderRepository) SetDiscount(ctx context.Context, id int64, code string, amount decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, setDiscountSQL, id, nullString(code), amount)
	if err != nil {
		return fmt.Errorf("setting discount of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// AssignPartner stores the delivery partner of a pending order.
func (r *OrderRepository) AssignPartner(ctx context.Context, id, partnerID int64) error {
	tag, err := r.pool.Exec(ctx, assignPartnerSQL, id, partnerID)
	if err != nil {
		return fmt.Errorf("assigning partner to order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missing(ctx, id)
	}
	return nil
}

// UpdateStatus changes the status only if it still equals from.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id int64, from, to order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, id, string(from), string(to))
	if err != nil {
		return fmt.Errorf("updating status of order %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.missing(ctx, id)
	}
	return nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID int64) ([]order.Order, error) {
	orders, err := r.query(ctx, selectOrderSQL+` WHERE o.customer_id = $1 ORDER BY o.id DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of customer %d: %w", customerID, err)
	}
	return orders, nil
}

// ListByPartner returns the orders assigned to a partner, newest first.
func (r *OrderRepository) ListByPartner(ctx context.Context, partnerID int64) ([]order.Order, error) {
	orders, err := r.query(ctx, selectOrderSQL+` WHERE o.delivery_partner_id = $1 ORDER BY o.id DESC`, partnerID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of partner %d: %w", partnerID, err)
	}
	return orders, nil
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	orders, err := r.query(ctx, selectOrderSQL+` ORDER BY o.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// missing tells a lost conditional update apart from an unknown order.
func (r *OrderRepository) missing(ctx context.Context, id int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %d: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConcurrentUpdate
}

// query loads orders with their addresses, then their items in one batch.
func (r *OrderRepository) query(ctx context.Context, sql string, args ...any) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*order.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err = r.pool.Query(ctx, selectItemsSQL, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID int64
			it      order.Item
		)
		if err := rows.Scan(&orderID, &it.FoodID, &it.Name, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		if o, ok := byID[orderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o         order.Order
		promoCode *string
		status    string
	)
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.DiscountAmount, &promoCode, &o.OTP, &status,
		&o.DeliveryPartnerID, &o.CreatedAt, &o.UpdatedAt,
		&o.Address.FullName, &o.Address.Phone, &o.Address.Street,
		&o.Address.City, &o.Address.State, &o.Address.Pincode,
	)
	if err != nil {
		return o, errors.Wrap(err, "scan order")
	}
	if promoCode != nil {
		o.PromoCode = *promoCode
	}
	o.Status = order.Status(status)
	return o, nil
}
