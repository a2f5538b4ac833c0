package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// ORDER STORE
// =============================================================================

// SaveOrder upserts the order header and replaces its items.
func (s *Store) SaveOrder(ctx context.Context, o generic.Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	return s.atomic(ctx, func(tx *Store) error {
		_, err := tx.exec(ctx, `
			INSERT INTO orders (id, customer_id, status, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				customer_id = excluded.customer_id,
				status = excluded.status,
				created_at = excluded.created_at
		`, string(o.ID), string(o.CustomerID), string(o.Status), tx.t(o.CreatedAt))
		if err != nil {
			if tx.dialect.ForeignKeyViolation(err) {
				return generic.ErrCustomerNotFound
			}
			return fmt.Errorf("failed to save order: %w", err)
		}

		if _, err := tx.exec(ctx, `DELETE FROM order_items WHERE order_id = ?`, string(o.ID)); err != nil {
			return fmt.Errorf("failed to clear order items: %w", err)
		}
		for i, it := range o.Items {
			_, err := tx.exec(ctx, `
				INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
				VALUES (?, ?, ?, ?, ?)
			`, string(o.ID), i+1, it.ProductID, it.Quantity, generic.ToMinorUnits(it.UnitPrice))
			if err != nil {
				return fmt.Errorf("failed to save order item: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetOrder(ctx context.Context, id generic.OrderID) (*generic.Order, error) {
	var (
		o        generic.Order
		oid, cid string
		status   string
	)
	err := s.queryRow(ctx, `
		SELECT id, customer_id, status, created_at FROM orders WHERE id = ?
	`, string(id)).Scan(&oid, &cid, &status, scanTime(&o.CreatedAt))
	if err != nil {
		if isNoRows(err) {
			return nil, generic.ErrOrderNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	o.ID = generic.OrderID(oid)
	o.CustomerID = generic.CustomerID(cid)
	o.Status = generic.OrderStatus(status)

	rows, err := s.query(ctx, `
		SELECT product_id, quantity, unit_price FROM order_items
		WHERE order_id = ? ORDER BY line_no
	`, string(id))
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    generic.OrderItem
			price int64
		)
		if err := rows.Scan(&it.ProductID, &it.Quantity, &price); err != nil {
			return nil, err
		}
		it.UnitPrice = generic.FromMinorUnits(price)
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

// SumDeliveredQuantity totals item quantities of the customer's delivered
// orders created inside the inclusive window.
func (s *Store) SumDeliveredQuantity(ctx context.Context, customerID generic.CustomerID, p generic.Period) (int64, error) {
	var total int64
	err := s.queryRow(ctx, `
		SELECT COALESCE(SUM(oi.quantity), 0)
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE o.customer_id = ?
		  AND o.status = ?
		  AND o.created_at >= ?
		  AND o.created_at <= ?
	`, string(customerID), string(generic.OrderDelivered), s.t(p.Start), s.t(p.End)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum delivered cartons: %w", err)
	}
	return total, nil
}
