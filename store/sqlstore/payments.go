package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/warp/reward-engine/generic"
)

// =============================================================================
// PAYMENT STORE
// =============================================================================

func (s *Store) InsertPayment(ctx context.Context, p generic.Payment) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	var orderID sql.NullString
	if p.OrderID != nil {
		orderID = sql.NullString{String: string(*p.OrderID), Valid: true}
	}
	_, err := s.exec(ctx, `
		INSERT INTO payments
		(id, payment_number, customer_id, order_id, amount, payment_method, payment_type,
		 status, reference, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(p.ID), p.PaymentNumber, string(p.CustomerID), orderID, generic.ToMinorUnits(p.Amount),
		string(p.Method), string(p.Type), string(p.Status), nullString(p.Reference),
		nullString(p.CreatedBy), s.t(p.CreatedAt),
	)
	if err != nil {
		if constraint, ok := s.dialect.UniqueViolation(err); ok {
			if strings.Contains(constraint, "order_id") {
				return generic.ErrOrderAlreadyPaid
			}
			return fmt.Errorf("%w: payment %s", generic.ErrDuplicate, p.PaymentNumber)
		}
		if s.dialect.ForeignKeyViolation(err) {
			return generic.ErrCustomerNotFound
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// ListPayments returns the customer's payments, newest first. limit <= 0
// returns all of them.
func (s *Store) ListPayments(ctx context.Context, customerID generic.CustomerID, limit int) ([]generic.Payment, error) {
	query := `
		SELECT id, payment_number, customer_id, order_id, amount, payment_method, payment_type,
		       status, reference, created_by, created_at
		FROM payments
		WHERE customer_id = ?
		ORDER BY created_at DESC, id DESC`
	args := []any{string(customerID)}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var out []generic.Payment
	for rows.Next() {
		var (
			p                             generic.Payment
			id, cid, method, ptype, state string
			orderID, ref, createdBy       sql.NullString
			amount                        int64
		)
		if err := rows.Scan(&id, &p.PaymentNumber, &cid, &orderID, &amount, &method, &ptype,
			&state, &ref, &createdBy, scanTime(&p.CreatedAt)); err != nil {
			return nil, err
		}
		p.ID = generic.PaymentID(id)
		p.CustomerID = generic.CustomerID(cid)
		if orderID.Valid {
			o := generic.OrderID(orderID.String)
			p.OrderID = &o
		}
		p.Amount = generic.FromMinorUnits(amount)
		p.Method = generic.PaymentMethod(method)
		p.Type = generic.PaymentType(ptype)
		p.Status = generic.PaymentStatus(state)
		p.Reference = ref.String
		p.CreatedBy = createdBy.String
		out = append(out, p)
	}
	return out, rows.Err()
}
