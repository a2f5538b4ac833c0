/*
Package wallet handles customer wallet top-ups and order payments.

PURPOSE:
  The wallet is the prepaid balance rewards are settled into. Admins top
  it up with cash or bank transfers, and customers spend it on orders.
  Orders can alternatively be put on credit, which raises the customer's
  current (credit-used) balance.

ATOMICITY:
  Each operation is one store transaction: the payment row and the balance
  change commit together or not at all. Balances move with single UPDATE
  statements (col = col + ?), and wallet debits are conditional on the
  balance covering the amount.

SEE ALSO:
  - rewards/settlement.go: Reward credits to the same wallet
  - generic/store.go: AdjustWallet, DebitWallet, AdjustCredit
*/
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/reward-engine/generic"
)

// Service implements wallet operations over a store.
type Service struct {
	store generic.TxStore
	log   *zap.Logger
	now   func() time.Time
}

func NewService(store generic.TxStore, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, log: log, now: time.Now}
}

// =============================================================================
// TOP-UP
// =============================================================================

type TopUpInput struct {
	CustomerID generic.CustomerID
	Amount     decimal.Decimal
	Method     generic.PaymentMethod // cash or bank_transfer
	ActorID    string
	Note       string
}

// TopUp records a top-up payment and credits the wallet.
func (s *Service) TopUp(ctx context.Context, in TopUpInput) (*generic.Payment, error) {
	if err := generic.ValidateMoney("amount", in.Amount); err != nil {
		return nil, err
	}
	if !in.Amount.IsPositive() {
		return nil, &generic.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if in.Method == "" {
		in.Method = generic.MethodCash
	}
	if in.Method != generic.MethodCash && in.Method != generic.MethodBankTransfer {
		return nil, &generic.ValidationError{Field: "method", Message: "must be cash or bank_transfer"}
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return nil, generic.ErrMissingActor
	}

	now := s.now().UTC()
	id := generic.PaymentID(ulid.Make().String())
	p := generic.Payment{
		ID:            id,
		PaymentNumber: generic.PaymentNumber("TU", now, in.CustomerID, id),
		CustomerID:    in.CustomerID,
		Amount:        in.Amount,
		Method:        in.Method,
		Type:          generic.PaymentTopUp,
		Status:        generic.PaymentCompleted,
		Reference:     strings.TrimSpace(in.Note),
		CreatedBy:     in.ActorID,
		CreatedAt:     now,
	}

	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		if _, err := tx.GetCustomer(ctx, in.CustomerID); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		return tx.AdjustWallet(ctx, in.CustomerID, in.Amount)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("wallet topped up",
		zap.String("customer_id", string(in.CustomerID)),
		zap.String("amount", in.Amount.StringFixed(2)),
		zap.String("method", string(in.Method)),
		zap.String("actor", in.ActorID))
	return &p, nil
}

// =============================================================================
// ORDER PAYMENT
// =============================================================================

type PayOrderInput struct {
	OrderID generic.OrderID
	Method  generic.PaymentMethod // wallet or credit
	ActorID string
}

// PayOrder pays an order from the wallet or on credit. An order can be paid
// once; cancelled orders cannot be paid.
func (s *Service) PayOrder(ctx context.Context, in PayOrderInput) (*generic.Payment, error) {
	if in.Method != generic.MethodWallet && in.Method != generic.MethodCredit {
		return nil, &generic.ValidationError{Field: "method", Message: "must be wallet or credit"}
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return nil, generic.ErrMissingActor
	}

	var payment generic.Payment
	err := s.store.WithTx(ctx, func(tx generic.Store) error {
		order, err := tx.GetOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if order.Status == generic.OrderCancelled {
			return &generic.ValidationError{Field: "order", Message: "cancelled orders cannot be paid"}
		}
		amount := order.Total()
		if err := generic.ValidateMoney("amount", amount); err != nil {
			return err
		}
		if !amount.IsPositive() {
			return &generic.ValidationError{Field: "order", Message: "order total must be positive"}
		}

		now := s.now().UTC()
		orderID := order.ID
		id := generic.PaymentID(ulid.Make().String())
		payment = generic.Payment{
			ID:            id,
			PaymentNumber: generic.PaymentNumber("PO", now, order.CustomerID, id),
			CustomerID:    order.CustomerID,
			OrderID:       &orderID,
			Amount:        amount,
			Method:        in.Method,
			Type:          generic.PaymentOrder,
			Status:        generic.PaymentCompleted,
			Reference:     string(order.ID),
			CreatedBy:     in.ActorID,
			CreatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		if in.Method == generic.MethodWallet {
			return tx.DebitWallet(ctx, order.CustomerID, amount)
		}
		return tx.AdjustCredit(ctx, order.CustomerID, amount)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order paid",
		zap.String("order_id", string(in.OrderID)),
		zap.String("customer_id", string(payment.CustomerID)),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("method", string(in.Method)))
	return &payment, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary is the customer-facing wallet view.
type Summary struct {
	CustomerID     generic.CustomerID
	WalletBalance  decimal.Decimal
	CurrentBalance decimal.Decimal
	RecentPayments []generic.Payment
}

// RecentPaymentsLimit caps Summary.RecentPayments.
const RecentPaymentsLimit = 20

func (s *Service) Summary(ctx context.Context, customerID generic.CustomerID) (*Summary, error) {
	c, err := s.store.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	payments, err := s.store.ListPayments(ctx, customerID, RecentPaymentsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return &Summary{
		CustomerID:     c.ID,
		WalletBalance:  c.WalletBalance,
		CurrentBalance: c.CurrentBalance,
		RecentPayments: payments,
	}, nil
}
