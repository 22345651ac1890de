package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-storefront/internal/apperr"
	"github.com/example/ec-storefront/internal/domain/catalog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const defaultGateway = "external"

// PaymentConfirmation is the gateway callback payload.
type PaymentConfirmation struct {
	TransactionID string
	Amount        decimal.Decimal
	Gateway       string
}

// StateMachine governs payment and fulfillment status of existing orders.
type StateMachine struct {
	repo        Repository
	invalidator CacheInvalidator
	logger      *zap.Logger
	now         func() time.Time
}

func NewStateMachine(repo Repository, invalidator CacheInvalidator, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		repo:        repo,
		invalidator: invalidator,
		logger:      logger.Named("order-status"),
		now:         time.Now,
	}
}

// MarkPaid settles an order and appends a Payment row. Confirming the same
// transaction twice returns the order without a second row.
func (m *StateMachine) MarkPaid(ctx context.Context, orderID string, conf PaymentConfirmation) (*Order, error) {
	v := apperr.NewValidationError()
	if strings.TrimSpace(conf.TransactionID) == "" {
		v.Add("transactionId", "is required")
	}
	if !conf.Amount.IsPositive() {
		v.Add("amount", "must be positive")
	}
	if err := v.OrNil(); err != nil {
		return nil, err
	}

	o, err := m.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	done, err := m.alreadyRecorded(ctx, o, conf.TransactionID)
	if err != nil {
		return nil, err
	}
	if done {
		return o, nil
	}

	switch {
	case o.PaymentStatus == PaymentPaid:
		return nil, ErrAlreadyPaid
	case o.Status == StatusCancelled:
		return nil, fmt.Errorf("%w: cannot pay a %s order", ErrInvalidTransition, o.Status)
	case !conf.Amount.Equal(o.TotalPrice):
		return nil, apperr.Invalid("amount", "must equal order total "+o.TotalPrice.StringFixed(2))
	}

	gateway := conf.Gateway
	if gateway == "" {
		gateway = defaultGateway
	}

	now := m.now()
	o.PaymentStatus = PaymentPaid
	o.PaidAt = &now
	if o.Status == StatusPending {
		o.Status = StatusProcessing
	}
	o.UpdatedAt = now

	p := &Payment{
		ID:            uuid.New().String(),
		OrderID:       o.ID,
		UserID:        o.UserID,
		Gateway:       gateway,
		TransactionID: conf.TransactionID,
		Amount:        conf.Amount,
		Status:        PaymentSucceeded,
		CreatedAt:     now,
	}

	err = m.repo.RecordPayment(ctx, o, p)
	if errors.Is(err, ErrDuplicateTransaction) {
		// lost a race with an identical callback
		done, derr := m.alreadyRecorded(ctx, o, conf.TransactionID)
		if derr != nil {
			return nil, derr
		}
		if done {
			return m.repo.GetOrder(ctx, o.ID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}

	m.logger.Info("order paid",
		zap.String("order_id", o.ID),
		zap.String("transaction_id", p.TransactionID),
		zap.String("amount", p.Amount.StringFixed(2)))
	return o, nil
}

// alreadyRecorded reports whether transactionID was already applied to o.
// The same id on another order is a conflict.
func (m *StateMachine) alreadyRecorded(ctx context.Context, o *Order, transactionID string) (bool, error) {
	p, err := m.repo.GetPaymentByTransaction(ctx, transactionID)
	if errors.Is(err, ErrPaymentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup payment: %w", err)
	}
	if p.OrderID != o.ID {
		return false, ErrDuplicateTransaction
	}
	return true, nil
}

// AdminSetStatus moves an order along the fulfillment table. Delivered
// settles payment (cash on delivery) and Cancelled puts the stock back.
func (m *StateMachine) AdminSetStatus(ctx context.Context, orderID string, status Status) (*Order, error) {
	if _, ok := ParseStatus(string(status)); !ok {
		return nil, apperr.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	o, err := m.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status == status {
		return o, nil
	}
	if !o.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, o.Status, status)
	}

	from := o.Status
	now := m.now()
	o.Status = status
	o.UpdatedAt = now

	var restock []StockChange
	switch status {
	case StatusDelivered:
		o.PaymentStatus = PaymentPaid
		if o.PaidAt == nil {
			o.PaidAt = &now
		}
		o.DeliveredAt = &now
	case StatusCancelled:
		restock = o.StockChanges()
	}

	if err := m.repo.UpdateStatus(ctx, o, from, restock); err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	m.logger.Info("order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", string(from)),
		zap.String("to", string(status)))

	if len(restock) > 0 {
		m.invalidator.Invalidate(ctx, catalog.CachePatterns(o.ProductIDs()...))
	}
	return o, nil
}
