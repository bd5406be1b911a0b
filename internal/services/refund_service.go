package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const maxRefundReasonLength = 500

var (
	// ErrRefundInvalidInput signals the refund request is malformed.
	ErrRefundInvalidInput = errors.New("refund: invalid input")
	// ErrRefundExceedsMax indicates the refund is larger than the refundable amount.
	ErrRefundExceedsMax = errors.New("refund: amount exceeds maximum refundable")
	// ErrRefundAlreadyApplied indicates the order already carries an active refund.
	ErrRefundAlreadyApplied = errors.New("refund: already applied")
	// ErrRefundNotEligible indicates the order status does not allow a refund.
	ErrRefundNotEligible = errors.New("refund: order not eligible")
	// ErrNoActiveRefund indicates there is no refund to cancel.
	ErrNoActiveRefund = errors.New("refund: no active refund")
)

// RefundServiceDeps bundles collaborators required to construct the refund service.
type RefundServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Events     OrderEventPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type refundService struct {
	orders repositories.OrderRepository
	uow    repositories.UnitOfWork
	events OrderEventPublisher
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewRefundService wires dependencies into a concrete RefundService implementation.
func NewRefundService(deps RefundServiceDeps) (RefundService, error) {
	if deps.Orders == nil {
		return nil, errors.New("refund service: order repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("refund service: unit of work is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &refundService{
		orders: deps.Orders,
		uow:    deps.UnitOfWork,
		events: deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *refundService) CheckEligibility(ctx context.Context, orderID string) (RefundEligibility, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return RefundEligibility{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return RefundEligibility{}, s.mapRepositoryError(err)
	}
	return refundEligibility(order), nil
}

func refundEligibility(order domain.Order) RefundEligibility {
	switch {
	case order.Refund != nil:
		return RefundEligibility{Reason: "order already has an active refund", MaxRefundAmount: decimal.Zero}
	case order.Status != domain.OrderStatusCompleted:
		return RefundEligibility{Reason: fmt.Sprintf("order status %s is not refundable", order.Status), MaxRefundAmount: decimal.Zero}
	}
	return RefundEligibility{CanRefund: true, MaxRefundAmount: order.Totals.TotalAmount}
}

func (s *refundService) ApplyRefund(ctx context.Context, cmd ApplyRefundCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.Actor)
	reason := sanitizeFreeText(cmd.Reason, maxRefundReasonLength)
	switch {
	case orderID == "":
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	case cmd.Type != domain.RefundTypeFixed && cmd.Type != domain.RefundTypePercentage:
		return domain.Order{}, fmt.Errorf("%w: unknown refund type %q", ErrRefundInvalidInput, cmd.Type)
	case cmd.Type == domain.RefundTypeFixed && !cmd.Amount.IsPositive():
		return domain.Order{}, fmt.Errorf("%w: amount must be positive", ErrRefundInvalidInput)
	case cmd.Type == domain.RefundTypePercentage && (cmd.Amount.IsNegative() || cmd.Amount.GreaterThan(hundred)):
		return domain.Order{}, fmt.Errorf("%w: percentage must be between 0 and 100", ErrRefundInvalidInput)
	}

	ctx, box, owned := ensureOutbox(ctx)
	var result domain.Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if owned {
			box.reset()
		}
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Refund != nil {
			return fmt.Errorf("%w: order %s", ErrRefundAlreadyApplied, order.ID)
		}
		eligibility := refundEligibility(order)
		if !eligibility.CanRefund || !canTransition(order.Status, domain.OrderStatusRefunded) {
			return fmt.Errorf("%w: %s", ErrRefundNotEligible, eligibility.Reason)
		}

		applied := cmd.Amount.Round(2)
		if cmd.Type == domain.RefundTypePercentage {
			applied = order.Totals.SubTotal.Mul(cmd.Amount).Div(hundred).Round(2)
		}
		if applied.GreaterThan(eligibility.MaxRefundAmount) {
			return fmt.Errorf("%w: %s > %s", ErrRefundExceedsMax, applied.StringFixed(2), eligibility.MaxRefundAmount.StringFixed(2))
		}

		now := s.clock()
		previous := order.Status
		order.Refund = &domain.Refund{
			Type:           cmd.Type,
			Amount:         cmd.Amount,
			AppliedAmount:  applied,
			Reason:         reason,
			ProcessedAt:    now,
			ProcessedBy:    actor,
			OriginalTotals: order.Totals,
			PreviousStatus: previous,
		}
		order.Totals.TotalAmount = order.Totals.TotalAmount.Sub(applied)
		order.Totals.TotalAmountARS = order.Totals.TotalAmount.Mul(order.ExchangeRate).Round(2)
		order.Status = domain.OrderStatusRefunded
		order.UpdatedAt = now
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			From:      previous,
			To:        domain.OrderStatusRefunded,
			Actor:     actor,
			Reason:    reason,
			ChangedAt: now,
		})
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		result = order
		box.add(func(ctx context.Context) { s.publish(ctx, orderEventRefunded, order, previous, actor) })
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if owned {
		box.flush(ctx)
	}

	s.logger(ctx, "refund.applied", map[string]any{
		"orderId": result.ID,
		"type":    string(cmd.Type),
		"applied": result.Refund.AppliedAmount.StringFixed(2),
	})
	return result, nil
}

func (s *refundService) CancelRefund(ctx context.Context, orderID string, actor string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	actor = strings.TrimSpace(actor)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrRefundInvalidInput)
	}

	ctx, box, owned := ensureOutbox(ctx)
	var result domain.Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if owned {
			box.reset()
		}
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Refund == nil {
			return fmt.Errorf("%w: order %s", ErrNoActiveRefund, order.ID)
		}

		now := s.clock()
		refund := *order.Refund
		order.Totals = refund.OriginalTotals
		order.Status = refund.PreviousStatus
		order.Refund = nil
		order.UpdatedAt = now
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			From:      domain.OrderStatusRefunded,
			To:        refund.PreviousStatus,
			Actor:     actor,
			Reason:    "refund cancelled",
			ChangedAt: now,
		})
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		result = order
		box.add(func(ctx context.Context) { s.publish(ctx, orderEventRefundRevoked, order, domain.OrderStatusRefunded, actor) })
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if owned {
		box.flush(ctx)
	}
	s.logger(ctx, "refund.cancelled", map[string]any{"orderId": result.ID, "actor": actor})
	return result, nil
}

func (s *refundService) publish(ctx context.Context, eventType string, order domain.Order, previous domain.OrderStatus, actor string) {
	if s.events == nil {
		return
	}
	err := s.events.PublishOrderEvent(ctx, OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		PrevStatus:  string(previous),
		TotalAmount: order.Totals.TotalAmount.StringFixed(2),
		Actor:       actor,
		OccurredAt:  order.UpdatedAt,
	})
	if err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"error":   err.Error(),
			"orderId": order.ID,
			"event":   eventType,
		})
	}
}

func (s *refundService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("refund: repository unavailable: %w", err)
		}
	}
	return err
}
