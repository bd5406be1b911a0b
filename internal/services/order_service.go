package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventItemsUpdated  = "order.items.updated"
	orderEventRefunded      = "order.refund.applied"
	orderEventRefundRevoked = "order.refund.cancelled"

	orderIDPrefix     = "ord_"
	orderCounterID    = "orders"
	orderNumberFormat = "ORD-%06d"

	defaultOrderListLimit = 50
	maxOrderListLimit     = 200
	maxOrderItems         = 100
	maxStatusReasonLength = 300
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates the order status does not allow the operation.
	ErrOrderInvalidState = errors.New("order: invalid order state")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderDuplicateItem indicates the variant is already present on the order.
	ErrOrderDuplicateItem = errors.New("order: duplicate item")
	// ErrOrderItemNotFound indicates the variant is not present on the order.
	ErrOrderItemNotFound = errors.New("order: item not found")
	// ErrOrderVariantNotFound indicates a referenced variant does not exist.
	ErrOrderVariantNotFound = errors.New("order: variant not found")
)

// Refunded is reachable from completed only through the refund processor.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusProcessing:     {domain.OrderStatusOnHold, domain.OrderStatusPendingPayment, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusOnHold:         {domain.OrderStatusProcessing, domain.OrderStatusPendingPayment, domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusPendingPayment: {domain.OrderStatusCompleted, domain.OrderStatusCancelled},
	domain.OrderStatusCompleted:      {domain.OrderStatusCancelled, domain.OrderStatusRefunded},
}

var initialOrderStatuses = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusOnHold,
	domain.OrderStatusPendingPayment,
	domain.OrderStatusCompleted,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders              repositories.OrderRepository
	Variants            repositories.VariantRepository
	Catalog             repositories.CatalogRepository
	Counters            repositories.CounterRepository
	Ledger              InventoryLedger
	UnitOfWork          repositories.UnitOfWork
	Rates               ExchangeRateProvider
	Events              OrderEventPublisher
	BankTransferFeeRate decimal.Decimal
	Clock               func() time.Time
	IDGenerator         func() string
	Logger              func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	variants repositories.VariantRepository
	catalog  repositories.CatalogRepository
	counters repositories.CounterRepository
	ledger   InventoryLedger
	uow      repositories.UnitOfWork
	rates    ExchangeRateProvider
	events   OrderEventPublisher
	feeRate  decimal.Decimal
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("order service: order repository is required")
	case deps.Variants == nil:
		return nil, errors.New("order service: variant repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("order service: catalog repository is required")
	case deps.Counters == nil:
		return nil, errors.New("order service: counter repository is required")
	case deps.Ledger == nil:
		return nil, errors.New("order service: inventory ledger is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("order service: unit of work is required")
	case deps.Rates == nil:
		return nil, errors.New("order service: exchange rate provider is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	feeRate := deps.BankTransferFeeRate
	if feeRate.IsZero() {
		feeRate = DefaultBankTransferFeeRate
	}

	return &orderService{
		orders:   deps.Orders,
		variants: deps.Variants,
		catalog:  deps.Catalog,
		counters: deps.Counters,
		ledger:   deps.Ledger,
		uow:      deps.UnitOfWork,
		rates:    deps.Rates,
		events:   deps.Events,
		feeRate:  feeRate,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	if err := validateCreateOrder(&cmd); err != nil {
		return domain.Order{}, err
	}

	rate, err := s.rates.CurrentRate(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order: exchange rate unavailable: %w", err)
	}
	if !rate.IsPositive() {
		return domain.Order{}, fmt.Errorf("order: exchange rate must be positive, got %s", rate)
	}

	now := s.clock()
	createdAt := now
	if cmd.CreatedAt != nil && !cmd.CreatedAt.IsZero() {
		createdAt = cmd.CreatedAt.UTC()
	}

	base := domain.Order{
		ID:               ensureOrderID(s.newID()),
		UserID:           cmd.UserID,
		Status:           cmd.Status,
		PaymentMethod:    cmd.PaymentMethod,
		ShippingMethod:   cmd.ShippingMethod,
		ShippingAddress:  cmd.ShippingAddress,
		ShippingCost:     cmd.ShippingCost.Round(2),
		ExchangeRate:     rate,
		AllowViewInvoice: cmd.AllowViewInvoice,
		StatusHistory: []domain.OrderStatusChange{{
			To:        cmd.Status,
			Actor:     cmd.Actor,
			ChangedAt: now,
		}},
		CreatedAt: createdAt,
		UpdatedAt: now,
	}

	ctx, box, owned := ensureOutbox(ctx)
	var created domain.Order
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if owned {
			box.reset()
		}
		order := base
		order.Items = nil
		order.StatusHistory = slices.Clone(base.StatusHistory)

		seq, err := s.counters.Next(txCtx, orderCounterID, 1)
		if err != nil {
			return err
		}
		order.OrderNumber = fmt.Sprintf(orderNumberFormat, seq)

		for _, item := range cmd.Items {
			if err := s.addItem(txCtx, &order, item.ProductVariantID, item.Quantity, cmd.Actor); err != nil {
				return err
			}
		}
		recalculateTotals(&order, s.feeRate)

		if err := s.orders.Insert(txCtx, order); err != nil {
			return err
		}
		created = order
		box.add(func(ctx context.Context) { s.publish(ctx, orderEventCreated, order, "", cmd.Actor) })
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if owned {
		box.flush(ctx)
	}

	s.logger(ctx, "order.created", map[string]any{
		"orderId":     created.ID,
		"orderNumber": created.OrderNumber,
		"items":       len(created.Items),
		"totalAmount": created.Totals.TotalAmount.String(),
	})
	return created, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error) {
	status := domain.OrderStatus(strings.TrimSpace(string(filter.Status)))
	if status != "" && !validOrderStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
	}
	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = defaultOrderListLimit
	case limit > maxOrderListLimit:
		limit = maxOrderListLimit
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{
		Status:        status,
		IncludeHidden: filter.IncludeHidden,
		Limit:         limit,
	})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.Status)))
	actor := strings.TrimSpace(cmd.Actor)
	reason := sanitizeFreeText(cmd.Reason, maxStatusReasonLength)
	switch {
	case orderID == "":
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	case !validOrderStatus(target):
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	case target == domain.OrderStatusRefunded:
		return domain.Order{}, fmt.Errorf("%w: refunds are applied through the refund endpoint", ErrOrderInvalidState)
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
		previous := order.Status
		if previous == target {
			result = order
			return nil
		}
		if !canTransition(previous, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, previous, target)
		}

		now := s.clock()
		if target == domain.OrderStatusCancelled {
			for _, item := range order.Items {
				if _, err := s.ledger.RecordMovement(txCtx, MovementCommand{
					VariantID: item.ProductVariantID,
					Delta:     item.Quantity,
					Reason:    domain.MovementReasonRelease,
					OrderID:   order.ID,
					Actor:     actor,
				}); err != nil {
					return err
				}
			}
			order.Hidden = true
		}
		order.Status = target
		order.UpdatedAt = now
		order.StatusHistory = append(order.StatusHistory, domain.OrderStatusChange{
			From:      previous,
			To:        target,
			Actor:     actor,
			Reason:    reason,
			ChangedAt: now,
		})
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		result = order
		box.add(func(ctx context.Context) { s.publish(ctx, orderEventStatusChanged, order, previous, actor) })
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if owned {
		box.flush(ctx)
	}
	return result, nil
}

func (s *orderService) SetInvoiceVisibility(ctx context.Context, orderID string, allow bool) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	var result domain.Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.AllowViewInvoice == allow {
			result = order
			return nil
		}
		order.AllowViewInvoice = allow
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return result, nil
}

func (s *orderService) publish(ctx context.Context, eventType string, order domain.Order, previous domain.OrderStatus, actor string) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		PrevStatus:  string(previous),
		TotalAmount: order.Totals.TotalAmount.StringFixed(2),
		Actor:       actor,
		OccurredAt:  order.UpdatedAt,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order_event_publish_failed", map[string]any{
			"error":   err.Error(),
			"orderId": order.ID,
			"event":   eventType,
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrLedgerNotFound):
		return fmt.Errorf("%w: %v", ErrOrderVariantNotFound, err)
	case errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrLedgerInvalidInput),
		errors.Is(err, ErrLedgerConflict):
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func validateCreateOrder(cmd *CreateOrderCommand) error {
	cmd.UserID = strings.TrimSpace(cmd.UserID)
	cmd.Actor = strings.TrimSpace(cmd.Actor)
	if cmd.Status == "" {
		cmd.Status = domain.OrderStatusProcessing
	}

	switch cmd.PaymentMethod {
	case domain.PaymentMethodCash, domain.PaymentMethodBankTransfer, domain.PaymentMethodCard, domain.PaymentMethodMercadoPago:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	if !slices.Contains(initialOrderStatuses, cmd.Status) {
		return fmt.Errorf("%w: orders cannot be created as %q", ErrOrderInvalidInput, cmd.Status)
	}
	if cmd.ShippingCost.IsNegative() {
		return fmt.Errorf("%w: shipping cost must not be negative", ErrOrderInvalidInput)
	}
	if err := validateShippingAddress(cmd.ShippingMethod, &cmd.ShippingAddress); err != nil {
		return err
	}

	switch {
	case len(cmd.Items) == 0:
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	case len(cmd.Items) > maxOrderItems:
		return fmt.Errorf("%w: at most %d items per order", ErrOrderInvalidInput, maxOrderItems)
	}
	seen := make(map[string]struct{}, len(cmd.Items))
	for i := range cmd.Items {
		item := &cmd.Items[i]
		item.ProductVariantID = strings.TrimSpace(item.ProductVariantID)
		if item.ProductVariantID == "" {
			return fmt.Errorf("%w: item %d variant id is required", ErrOrderInvalidInput, i)
		}
		if item.Quantity < 1 {
			return fmt.Errorf("%w: item %d quantity must be at least 1", ErrOrderInvalidInput, i)
		}
		if _, dup := seen[item.ProductVariantID]; dup {
			return fmt.Errorf("%w: variant %s listed twice", ErrOrderDuplicateItem, item.ProductVariantID)
		}
		seen[item.ProductVariantID] = struct{}{}
	}
	return nil
}

// validateShippingAddress requires the destination fields the shipping method needs.
func validateShippingAddress(method domain.ShippingMethod, addr *domain.ShippingAddress) error {
	addr.Recipient = sanitizeFreeText(addr.Recipient, 120)
	addr.Phone = strings.TrimSpace(addr.Phone)
	addr.Street = sanitizeFreeText(addr.Street, 200)
	addr.City = sanitizeFreeText(addr.City, 120)
	addr.Province = sanitizeFreeText(addr.Province, 120)
	addr.PostalCode = strings.TrimSpace(addr.PostalCode)
	addr.NationalID = strings.TrimSpace(addr.NationalID)
	addr.Notes = sanitizeFreeText(addr.Notes, 500)

	var missing []string
	switch method {
	case domain.ShippingMethodPickup:
		return nil
	case domain.ShippingMethodDelivery, domain.ShippingMethodParcel:
		for field, value := range map[string]string{
			"street":     addr.Street,
			"city":       addr.City,
			"province":   addr.Province,
			"postalCode": addr.PostalCode,
		} {
			if value == "" {
				missing = append(missing, field)
			}
		}
		if method == domain.ShippingMethodParcel && addr.NationalID == "" {
			missing = append(missing, "nationalId")
		}
	default:
		return fmt.Errorf("%w: unknown shipping method %q", ErrOrderInvalidInput, method)
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return fmt.Errorf("%w: shipping address missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func validOrderStatus(status domain.OrderStatus) bool {
	switch status {
	case domain.OrderStatusProcessing, domain.OrderStatusOnHold, domain.OrderStatusPendingPayment,
		domain.OrderStatusCompleted, domain.OrderStatusCancelled, domain.OrderStatusRefunded:
		return true
	}
	return false
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	next, ok := orderStateTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

func ensureOrderID(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		trimmed = ulid.Make().String()
	}
	if strings.HasPrefix(trimmed, orderIDPrefix) {
		return trimmed
	}
	return orderIDPrefix + trimmed
}
