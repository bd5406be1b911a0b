package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const maxItemOperations = 50

func (s *orderService) UpdateItems(ctx context.Context, cmd UpdateItemsCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	actor := strings.TrimSpace(cmd.Actor)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	ops, err := normaliseItemOperations(cmd.Operations)
	if err != nil {
		return domain.Order{}, err
	}

	ctx, box, owned := ensureOutbox(ctx)
	var result domain.Order
	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if owned {
			box.reset()
		}
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: items of a %s order cannot change", ErrOrderInvalidState, order.Status)
		}

		for _, op := range ops {
			switch op.Action {
			case ItemActionAdd:
				err = s.addItem(txCtx, &order, op.ProductVariantID, op.Quantity, actor)
			case ItemActionRemove:
				err = s.removeItem(txCtx, &order, op.ProductVariantID, actor)
			case ItemActionSet:
				err = s.setItemQuantity(txCtx, &order, op.ProductVariantID, op.Quantity, actor)
			}
			if err != nil {
				return err
			}
		}

		recalculateTotals(&order, s.feeRate)
		order.UpdatedAt = s.clock()
		if err := s.orders.Update(txCtx, order); err != nil {
			return err
		}
		result = order
		box.add(func(ctx context.Context) { s.publish(ctx, orderEventItemsUpdated, order, "", actor) })
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if owned {
		box.flush(ctx)
	}

	s.logger(ctx, "order.items_updated", map[string]any{
		"orderId":     result.ID,
		"operations":  len(ops),
		"items":       len(result.Items),
		"totalAmount": result.Totals.TotalAmount.String(),
	})
	return result, nil
}

func (s *orderService) OverrideItemPrice(ctx context.Context, cmd OverridePriceCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	variantID := strings.TrimSpace(cmd.ProductVariantID)
	switch {
	case orderID == "":
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	case variantID == "":
		return domain.Order{}, fmt.Errorf("%w: variant id is required", ErrOrderInvalidInput)
	case cmd.PriceUSD.IsNegative():
		return domain.Order{}, fmt.Errorf("%w: price must not be negative", ErrOrderInvalidInput)
	case cmd.CogsUSD != nil && cmd.CogsUSD.IsNegative():
		return domain.Order{}, fmt.Errorf("%w: cost must not be negative", ErrOrderInvalidInput)
	}

	var result domain.Order
	err := s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		order, err := s.orders.FindByID(txCtx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return fmt.Errorf("%w: prices of a %s order cannot change", ErrOrderInvalidState, order.Status)
		}
		idx := order.FindItem(variantID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrOrderItemNotFound, variantID)
		}
		item := &order.Items[idx]
		item.PriceUSDAtPurchase = cmd.PriceUSD.Round(2)
		if cmd.CogsUSD != nil {
			item.CogsUSDAtPurchase = cmd.CogsUSD.Round(averageCostPlaces)
		}
		recalculateTotals(&order, s.feeRate)
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

	s.logger(ctx, "order.item_price_overridden", map[string]any{
		"orderId":   result.ID,
		"variantId": variantID,
		"priceUsd":  cmd.PriceUSD.StringFixed(2),
		"actor":     strings.TrimSpace(cmd.Actor),
	})
	return result, nil
}

func (s *orderService) CheckStockAvailability(ctx context.Context, orderID string) (StockAvailabilityReport, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return StockAvailabilityReport{}, err
	}
	if order.Status != domain.OrderStatusPendingPayment {
		return StockAvailabilityReport{}, fmt.Errorf("%w: stock checks apply to pending payment orders, order is %s", ErrOrderInvalidState, order.Status)
	}

	ids := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductVariantID)
	}
	stock, err := s.ledger.CurrentStock(ctx, ids)
	if err != nil {
		return StockAvailabilityReport{}, s.mapRepositoryError(err)
	}

	report := StockAvailabilityReport{OrderID: order.ID, Conflicts: []StockConflict{}}
	for _, item := range order.Items {
		available := stock[item.ProductVariantID]
		if item.Quantity > available {
			report.Conflicts = append(report.Conflicts, StockConflict{
				VariantID: item.ProductVariantID,
				Requested: item.Quantity,
				Available: available,
			})
		}
	}
	return report, nil
}

// addItem consumes stock and snapshots the variant's current price and average cost.
func (s *orderService) addItem(ctx context.Context, order *domain.Order, variantID string, quantity int, actor string) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity for %s must be at least 1", ErrOrderInvalidInput, variantID)
	}
	if order.FindItem(variantID) >= 0 {
		return fmt.Errorf("%w: %s", ErrOrderDuplicateItem, variantID)
	}

	variant, err := s.variants.FindByID(ctx, variantID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return fmt.Errorf("%w: %s", ErrOrderVariantNotFound, variantID)
		}
		return err
	}
	product, err := s.catalog.FindProduct(ctx, variant.ProductID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
			return err
		}
		product = domain.Product{ID: variant.ProductID}
	}

	if _, err := s.ledger.RecordMovement(ctx, MovementCommand{
		VariantID: variantID,
		Delta:     -quantity,
		Reason:    domain.MovementReasonSale,
		OrderID:   order.ID,
		Actor:     actor,
	}); err != nil {
		return err
	}

	item := domain.OrderItem{
		ProductVariantID:   variant.ID,
		ProductID:          variant.ProductID,
		ProductName:        product.Name,
		Color:              variant.Color,
		Quantity:           quantity,
		PriceUSDAtPurchase: variant.PriceUSD,
		CogsUSDAtPurchase:  variant.AverageCostUSD,
	}
	item.SubTotal, item.ContributionMarginUSD = lineAmounts(item.PriceUSDAtPurchase, item.CogsUSDAtPurchase, item.Quantity)
	order.Items = append(order.Items, item)
	return nil
}

// removeItem returns the item's full quantity to stock.
func (s *orderService) removeItem(ctx context.Context, order *domain.Order, variantID string, actor string) error {
	idx := order.FindItem(variantID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrOrderItemNotFound, variantID)
	}
	if _, err := s.ledger.RecordMovement(ctx, MovementCommand{
		VariantID: variantID,
		Delta:     order.Items[idx].Quantity,
		Reason:    domain.MovementReasonReturn,
		OrderID:   order.ID,
		Actor:     actor,
	}); err != nil {
		return err
	}
	order.Items = append(order.Items[:idx], order.Items[idx+1:]...)
	return nil
}

// setItemQuantity moves only the difference between the old and new quantity through the ledger.
func (s *orderService) setItemQuantity(ctx context.Context, order *domain.Order, variantID string, quantity int, actor string) error {
	if quantity < 1 {
		return fmt.Errorf("%w: quantity for %s must be at least 1, remove the item instead", ErrOrderInvalidInput, variantID)
	}
	idx := order.FindItem(variantID)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrOrderItemNotFound, variantID)
	}
	item := &order.Items[idx]
	delta := quantity - item.Quantity
	if delta == 0 {
		return nil
	}

	movement := MovementCommand{
		VariantID: variantID,
		Delta:     -delta,
		Reason:    domain.MovementReasonSale,
		OrderID:   order.ID,
		Actor:     actor,
	}
	if delta < 0 {
		movement.Reason = domain.MovementReasonReturn
	}
	if _, err := s.ledger.RecordMovement(ctx, movement); err != nil {
		return err
	}

	item.Quantity = quantity
	item.SubTotal, item.ContributionMarginUSD = lineAmounts(item.PriceUSDAtPurchase, item.CogsUSDAtPurchase, item.Quantity)
	return nil
}

func normaliseItemOperations(ops []ItemOperation) ([]ItemOperation, error) {
	switch {
	case len(ops) == 0:
		return nil, fmt.Errorf("%w: at least one operation is required", ErrOrderInvalidInput)
	case len(ops) > maxItemOperations:
		return nil, fmt.Errorf("%w: at most %d operations per request", ErrOrderInvalidInput, maxItemOperations)
	}
	result := make([]ItemOperation, len(ops))
	for i, op := range ops {
		op.Action = ItemAction(strings.ToLower(strings.TrimSpace(string(op.Action))))
		op.ProductVariantID = strings.TrimSpace(op.ProductVariantID)
		switch op.Action {
		case ItemActionAdd, ItemActionRemove, ItemActionSet:
		default:
			return nil, fmt.Errorf("%w: operation %d has unknown action %q", ErrOrderInvalidInput, i, op.Action)
		}
		if op.ProductVariantID == "" {
			return nil, fmt.Errorf("%w: operation %d variant id is required", ErrOrderInvalidInput, i)
		}
		result[i] = op
	}
	return result, nil
}
