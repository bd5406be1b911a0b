package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/repositories"
)

const (
	eventInventoryMovementRecorded = "inventory.movement.recorded"

	defaultMovementListLimit = 50
	maxMovementListLimit     = 500
	maxCurrentStockIDs       = 300
	maxMovementNoteLength    = 500

	averageCostPlaces = 4
)

var (
	// ErrLedgerInvalidInput signals the caller provided invalid arguments.
	ErrLedgerInvalidInput = errors.New("inventory: invalid input")
	// ErrLedgerInvalidQuantity indicates the movement would leave the variant with an impossible quantity.
	ErrLedgerInvalidQuantity = errors.New("inventory: invalid quantity")
	// ErrInsufficientStock indicates the requested quantity exceeds the available stock.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrLedgerNotFound indicates the variant could not be located.
	ErrLedgerNotFound = errors.New("inventory: variant not found")
	// ErrLedgerConflict indicates a concurrent write or duplicate variant.
	ErrLedgerConflict = errors.New("inventory: conflict")
)

// InsufficientStockError carries the quantities involved in a rejected stock decrease.
type InsufficientStockError struct {
	VariantID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for variant %s: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

// Is lets callers match the error against both quantity sentinels.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock || target == ErrLedgerInvalidQuantity
}

// InventoryLedgerDeps bundles the collaborators required to construct the inventory ledger.
type InventoryLedgerDeps struct {
	Variants    repositories.VariantRepository
	Movements   repositories.MovementRepository
	UnitOfWork  repositories.UnitOfWork
	Events      InventoryEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type inventoryLedger struct {
	variants  repositories.VariantRepository
	movements repositories.MovementRepository
	uow       repositories.UnitOfWork
	events    InventoryEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryLedger wires dependencies into a concrete InventoryLedger implementation.
func NewInventoryLedger(deps InventoryLedgerDeps) (InventoryLedger, error) {
	if deps.Variants == nil {
		return nil, errors.New("inventory ledger: variant repository is required")
	}
	if deps.Movements == nil {
		return nil, errors.New("inventory ledger: movement repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("inventory ledger: unit of work is required")
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

	return &inventoryLedger{
		variants:  deps.Variants,
		movements: deps.Movements,
		uow:       deps.UnitOfWork,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (l *inventoryLedger) RegisterVariant(ctx context.Context, cmd RegisterVariantCommand) (domain.ProductVariant, error) {
	variant := cmd.Variant
	variant.ProductID = strings.TrimSpace(variant.ProductID)
	variant.Color.Name = strings.TrimSpace(variant.Color.Name)
	hex := normaliseColorHex(variant.Color.Hex)
	switch {
	case variant.ProductID == "":
		return domain.ProductVariant{}, fmt.Errorf("%w: product id is required", ErrLedgerInvalidInput)
	case hex == "":
		return domain.ProductVariant{}, fmt.Errorf("%w: color hex is required", ErrLedgerInvalidInput)
	case cmd.InitialStock < 0:
		return domain.ProductVariant{}, fmt.Errorf("%w: initial stock must not be negative", ErrLedgerInvalidInput)
	case cmd.UnitCostUSD.IsNegative():
		return domain.ProductVariant{}, fmt.Errorf("%w: unit cost must not be negative", ErrLedgerInvalidInput)
	case variant.PriceUSD.IsNegative():
		return domain.ProductVariant{}, fmt.Errorf("%w: price must not be negative", ErrLedgerInvalidInput)
	}
	variant.Color.Hex = "#" + hex
	if strings.TrimSpace(variant.ID) == "" {
		variant.ID = VariantID(variant.ProductID, hex)
	}

	now := l.clock()
	variant.Stock = 0
	variant.AverageCostUSD = decimal.Zero
	variant.PriceUSD = variant.PriceUSD.Round(2)
	variant.PriceARS = variant.PriceARS.Round(2)
	variant.CreatedAt = now
	variant.UpdatedAt = now

	ctx, box, owned := ensureOutbox(ctx)
	result := variant
	err := l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if owned {
			box.reset()
		}
		if err := l.variants.Insert(txCtx, variant); err != nil {
			return err
		}
		result = variant
		if cmd.InitialStock == 0 {
			return nil
		}
		unit := cmd.UnitCostUSD
		updated, movement, err := l.apply(txCtx, MovementCommand{
			VariantID:   variant.ID,
			Delta:       cmd.InitialStock,
			Reason:      domain.MovementReasonInitialStock,
			UnitCostUSD: &unit,
			Actor:       strings.TrimSpace(cmd.Actor),
		})
		if err != nil {
			return err
		}
		result = updated
		box.add(func(ctx context.Context) { l.publish(ctx, updated, movement) })
		return nil
	})
	if err != nil {
		return domain.ProductVariant{}, l.mapRepositoryError(err)
	}
	if owned {
		box.flush(ctx)
	}
	l.logger(ctx, "inventory.variant_registered", map[string]any{
		"variantId": result.ID,
		"productId": result.ProductID,
		"stock":     result.Stock,
	})
	return result, nil
}

func (l *inventoryLedger) RecordMovement(ctx context.Context, cmd MovementCommand) (domain.ProductVariant, error) {
	cmd, err := normaliseMovementCommand(cmd)
	if err != nil {
		return domain.ProductVariant{}, err
	}

	ctx, box, owned := ensureOutbox(ctx)
	var result domain.ProductVariant
	err = l.uow.RunInTx(ctx, func(txCtx context.Context) error {
		if owned {
			box.reset()
		}
		updated, movement, err := l.apply(txCtx, cmd)
		if err != nil {
			return err
		}
		result = updated
		box.add(func(ctx context.Context) { l.publish(ctx, updated, movement) })
		return nil
	})
	if err != nil {
		return domain.ProductVariant{}, l.mapRepositoryError(err)
	}
	if owned {
		box.flush(ctx)
	}
	return result, nil
}

// apply must run inside a unit of work: the variant update and the movement append commit together.
func (l *inventoryLedger) apply(ctx context.Context, cmd MovementCommand) (domain.ProductVariant, domain.StockMovement, error) {
	variant, err := l.variants.FindByID(ctx, cmd.VariantID)
	if err != nil {
		return domain.ProductVariant{}, domain.StockMovement{}, err
	}

	next := variant.Stock + cmd.Delta
	if next < 0 {
		return domain.ProductVariant{}, domain.StockMovement{}, &InsufficientStockError{
			VariantID: variant.ID,
			Requested: -cmd.Delta,
			Available: variant.Stock,
		}
	}

	average := variant.AverageCostUSD
	if cmd.Delta > 0 && cmd.UnitCostUSD != nil {
		average = weightedAverageCost(variant.Stock, variant.AverageCostUSD, cmd.Delta, *cmd.UnitCostUSD)
	}

	now := l.clock()
	variant.Stock = next
	variant.AverageCostUSD = average
	variant.UpdatedAt = now

	movement := domain.StockMovement{
		ID:                  ensureMovementID(l.newID()),
		VariantID:           variant.ID,
		Delta:               cmd.Delta,
		Reason:              cmd.Reason,
		UnitCostUSD:         cmd.UnitCostUSD,
		StockAfter:          next,
		AverageCostAfterUSD: average,
		OrderID:             cmd.OrderID,
		Note:                cmd.Note,
		Actor:               cmd.Actor,
		CreatedAt:           now,
	}

	if err := l.variants.Update(ctx, variant); err != nil {
		return domain.ProductVariant{}, domain.StockMovement{}, err
	}
	if err := l.movements.Append(ctx, movement); err != nil {
		return domain.ProductVariant{}, domain.StockMovement{}, err
	}
	return variant, movement, nil
}

func (l *inventoryLedger) ListMovements(ctx context.Context, variantID string, limit int) ([]domain.StockMovement, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return nil, fmt.Errorf("%w: variant id is required", ErrLedgerInvalidInput)
	}
	switch {
	case limit <= 0:
		limit = defaultMovementListLimit
	case limit > maxMovementListLimit:
		limit = maxMovementListLimit
	}
	movements, err := l.movements.ListByVariant(ctx, variantID, repositories.MovementListFilter{Limit: limit})
	if err != nil {
		return nil, l.mapRepositoryError(err)
	}
	return movements, nil
}

func (l *inventoryLedger) VerifyVariant(ctx context.Context, variantID string) (LedgerVerification, error) {
	variantID = strings.TrimSpace(variantID)
	if variantID == "" {
		return LedgerVerification{}, fmt.Errorf("%w: variant id is required", ErrLedgerInvalidInput)
	}
	variant, err := l.variants.FindByID(ctx, variantID)
	if err != nil {
		return LedgerVerification{}, l.mapRepositoryError(err)
	}
	movements, err := l.movements.ListByVariant(ctx, variantID, repositories.MovementListFilter{Ascending: true})
	if err != nil {
		return LedgerVerification{}, l.mapRepositoryError(err)
	}

	sum := 0
	for _, movement := range movements {
		sum += movement.Delta
	}
	result := LedgerVerification{
		VariantID:     variant.ID,
		Stock:         variant.Stock,
		LedgerSum:     sum,
		MovementCount: len(movements),
		Consistent:    sum == variant.Stock,
	}
	if !result.Consistent {
		l.logger(ctx, "inventory.ledger_mismatch", map[string]any{
			"variantId": variant.ID,
			"stock":     variant.Stock,
			"ledgerSum": sum,
		})
	}
	return result, nil
}

func (l *inventoryLedger) CurrentStock(ctx context.Context, variantIDs []string) (map[string]int, error) {
	ids := uniqueTrimmed(variantIDs)
	if len(ids) == 0 {
		return map[string]int{}, nil
	}
	if len(ids) > maxCurrentStockIDs {
		return nil, fmt.Errorf("%w: at most %d variant ids per request", ErrLedgerInvalidInput, maxCurrentStockIDs)
	}
	variants, err := l.variants.FindByIDs(ctx, ids)
	if err != nil {
		return nil, l.mapRepositoryError(err)
	}
	stock := make(map[string]int, len(variants))
	for id, variant := range variants {
		stock[id] = variant.Stock
	}
	return stock, nil
}

func (l *inventoryLedger) publish(ctx context.Context, variant domain.ProductVariant, movement domain.StockMovement) {
	if l.events == nil {
		return
	}
	event := InventoryMovementEvent{
		Type:           eventInventoryMovementRecorded,
		MovementID:     movement.ID,
		VariantID:      variant.ID,
		ProductID:      variant.ProductID,
		Delta:          movement.Delta,
		Reason:         string(movement.Reason),
		StockAfter:     movement.StockAfter,
		AverageCostUSD: movement.AverageCostAfterUSD.StringFixed(averageCostPlaces),
		OrderID:        movement.OrderID,
		OccurredAt:     movement.CreatedAt,
	}
	if err := l.events.PublishInventoryEvent(ctx, event); err != nil {
		l.logger(ctx, "inventory_event_publish_failed", map[string]any{
			"error":      err.Error(),
			"movementId": movement.ID,
		})
	}
}

func (l *inventoryLedger) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		return err
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrLedgerNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrLedgerConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("inventory: repository unavailable: %w", err)
		}
	}
	return err
}

func normaliseMovementCommand(cmd MovementCommand) (MovementCommand, error) {
	cmd.VariantID = strings.TrimSpace(cmd.VariantID)
	cmd.Reason = domain.MovementReason(strings.TrimSpace(string(cmd.Reason)))
	cmd.OrderID = strings.TrimSpace(cmd.OrderID)
	cmd.Actor = strings.TrimSpace(cmd.Actor)
	cmd.Note = sanitizeFreeText(cmd.Note, maxMovementNoteLength)

	switch {
	case cmd.VariantID == "":
		return cmd, fmt.Errorf("%w: variant id is required", ErrLedgerInvalidInput)
	case cmd.Delta == 0:
		return cmd, fmt.Errorf("%w: delta must not be zero", ErrLedgerInvalidInput)
	case !cmd.Reason.Valid():
		return cmd, fmt.Errorf("%w: unknown movement reason %q", ErrLedgerInvalidInput, cmd.Reason)
	}
	if cmd.UnitCostUSD != nil {
		if cmd.UnitCostUSD.IsNegative() {
			return cmd, fmt.Errorf("%w: unit cost must not be negative", ErrLedgerInvalidInput)
		}
		unit := cmd.UnitCostUSD.Round(averageCostPlaces)
		cmd.UnitCostUSD = &unit
	}
	return cmd, nil
}

// weightedAverageCost blends the incoming unit cost into the running average of the stock on hand.
func weightedAverageCost(stock int, average decimal.Decimal, delta int, unit decimal.Decimal) decimal.Decimal {
	if stock <= 0 {
		return unit.Round(averageCostPlaces)
	}
	onHand := decimal.NewFromInt(int64(stock))
	incoming := decimal.NewFromInt(int64(delta))
	total := onHand.Mul(average).Add(incoming.Mul(unit))
	return total.Div(onHand.Add(incoming)).Round(averageCostPlaces)
}

// VariantID derives the storage id of a variant from its product and color so the pair stays unique.
func VariantID(productID, colorHex string) string {
	return strings.TrimSpace(productID) + "_" + normaliseColorHex(colorHex)
}

func normaliseColorHex(hex string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(hex), "#"))
}

func ensureMovementID(candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		trimmed = ulid.Make().String()
	}
	if strings.HasPrefix(trimmed, "mv_") {
		return trimmed
	}
	return "mv_" + trimmed
}

func uniqueTrimmed(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}
	return result
}
