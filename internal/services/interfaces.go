package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
)

// InventoryLedger owns per-variant stock and weighted-average cost. Every call that changes
// stock appends exactly one immutable movement in the same transaction as the variant update.
type InventoryLedger interface {
	RegisterVariant(ctx context.Context, cmd RegisterVariantCommand) (domain.ProductVariant, error)
	RecordMovement(ctx context.Context, cmd MovementCommand) (domain.ProductVariant, error)
	ListMovements(ctx context.Context, variantID string, limit int) ([]domain.StockMovement, error)
	VerifyVariant(ctx context.Context, variantID string) (LedgerVerification, error)
	CurrentStock(ctx context.Context, variantIDs []string) (map[string]int, error)
}

// OrderService manages the order lifecycle and inventory-aware item mutation.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	UpdateItems(ctx context.Context, cmd UpdateItemsCommand) (domain.Order, error)
	OverrideItemPrice(ctx context.Context, cmd OverridePriceCommand) (domain.Order, error)
	CheckStockAvailability(ctx context.Context, orderID string) (StockAvailabilityReport, error)
	TransitionStatus(ctx context.Context, cmd TransitionCommand) (domain.Order, error)
	SetInvoiceVisibility(ctx context.Context, orderID string, allow bool) (domain.Order, error)
}

// RefundService applies and reverts the single refund an order may carry.
type RefundService interface {
	CheckEligibility(ctx context.Context, orderID string) (RefundEligibility, error)
	ApplyRefund(ctx context.Context, cmd ApplyRefundCommand) (domain.Order, error)
	CancelRefund(ctx context.Context, orderID string, actor string) (domain.Order, error)
}

// CatalogService assembles priced catalogs and renders them asynchronously.
type CatalogService interface {
	StartGeneration(ctx context.Context, req CatalogRequest) (CatalogJob, error)
	Generate(ctx context.Context, roomID string, req CatalogRequest) (CatalogArtifact, error)
	Assemble(ctx context.Context, req CatalogRequest) (CatalogDocument, error)
	Wait(ctx context.Context) error
}

// ExchangeRateProvider returns the current USD→ARS rate.
type ExchangeRateProvider interface {
	CurrentRate(ctx context.Context) (decimal.Decimal, error)
}

// InventoryEventPublisher accepts stock movement notifications for downstream processing.
type InventoryEventPublisher interface {
	PublishInventoryEvent(ctx context.Context, event InventoryMovementEvent) error
}

// OrderEventPublisher accepts order lifecycle notifications for downstream processing.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// ProgressNotifier is the narrow fire-and-forget view of the progress channel used by jobs.
type ProgressNotifier interface {
	EmitProgress(ctx context.Context, roomID string, step string, percent int, data map[string]any)
}

// CatalogRenderer turns an assembled catalog into a binary artifact. It may report progress any number of times.
type CatalogRenderer interface {
	Render(ctx context.Context, doc CatalogDocument, progress RenderProgressFunc) ([]byte, error)
}

// RenderProgressFunc receives renderer-internal progress in the renderer's own 0-100 scale.
type RenderProgressFunc func(step string, percent int, message string)

// ArtifactStore persists generated artifacts and reads static assets.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, name string, contentType string, data []byte) (string, error)
	ReadAsset(ctx context.Context, object string) ([]byte, error)
}

// RegisterVariantCommand creates a variant with its initial stock entry.
type RegisterVariantCommand struct {
	Variant      domain.ProductVariant
	InitialStock int
	UnitCostUSD  decimal.Decimal
	Actor        string
}

// MovementCommand describes one stock change.
type MovementCommand struct {
	VariantID   string
	Delta       int
	Reason      domain.MovementReason
	UnitCostUSD *decimal.Decimal
	OrderID     string
	Note        string
	Actor       string
}

// LedgerVerification is the result of replaying a variant's movements.
type LedgerVerification struct {
	VariantID     string
	Stock         int
	LedgerSum     int
	MovementCount int
	Consistent    bool
}

// InventoryMovementEvent is published after a movement commits.
type InventoryMovementEvent struct {
	Type           string    `json:"type"`
	MovementID     string    `json:"movementId"`
	VariantID      string    `json:"variantId"`
	ProductID      string    `json:"productId"`
	Delta          int       `json:"delta"`
	Reason         string    `json:"reason"`
	StockAfter     int       `json:"stockAfter"`
	AverageCostUSD string    `json:"averageCostUsd"`
	OrderID        string    `json:"orderId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// OrderEvent is published after order lifecycle changes commit.
type OrderEvent struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	Status      string    `json:"status"`
	PrevStatus  string    `json:"previousStatus,omitempty"`
	TotalAmount string    `json:"totalAmount"`
	Actor       string    `json:"actor,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// ItemAction enumerates order item mutations.
type ItemAction string

const (
	ItemActionAdd    ItemAction = "add"
	ItemActionRemove ItemAction = "remove"
	ItemActionSet    ItemAction = "set"
)

// ItemOperation is one entry of a batched item update.
type ItemOperation struct {
	Action           ItemAction
	ProductVariantID string
	Quantity         int
}

// UpdateItemsCommand applies operations in order within one transaction.
type UpdateItemsCommand struct {
	OrderID    string
	Operations []ItemOperation
	Actor      string
}

// OverridePriceCommand corrects historical snapshots without touching inventory.
type OverridePriceCommand struct {
	OrderID          string
	ProductVariantID string
	PriceUSD         decimal.Decimal
	CogsUSD          *decimal.Decimal
	Actor            string
}

// CreateOrderItem requests a variant quantity on a new order.
type CreateOrderItem struct {
	ProductVariantID string
	Quantity         int
}

// CreateOrderCommand creates an order and consumes stock for its items.
type CreateOrderCommand struct {
	UserID           string
	PaymentMethod    domain.PaymentMethod
	ShippingMethod   domain.ShippingMethod
	ShippingAddress  domain.ShippingAddress
	ShippingCost     decimal.Decimal
	Status           domain.OrderStatus
	AllowViewInvoice bool
	CreatedAt        *time.Time
	Items            []CreateOrderItem
	Actor            string
}

// TransitionCommand moves an order through the state machine.
type TransitionCommand struct {
	OrderID string
	Status  domain.OrderStatus
	Reason  string
	Actor   string
}

// OrderListFilter narrows order listings.
type OrderListFilter struct {
	Status        domain.OrderStatus
	IncludeHidden bool
	Limit         int
}

// StockConflict reports an item whose requested quantity exceeds live stock.
type StockConflict struct {
	VariantID string
	Requested int
	Available int
}

// StockAvailabilityReport lists per-item conflicts for a pending order.
type StockAvailabilityReport struct {
	OrderID   string
	Conflicts []StockConflict
}

// RefundEligibility reports whether a refund may be applied and its ceiling.
type RefundEligibility struct {
	CanRefund       bool
	Reason          string
	MaxRefundAmount decimal.Decimal
}

// ApplyRefundCommand requests a fixed or percentage refund.
type ApplyRefundCommand struct {
	OrderID string
	Type    domain.RefundType
	Amount  decimal.Decimal
	Reason  string
	Actor   string
}

// CatalogRequest is the normalized catalog generation request.
type CatalogRequest struct {
	CategoryIDs    []string
	SubcategoryIDs []string
	InStockOnly    bool
	ShowPrices     bool
	Adjustments    []domain.PriceAdjustment
}

// CatalogJob is returned as soon as the background generation starts.
type CatalogJob struct {
	RoomID    string
	ExpiresAt time.Time
}

// CatalogArtifact references the persisted catalog.
type CatalogArtifact struct {
	FileName string
	URL      string
}

// CatalogDocument is the contract handed to the renderer.
type CatalogDocument struct {
	Categories   []CatalogCategory `json:"categories"`
	LogoDataURI  string            `json:"logo,omitempty"`
	GeneratedAt  time.Time         `json:"generatedAt"`
	ExchangeRate string            `json:"exchangeRate"`
	ShowPrices   bool              `json:"showPrices"`
}

// CatalogCategory is a category node with at least one subcategory.
type CatalogCategory struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Subcategories []CatalogSubcategory `json:"subcategories"`
}

// CatalogSubcategory is a subcategory node with at least one product.
type CatalogSubcategory struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	Products []CatalogProduct `json:"products"`
}

// CatalogProduct is a product node with at least one variant.
type CatalogProduct struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Variants    []CatalogVariant `json:"variants"`
}

// CatalogVariant carries the adjusted price for one variant.
type CatalogVariant struct {
	ID        string `json:"id"`
	ColorName string `json:"colorName"`
	ColorHex  string `json:"colorHex"`
	Stock     int    `json:"stock"`
	PriceUSD  string `json:"priceUsd"`
	PriceARS  string `json:"priceArs"`
	// PriceARSLabel is the es-AR formatted amount for display.
	PriceARSLabel string `json:"priceArsLabel"`
}
