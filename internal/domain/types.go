package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Color identifies a variant within its product. Hex is unique per product.
type Color struct {
	Name string
	Hex  string
}

// ProductVariant is the unit of stock and pricing.
type ProductVariant struct {
	ID             string
	ProductID      string
	Color          Color
	Stock          int
	AverageCostUSD decimal.Decimal
	PriceUSD       decimal.Decimal
	PriceARS       decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MovementReason enumerates why stock changed.
type MovementReason string

const (
	// MovementReasonInitialStock seeds a newly created variant.
	MovementReasonInitialStock MovementReason = "initial_stock"
	// MovementReasonPurchase records stock bought from a supplier.
	MovementReasonPurchase MovementReason = "purchase"
	// MovementReasonSale consumes stock for an order item.
	MovementReasonSale MovementReason = "sale"
	// MovementReasonReturn restores stock removed from an order item.
	MovementReasonReturn MovementReason = "return"
	// MovementReasonRelease restores stock held by a cancelled order.
	MovementReasonRelease MovementReason = "release"
	// MovementReasonAdjustment is a manual stock count adjustment.
	MovementReasonAdjustment MovementReason = "adjustment"
	// MovementReasonCorrection fixes a previously recorded mistake.
	MovementReasonCorrection MovementReason = "correction"
)

// Valid reports whether the reason is one of the known values.
func (r MovementReason) Valid() bool {
	switch r {
	case MovementReasonInitialStock, MovementReasonPurchase, MovementReasonSale,
		MovementReasonReturn, MovementReasonRelease, MovementReasonAdjustment, MovementReasonCorrection:
		return true
	}
	return false
}

// StockMovement is an immutable ledger entry. The sum of Delta for a variant equals its stock.
type StockMovement struct {
	ID                  string
	VariantID           string
	Delta               int
	Reason              MovementReason
	UnitCostUSD         *decimal.Decimal
	StockAfter          int
	AverageCostAfterUSD decimal.Decimal
	OrderID             string
	Note                string
	Actor               string
	CreatedAt           time.Time
}

// OrderStatus enumerates the order lifecycle.
type OrderStatus string

const (
	OrderStatusProcessing     OrderStatus = "processing"
	OrderStatusOnHold         OrderStatus = "on_hold"
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// Terminal reports whether items can no longer be mutated.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// PaymentMethod only affects recorded order fields.
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodMercadoPago  PaymentMethod = "mercado_pago"
)

// ShippingMethod decides which address fields are required.
type ShippingMethod string

const (
	ShippingMethodPickup   ShippingMethod = "pickup"
	ShippingMethodDelivery ShippingMethod = "delivery"
	ShippingMethodParcel   ShippingMethod = "parcel"
)

// ShippingAddress stores the destination; required fields depend on the shipping method.
type ShippingAddress struct {
	Recipient  string
	Phone      string
	Street     string
	City       string
	Province   string
	PostalCode string
	NationalID string
	Notes      string
}

// OrderItem snapshots price and cost when the stock-affecting operation happened.
type OrderItem struct {
	ProductVariantID      string
	ProductID             string
	ProductName           string
	Color                 Color
	Quantity              int
	PriceUSDAtPurchase    decimal.Decimal
	CogsUSDAtPurchase     decimal.Decimal
	SubTotal              decimal.Decimal
	ContributionMarginUSD decimal.Decimal
}

// OrderTotals holds the aggregates recomputed from the item set.
type OrderTotals struct {
	SubTotal                   decimal.Decimal
	TotalCogsUSD               decimal.Decimal
	TotalContributionMarginUSD decimal.Decimal
	BankTransferExpense        decimal.Decimal
	TotalAmount                decimal.Decimal
	TotalAmountARS             decimal.Decimal
}

// RefundType distinguishes fixed amount and percentage refunds.
type RefundType string

const (
	RefundTypeFixed      RefundType = "fixed"
	RefundTypePercentage RefundType = "percentage"
)

// Refund is the single active refund of an order.
type Refund struct {
	Type           RefundType
	Amount         decimal.Decimal
	AppliedAmount  decimal.Decimal
	Reason         string
	ProcessedAt    time.Time
	ProcessedBy    string
	OriginalTotals OrderTotals
	PreviousStatus OrderStatus
}

// OrderStatusChange records a lifecycle transition.
type OrderStatusChange struct {
	From      OrderStatus
	To        OrderStatus
	Actor     string
	Reason    string
	ChangedAt time.Time
}

// Order aggregates line items and their computed totals. Orders are hidden, never deleted.
type Order struct {
	ID               string
	OrderNumber      string
	UserID           string
	Status           OrderStatus
	PaymentMethod    PaymentMethod
	ShippingMethod   ShippingMethod
	ShippingAddress  ShippingAddress
	ShippingCost     decimal.Decimal
	ExchangeRate     decimal.Decimal
	AllowViewInvoice bool
	Items            []OrderItem
	Totals           OrderTotals
	Refund           *Refund
	StatusHistory    []OrderStatusChange
	Hidden           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// FindItem returns the index of the item for the variant or -1.
func (o Order) FindItem(variantID string) int {
	for i, item := range o.Items {
		if item.ProductVariantID == variantID {
			return i
		}
	}
	return -1
}

// PriceAdjustment is supplied per catalog request and never persisted.
type PriceAdjustment struct {
	CategoryID         string
	SubcategoryID      string
	PercentageIncrease decimal.Decimal
}

// Category groups subcategories in the catalog.
type Category struct {
	ID    string
	Name  string
	Order int
}

// Subcategory belongs to exactly one category.
type Subcategory struct {
	ID         string
	CategoryID string
	Name       string
	Order      int
}

// Product is a catalog entry owning one or more variants.
type Product struct {
	ID            string
	Name          string
	Description   string
	CategoryID    string
	SubcategoryID string
	Active        bool
}

// ProgressRoom is an expiring, capacity-bounded broadcast group.
type ProgressRoom struct {
	ID        string
	Members   []string
	CreatedAt time.Time
	ExpiresAt time.Time
}
