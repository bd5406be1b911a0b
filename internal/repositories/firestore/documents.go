package firestore

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
)

// Money and cost values are persisted as decimal strings so no precision is lost to float64.

type variantDocument struct {
	ProductID      string    `firestore:"productId"`
	ColorName      string    `firestore:"colorName"`
	ColorHex       string    `firestore:"colorHex"`
	Stock          int       `firestore:"stock"`
	AverageCostUSD string    `firestore:"averageCostUsd"`
	PriceUSD       string    `firestore:"priceUsd"`
	PriceARS       string    `firestore:"priceArs"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

func newVariantDocument(v domain.ProductVariant) variantDocument {
	return variantDocument{
		ProductID:      v.ProductID,
		ColorName:      v.Color.Name,
		ColorHex:       strings.ToLower(v.Color.Hex),
		Stock:          v.Stock,
		AverageCostUSD: v.AverageCostUSD.String(),
		PriceUSD:       v.PriceUSD.String(),
		PriceARS:       v.PriceARS.String(),
		CreatedAt:      v.CreatedAt.UTC(),
		UpdatedAt:      v.UpdatedAt.UTC(),
	}
}

func (d variantDocument) toDomain(id string) (domain.ProductVariant, error) {
	var p decimalParser
	v := domain.ProductVariant{
		ID:             id,
		ProductID:      d.ProductID,
		Color:          domain.Color{Name: d.ColorName, Hex: d.ColorHex},
		Stock:          d.Stock,
		AverageCostUSD: p.parse("averageCostUsd", d.AverageCostUSD),
		PriceUSD:       p.parse("priceUsd", d.PriceUSD),
		PriceARS:       p.parse("priceArs", d.PriceARS),
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	return v, p.wrap(variantsCollection, id)
}

type movementDocument struct {
	VariantID           string    `firestore:"variantId"`
	Delta               int       `firestore:"delta"`
	Reason              string    `firestore:"reason"`
	UnitCostUSD         *string   `firestore:"unitCostUsd"`
	StockAfter          int       `firestore:"stockAfter"`
	AverageCostAfterUSD string    `firestore:"averageCostAfterUsd"`
	OrderID             string    `firestore:"orderId,omitempty"`
	Note                string    `firestore:"note,omitempty"`
	Actor               string    `firestore:"actor,omitempty"`
	CreatedAt           time.Time `firestore:"createdAt"`
}

func newMovementDocument(m domain.StockMovement) movementDocument {
	doc := movementDocument{
		VariantID:           m.VariantID,
		Delta:               m.Delta,
		Reason:              string(m.Reason),
		StockAfter:          m.StockAfter,
		AverageCostAfterUSD: m.AverageCostAfterUSD.String(),
		OrderID:             m.OrderID,
		Note:                m.Note,
		Actor:               m.Actor,
		CreatedAt:           m.CreatedAt.UTC(),
	}
	if m.UnitCostUSD != nil {
		cost := m.UnitCostUSD.String()
		doc.UnitCostUSD = &cost
	}
	return doc
}

func (d movementDocument) toDomain(id string) (domain.StockMovement, error) {
	var p decimalParser
	m := domain.StockMovement{
		ID:                  id,
		VariantID:           d.VariantID,
		Delta:               d.Delta,
		Reason:              domain.MovementReason(d.Reason),
		StockAfter:          d.StockAfter,
		AverageCostAfterUSD: p.parse("averageCostAfterUsd", d.AverageCostAfterUSD),
		OrderID:             d.OrderID,
		Note:                d.Note,
		Actor:               d.Actor,
		CreatedAt:           d.CreatedAt,
	}
	if d.UnitCostUSD != nil {
		cost := p.parse("unitCostUsd", *d.UnitCostUSD)
		m.UnitCostUSD = &cost
	}
	return m, p.wrap(movementsCollection, id)
}

type addressDocument struct {
	Recipient  string `firestore:"recipient"`
	Phone      string `firestore:"phone"`
	Street     string `firestore:"street"`
	City       string `firestore:"city"`
	Province   string `firestore:"province"`
	PostalCode string `firestore:"postalCode"`
	NationalID string `firestore:"nationalId,omitempty"`
	Notes      string `firestore:"notes,omitempty"`
}

type orderItemDocument struct {
	ProductVariantID      string `firestore:"productVariantId"`
	ProductID             string `firestore:"productId"`
	ProductName           string `firestore:"productName"`
	ColorName             string `firestore:"colorName"`
	ColorHex              string `firestore:"colorHex"`
	Quantity              int    `firestore:"quantity"`
	PriceUSDAtPurchase    string `firestore:"priceUsdAtPurchase"`
	CogsUSDAtPurchase     string `firestore:"cogsUsdAtPurchase"`
	SubTotal              string `firestore:"subTotal"`
	ContributionMarginUSD string `firestore:"contributionMarginUsd"`
}

type totalsDocument struct {
	SubTotal                   string `firestore:"subTotal"`
	TotalCogsUSD               string `firestore:"totalCogsUsd"`
	TotalContributionMarginUSD string `firestore:"totalContributionMarginUsd"`
	BankTransferExpense        string `firestore:"bankTransferExpense"`
	TotalAmount                string `firestore:"totalAmount"`
	TotalAmountARS             string `firestore:"totalAmountArs"`
}

type refundDocument struct {
	Type           string         `firestore:"type"`
	Amount         string         `firestore:"amount"`
	AppliedAmount  string         `firestore:"appliedAmount"`
	Reason         string         `firestore:"reason,omitempty"`
	ProcessedAt    time.Time      `firestore:"processedAt"`
	ProcessedBy    string         `firestore:"processedBy,omitempty"`
	OriginalTotals totalsDocument `firestore:"originalTotals"`
	PreviousStatus string         `firestore:"previousStatus"`
}

type statusChangeDocument struct {
	From      string    `firestore:"from"`
	To        string    `firestore:"to"`
	Actor     string    `firestore:"actor,omitempty"`
	Reason    string    `firestore:"reason,omitempty"`
	ChangedAt time.Time `firestore:"changedAt"`
}

type orderDocument struct {
	OrderNumber      string                 `firestore:"orderNumber"`
	UserID           string                 `firestore:"userId,omitempty"`
	Status           string                 `firestore:"status"`
	PaymentMethod    string                 `firestore:"paymentMethod"`
	ShippingMethod   string                 `firestore:"shippingMethod,omitempty"`
	ShippingAddress  addressDocument        `firestore:"shippingAddress"`
	ShippingCost     string                 `firestore:"shippingCost"`
	ExchangeRate     string                 `firestore:"exchangeRate"`
	AllowViewInvoice bool                   `firestore:"allowViewInvoice"`
	Items            []orderItemDocument    `firestore:"items"`
	VariantIDs       []string               `firestore:"variantIds"`
	Totals           totalsDocument         `firestore:"totals"`
	Refund           *refundDocument        `firestore:"refund"`
	StatusHistory    []statusChangeDocument `firestore:"statusHistory"`
	Hidden           bool                   `firestore:"hidden"`
	CreatedAt        time.Time              `firestore:"createdAt"`
	UpdatedAt        time.Time              `firestore:"updatedAt"`
}

func newTotalsDocument(t domain.OrderTotals) totalsDocument {
	return totalsDocument{
		SubTotal:                   t.SubTotal.String(),
		TotalCogsUSD:               t.TotalCogsUSD.String(),
		TotalContributionMarginUSD: t.TotalContributionMarginUSD.String(),
		BankTransferExpense:        t.BankTransferExpense.String(),
		TotalAmount:                t.TotalAmount.String(),
		TotalAmountARS:             t.TotalAmountARS.String(),
	}
}

func (d totalsDocument) toDomain(p *decimalParser) domain.OrderTotals {
	return domain.OrderTotals{
		SubTotal:                   p.parse("totals.subTotal", d.SubTotal),
		TotalCogsUSD:               p.parse("totals.totalCogsUsd", d.TotalCogsUSD),
		TotalContributionMarginUSD: p.parse("totals.totalContributionMarginUsd", d.TotalContributionMarginUSD),
		BankTransferExpense:        p.parse("totals.bankTransferExpense", d.BankTransferExpense),
		TotalAmount:                p.parse("totals.totalAmount", d.TotalAmount),
		TotalAmountARS:             p.parse("totals.totalAmountArs", d.TotalAmountARS),
	}
}

func newOrderDocument(o domain.Order) orderDocument {
	a := o.ShippingAddress
	doc := orderDocument{
		OrderNumber:    o.OrderNumber,
		UserID:         o.UserID,
		Status:         string(o.Status),
		PaymentMethod:  string(o.PaymentMethod),
		ShippingMethod: string(o.ShippingMethod),
		ShippingAddress: addressDocument{
			Recipient:  a.Recipient,
			Phone:      a.Phone,
			Street:     a.Street,
			City:       a.City,
			Province:   a.Province,
			PostalCode: a.PostalCode,
			NationalID: a.NationalID,
			Notes:      a.Notes,
		},
		ShippingCost:     o.ShippingCost.String(),
		ExchangeRate:     o.ExchangeRate.String(),
		AllowViewInvoice: o.AllowViewInvoice,
		Items:            make([]orderItemDocument, 0, len(o.Items)),
		VariantIDs:       make([]string, 0, len(o.Items)),
		Totals:           newTotalsDocument(o.Totals),
		StatusHistory:    make([]statusChangeDocument, 0, len(o.StatusHistory)),
		Hidden:           o.Hidden,
		CreatedAt:        o.CreatedAt.UTC(),
		UpdatedAt:        o.UpdatedAt.UTC(),
	}
	for _, item := range o.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ProductVariantID:      item.ProductVariantID,
			ProductID:             item.ProductID,
			ProductName:           item.ProductName,
			ColorName:             item.Color.Name,
			ColorHex:              item.Color.Hex,
			Quantity:              item.Quantity,
			PriceUSDAtPurchase:    item.PriceUSDAtPurchase.String(),
			CogsUSDAtPurchase:     item.CogsUSDAtPurchase.String(),
			SubTotal:              item.SubTotal.String(),
			ContributionMarginUSD: item.ContributionMarginUSD.String(),
		})
		doc.VariantIDs = append(doc.VariantIDs, item.ProductVariantID)
	}
	for _, change := range o.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, statusChangeDocument{
			From:      string(change.From),
			To:        string(change.To),
			Actor:     change.Actor,
			Reason:    change.Reason,
			ChangedAt: change.ChangedAt.UTC(),
		})
	}
	if r := o.Refund; r != nil {
		doc.Refund = &refundDocument{
			Type:           string(r.Type),
			Amount:         r.Amount.String(),
			AppliedAmount:  r.AppliedAmount.String(),
			Reason:         r.Reason,
			ProcessedAt:    r.ProcessedAt.UTC(),
			ProcessedBy:    r.ProcessedBy,
			OriginalTotals: newTotalsDocument(r.OriginalTotals),
			PreviousStatus: string(r.PreviousStatus),
		}
	}
	return doc
}

func (d orderDocument) toDomain(id string) (domain.Order, error) {
	var p decimalParser
	a := d.ShippingAddress
	o := domain.Order{
		ID:             id,
		OrderNumber:    d.OrderNumber,
		UserID:         d.UserID,
		Status:         domain.OrderStatus(d.Status),
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		ShippingMethod: domain.ShippingMethod(d.ShippingMethod),
		ShippingAddress: domain.ShippingAddress{
			Recipient:  a.Recipient,
			Phone:      a.Phone,
			Street:     a.Street,
			City:       a.City,
			Province:   a.Province,
			PostalCode: a.PostalCode,
			NationalID: a.NationalID,
			Notes:      a.Notes,
		},
		ShippingCost:     p.parse("shippingCost", d.ShippingCost),
		ExchangeRate:     p.parse("exchangeRate", d.ExchangeRate),
		AllowViewInvoice: d.AllowViewInvoice,
		Totals:           d.Totals.toDomain(&p),
		Hidden:           d.Hidden,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	for i, item := range d.Items {
		prefix := fmt.Sprintf("items[%d].", i)
		o.Items = append(o.Items, domain.OrderItem{
			ProductVariantID:      item.ProductVariantID,
			ProductID:             item.ProductID,
			ProductName:           item.ProductName,
			Color:                 domain.Color{Name: item.ColorName, Hex: item.ColorHex},
			Quantity:              item.Quantity,
			PriceUSDAtPurchase:    p.parse(prefix+"priceUsdAtPurchase", item.PriceUSDAtPurchase),
			CogsUSDAtPurchase:     p.parse(prefix+"cogsUsdAtPurchase", item.CogsUSDAtPurchase),
			SubTotal:              p.parse(prefix+"subTotal", item.SubTotal),
			ContributionMarginUSD: p.parse(prefix+"contributionMarginUsd", item.ContributionMarginUSD),
		})
	}
	for _, change := range d.StatusHistory {
		o.StatusHistory = append(o.StatusHistory, domain.OrderStatusChange{
			From:      domain.OrderStatus(change.From),
			To:        domain.OrderStatus(change.To),
			Actor:     change.Actor,
			Reason:    change.Reason,
			ChangedAt: change.ChangedAt,
		})
	}
	if r := d.Refund; r != nil {
		o.Refund = &domain.Refund{
			Type:           domain.RefundType(r.Type),
			Amount:         p.parse("refund.amount", r.Amount),
			AppliedAmount:  p.parse("refund.appliedAmount", r.AppliedAmount),
			Reason:         r.Reason,
			ProcessedAt:    r.ProcessedAt,
			ProcessedBy:    r.ProcessedBy,
			OriginalTotals: r.OriginalTotals.toDomain(&p),
			PreviousStatus: domain.OrderStatus(r.PreviousStatus),
		}
	}
	return o, p.wrap(ordersCollection, id)
}

type categoryDocument struct {
	Name  string `firestore:"name"`
	Order int    `firestore:"order"`
}

type subcategoryDocument struct {
	CategoryID string `firestore:"categoryId"`
	Name       string `firestore:"name"`
	Order      int    `firestore:"order"`
}

type productDocument struct {
	Name          string `firestore:"name"`
	Description   string `firestore:"description"`
	CategoryID    string `firestore:"categoryId"`
	SubcategoryID string `firestore:"subcategoryId"`
	Active        bool   `firestore:"active"`
}

// decimalParser accumulates the first parse failure so converters stay linear.
type decimalParser struct {
	err error
}

func (p *decimalParser) parse(field, value string) decimal.Decimal {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
	return d
}

func (p *decimalParser) wrap(collection, id string) error {
	if p.err == nil {
		return nil
	}
	return fmt.Errorf("firestore: decode %s/%s: %w", collection, id, p.err)
}
