package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/services"
)

const maxOrderBodySize = 32 * 1024

// OrderHandlers exposes order lifecycle, item mutation and refund endpoints.
type OrderHandlers struct {
	orders  services.OrderService
	refunds services.RefundService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(orders services.OrderService, refunds services.RefundService) *OrderHandlers {
	return &OrderHandlers{
		orders:  orders,
		refunds: refunds,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Patch("/{orderID}/items", h.updateItems)
	r.Put("/{orderID}/items/{variantID}/price", h.overridePrice)
	r.Post("/{orderID}/status", h.transitionStatus)
	r.Put("/{orderID}/invoice-visibility", h.setInvoiceVisibility)
	r.Get("/{orderID}/stock-check", h.stockCheck)
	r.Get("/{orderID}/refund", h.refundEligibility)
	r.Post("/{orderID}/refund", h.applyRefund)
	r.Delete("/{orderID}/refund", h.cancelRefund)
}

type createOrderRequest struct {
	UserID           string             `json:"userId"`
	PaymentMethod    string             `json:"paymentMethod"`
	ShippingMethod   string             `json:"shippingMethod"`
	ShippingAddress  addressPayload     `json:"shippingAddress"`
	ShippingCost     decimal.Decimal    `json:"shippingCost"`
	Status           string             `json:"status"`
	AllowViewInvoice flexBool           `json:"allowViewInvoice"`
	CreatedAt        *time.Time         `json:"createdAt"`
	Items            []orderItemRequest `json:"items"`
}

type orderItemRequest struct {
	ProductVariantID string `json:"productVariantId"`
	Quantity         int    `json:"quantity"`
}

type updateItemsRequest struct {
	Operations []itemOperationRequest `json:"operations"`
}

type itemOperationRequest struct {
	Action           string `json:"action"`
	ProductVariantID string `json:"productVariantId"`
	Quantity         int    `json:"quantity"`
}

type overridePriceRequest struct {
	PriceUSD decimal.Decimal  `json:"priceUsd"`
	CogsUSD  *decimal.Decimal `json:"cogsUsd"`
}

type transitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type invoiceVisibilityRequest struct {
	Allow flexBool `json:"allow"`
}

type applyRefundRequest struct {
	Type   string          `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decodeBody(w, r, maxOrderBodySize, &req) {
		return
	}
	cmd := services.CreateOrderCommand{
		UserID:           strings.TrimSpace(req.UserID),
		PaymentMethod:    domain.PaymentMethod(strings.TrimSpace(req.PaymentMethod)),
		ShippingMethod:   domain.ShippingMethod(strings.TrimSpace(req.ShippingMethod)),
		ShippingAddress:  req.ShippingAddress.toDomain(),
		ShippingCost:     req.ShippingCost,
		Status:           domain.OrderStatus(strings.TrimSpace(req.Status)),
		AllowViewInvoice: bool(req.AllowViewInvoice),
		CreatedAt:        req.CreatedAt,
		Actor:            actorFrom(r),
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.CreateOrderItem{
			ProductVariantID: strings.TrimSpace(item.ProductVariantID),
			Quantity:         item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, err := parseLimit(r)
	if err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	query := r.URL.Query()
	includeHidden, ok := parseBool(query.Get("includeHidden"))
	if !ok {
		writeError(ctx, w, http.StatusBadRequest, "invalid_request", "includeHidden must be a boolean")
		return
	}

	orders, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		Status:        domain.OrderStatus(strings.TrimSpace(query.Get("status"))),
		IncludeHidden: includeHidden,
		Limit:         limit,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) updateItems(w http.ResponseWriter, r *http.Request) {
	var req updateItemsRequest
	if !decodeBody(w, r, maxOrderBodySize, &req) {
		return
	}
	cmd := services.UpdateItemsCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Actor:   actorFrom(r),
	}
	for _, op := range req.Operations {
		cmd.Operations = append(cmd.Operations, services.ItemOperation{
			Action:           services.ItemAction(strings.ToLower(strings.TrimSpace(op.Action))),
			ProductVariantID: strings.TrimSpace(op.ProductVariantID),
			Quantity:         op.Quantity,
		})
	}

	order, err := h.orders.UpdateItems(r.Context(), cmd)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) overridePrice(w http.ResponseWriter, r *http.Request) {
	var req overridePriceRequest
	if !decodeBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.OverrideItemPrice(r.Context(), services.OverridePriceCommand{
		OrderID:          chi.URLParam(r, "orderID"),
		ProductVariantID: chi.URLParam(r, "variantID"),
		PriceUSD:         req.PriceUSD,
		CogsUSD:          req.CogsUSD,
		Actor:            actorFrom(r),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if !decodeBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.TransitionStatus(r.Context(), services.TransitionCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  domain.OrderStatus(strings.TrimSpace(req.Status)),
		Reason:  req.Reason,
		Actor:   actorFrom(r),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) setInvoiceVisibility(w http.ResponseWriter, r *http.Request) {
	var req invoiceVisibilityRequest
	if !decodeBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.orders.SetInvoiceVisibility(r.Context(), chi.URLParam(r, "orderID"), bool(req.Allow))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) stockCheck(w http.ResponseWriter, r *http.Request) {
	report, err := h.orders.CheckStockAvailability(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	conflicts := make([]map[string]any, 0, len(report.Conflicts))
	for _, c := range report.Conflicts {
		conflicts = append(conflicts, map[string]any{
			"variantId": c.VariantID,
			"requested": c.Requested,
			"available": c.Available,
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"orderId":   report.OrderID,
		"available": len(report.Conflicts) == 0,
		"conflicts": conflicts,
	})
}

func (h *OrderHandlers) refundEligibility(w http.ResponseWriter, r *http.Request) {
	eligibility, err := h.refunds.CheckEligibility(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	payload := map[string]any{
		"canRefund":       eligibility.CanRefund,
		"maxRefundAmount": eligibility.MaxRefundAmount.StringFixed(2),
	}
	if eligibility.Reason != "" {
		payload["reason"] = eligibility.Reason
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) applyRefund(w http.ResponseWriter, r *http.Request) {
	var req applyRefundRequest
	if !decodeBody(w, r, maxOrderBodySize, &req) {
		return
	}
	order, err := h.refunds.ApplyRefund(r.Context(), services.ApplyRefundCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Type:    domain.RefundType(strings.ToLower(strings.TrimSpace(req.Type))),
		Amount:  req.Amount,
		Reason:  req.Reason,
		Actor:   actorFrom(r),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelRefund(w http.ResponseWriter, r *http.Request) {
	order, err := h.refunds.CancelRefund(r.Context(), chi.URLParam(r, "orderID"), actorFrom(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID               string                `json:"id"`
	OrderNumber      string                `json:"orderNumber"`
	UserID           string                `json:"userId,omitempty"`
	Status           string                `json:"status"`
	PaymentMethod    string                `json:"paymentMethod"`
	ShippingMethod   string                `json:"shippingMethod"`
	ShippingAddress  addressPayload        `json:"shippingAddress"`
	ShippingCost     string                `json:"shippingCost"`
	ExchangeRate     string                `json:"exchangeRate"`
	AllowViewInvoice bool                  `json:"allowViewInvoice"`
	Items            []orderItemPayload    `json:"items"`
	Totals           orderTotalsPayload    `json:"totals"`
	Refund           *refundPayload        `json:"refund,omitempty"`
	StatusHistory    []statusChangePayload `json:"statusHistory"`
	Hidden           bool                  `json:"hidden"`
	CreatedAt        string                `json:"createdAt"`
	UpdatedAt        string                `json:"updatedAt,omitempty"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Phone      string `json:"phone"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	NationalID string `json:"nationalId,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type orderItemPayload struct {
	ProductVariantID      string `json:"productVariantId"`
	ProductID             string `json:"productId"`
	ProductName           string `json:"productName"`
	ColorName             string `json:"colorName"`
	ColorHex              string `json:"colorHex"`
	Quantity              int    `json:"quantity"`
	PriceUSDAtPurchase    string `json:"priceUsdAtPurchase"`
	CogsUSDAtPurchase     string `json:"cogsUsdAtPurchase"`
	SubTotal              string `json:"subTotal"`
	ContributionMarginUSD string `json:"contributionMarginUsd"`
}

type orderTotalsPayload struct {
	SubTotal                   string `json:"subTotal"`
	TotalCogsUSD               string `json:"totalCogsUsd"`
	TotalContributionMarginUSD string `json:"totalContributionMarginUsd"`
	BankTransferExpense        string `json:"bankTransferExpense"`
	TotalAmount                string `json:"totalAmount"`
	TotalAmountARS             string `json:"totalAmountArs"`
}

type refundPayload struct {
	Type           string             `json:"type"`
	Amount         string             `json:"amount"`
	AppliedAmount  string             `json:"appliedAmount"`
	Reason         string             `json:"reason,omitempty"`
	ProcessedAt    string             `json:"processedAt"`
	ProcessedBy    string             `json:"processedBy,omitempty"`
	OriginalTotals orderTotalsPayload `json:"originalTotals"`
	PreviousStatus string             `json:"previousStatus"`
}

type statusChangePayload struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to"`
	Actor     string `json:"actor,omitempty"`
	Reason    string `json:"reason,omitempty"`
	ChangedAt string `json:"changedAt"`
}

func (a addressPayload) toDomain() domain.ShippingAddress {
	return domain.ShippingAddress{
		Recipient:  strings.TrimSpace(a.Recipient),
		Phone:      strings.TrimSpace(a.Phone),
		Street:     strings.TrimSpace(a.Street),
		City:       strings.TrimSpace(a.City),
		Province:   strings.TrimSpace(a.Province),
		PostalCode: strings.TrimSpace(a.PostalCode),
		NationalID: strings.TrimSpace(a.NationalID),
		Notes:      a.Notes,
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	a := order.ShippingAddress
	payload := orderPayload{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		Status:         string(order.Status),
		PaymentMethod:  string(order.PaymentMethod),
		ShippingMethod: string(order.ShippingMethod),
		ShippingAddress: addressPayload{
			Recipient:  a.Recipient,
			Phone:      a.Phone,
			Street:     a.Street,
			City:       a.City,
			Province:   a.Province,
			PostalCode: a.PostalCode,
			NationalID: a.NationalID,
			Notes:      a.Notes,
		},
		ShippingCost:     order.ShippingCost.StringFixed(2),
		ExchangeRate:     order.ExchangeRate.String(),
		AllowViewInvoice: order.AllowViewInvoice,
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		Totals:           buildTotalsPayload(order.Totals),
		StatusHistory:    make([]statusChangePayload, 0, len(order.StatusHistory)),
		Hidden:           order.Hidden,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductVariantID:      item.ProductVariantID,
			ProductID:             item.ProductID,
			ProductName:           item.ProductName,
			ColorName:             item.Color.Name,
			ColorHex:              item.Color.Hex,
			Quantity:              item.Quantity,
			PriceUSDAtPurchase:    item.PriceUSDAtPurchase.StringFixed(2),
			CogsUSDAtPurchase:     item.CogsUSDAtPurchase.StringFixed(4),
			SubTotal:              item.SubTotal.StringFixed(2),
			ContributionMarginUSD: item.ContributionMarginUSD.StringFixed(2),
		})
	}
	for _, change := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, statusChangePayload{
			From:      string(change.From),
			To:        string(change.To),
			Actor:     change.Actor,
			Reason:    change.Reason,
			ChangedAt: formatTime(change.ChangedAt),
		})
	}
	if refund := order.Refund; refund != nil {
		payload.Refund = &refundPayload{
			Type:           string(refund.Type),
			Amount:         refund.Amount.String(),
			AppliedAmount:  refund.AppliedAmount.StringFixed(2),
			Reason:         refund.Reason,
			ProcessedAt:    formatTime(refund.ProcessedAt),
			ProcessedBy:    refund.ProcessedBy,
			OriginalTotals: buildTotalsPayload(refund.OriginalTotals),
			PreviousStatus: string(refund.PreviousStatus),
		}
	}
	return payload
}

func buildTotalsPayload(t domain.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		SubTotal:                   t.SubTotal.StringFixed(2),
		TotalCogsUSD:               t.TotalCogsUSD.StringFixed(2),
		TotalContributionMarginUSD: t.TotalContributionMarginUSD.StringFixed(2),
		BankTransferExpense:        t.BankTransferExpense.StringFixed(2),
		TotalAmount:                t.TotalAmount.StringFixed(2),
		TotalAmountARS:             t.TotalAmountARS.StringFixed(2),
	}
}
