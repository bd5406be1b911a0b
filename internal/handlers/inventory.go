package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/services"
)

const maxInventoryBodySize = 16 * 1024

// InventoryHandlers exposes the stock ledger.
type InventoryHandlers struct {
	ledger services.InventoryLedger
}

// NewInventoryHandlers constructs a new InventoryHandlers instance.
func NewInventoryHandlers(ledger services.InventoryLedger) *InventoryHandlers {
	return &InventoryHandlers{ledger: ledger}
}

// Routes registers the /inventory endpoints.
func (h *InventoryHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/variants", h.registerVariant)
	r.Get("/variants/{variantID}/movements", h.listMovements)
	r.Get("/variants/{variantID}/verify", h.verifyVariant)
	r.Post("/movements", h.recordMovement)
	r.Get("/stock", h.currentStock)
}

type registerVariantRequest struct {
	ProductID    string          `json:"productId"`
	ColorName    string          `json:"colorName"`
	ColorHex     string          `json:"colorHex"`
	PriceUSD     decimal.Decimal `json:"priceUsd"`
	PriceARS     decimal.Decimal `json:"priceArs"`
	InitialStock int             `json:"initialStock"`
	UnitCostUSD  decimal.Decimal `json:"unitCostUsd"`
}

type movementRequest struct {
	VariantID   string           `json:"variantId"`
	Delta       int              `json:"delta"`
	Reason      string           `json:"reason"`
	UnitCostUSD *decimal.Decimal `json:"unitCostUsd"`
	OrderID     string           `json:"orderId"`
	Note        string           `json:"note"`
}

type variantPayload struct {
	ID             string `json:"id"`
	ProductID      string `json:"productId"`
	ColorName      string `json:"colorName"`
	ColorHex       string `json:"colorHex"`
	Stock          int    `json:"stock"`
	AverageCostUSD string `json:"averageCostUsd"`
	PriceUSD       string `json:"priceUsd"`
	PriceARS       string `json:"priceArs"`
	UpdatedAt      string `json:"updatedAt"`
}

type movementPayload struct {
	ID                  string  `json:"id"`
	VariantID           string  `json:"variantId"`
	Delta               int     `json:"delta"`
	Reason              string  `json:"reason"`
	UnitCostUSD         *string `json:"unitCostUsd,omitempty"`
	StockAfter          int     `json:"stockAfter"`
	AverageCostAfterUSD string  `json:"averageCostAfterUsd"`
	OrderID             string  `json:"orderId,omitempty"`
	Note                string  `json:"note,omitempty"`
	Actor               string  `json:"actor,omitempty"`
	CreatedAt           string  `json:"createdAt"`
}

func (h *InventoryHandlers) registerVariant(w http.ResponseWriter, r *http.Request) {
	var req registerVariantRequest
	if !decodeBody(w, r, maxInventoryBodySize, &req) {
		return
	}
	variant, err := h.ledger.RegisterVariant(r.Context(), services.RegisterVariantCommand{
		Variant: domain.ProductVariant{
			ProductID: req.ProductID,
			Color:     domain.Color{Name: req.ColorName, Hex: req.ColorHex},
			PriceUSD:  req.PriceUSD,
			PriceARS:  req.PriceARS,
		},
		InitialStock: req.InitialStock,
		UnitCostUSD:  req.UnitCostUSD,
		Actor:        actorFrom(r),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"variant": buildVariantPayload(variant)})
}

func (h *InventoryHandlers) recordMovement(w http.ResponseWriter, r *http.Request) {
	var req movementRequest
	if !decodeBody(w, r, maxInventoryBodySize, &req) {
		return
	}
	variant, err := h.ledger.RecordMovement(r.Context(), services.MovementCommand{
		VariantID:   req.VariantID,
		Delta:       req.Delta,
		Reason:      domain.MovementReason(strings.ToLower(strings.TrimSpace(req.Reason))),
		UnitCostUSD: req.UnitCostUSD,
		OrderID:     req.OrderID,
		Note:        req.Note,
		Actor:       actorFrom(r),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"variant": buildVariantPayload(variant)})
}

func (h *InventoryHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	movements, err := h.ledger.ListMovements(r.Context(), chi.URLParam(r, "variantID"), limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	items := make([]movementPayload, 0, len(movements))
	for _, m := range movements {
		payload := movementPayload{
			ID:                  m.ID,
			VariantID:           m.VariantID,
			Delta:               m.Delta,
			Reason:              string(m.Reason),
			StockAfter:          m.StockAfter,
			AverageCostAfterUSD: m.AverageCostAfterUSD.StringFixed(4),
			OrderID:             m.OrderID,
			Note:                m.Note,
			Actor:               m.Actor,
			CreatedAt:           formatTime(m.CreatedAt),
		}
		if m.UnitCostUSD != nil {
			cost := m.UnitCostUSD.StringFixed(4)
			payload.UnitCostUSD = &cost
		}
		items = append(items, payload)
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *InventoryHandlers) verifyVariant(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.VerifyVariant(r.Context(), chi.URLParam(r, "variantID"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"variantId":     result.VariantID,
		"stock":         result.Stock,
		"ledgerSum":     result.LedgerSum,
		"movementCount": result.MovementCount,
		"consistent":    result.Consistent,
	})
}

// currentStock accepts ?ids=a,b and repeated ?ids= parameters.
func (h *InventoryHandlers) currentStock(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, value := range r.URL.Query()["ids"] {
		ids = append(ids, strings.Split(value, ",")...)
	}
	stock, err := h.ledger.CurrentStock(r.Context(), ids)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"stock": stock})
}

func buildVariantPayload(v domain.ProductVariant) variantPayload {
	return variantPayload{
		ID:             v.ID,
		ProductID:      v.ProductID,
		ColorName:      v.Color.Name,
		ColorHex:       v.Color.Hex,
		Stock:          v.Stock,
		AverageCostUSD: v.AverageCostUSD.StringFixed(4),
		PriceUSD:       v.PriceUSD.StringFixed(2),
		PriceARS:       v.PriceARS.StringFixed(2),
		UpdatedAt:      formatTime(v.UpdatedAt),
	}
}
