package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/services"
)

const maxCatalogBodySize = 64 * 1024

// CatalogHandlers starts catalog generation jobs and serves previews of the assembled document.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs a new CatalogHandlers instance.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the /catalogs endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.startGeneration)
	r.Post("/preview", h.preview)
}

// catalogRequest tolerates the loose shapes admin clients send: ids as a string or array, flags as strings.
type catalogRequest struct {
	Categories       idList                   `json:"categories"`
	Subcategories    idList                   `json:"subcategories"`
	InStockOnly      flexBool                 `json:"inStockOnly"`
	ShowPrices       *flexBool                `json:"showPrices"`
	PriceAdjustments []priceAdjustmentRequest `json:"priceAdjustments"`
}

type priceAdjustmentRequest struct {
	CategoryID         string          `json:"categoryId"`
	SubcategoryID      string          `json:"subcategoryId"`
	PercentageIncrease decimal.Decimal `json:"percentageIncrease"`
}

func (req catalogRequest) toService() services.CatalogRequest {
	out := services.CatalogRequest{
		CategoryIDs:    []string(req.Categories),
		SubcategoryIDs: []string(req.Subcategories),
		InStockOnly:    bool(req.InStockOnly),
		ShowPrices:     true,
	}
	if req.ShowPrices != nil {
		out.ShowPrices = bool(*req.ShowPrices)
	}
	for _, adj := range req.PriceAdjustments {
		out.Adjustments = append(out.Adjustments, domain.PriceAdjustment{
			CategoryID:         adj.CategoryID,
			SubcategoryID:      adj.SubcategoryID,
			PercentageIncrease: adj.PercentageIncrease,
		})
	}
	return out
}

func (h *CatalogHandlers) startGeneration(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if !decodeBody(w, r, maxCatalogBodySize, &req) {
		return
	}
	job, err := h.catalog.StartGeneration(r.Context(), req.toService())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusAccepted, map[string]any{
		"roomId":    job.RoomID,
		"expiresAt": formatTime(job.ExpiresAt),
	})
}

func (h *CatalogHandlers) preview(w http.ResponseWriter, r *http.Request) {
	var req catalogRequest
	if !decodeBody(w, r, maxCatalogBodySize, &req) {
		return
	}
	doc, err := h.catalog.Assemble(r.Context(), req.toService())
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, doc)
}
