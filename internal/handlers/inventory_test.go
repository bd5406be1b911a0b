package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/platform/observability"
	"github.com/vitrina/api/internal/services"
)

func newInventoryTestRouter(ledger *stubLedger) http.Handler {
	return NewRouter(
		WithMiddlewares(observability.InjectLoggerMiddleware(zap.NewNop())),
		WithInventoryRoutes(NewInventoryHandlers(ledger).Routes),
	)
}

func TestRecordMovementPassesCommand(t *testing.T) {
	ledger := &stubLedger{variant: domain.ProductVariant{
		ID:             "p-mug_ff0000",
		Stock:          8,
		AverageCostUSD: decimal.RequireFromString("4.5"),
		PriceUSD:       decimal.NewFromInt(10),
	}}
	router := newInventoryTestRouter(ledger)

	body := `{"variantId":"p-mug_ff0000","delta":3,"reason":"Purchase","unitCostUsd":"5.25","note":"restock"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/movements", strings.NewReader(body))
	req.Header.Set(observability.ActorHeader, "ops")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	cmd := ledger.movement
	if cmd.Reason != domain.MovementReasonPurchase || cmd.Delta != 3 || cmd.Actor != "ops" {
		t.Fatalf("unexpected command %+v", cmd)
	}
	if cmd.UnitCostUSD == nil || !cmd.UnitCostUSD.Equal(decimal.RequireFromString("5.25")) {
		t.Fatalf("unexpected unit cost %v", cmd.UnitCostUSD)
	}

	var resp struct {
		Variant variantPayload `json:"variant"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Variant.Stock != 8 || resp.Variant.AverageCostUSD != "4.5000" {
		t.Fatalf("unexpected variant payload %+v", resp.Variant)
	}
}

func TestRecordMovementRejectsOverdraw(t *testing.T) {
	ledger := &stubLedger{err: &services.InsufficientStockError{VariantID: "v1", Requested: 4, Available: 1}}
	router := newInventoryTestRouter(ledger)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/inventory/movements", strings.NewReader(`{"variantId":"v1","delta":-4,"reason":"adjustment"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCurrentStockSplitsIDs(t *testing.T) {
	ledger := &stubLedger{}
	router := newInventoryTestRouter(ledger)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/inventory/stock?ids=a,b&ids=c", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !reflect.DeepEqual(ledger.stockIDs, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected ids %v", ledger.stockIDs)
	}
}

func TestVerifyVariant(t *testing.T) {
	router := newInventoryTestRouter(&stubLedger{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/inventory/variants/p-mug_ff0000/verify", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"consistent":true`) {
		t.Fatalf("unexpected verify response %d %s", rr.Code, rr.Body.String())
	}
}
