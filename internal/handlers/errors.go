package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitrina/api/internal/platform/httpx"
	"github.com/vitrina/api/internal/platform/requestctx"
	"github.com/vitrina/api/internal/repositories"
	"github.com/vitrina/api/internal/services"
)

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var stockErr *services.InsufficientStockError
	if errors.As(err, &stockErr) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_stock", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"variant_id": stockErr.VariantID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}))
		return
	}

	switch {
	case errors.Is(err, services.ErrLedgerInvalidInput),
		errors.Is(err, services.ErrLedgerInvalidQuantity),
		errors.Is(err, services.ErrOrderInvalidInput),
		errors.Is(err, services.ErrRefundInvalidInput),
		errors.Is(err, services.ErrRefundExceedsMax),
		errors.Is(err, services.ErrPricingInvalidAdjustment),
		errors.Is(err, services.ErrCatalogInvalidRequest):
		writeError(ctx, w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, services.ErrLedgerNotFound),
		errors.Is(err, services.ErrOrderNotFound),
		errors.Is(err, services.ErrOrderItemNotFound),
		errors.Is(err, services.ErrOrderVariantNotFound),
		errors.Is(err, services.ErrNoActiveRefund):
		writeError(ctx, w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, services.ErrCatalogEmpty):
		writeError(ctx, w, http.StatusUnprocessableEntity, "catalog_empty", err.Error())
	case errors.Is(err, services.ErrOrderDuplicateItem):
		writeError(ctx, w, http.StatusConflict, "duplicate_item", err.Error())
	case errors.Is(err, services.ErrRefundAlreadyApplied):
		writeError(ctx, w, http.StatusConflict, "refund_already_applied", err.Error())
	case errors.Is(err, services.ErrOrderInvalidState),
		errors.Is(err, services.ErrRefundNotEligible):
		writeError(ctx, w, http.StatusConflict, "invalid_order_state", err.Error())
	case errors.Is(err, services.ErrLedgerConflict),
		errors.Is(err, services.ErrOrderConflict):
		writeError(ctx, w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(ctx, w, http.StatusGatewayTimeout, "timeout", "request timed out")
	case isUnavailable(err):
		writeError(ctx, w, http.StatusServiceUnavailable, "unavailable", err.Error())
	default:
		requestctx.Logger(ctx).Error("unhandled service error", zap.Error(err))
		writeError(ctx, w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func isUnavailable(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsUnavailable()
}
