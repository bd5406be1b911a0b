package handlers

import (
	"context"

	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/services"
)

type stubOrderService struct {
	created    services.CreateOrderCommand
	updated    services.UpdateItemsCommand
	listFilter services.OrderListFilter
	transition services.TransitionCommand
	order      domain.Order
	report     services.StockAvailabilityReport
	err        error
}

func (s *stubOrderService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	s.created = cmd
	return s.order, s.err
}

func (s *stubOrderService) GetOrder(_ context.Context, orderID string) (domain.Order, error) {
	if s.err != nil {
		return domain.Order{}, s.err
	}
	order := s.order
	order.ID = orderID
	return order, nil
}

func (s *stubOrderService) ListOrders(_ context.Context, filter services.OrderListFilter) ([]domain.Order, error) {
	s.listFilter = filter
	if s.err != nil {
		return nil, s.err
	}
	return []domain.Order{s.order}, nil
}

func (s *stubOrderService) UpdateItems(_ context.Context, cmd services.UpdateItemsCommand) (domain.Order, error) {
	s.updated = cmd
	return s.order, s.err
}

func (s *stubOrderService) OverrideItemPrice(context.Context, services.OverridePriceCommand) (domain.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) CheckStockAvailability(_ context.Context, orderID string) (services.StockAvailabilityReport, error) {
	report := s.report
	report.OrderID = orderID
	return report, s.err
}

func (s *stubOrderService) TransitionStatus(_ context.Context, cmd services.TransitionCommand) (domain.Order, error) {
	s.transition = cmd
	return s.order, s.err
}

func (s *stubOrderService) SetInvoiceVisibility(_ context.Context, _ string, allow bool) (domain.Order, error) {
	order := s.order
	order.AllowViewInvoice = allow
	return order, s.err
}

type stubRefundService struct {
	eligibility services.RefundEligibility
	applied     services.ApplyRefundCommand
	order       domain.Order
	err         error
}

func (s *stubRefundService) CheckEligibility(context.Context, string) (services.RefundEligibility, error) {
	return s.eligibility, s.err
}

func (s *stubRefundService) ApplyRefund(_ context.Context, cmd services.ApplyRefundCommand) (domain.Order, error) {
	s.applied = cmd
	return s.order, s.err
}

func (s *stubRefundService) CancelRefund(context.Context, string, string) (domain.Order, error) {
	return s.order, s.err
}

type stubLedger struct {
	movement services.MovementCommand
	stockIDs []string
	variant  domain.ProductVariant
	err      error
}

func (s *stubLedger) RegisterVariant(_ context.Context, cmd services.RegisterVariantCommand) (domain.ProductVariant, error) {
	return cmd.Variant, s.err
}

func (s *stubLedger) RecordMovement(_ context.Context, cmd services.MovementCommand) (domain.ProductVariant, error) {
	s.movement = cmd
	return s.variant, s.err
}

func (s *stubLedger) ListMovements(context.Context, string, int) ([]domain.StockMovement, error) {
	return nil, s.err
}

func (s *stubLedger) VerifyVariant(_ context.Context, variantID string) (services.LedgerVerification, error) {
	return services.LedgerVerification{VariantID: variantID, Stock: 3, LedgerSum: 3, MovementCount: 2, Consistent: true}, s.err
}

func (s *stubLedger) CurrentStock(_ context.Context, ids []string) (map[string]int, error) {
	s.stockIDs = ids
	stock := make(map[string]int, len(ids))
	for _, id := range ids {
		stock[id] = 1
	}
	return stock, s.err
}

type stubCatalogService struct {
	request services.CatalogRequest
	job     services.CatalogJob
	err     error
}

func (s *stubCatalogService) StartGeneration(_ context.Context, req services.CatalogRequest) (services.CatalogJob, error) {
	s.request = req
	return s.job, s.err
}

func (s *stubCatalogService) Generate(context.Context, string, services.CatalogRequest) (services.CatalogArtifact, error) {
	return services.CatalogArtifact{}, s.err
}

func (s *stubCatalogService) Assemble(_ context.Context, req services.CatalogRequest) (services.CatalogDocument, error) {
	s.request = req
	return services.CatalogDocument{ExchangeRate: "1000.00"}, s.err
}

func (s *stubCatalogService) Wait(context.Context) error { return nil }
