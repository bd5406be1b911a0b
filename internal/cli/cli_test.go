package cli

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/vitrina/api/internal/di"
	domain "github.com/vitrina/api/internal/domain"
	"github.com/vitrina/api/internal/platform/config"
	"github.com/vitrina/api/internal/repositories/memory"
	"github.com/vitrina/api/internal/services"
)

type fixedRates struct{ rate decimal.Decimal }

func (f fixedRates) CurrentRate(context.Context) (decimal.Decimal, error) { return f.rate, nil }

type publishingRates struct {
	fixedRates
	published []decimal.Decimal
}

func (p *publishingRates) Publish(_ context.Context, rate decimal.Decimal) error {
	p.published = append(p.published, rate)
	return nil
}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }

type noopLocker struct{}

func (noopLocker) Obtain(context.Context, string, time.Duration) (services.Lock, error) {
	return noopLock{}, nil
}

func newTestContainer(t *testing.T, store *memory.Store, infra di.Infrastructure) *di.Container {
	t.Helper()
	if infra.Rates == nil {
		infra.Rates = fixedRates{rate: decimal.NewFromInt(1000)}
	}
	cfg := config.Config{
		Pricing: config.PricingConfig{BankTransferFeeRate: decimal.RequireFromString("0.03")},
		Rooms:   config.RoomConfig{Capacity: 5, TTL: time.Minute, JoinsPerMinute: 10},
	}
	container, err := di.NewContainer(cfg, store, infra, nil)
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	return container
}

func runCommand(t *testing.T, container *di.Container, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand(func(context.Context) (*di.Container, error) {
		return container, nil
	})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func registerVariant(t *testing.T, container *di.Container, productID string, stock int) domain.ProductVariant {
	t.Helper()
	variant, err := container.Services.Ledger.RegisterVariant(context.Background(), services.RegisterVariantCommand{
		Variant: domain.ProductVariant{
			ProductID: productID,
			Color:     domain.Color{Name: "Black", Hex: "000000"},
			PriceUSD:  decimal.RequireFromString("12.50"),
		},
		InitialStock: stock,
		UnitCostUSD:  decimal.RequireFromString("3.10"),
	})
	if err != nil {
		t.Fatalf("RegisterVariant: %v", err)
	}
	return variant
}

func TestLedgerVerifyReportsConsistentLedger(t *testing.T) {
	container := newTestContainer(t, memory.NewStore(), di.Infrastructure{})
	registerVariant(t, container, "tee", 4)
	registerVariant(t, container, "mug", 2)

	out, err := runCommand(t, container, "ledger", "verify")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(out, "checked 2 variants, 0 mismatched") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestLedgerVerifyFailsOnMismatch(t *testing.T) {
	store := memory.NewStore()
	container := newTestContainer(t, store, di.Infrastructure{})
	store.SeedVariant(domain.ProductVariant{ID: "cap_ff0000", ProductID: "cap", Stock: 3})

	out, err := runCommand(t, container, "ledger", "verify", "--variant", "cap_ff0000")
	if !errors.Is(err, errLedgerMismatch) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if !strings.Contains(out, "MISMATCH\tcap_ff0000\tstock=3\tledger=0") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRatesSetPublishesRate(t *testing.T) {
	rates := &publishingRates{fixedRates: fixedRates{rate: decimal.NewFromInt(1000)}}
	container := newTestContainer(t, memory.NewStore(), di.Infrastructure{Rates: rates})

	out, err := runCommand(t, container, "rates", "set", "1175.5")
	if err != nil {
		t.Fatalf("rates set: %v", err)
	}
	if len(rates.published) != 1 || !rates.published[0].Equal(decimal.RequireFromString("1175.5")) {
		t.Fatalf("unexpected published rates %v", rates.published)
	}
	if !strings.Contains(out, "published rate 1175.5") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := runCommand(t, container, "rates", "set", "0"); err == nil {
		t.Fatalf("expected zero rate to be rejected")
	}
}

func TestRatesSetRequiresPublisher(t *testing.T) {
	container := newTestContainer(t, memory.NewStore(), di.Infrastructure{})
	if _, err := runCommand(t, container, "rates", "set", "1200"); err == nil {
		t.Fatalf("expected error for a provider that cannot publish")
	}
}

func TestRatesRefreshRequiresLocker(t *testing.T) {
	container := newTestContainer(t, memory.NewStore(), di.Infrastructure{})
	if _, err := runCommand(t, container, "rates", "refresh"); err == nil {
		t.Fatalf("expected error without price refresher")
	}

	withLocker := newTestContainer(t, memory.NewStore(), di.Infrastructure{Locker: noopLocker{}})
	registerVariant(t, withLocker, "tee", 1)
	out, err := runCommand(t, withLocker, "rates", "refresh")
	if err != nil {
		t.Fatalf("rates refresh: %v", err)
	}
	if !strings.Contains(out, "rate=1000.00 scanned=1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestWriteStockWorkbook(t *testing.T) {
	container := newTestContainer(t, memory.NewStore(), di.Infrastructure{})
	registerVariant(t, container, "tee", 4)
	registerVariant(t, container, "mug", 2)

	var buf bytes.Buffer
	count, err := writeStockWorkbook(context.Background(), container.Repositories.Variants(), decimal.NewFromInt(1000), &buf)
	if err != nil {
		t.Fatalf("writeStockWorkbook: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 variants, got %d", count)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()
	rows, err := f.GetRows(stockSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header, 2 variants and totals, got %d rows", len(rows))
	}
	if rows[0][0] != "Variant" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][1] != "mug" || rows[2][1] != "tee" {
		t.Fatalf("expected variants in id order, got %v and %v", rows[1], rows[2])
	}
	if rows[3][0] != "TOTAL" || rows[3][4] != "6" {
		t.Fatalf("unexpected totals row %v", rows[3])
	}
}
