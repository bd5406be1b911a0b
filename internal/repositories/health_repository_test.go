package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/vitrina/api/internal/domain"
)

func TestProbeHealthRepositoryCollectSuccess(t *testing.T) {
	now := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "firestore", Probe: func(context.Context) error { return nil }},
		{Name: "redis", Probe: func(context.Context) error { return nil }},
	}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Dependencies) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(report.Dependencies))
	}
	if report.Dependencies["redis"].CheckedAt != now {
		t.Fatalf("unexpected checked at %s", report.Dependencies["redis"].CheckedAt)
	}
}

func TestProbeHealthRepositoryCollectDegradedAndDown(t *testing.T) {
	repo, err := NewProbeHealthRepository([]DependencyProbe{
		{Name: "redis", Probe: func(context.Context) error { return errors.New("connection refused") }},
	}, nil)
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}
	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if report.Dependencies["redis"].Detail != "connection refused" {
		t.Fatalf("unexpected detail %q", report.Dependencies["redis"].Detail)
	}

	repo, err = NewProbeHealthRepository([]DependencyProbe{
		{Name: "firestore", Timeout: 5 * time.Millisecond, Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}},
		{Name: "redis", Probe: func(context.Context) error { return errors.New("boom") }},
	}, nil)
	if err != nil {
		t.Fatalf("NewProbeHealthRepository: %v", err)
	}
	report, err = repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthDown {
		t.Fatalf("expected down, got %s", report.Status)
	}
}

func TestNewProbeHealthRepositoryValidates(t *testing.T) {
	if _, err := NewProbeHealthRepository(nil, nil); err == nil {
		t.Fatal("expected error for empty probes")
	}
	if _, err := NewProbeHealthRepository([]DependencyProbe{{Name: "x"}}, nil); err == nil {
		t.Fatal("expected error for missing probe function")
	}
}
