package firestore

import (
	"context"
	"errors"
	"testing"

	"github.com/vitrina/api/internal/platform/config"
)

func TestProviderRequiresProjectID(t *testing.T) {
	t.Setenv(envGoogleProjectID, "")
	provider := NewProvider(config.FirestoreConfig{})
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProjectRequired) {
		t.Fatalf("expected ErrProjectRequired, got %v", err)
	}
}

func TestProviderClosedRejectsWork(t *testing.T) {
	provider := NewProvider(config.FirestoreConfig{ProjectID: "vitrina-test"})
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := provider.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := provider.Client(context.Background()); !errors.Is(err, ErrProviderClosed) {
		t.Fatalf("expected ErrProviderClosed, got %v", err)
	}

	err := provider.RunInTx(context.Background(), func(context.Context) error { return nil })
	var wrapped *Error
	if !errors.As(err, &wrapped) || !wrapped.IsUnavailable() {
		t.Fatalf("expected unavailable transaction error, got %v", err)
	}
}
