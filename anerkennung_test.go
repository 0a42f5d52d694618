//go:build cgo

package anerkennung

import (
	"context"
	"errors"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.EmbeddingDim = 4
	// Ollama endpoints need no API key; nothing here talks to them.
	cfg.Chat.Provider = "ollama"
	cfg.Embedding.Provider = "ollama"

	svc, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestNewServiceCreatesStores(t *testing.T) {
	svc := newTestService(t)

	count, err := svc.IndexCount(context.Background())
	if err != nil {
		t.Fatalf("IndexCount: %v", err)
	}
	if count != 0 {
		t.Errorf("fresh index count = %d", count)
	}

	units, err := svc.Catalog().ListUnits(context.Background())
	if err != nil {
		t.Fatalf("ListUnits: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("fresh catalog has %d units", len(units))
	}
}

func TestReconcileEmptyCatalog(t *testing.T) {
	svc := newTestService(t)

	count, err := svc.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if count != 0 {
		t.Errorf("count = %d, want 0", count)
	}
}

func TestClosedServiceRejectsCalls(t *testing.T) {
	svc := newTestService(t)
	if err := svc.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Close is idempotent.
	if err := svc.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := svc.Search(context.Background(), "x", 5); !errors.Is(err, ErrClosed) {
		t.Errorf("Search after Close: err = %v", err)
	}
	if _, err := svc.Reconcile(context.Background(), false); !errors.Is(err, ErrClosed) {
		t.Errorf("Reconcile after Close: err = %v", err)
	}
}

func TestNewServiceInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EmbeddingDim = -1
	if _, err := New(cfg, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
