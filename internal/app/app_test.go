package app

import (
	"context"
	"errors"
	"testing"

	"github.com/mubot/mu/internal/config"
	"github.com/mubot/mu/internal/log"
)

func TestCloseEmptyApp(t *testing.T) {
	t.Parallel()

	a := &App{}
	if err := a.Close(); err != nil {
		t.Errorf("Close() on empty app = %v, want nil", err)
	}
	// Idempotent.
	if err := a.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
}

func TestCloseRunsCleanupsInReverseOrder(t *testing.T) {
	t.Parallel()

	var order []string
	a := &App{}
	a.addCleanup(func(context.Context) error {
		order = append(order, "first")
		return nil
	})
	a.addCleanup(func(context.Context) error {
		order = append(order, "second")
		return errors.New("second failed")
	})

	err := a.Close()
	if err == nil || err.Error() != "second failed" {
		t.Errorf("Close() = %v, want cleanup error", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("cleanup order = %v, want [second first]", order)
	}
}

func TestSetupRequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := Setup(context.Background(), nil, log.NewNop()); err == nil {
		t.Error("Setup(nil config) expected error, got nil")
	}
}

func TestProvideRegistryWithoutKnowledge(t *testing.T) {
	t.Parallel()

	a := &App{Config: &config.Config{}, Logger: log.NewNop()}
	registry, err := provideRegistry(a)
	if err != nil {
		t.Fatalf("provideRegistry() unexpected error: %v", err)
	}

	names := registry.Names()
	if len(names) != 2 {
		t.Fatalf("registry has %d tools %v, want 2 without knowledge store", len(names), names)
	}
	for _, name := range names {
		if name == "search_knowledge_base" {
			t.Error("knowledge tool registered without a knowledge store")
		}
	}
}

func TestProvidePersonasWithoutRedis(t *testing.T) {
	t.Parallel()

	a := &App{
		Config: &config.Config{DefaultPersona: "tutor"},
		Logger: log.NewNop(),
	}
	resolver, err := providePersonas(a)
	if err != nil {
		t.Fatalf("providePersonas() unexpected error: %v", err)
	}

	// With no catalog entries the builtin persona is the only tier.
	p := resolver.Resolve(context.Background(), "user-1", "")
	if p.SystemPrompt == "" {
		t.Error("Resolve() returned persona with empty prompt")
	}
}

func TestProvideStorageMemory(t *testing.T) {
	t.Parallel()

	a := &App{Config: &config.Config{Storage: config.StorageMemory}, Logger: log.NewNop()}
	if err := provideStorage(context.Background(), a); err != nil {
		t.Fatalf("provideStorage() unexpected error: %v", err)
	}
	if a.Store == nil {
		t.Fatal("provideStorage() left Store nil")
	}
	if a.Pool != nil {
		t.Error("memory storage should not create a database pool")
	}
}

func TestProvideStorageFile(t *testing.T) {
	t.Parallel()

	a := &App{
		Config: &config.Config{Storage: config.StorageFile, DataDir: t.TempDir()},
		Logger: log.NewNop(),
	}
	if err := provideStorage(context.Background(), a); err != nil {
		t.Fatalf("provideStorage() unexpected error: %v", err)
	}
	if a.Store == nil {
		t.Fatal("provideStorage() left Store nil")
	}
}
