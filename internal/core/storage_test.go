package core

import (
	"path/filepath"
	"testing"

	"carboncore/internal/infra/persistence/memory"
	"carboncore/internal/infra/persistence/sqlite"
)

func TestOpenPersistentStoreMemoryDriver(t *testing.T) {
	t.Setenv("CARBONCORE_STORAGE_DRIVER", "memory")
	store, err := OpenPersistentStore(nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", store)
	}
}

func TestOpenPersistentStoreSQLiteDriver(t *testing.T) {
	t.Setenv("CARBONCORE_STORAGE_DRIVER", "sqlite")
	t.Setenv("CARBONCORE_SQLITE_PATH", filepath.Join(t.TempDir(), "engine.db"))
	store, err := OpenPersistentStore(nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := store.(*sqlite.Store); !ok {
		t.Fatalf("expected sqlite store, got %T", store)
	}
}

func TestOpenPersistentStoreUnknownDriver(t *testing.T) {
	t.Setenv("CARBONCORE_STORAGE_DRIVER", "etcd")
	if _, err := OpenPersistentStore(nil); err == nil {
		t.Fatal("unknown driver must error")
	}
}
