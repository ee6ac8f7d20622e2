package testsupport

import (
	"context"
	"testing"

	"github.com/sua-org/ppe-watch/internal/datastore"
)

// MustOpenStore opens a seeded in-memory sqlite store and registers cleanup.
func MustOpenStore(t testing.TB) *datastore.Store {
	t.Helper()

	store, err := datastore.Open(datastore.Config{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("datastore.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	if err := store.Seed(context.Background()); err != nil {
		t.Fatalf("store.Seed: %v", err)
	}
	return store
}

// NewCamera inserts a camera for tests.
func NewCamera(t testing.TB, store *datastore.Store, physicalID int, name, zone string) datastore.Camera {
	t.Helper()

	cam := datastore.Camera{PhysicalID: physicalID, Name: name, Zone: zone}
	if err := store.CreateCamera(context.Background(), &cam); err != nil {
		t.Fatalf("store.CreateCamera: %v", err)
	}
	return cam
}
