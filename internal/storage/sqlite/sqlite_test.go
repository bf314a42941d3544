package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jkaninda/echoservice/internal/connection"
	"github.com/jkaninda/echoservice/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "data", "connections.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_CRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	repo := s.ConnectionStrings()

	if err := repo.Put(ctx, &storage.ConnectionString{Name: "Orders", Value: "Host=a", Provider: "postgres"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := repo.Put(ctx, &storage.ConnectionString{Name: "cache", Value: "redis://localhost:6379"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := repo.Get(ctx, "ORDERS")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "Orders" || got.Value != "Host=a" || got.Provider != "postgres" {
		t.Errorf("Get = %+v", got)
	}

	// Same name, different case: replaces.
	if err := repo.Put(ctx, &storage.ConnectionString{Name: "orders", Value: "Host=b"}); err != nil {
		t.Fatalf("Put (replace): %v", err)
	}
	all, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(all))
	}
	if all[1].Value != "Host=b" || all[1].Name != "orders" {
		t.Errorf("replaced entry = %+v", all[1])
	}

	if err := repo.Delete(ctx, "Orders"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := repo.Get(ctx, "orders"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "orders"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestStore_PutValidation(t *testing.T) {
	repo := openTestStore(t).ConnectionStrings()
	if err := repo.Put(context.Background(), &storage.ConnectionString{Value: "Host=a"}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := repo.Put(context.Background(), &storage.ConnectionString{Name: "x"}); err == nil {
		t.Error("expected error for empty value")
	}
}

func TestStore_AsConnectionSource(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.ConnectionStrings().Put(ctx, &storage.ConnectionString{Name: "blobs", Value: "AccountName=store1;Container=logs", Provider: "blob"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	resolver := connection.NewResolver(nil, connection.NewStaticSource("config", nil), storage.NewSource(s))
	d, err := resolver.Resolve(ctx, "Blobs")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.Provider != connection.ProviderBlob {
		t.Errorf("Provider = %s, want Blob", d.Provider)
	}
	if v, _ := d.Lookup("container"); v != "logs" {
		t.Errorf("Container = %q, want logs", v)
	}

	_, err = resolver.Resolve(ctx, "missing")
	var nf *connection.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("Resolve(missing) error = %v, want *NotFoundError", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
