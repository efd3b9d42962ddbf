package cache

import (
	"context"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) error = %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})

	return store
}

func TestGetMiss(t *testing.T) {
	store := openTestStore(t)

	cached, err := store.Get(context.Background(), []string{"https://github.com/acme/x"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cached != nil {
		t.Errorf("Get() on empty cache = %+v, want nil", cached)
	}
}

func TestPutGetRoundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	roots := []string{"https://github.com/acme/x", "https://github.com/acme/y"}
	order := []string{"b", "a", "x", "y"}
	urls := map[string]string{
		"a": "https://github.com/acme/a",
		"b": "https://github.com/acme/b",
		"x": "https://github.com/acme/x",
		"y": "https://github.com/acme/y",
	}

	if err := store.Put(ctx, roots, order, urls); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cached, err := store.Get(ctx, roots)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cached == nil {
		t.Fatal("Get() = nil, want cached order")
	}
	if len(cached.Order) != len(order) {
		t.Fatalf("cached order has %d entries, want %d", len(cached.Order), len(order))
	}
	for i, name := range order {
		if cached.Order[i] != name {
			t.Errorf("cached.Order[%d] = %q, want %q", i, cached.Order[i], name)
		}
	}
	for name, url := range urls {
		if cached.URLs[name] != url {
			t.Errorf("cached.URLs[%q] = %q, want %q", name, cached.URLs[name], url)
		}
	}
	if cached.CreatedAt.IsZero() {
		t.Error("cached.CreatedAt is zero")
	}
}

func TestGetIsRootOrderIndependent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx,
		[]string{"https://github.com/acme/x", "https://github.com/acme/y"},
		[]string{"x", "y"},
		map[string]string{"x": "https://github.com/acme/x", "y": "https://github.com/acme/y"},
	); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	// Same roots, permuted and with cosmetic URL differences.
	cached, err := store.Get(ctx, []string{"https://github.com/acme/Y.git", "https://github.com/acme/x/"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cached == nil {
		t.Fatal("Get() with permuted roots = nil, want cache hit")
	}
}

func TestGetDistinguishesRootSets(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx,
		[]string{"https://github.com/acme/x"},
		[]string{"x"},
		map[string]string{"x": "https://github.com/acme/x"},
	); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cached, err := store.Get(ctx, []string{"https://github.com/acme/x", "https://github.com/acme/y"})
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cached != nil {
		t.Errorf("Get() with a different root set = %+v, want nil", cached)
	}
}

func TestPutOverwrites(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	roots := []string{"https://github.com/acme/x"}

	if err := store.Put(ctx, roots, []string{"a", "x"}, map[string]string{"a": "u1", "x": "u2"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, roots, []string{"b", "x"}, map[string]string{"b": "u3", "x": "u2"}); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	cached, err := store.Get(ctx, roots)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if cached == nil {
		t.Fatal("Get() = nil, want cached order")
	}
	if cached.Order[0] != "b" {
		t.Errorf("cached.Order = %v, want the second Put to win", cached.Order)
	}
	if _, ok := cached.URLs["a"]; ok {
		t.Error("cached.URLs still contains entry from the first Put")
	}
}
