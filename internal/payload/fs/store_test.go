package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"splitlab/internal/payload/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)

	info, err := store.Put(ctx, "experiments/exp-1/variants/A.json", bytes.NewReader([]byte(`{"text":"hi"}`)), core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"variant": "A"}})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "experiments/exp-1/variants/A.json" || info.Size != 13 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "experiments/exp-1/variants/A.json", bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate failure")
	}

	h, err := store.Head(ctx, "experiments/exp-1/variants/A.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "experiments/exp-1/variants/A.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != `{"text":"hi"}` || g.ETag != h.ETag {
		t.Fatalf("unexpected get artifacts")
	}
	if h.ContentType != "application/json" || h.Metadata["variant"] != "A" {
		t.Fatalf("metadata not persisted: %+v", h)
	}

	list, err := store.List(ctx, "experiments/exp-1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "experiments/exp-1/variants/A.json" {
		t.Fatalf("unexpected list %+v", list)
	}

	ok, err := store.Delete(ctx, "experiments/exp-1/variants/A.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "experiments/exp-1/variants/A.json")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorePathTraversal(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"../escape.json", "/abs.json", ""} {
		if _, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
			t.Fatalf("expected rejection for key %q", key)
		}
	}
}
