package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"splitlab/internal/payload/core"
)

func TestStorePutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	info, err := store.Put(ctx, "experiments/exp-1/variants/B.json", bytes.NewReader([]byte(`{"amounts":[10,25]}`)), core.PutOptions{ContentType: "application/json"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 19 || info.ETag == "" {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "experiments/exp-1/variants/B.json", bytes.NewReader([]byte("x")), core.PutOptions{}); err == nil {
		t.Fatalf("expected duplicate failure")
	}

	h, err := store.Head(ctx, "experiments/exp-1/variants/B.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	g, rc, err := store.Get(ctx, "experiments/exp-1/variants/B.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(b) != `{"amounts":[10,25]}` || g.ETag != h.ETag {
		t.Fatalf("unexpected get artifacts")
	}

	list, err := store.List(ctx, "experiments/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "experiments/exp-1/variants/B.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list, err := store.List(ctx, "other/"); err != nil || len(list) != 0 {
		t.Fatalf("unexpected filtered list %+v %v", list, err)
	}

	ok, err := store.Delete(ctx, "experiments/exp-1/variants/B.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "experiments/exp-1/variants/B.json")
	if err != nil || ok {
		t.Fatalf("second delete should be false")
	}
	if _, _, err := store.Get(ctx, "experiments/exp-1/variants/B.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := New()
	if _, err := store.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, rc, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first, _ := io.ReadAll(rc)
	_ = rc.Close()
	first[0] = 'z'

	_, rc, err = store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	second, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(second) != "abc" {
		t.Fatalf("stored bytes mutated through reader copy: %q", second)
	}
}
