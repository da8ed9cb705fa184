// Package blobtest holds behavior checks shared by every blob backend's tests.
package blobtest

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"cyclekeeper/internal/blob/core"
)

// Run exercises the create-only contract of store. The store must be empty.
func Run(t *testing.T, store core.Store) {
	t.Helper()
	ctx := context.Background()
	opts := core.PutOptions{ContentType: "application/json", Metadata: map[string]string{"owner": "o1"}}

	info, err := store.Put(ctx, "exports/o1/a.json", strings.NewReader(`{"cycles":[]}`), opts)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "exports/o1/a.json" || info.Size != int64(len(`{"cycles":[]}`)) {
		t.Fatalf("unexpected put info: %+v", info)
	}
	if _, err := store.Put(ctx, "exports/o1/a.json", strings.NewReader("again"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists on overwrite, got %v", err)
	}
	if _, err := store.Put(ctx, "../escape", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
	if _, err := store.Put(ctx, "exports/o2/b.xlsx", strings.NewReader("sheet"), core.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("put second: %v", err)
	}

	got, body, err := store.Get(ctx, "exports/o1/a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	content, err := io.ReadAll(body)
	_ = body.Close()
	if err != nil || string(content) != `{"cycles":[]}` {
		t.Fatalf("unexpected content %q (%v)", content, err)
	}
	if got.ContentType != "application/json" || got.Metadata["owner"] != "o1" {
		t.Fatalf("unexpected get info: %+v", got)
	}

	head, err := store.Head(ctx, "exports/o2/b.xlsx")
	if err != nil || head.Size != int64(len("sheet")) {
		t.Fatalf("unexpected head: %+v %v", head, err)
	}
	if _, err := store.Head(ctx, "exports/o1/missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from head, got %v", err)
	}
	if _, _, err := store.Get(ctx, "exports/o1/missing.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}

	listed, err := store.List(ctx, "exports/o1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Key != "exports/o1/a.json" {
		t.Fatalf("expected owner-scoped listing, got %+v", listed)
	}
	all, err := store.List(ctx, "")
	if err != nil || len(all) != 2 || all[0].Key > all[1].Key {
		t.Fatalf("expected two keys in order, got %+v %v", all, err)
	}

	removed, err := store.Delete(ctx, "exports/o1/a.json")
	if err != nil || !removed {
		t.Fatalf("expected delete to remove object, got %v %v", removed, err)
	}
	removed, err = store.Delete(ctx, "exports/o1/a.json")
	if err != nil || removed {
		t.Fatalf("expected second delete to report absence, got %v %v", removed, err)
	}
	if _, err := store.PresignURL(ctx, "exports/o2/b.xlsx", core.SignedURLOptions{Method: "PUT"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected PUT presign unsupported, got %v", err)
	}
}
