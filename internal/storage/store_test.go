package storage

import (
	"context"
	"testing"
)

func TestDocumentLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := store.PutDoc(ctx, "rooms/a/messages", "m1", []byte(`{"body":"hi"}`)); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}
	doc, err := store.GetDoc(ctx, "rooms/a/messages", "m1")
	if err != nil {
		t.Fatalf("GetDoc: %v", err)
	}
	if doc == nil || string(doc.Fields) != `{"body":"hi"}` {
		t.Fatalf("unexpected doc: %+v", doc)
	}

	if err := store.DeleteDoc(ctx, "rooms/a/messages", "m1"); err != nil {
		t.Fatalf("DeleteDoc: %v", err)
	}
	doc, err = store.GetDoc(ctx, "rooms/a/messages", "m1")
	if err != nil {
		t.Fatalf("GetDoc after delete: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil doc after delete")
	}
	// deleting again must not error
	if err := store.DeleteDoc(ctx, "rooms/a/messages", "m1"); err != nil {
		t.Fatalf("DeleteDoc missing: %v", err)
	}
}

func TestPutDocReplaceKeepsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if err := store.PutDoc(ctx, "rooms/a/messages", "m1", []byte(`{"n":1}`)); err != nil {
		t.Fatalf("PutDoc m1: %v", err)
	}
	if err := store.PutDoc(ctx, "rooms/a/messages", "m2", []byte(`{"n":2}`)); err != nil {
		t.Fatalf("PutDoc m2: %v", err)
	}
	// rewriting m1 must not move it behind m2
	if err := store.PutDoc(ctx, "rooms/a/messages", "m1", []byte(`{"n":3}`)); err != nil {
		t.Fatalf("PutDoc m1 again: %v", err)
	}

	docs, err := store.ListDocs(ctx, "rooms/a/messages")
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "m1" || docs[1].ID != "m2" {
		t.Fatalf("unexpected order: %+v", docs)
	}
	if string(docs[0].Fields) != `{"n":3}` {
		t.Fatalf("expected replaced fields, got %s", docs[0].Fields)
	}
}

func TestListDocsScopedByPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := store.PutDoc(ctx, "rooms/a/messages", "m1", []byte(`{}`)); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}
	if err := store.PutDoc(ctx, "rooms/b/messages", "m2", []byte(`{}`)); err != nil {
		t.Fatalf("PutDoc: %v", err)
	}
	docs, err := store.ListDocs(ctx, "rooms/a/messages")
	if err != nil {
		t.Fatalf("ListDocs: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "m1" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := "sqlite://file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
