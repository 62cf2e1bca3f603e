/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"testing"
)

func TestFSStoreRoundTripAndList(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"thumbs/b.jpg", "thumbs/a.jpg", "thumbs/c.jpg"} {
		if err := store.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Put %s: %v", key, err)
		}
	}

	data, err := store.Get(ctx, "thumbs/a.jpg")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "thumbs/a.jpg" {
		t.Errorf("Get = %q", data)
	}

	keys, err := store.List(ctx, "thumbs")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"thumbs/a.jpg", "thumbs/b.jpg", "thumbs/c.jpg"}
	if len(keys) != len(want) {
		t.Fatalf("List = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestFSStoreListMissingPrefix(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	keys, err := store.List(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List = %v, want empty", keys)
	}
}

func TestFSStoreRejectsTraversal(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	if err := store.Put(context.Background(), "../escape", []byte("x")); err == nil {
		t.Error("traversal key accepted")
	}
	if _, err := store.Get(context.Background(), "/etc/passwd"); err == nil {
		t.Error("absolute key accepted")
	}
}
