package storage

import (
	"errors"
	"testing"
)

func TestOverlayCommitAndDiscard(t *testing.T) {
	base := NewMemDB()
	if err := base.Put([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	overlay := NewOverlay(base)
	if err := overlay.Put([]byte("b"), []byte("2")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := overlay.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}

	// Buffered view: b visible, a gone; base untouched.
	if _, err := overlay.Get([]byte("a")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected buffered delete, got %v", err)
	}
	if value, err := overlay.Get([]byte("b")); err != nil || string(value) != "2" {
		t.Fatalf("expected buffered write, got %q, %v", value, err)
	}
	if value, err := base.Get([]byte("a")); err != nil || string(value) != "1" {
		t.Fatalf("base mutated before commit: %q, %v", value, err)
	}

	overlay.Discard()
	if value, err := overlay.Get([]byte("a")); err != nil || string(value) != "1" {
		t.Fatalf("discard must restore base view, got %q, %v", value, err)
	}
	if _, err := overlay.Get([]byte("b")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("discard must drop buffered writes, got %v", err)
	}

	if err := overlay.Put([]byte("c"), []byte("3")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := overlay.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := overlay.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := base.Get([]byte("a")); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("committed delete missing, got %v", err)
	}
	if value, err := base.Get([]byte("c")); err != nil || string(value) != "3" {
		t.Fatalf("committed write missing: %q, %v", value, err)
	}
}
