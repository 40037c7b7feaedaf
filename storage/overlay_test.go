package storage

import (
	"bytes"
	"testing"
)

func TestOverlayBuffersUntilCommit(t *testing.T) {
	base := NewMemDB()
	if err := base.Put([]byte("a"), []byte("base")); err != nil {
		t.Fatalf("seed base: %v", err)
	}

	ov := NewOverlay(base)
	if err := ov.Put([]byte("a"), []byte("staged")); err != nil {
		t.Fatalf("stage write: %v", err)
	}
	if err := ov.Put([]byte("b"), []byte("new")); err != nil {
		t.Fatalf("stage write: %v", err)
	}

	got, err := ov.Get([]byte("a"))
	if err != nil {
		t.Fatalf("overlay get: %v", err)
	}
	if !bytes.Equal(got, []byte("staged")) {
		t.Fatalf("overlay read %q, want staged value", got)
	}

	underlying, err := base.Get([]byte("a"))
	if err != nil {
		t.Fatalf("base get: %v", err)
	}
	if !bytes.Equal(underlying, []byte("base")) {
		t.Fatalf("base mutated before commit: %q", underlying)
	}

	if err := ov.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	underlying, err = base.Get([]byte("a"))
	if err != nil {
		t.Fatalf("base get after commit: %v", err)
	}
	if !bytes.Equal(underlying, []byte("staged")) {
		t.Fatalf("commit did not flush: %q", underlying)
	}
	if got, _ := base.Get([]byte("b")); !bytes.Equal(got, []byte("new")) {
		t.Fatalf("new key missing after commit: %q", got)
	}
}

func TestOverlayDiscardLeavesBaseUntouched(t *testing.T) {
	base := NewMemDB()
	if err := base.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("seed base: %v", err)
	}

	ov := NewOverlay(base)
	if err := ov.Put([]byte("k"), []byte("changed")); err != nil {
		t.Fatalf("stage write: %v", err)
	}
	if err := ov.Put([]byte("extra"), []byte("x")); err != nil {
		t.Fatalf("stage write: %v", err)
	}
	ov.Discard()

	if base.Len() != 1 {
		t.Fatalf("base key count = %d, want 1", base.Len())
	}
	got, err := base.Get([]byte("k"))
	if err != nil {
		t.Fatalf("base get: %v", err)
	}
	if !bytes.Equal(got, []byte("v")) {
		t.Fatalf("base value changed after discard: %q", got)
	}
}

func TestOverlayClosedAfterResolve(t *testing.T) {
	ov := NewOverlay(NewMemDB())
	if err := ov.Commit(); err != nil {
		t.Fatalf("commit empty overlay: %v", err)
	}
	if err := ov.Put([]byte("k"), []byte("v")); err != ErrOverlayClosed {
		t.Fatalf("put after commit = %v, want ErrOverlayClosed", err)
	}
	if _, err := ov.Get([]byte("k")); err != ErrOverlayClosed {
		t.Fatalf("get after commit = %v, want ErrOverlayClosed", err)
	}
}

func TestMemDBMissingKey(t *testing.T) {
	db := NewMemDB()
	got, err := db.Get([]byte("absent"))
	if err != nil {
		t.Fatalf("get absent key: %v", err)
	}
	if got != nil {
		t.Fatalf("absent key returned %q, want nil", got)
	}
}
