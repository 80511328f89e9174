package build

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, dir, name, contents string) string {
	t.Helper()

	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	return p
}

func TestSnapshotChanged(t *testing.T) {
	dir := t.TempDir()
	a := writeTempFile(t, dir, "a.json", "hello")
	b := writeTempFile(t, dir, "b.json", "world")
	paths := []string{a, b}

	snap1, err := TakeSnapshot(paths)
	if err != nil {
		t.Fatal(err)
	}

	// Touch without a content change.
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(a, later, later); err != nil {
		t.Fatal(err)
	}
	snap2, err := TakeSnapshot(paths)
	if err != nil {
		t.Fatal(err)
	}
	if dirty := Changed(snap1, snap2); len(dirty) != 0 {
		t.Fatalf("expected no change, got %v", dirty)
	}

	if err := os.WriteFile(a, []byte("HELLO"), 0o644); err != nil {
		t.Fatal(err)
	}
	snap3, err := TakeSnapshot(paths)
	if err != nil {
		t.Fatal(err)
	}
	if dirty := Changed(snap2, snap3); !reflect.DeepEqual(dirty, []string{a}) {
		t.Fatalf("expected %s changed, got %v", a, dirty)
	}

	// Removal is a change; so is the file coming back.
	if err := os.Remove(b); err != nil {
		t.Fatal(err)
	}
	snap4, err := TakeSnapshot(paths)
	if err != nil {
		t.Fatal(err)
	}
	if dirty := Changed(snap3, snap4); !reflect.DeepEqual(dirty, []string{b}) {
		t.Fatalf("expected %s changed on remove, got %v", b, dirty)
	}
	writeTempFile(t, dir, "b.json", "world")
	snap5, err := TakeSnapshot(paths)
	if err != nil {
		t.Fatal(err)
	}
	if dirty := Changed(snap4, snap5); !reflect.DeepEqual(dirty, []string{b}) {
		t.Fatalf("expected %s changed on re-create, got %v", b, dirty)
	}
}
