package fileset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFiles(t *testing.T, root string, paths []string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, p)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir for %s: %v", full, err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o600); err != nil {
			t.Fatalf("write %s: %v", full, err)
		}
	}
}

func TestExpand_RegularFile(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, []string{"a.txt"})

	got, err := Expand([]string{filepath.Join(dir, "a.txt")})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(got) != 1 || got[0] != filepath.Join(dir, "a.txt") {
		t.Fatalf("unexpected result: %v", got)
	}
}

func TestExpand_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, []string{
		"sub/a.txt",
		"sub/nested/b.txt",
		"c.txt",
	})

	got, err := Expand([]string{dir})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 files, got %d: %v", len(got), got)
	}
}

func TestExpand_SortedAndDeduplicated(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, []string{"b.txt", "a.txt"})

	aPath := filepath.Join(dir, "a.txt")
	bPath := filepath.Join(dir, "b.txt")

	got, err := Expand([]string{bPath, aPath, aPath})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 unique files, got %d: %v", len(got), got)
	}
	if got[0] != aPath || got[1] != bPath {
		t.Fatalf("expected sorted order [a, b], got %v", got)
	}
}

func TestExpand_GlobPattern(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, []string{
		"logs/app.log",
		"logs/nested/debug.log",
		"logs/notes.txt",
	})

	pattern := filepath.Join(dir, "logs", "**", "*.log")
	got, err := Expand([]string{pattern})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 .log files, got %d: %v", len(got), got)
	}
}

func TestExpand_NonexistentInputYieldsNoFiles(t *testing.T) {
	got, err := Expand([]string{filepath.Join(t.TempDir(), "nonexistent", "**")})
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no matches, got %v", got)
	}
}
