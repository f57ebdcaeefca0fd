package hashing

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestFileDeterministic(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "t.go", "package t\n\nfunc TestA() {}\n")

	first, err := File(path)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}
	second, err := File(path)
	if err != nil {
		t.Fatalf("hashing again: %v", err)
	}
	if first != second {
		t.Errorf("same content hashed differently: %x vs %x", first, second)
	}
}

func TestFileDetectsChange(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "t.go", "package t\n")

	before, err := File(path)
	if err != nil {
		t.Fatalf("hashing: %v", err)
	}

	writeFile(t, dir, "t.go", "package t // changed\n")
	after, err := File(path)
	if err != nil {
		t.Fatalf("hashing changed file: %v", err)
	}

	if before == after {
		t.Error("changed content produced the same hash")
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "nope.go")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFormatWidth(t *testing.T) {
	if got := Format(0xab); got != "00000000000000ab" {
		t.Errorf("Format(0xab) = %q", got)
	}
}
