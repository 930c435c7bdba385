package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func exerciseFileSystem(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	dir := filepath.Join(root, "out", "static")
	if err := fsys.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if !fsys.Exists(dir) {
		t.Errorf("%s should exist", dir)
	}

	name := filepath.Join(dir, "aps.json")
	if fsys.Exists(name) {
		t.Errorf("%s should not exist yet", name)
	}
	if err := fsys.WriteFile(name, []byte("[]\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fsys.WriteFile(name, []byte("[{}]\n"), 0644); err != nil {
		t.Fatalf("WriteFile overwrite: %v", err)
	}
	got, err := fsys.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "[{}]\n" {
		t.Errorf("ReadFile = %q", got)
	}

	_, err = fsys.ReadFile(filepath.Join(dir, "missing.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("missing file error = %v, want ErrNotExist", err)
	}
}

func TestOSFileSystem(t *testing.T) {
	root := t.TempDir()
	exerciseFileSystem(t, OSFileSystem{}, root)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "out", "static"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "aps.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()
	exerciseFileSystem(t, m, "/srv")

	if !m.Exists("/srv/out") {
		t.Error("parent directories should be recorded")
	}
	files := m.Files("/srv/out")
	if len(files) != 1 || files[0] != "/srv/out/static/aps.json" {
		t.Errorf("Files() = %v", files)
	}
}

func TestMemoryFileSystem_ReadReturnsCopy(t *testing.T) {
	m := NewMemoryFileSystem()
	_ = m.WriteFile("a", []byte("abc"), 0644)
	b, _ := m.ReadFile("a")
	b[0] = 'x'
	again, _ := m.ReadFile("a")
	if string(again) != "abc" {
		t.Errorf("stored data mutated: %q", again)
	}
}
