package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	return s
}

func TestLocalStore_WriteReadStat(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Write(ctx, "products/a/shoe.jpg", []byte("jpeg-bytes")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	exists, err := s.Exists(ctx, "products/a/shoe.jpg")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true, nil", exists, err)
	}

	data, err := s.Read(ctx, "products/a/shoe.jpg")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("Read() = %q, want %q", data, "jpeg-bytes")
	}

	info, err := s.Stat(ctx, "products/a/shoe.jpg")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size != int64(len("jpeg-bytes")) {
		t.Errorf("Stat().Size = %d, want %d", info.Size, len("jpeg-bytes"))
	}
	if info.ModTime.IsZero() {
		t.Error("Stat().ModTime is zero")
	}
}

func TestLocalStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.Read(ctx, "missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
	if _, err := s.Stat(ctx, "missing.jpg"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat() error = %v, want ErrNotFound", err)
	}
	exists, err := s.Exists(ctx, "missing.jpg")
	if err != nil || exists {
		t.Errorf("Exists() = %v, %v; want false, nil", exists, err)
	}
	if err := s.Delete(ctx, "missing.jpg"); err != nil {
		t.Errorf("Delete() of missing object error = %v", err)
	}
}

func TestLocalStore_OverwriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, content := range []string{"first", "second", "third"} {
		if err := s.Write(ctx, "cache/x.png", []byte(content)); err != nil {
			t.Fatalf("Write(%q) error = %v", content, err)
		}
	}

	data, _ := s.Read(ctx, "cache/x.png")
	if string(data) != "third" {
		t.Errorf("Read() = %q, want %q", data, "third")
	}

	entries, err := os.ReadDir(filepath.Dir(s.Path("cache/x.png")))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory holds %v, want only x.png", names)
	}
}

func TestLocalStore_ListFiles(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, p := range []string{"products/a.jpg", "products/sub/b.png", "products/cache/a_1234abcd.jpg", "other/c.jpg"} {
		if err := s.Write(ctx, p, []byte("x")); err != nil {
			t.Fatalf("Write(%s) error = %v", p, err)
		}
	}

	tests := []struct {
		name string
		dir  string
		want []string
	}{
		{
			name: "subtree",
			dir:  "products",
			want: []string{"products/a.jpg", "products/cache/a_1234abcd.jpg", "products/sub/b.png"},
		},
		{
			name: "root",
			dir:  "",
			want: []string{"other/c.jpg", "products/a.jpg", "products/cache/a_1234abcd.jpg", "products/sub/b.png"},
		},
		{
			name: "missing dir",
			dir:  "nope",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListFiles(ctx, tt.dir)
			if err != nil {
				t.Fatalf("ListFiles() error = %v", err)
			}
			sort.Strings(got)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ListFiles(%q) = %v, want %v", tt.dir, got, tt.want)
			}
		})
	}
}

func TestLocalStore_PathStaysInsideRoot(t *testing.T) {
	s := newTestStore(t)

	for _, p := range []string{"../../etc/passwd", "/abs/file.jpg", "a/../../b.jpg"} {
		full := s.Path(p)
		if !strings.HasPrefix(full, s.root+string(filepath.Separator)) {
			t.Errorf("Path(%q) = %q escapes root %q", p, full, s.root)
		}
	}
}

func TestLocalStore_DeleteRemovesObject(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Write(ctx, "a.jpg", []byte("x")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := s.Delete(ctx, "a.jpg"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if exists, _ := s.Exists(ctx, "a.jpg"); exists {
		t.Error("object still exists after Delete()")
	}
}
