package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Ensure LocalStore implements BlobStore
var _ BlobStore = (*LocalStore)(nil)

// LocalStore keeps objects as plain files below a root directory.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) resolve(p string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(p))
	if clean == "/" {
		return "", fmt.Errorf("storage: empty path %q", p)
	}
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (s *LocalStore) Path(p string) string {
	full, err := s.resolve(p)
	if err != nil {
		return s.root
	}
	return full
}

func (s *LocalStore) Exists(ctx context.Context, p string) (bool, error) {
	full, err := s.resolve(p)
	if err != nil {
		return false, err
	}
	return FileExists(full), nil
}

func (s *LocalStore) Read(ctx context.Context, p string) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return data, err
}

func (s *LocalStore) Write(ctx context.Context, p string, data []byte) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	// Temp file lives next to the destination so the rename stays on one filesystem.
	return AtomicWrite(full, bytes.NewReader(data), dir)
}

func (s *LocalStore) Delete(ctx context.Context, p string) error {
	full, err := s.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStore) ListFiles(ctx context.Context, dir string) ([]string, error) {
	base := s.root
	if d := strings.Trim(path.Clean("/"+filepath.ToSlash(dir)), "/"); d != "" {
		base = filepath.Join(s.root, filepath.FromSlash(d))
	}
	if _, err := os.Stat(base); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(base, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, full)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (s *LocalStore) Stat(ctx context.Context, p string) (ObjectInfo, error) {
	full, err := s.resolve(p)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectInfo{}, fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Path: p, Size: info.Size(), ModTime: info.ModTime()}, nil
}

const tempPrefix = ".wm_tmp_"

func AtomicWrite(destPath string, r io.Reader, tempDir string) error {
	tempFile, err := os.CreateTemp(tempDir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	defer func() {
		tempFile.Close()
		os.Remove(tempName) // Clean up if rename wasn't reached
	}()

	if _, err := io.Copy(tempFile, r); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, destPath); err != nil {
		return err
	}
	now := time.Now()
	os.Chtimes(destPath, now, now)

	return nil
}

func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
