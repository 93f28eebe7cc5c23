package objstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/banshee-data/demetra.report/internal/fsutil"
	"github.com/banshee-data/demetra.report/internal/iofmt"
	"github.com/banshee-data/demetra.report/internal/security"
)

// FS stores objects as files below a root directory.
type FS struct {
	fsys fsutil.FileSystem
	root string
}

// NewFS returns a store rooted at root. A nil fsys uses the OS filesystem.
func NewFS(fsys fsutil.FileSystem, root string) *FS {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	if root == "" {
		root = "."
	}
	return &FS{fsys: fsys, root: root}
}

func (s *FS) path(key string) (string, string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return "", "", err
	}
	p := filepath.Join(s.root, filepath.FromSlash(key))
	if _, onDisk := s.fsys.(fsutil.OSFileSystem); onDisk {
		if err := security.WithinDirectory(p, s.root); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	}
	return key, p, nil
}

func (s *FS) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	key, p, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	if err := s.fsys.WriteFile(p, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	return s.Stat(ctx, key)
}

func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	key, p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := s.fsys.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

func (s *FS) Stat(_ context.Context, key string) (Object, error) {
	key, p, err := s.path(key)
	if err != nil {
		return Object{}, err
	}
	info, err := s.fsys.Stat(p)
	if errors.Is(err, fs.ErrNotExist) || err == nil && info.IsDir() {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Object{}, fmt.Errorf("stat %s: %w", key, err)
	}
	return Object{Key: key, Size: info.Size(), ContentType: iofmt.ContentType(key), ModTime: info.ModTime()}, nil
}

func (s *FS) Delete(_ context.Context, key string) error {
	key, p, err := s.path(key)
	if err != nil {
		return err
	}
	err = s.fsys.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return err
}

func (s *FS) List(ctx context.Context, prefix string) ([]Object, error) {
	files, err := s.fsys.Files(s.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	out := []Object{}
	for _, f := range files {
		rel, err := filepath.Rel(s.root, f)
		if err != nil {
			continue
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		obj, err := s.Stat(ctx, key)
		if err != nil {
			continue
		}
		out = append(out, obj)
	}
	return out, nil
}
