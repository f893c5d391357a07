package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"dataset-export-service/internal/core/domain"
	"dataset-export-service/internal/core/ports/output"
)

const tempPattern = ".tmp-*"

// LocalStore keeps blobs under a root directory. Writes land in a temporary
// file next to the target and are renamed into place on commit.
type LocalStore struct {
	root          string
	publicBaseURL string
}

func NewLocalStore(root, publicBaseURL string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("local store: root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("local store: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("local store: create root: %w", err)
	}
	return &LocalStore{root: abs, publicBaseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

var _ ports.BlobStore = (*LocalStore)(nil)

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return info.Mode().IsRegular(), nil
}

func (s *LocalStore) OpenRead(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

func (s *LocalStore) OpenWrite(_ context.Context, key string) (ports.BlobWriter, error) {
	target, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create directory for %s: %w", key, err)
	}
	f, err := os.CreateTemp(filepath.Dir(target), tempPattern)
	if err != nil {
		return nil, fmt.Errorf("create temporary file: %w", err)
	}
	return &localWriter{f: f, target: target}, nil
}

func (s *LocalStore) Remove(_ context.Context, key string) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrBlobNotFound, key)
	}
	if err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) LocalPath(key string) string {
	p, err := s.resolve(key)
	if err != nil {
		return ""
	}
	return p
}

func (s *LocalStore) PublicURL(key string) string {
	if s.publicBaseURL == "" {
		return ""
	}
	clean, err := cleanKey(key)
	if err != nil {
		return ""
	}
	u, err := url.JoinPath(s.publicBaseURL, strings.Split(clean, "/")...)
	if err != nil {
		return ""
	}
	return u
}

func (s *LocalStore) resolve(key string) (string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(clean)), nil
}

// cleanKey normalizes a slash separated key and rejects keys that leave the
// store root.
func cleanKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", domain.ErrInvalidBlobKey, key)
		}
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" {
		return "", fmt.Errorf("%w: empty key", domain.ErrInvalidBlobKey)
	}
	return clean, nil
}

type localWriter struct {
	f      *os.File
	target string
	n      int64
	done   bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *localWriter) Commit(context.Context) (int64, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	w.done = true
	tempPath := w.f.Name()

	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("sync temporary file: %w", err)
	}
	if err := w.f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("close temporary file: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("set file permissions: %w", err)
	}
	if err := os.Rename(tempPath, w.target); err != nil {
		_ = os.Remove(tempPath)
		return 0, fmt.Errorf("rename temporary file: %w", err)
	}
	return w.n, nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
