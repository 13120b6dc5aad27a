package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidKey is returned for empty keys or keys escaping the base dir.
var ErrInvalidKey = errors.New("storage: invalid key")

// FSStore keeps blobs on the local filesystem and serves them from baseURL.
type FSStore struct {
	base    string
	baseURL string
}

// NewFSStore creates the base directory if needed. baseURL is the public
// prefix under which the directory is served, e.g. "https://host/audio".
func NewFSStore(base, baseURL string) (*FSStore, error) {
	if base == "" {
		base = "./data/audio"
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{base: base, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the base directory, for serving with http.FileServer.
func (s *FSStore) Dir() string { return s.base }

func (s *FSStore) path(key string) (string, error) {
	clean := path.Clean("/" + key)
	if key == "" || clean == "/" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.base, filepath.FromSlash(clean)), nil
}

// Put writes to a temp file and renames it over the destination, so readers
// never see a partially written object.
func (s *FSStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return s.PublicURL(key), nil
}

// PublicURL returns the URL at which key is served.
func (s *FSStore) PublicURL(key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}

func (s *FSStore) Open(key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FSStore) Delete(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FSStore) DeletePrefix(prefix string) error {
	p, err := s.path(prefix)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}
