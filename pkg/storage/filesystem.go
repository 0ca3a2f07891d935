package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FileSystemAvatarStore implements AvatarStore on a local directory that is
// served under urlPrefix
type FileSystemAvatarStore struct {
	rootDir   string
	urlPrefix string
}

// NewFileSystemAvatarStore creates a new filesystem-based avatar store
func NewFileSystemAvatarStore(rootDir, urlPrefix string) (*FileSystemAvatarStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create avatar directory: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = "/avatars"
	}
	return &FileSystemAvatarStore{
		rootDir:   rootDir,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
	}, nil
}

// Dir returns the directory avatars are written to
func (s *FileSystemAvatarStore) Dir() string {
	return s.rootDir
}

// PutAvatar implements AvatarStore
func (s *FileSystemAvatarStore) PutAvatar(ctx context.Context, name string, content io.Reader, contentType string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid avatar name %q", name)
	}

	tmp, err := os.CreateTemp(s.rootDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write avatar: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write avatar: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.Rename(tmp.Name(), filepath.Join(s.rootDir, name)); err != nil {
		return "", fmt.Errorf("failed to store avatar: %w", err)
	}

	return path.Join(s.urlPrefix, name), nil
}
