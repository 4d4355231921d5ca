package storage

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

// FilesystemFetcher serves documents from a directory tree
type FilesystemFetcher struct {
	rootDir string
}

// NewFilesystemFetcher creates a fetcher rooted at rootDir
func NewFilesystemFetcher(rootDir string) (*FilesystemFetcher, error) {
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open documents directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("documents root %s is not a directory", rootDir)
	}
	return &FilesystemFetcher{rootDir: rootDir}, nil
}

func (f *FilesystemFetcher) path(key string) (string, error) {
	if _, err := ProjectOf(key); err != nil {
		return "", err
	}
	return filepath.Join(f.rootDir, filepath.FromSlash(key)), nil
}

// Fetch implements Fetcher
func (f *FilesystemFetcher) Fetch(_ context.Context, key string) (*Object, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, ErrNotFound
	}

	contentType := mime.TypeByExtension(filepath.Ext(p))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{
		Key:         key,
		ContentType: contentType,
		Size:        info.Size(),
		Body:        file,
	}, nil
}

// Exists implements Fetcher
func (f *FilesystemFetcher) Exists(_ context.Context, key string) (bool, error) {
	p, err := f.path(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat document: %w", err)
	}
	return !info.IsDir(), nil
}
