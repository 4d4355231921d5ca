package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrNotFound is returned when an object does not exist
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for keys outside a project namespace
var ErrInvalidKey = errors.New("invalid object key")

const projectPrefix = "projects/"

// Object is an opened document. Callers must close Body.
type Object struct {
	Key         string
	ContentType string
	Size        int64
	Body        io.ReadCloser
}

// Fetcher reads project documents
type Fetcher interface {
	// Fetch opens the object at key
	Fetch(ctx context.Context, key string) (*Object, error)
	// Exists reports whether key names an object
	Exists(ctx context.Context, key string) (bool, error)
}

// ProjectKey returns the object key for a document path inside a project
func ProjectKey(projectID, docPath string) (string, error) {
	if projectID == "" || strings.Contains(projectID, "/") {
		return "", fmt.Errorf("%w: bad project id", ErrInvalidKey)
	}
	docPath = strings.TrimPrefix(docPath, "/")
	if docPath == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidKey)
	}
	for _, seg := range strings.Split(docPath, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: path must not contain empty, . or .. segments", ErrInvalidKey)
		}
	}
	return projectPrefix + projectID + "/" + docPath, nil
}

// ProjectOf returns the project id a key belongs to
func ProjectOf(key string) (string, error) {
	rest, ok := strings.CutPrefix(key, projectPrefix)
	if !ok {
		return "", ErrInvalidKey
	}
	projectID, docPath, ok := strings.Cut(rest, "/")
	if !ok || projectID == "" || docPath == "" || path.Clean(key) != key {
		return "", ErrInvalidKey
	}
	return projectID, nil
}
