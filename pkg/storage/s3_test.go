package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const noSuchKeyXML = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`

// fakeS3 serves path-style object requests for one bucket
func fakeS3(t *testing.T, bucket string, objects map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.URL.Path, "/"+bucket+"/")
		if r.URL.Path == "/"+bucket || r.URL.Path == "/"+bucket+"/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		body, found := objects[key]
		if !ok || !found {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, noSuchKeyXML)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = io.WriteString(w, body)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestS3Fetcher(t *testing.T, objects map[string]string) *S3Fetcher {
	t.Helper()
	srv := fakeS3(t, "docs", objects)
	f, err := NewS3Fetcher(context.Background(), S3Config{
		Bucket:       "docs",
		Region:       "us-east-1",
		Endpoint:     srv.URL,
		AccessKey:    "test",
		SecretKey:    "test-secret",
		UsePathStyle: true,
	})
	require.NoError(t, err)
	return f
}

func TestNewS3Fetcher_RequiresBucket(t *testing.T) {
	_, err := NewS3Fetcher(context.Background(), S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestS3Fetcher_Fetch(t *testing.T) {
	f := newTestS3Fetcher(t, map[string]string{"projects/p1/notes.txt": "pour slab on monday"})
	ctx := context.Background()

	obj, err := f.Fetch(ctx, "projects/p1/notes.txt")
	require.NoError(t, err)
	defer obj.Body.Close()
	assert.Equal(t, "text/plain", obj.ContentType)
	assert.Equal(t, int64(19), obj.Size)
	body, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "pour slab on monday", string(body))

	_, err = f.Fetch(ctx, "projects/p1/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.Fetch(ctx, "notes.txt")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestS3Fetcher_Exists(t *testing.T) {
	f := newTestS3Fetcher(t, map[string]string{"projects/p1/notes.txt": "x"})
	ctx := context.Background()

	ok, err := f.Exists(ctx, "projects/p1/notes.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.Exists(ctx, "projects/p1/other.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, f.HealthCheck(ctx))
}
