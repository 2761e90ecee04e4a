package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethpandaops/resultsdb/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		file   string
		want   string
	}{
		{name: "no prefix", prefix: "", file: "results.db", want: "results.db"},
		{name: "custom prefix", prefix: "ci/nightly", file: "results.db", want: "ci/nightly/results.db"},
		{name: "slashes trimmed", prefix: "/resultsdb/", file: "run-42.db", want: "resultsdb/run-42.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &s3Uploader{cfg: &config.S3UploadConfig{Prefix: tt.prefix}}
			assert.Equal(t, tt.want, u.resolveKey(tt.file))
		})
	}
}

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		wantPrefix string
	}{
		{name: "sqlite database", path: "results/results.db", wantPrefix: sqliteMimeType},
		{name: "upper case extension", path: "results/RESULTS.SQLITE", wantPrefix: sqliteMimeType},
		{name: "json file", path: "results/export.json", wantPrefix: "application/json"},
		{name: "no extension", path: "results/Makefile", wantPrefix: octetStreamCT},
		{name: "txt file", path: "results/notes.txt", wantPrefix: "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, detectContentType(tt.path), tt.wantPrefix)
		})
	}
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(logrus.New(), &config.S3UploadConfig{})
	require.Error(t, err)
}

// fakeS3 records PUT requests like a path-style S3 endpoint.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)

		return
	}

	body, _ := io.ReadAll(r.Body)

	f.mu.Lock()
	f.objects[r.URL.Path] = body
	f.mu.Unlock()

	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func TestS3Uploader_UploadFile(t *testing.T) {
	fake := &fakeS3{objects: make(map[string][]byte)}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	u, err := NewS3Uploader(log, &config.S3UploadConfig{
		EndpointURL:     ts.URL,
		Bucket:          "results",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		ForcePathStyle:  true,
		Prefix:          "ci",
	})
	require.NoError(t, err)

	local := filepath.Join(t.TempDir(), "results.db")
	require.NoError(t, os.WriteFile(local, []byte("sqlite bytes"), 0o644))

	ctx := context.Background()

	require.NoError(t, u.Preflight(ctx))

	key, err := u.UploadFile(ctx, local, "")
	require.NoError(t, err)
	assert.Equal(t, "ci/results.db", key)

	key, err = u.UploadFile(ctx, local, "run-7.db")
	require.NoError(t, err)
	assert.Equal(t, "ci/run-7.db", key)

	fake.mu.Lock()
	defer fake.mu.Unlock()

	assert.Contains(t, string(fake.objects["/results/ci/results.db"]), "sqlite bytes")
	assert.Contains(t, fake.objects, "/results/ci/run-7.db")
	assert.Contains(t, fake.objects, "/results/ci/"+preflightKey)

	_, err = u.UploadFile(ctx, filepath.Join(t.TempDir(), "missing.db"), "")
	require.Error(t, err)
}
