package osf

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchDownloadsOnceThenReusesCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("raw,samples\n1,2\n"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	url := srv.URL + "/kc2xz/?action=download"
	sum := sha256.Sum256([]byte("raw,samples\n1,2\n"))

	first, err := Fetch(context.Background(), srv.Client(), url, dir)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, hex.EncodeToString(sum[:]), first.SHA256)
	assert.Equal(t, filepath.Join(dir, CacheKey(url)), first.Path)

	body, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	assert.Equal(t, "raw,samples\n1,2\n", string(body))

	second, err := Fetch(context.Background(), srv.Client(), url, dir)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.SHA256, second.SHA256)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	_, err := Fetch(context.Background(), srv.Client(), srv.URL+"/missing", dir)
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchEmptyURL(t *testing.T) {
	_, err := Fetch(context.Background(), http.DefaultClient, " ", t.TempDir())
	assert.ErrorIs(t, err, ErrNoURL)
}

func TestFetchAllSkipsDuplicates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	urls := []string{srv.URL + "/a", "", srv.URL + "/b", srv.URL + "/a"}
	got, err := FetchAll(context.Background(), srv.Client(), urls, t.TempDir())
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCacheKey(t *testing.T) {
	a := CacheKey("https://osf.io/va9kc/?action=download&version=1")
	b := CacheKey("https://osf.io/va9kc/?action=download&version=2")
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "_va9kc")
	assert.Equal(t, a, CacheKey("https://osf.io/va9kc/?action=download&version=1"))
}
