package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/suPer8Hu/branchchat/internal/common"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&Asset{}))
	s, err := NewLocalStore(db, t.TempDir(), "http://files.test/", "secret", time.Minute)
	require.NoError(t, err)
	return s
}

func tokenOf(t *testing.T, url string) string {
	t.Helper()
	const prefix = "http://files.test/files/upload/"
	require.True(t, strings.HasPrefix(url, prefix), url)
	return strings.TrimPrefix(url, prefix)
}

func TestLocalStore_UploadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	url, err := s.GenerateUploadTarget(ctx)
	require.NoError(t, err)
	id, err := s.VerifyUpload(tokenOf(t, url))
	require.NoError(t, err)

	a, err := s.Save(ctx, id, "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), a.Size)

	meta, err := s.GetMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "image/png", meta.ContentType)

	public, err := s.ResolveURL(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "http://files.test/files/"+id, public)

	_, f, err := s.Open(ctx, id)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(b))

	_, err = s.Save(ctx, id, "image/png", strings.NewReader("again"))
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestLocalStore_ConcurrentSaveKeepsWinnerBytes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	url, err := s.GenerateUploadTarget(ctx)
	require.NoError(t, err)
	id, err := s.VerifyUpload(tokenOf(t, url))
	require.NoError(t, err)

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner string
		wins   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			_, err := s.Save(ctx, id, "text/plain", strings.NewReader(body))
			if err != nil {
				assert.ErrorIs(t, err, common.ErrInvalidState)
				return
			}
			mu.Lock()
			winner = body
			wins++
			mu.Unlock()
		}(fmt.Sprintf("body-%d", i))
	}
	wg.Wait()
	require.Equal(t, 1, wins)

	_, f, err := s.Open(ctx, id)
	require.NoError(t, err)
	defer f.Close()
	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, winner, string(b))

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalStore_UnknownAndBadToken(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.ResolveURL(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = s.VerifyUpload("forged")
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestUploader_ReadsStorageIDFromEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/webp", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "message": "ok", "data": map[string]string{"storageId": "A1"}})
	}))
	defer srv.Close()

	id, err := NewUploader().Upload(context.Background(), srv.URL, "image/webp", []byte{1})
	require.NoError(t, err)
	assert.Equal(t, "A1", id)
}

func TestUploader_FailuresAreAssetErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewUploader().Upload(context.Background(), srv.URL+"/denied", "image/png", nil)
	assert.ErrorIs(t, err, common.ErrAsset)
	assert.Contains(t, err.Error(), "Forbidden")

	_, err = NewUploader().Upload(context.Background(), srv.URL+"/denied", "image/png", nil)
	assert.NotErrorIs(t, err, ErrMissingStorageID)

	_, err = NewUploader().Upload(context.Background(), srv.URL+"/empty", "image/png", nil)
	assert.ErrorIs(t, err, common.ErrAsset)
	assert.ErrorIs(t, err, ErrMissingStorageID)
}
