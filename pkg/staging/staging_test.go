package staging_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/bayuaji732/data-prep-api/pkg/errkind"
	"github.com/bayuaji732/data-prep-api/pkg/staging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, f *staging.File) string {
	defer f.Close()
	body, err := io.ReadAll(f.Reader)
	require.NoError(t, err)
	return string(body)
}

func TestLocal(t *testing.T) {
	ctx := context.Background()
	mem := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(mem, "/staged/12345.csv", []byte("a,b\n1,2\n"), 0o644))
	require.NoError(t, afero.WriteFile(mem, "/staged/777", []byte("x\ty\n"), 0o644))
	store := staging.NewLocal(mem, "/staged")

	t.Run("with extension", func(t *testing.T) {
		f, err := store.Open(ctx, "12345", "CSV")
		require.NoError(t, err)
		assert.Equal(t, "12345.csv", f.Name)
		assert.Equal(t, int64(8), f.Size)
		assert.Equal(t, "a,b\n1,2\n", readAll(t, f))
	})

	t.Run("bare id", func(t *testing.T) {
		f, err := store.Open(ctx, "777", "tsv")
		require.NoError(t, err)
		assert.Equal(t, "777", f.Name)
		assert.Equal(t, "x\ty\n", readAll(t, f))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := store.Open(ctx, "404", "csv")
		assert.True(t, errkind.Is(err, errkind.NotFound))
	})

	t.Run("path escape", func(t *testing.T) {
		_, err := store.Open(ctx, "../etc/passwd", "")
		assert.True(t, errkind.Is(err, errkind.NotFound))
	})
}

func TestHTTP(t *testing.T) {
	ctx := context.Background()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch r.URL.Path {
		case "/files/12345":
			w.Write([]byte("a,b\n1,2\n"))
		case "/files/flaky":
			if n%2 == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		case "/files/down":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	store := staging.NewHTTP(srv.URL+"/files/", 2, nil)

	t.Run("download", func(t *testing.T) {
		f, err := store.Open(ctx, "12345", "csv")
		require.NoError(t, err)
		assert.Equal(t, "12345.csv", f.Name)
		assert.Equal(t, int64(8), f.Size)
		assert.Equal(t, "a,b\n1,2\n", readAll(t, f))
	})

	t.Run("retried", func(t *testing.T) {
		atomic.StoreInt32(&calls, 0)
		f, err := store.Open(ctx, "flaky", "")
		require.NoError(t, err)
		assert.Equal(t, "ok", readAll(t, f))
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("not found", func(t *testing.T) {
		_, err := store.Open(ctx, "nope", "csv")
		assert.True(t, errkind.Is(err, errkind.NotFound))
	})

	t.Run("server error", func(t *testing.T) {
		_, err := store.Open(ctx, "down", "csv")
		assert.True(t, errkind.Is(err, errkind.BackendUnavailable))
	})
}
