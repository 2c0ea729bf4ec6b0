package importer

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avangerus/kalita-import/internal/blob"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), make([]byte, 64)...)

func coverServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/covers/dune.png", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	mux.HandleFunc("/covers/raw", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(pngBytes)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestURLExtension(t *testing.T) {
	assert.Equal(t, "png", URLExtension("http://x/covers/dune.png"))
	assert.Equal(t, "jpg", URLExtension("http://x/a.JPG?size=large#top"))
	assert.Equal(t, "", URLExtension("http://x/covers/raw"))
	assert.Equal(t, "", URLExtension("http://x/a.tar-gz"))
}

func TestCleanURL(t *testing.T) {
	assert.Equal(t, "http://x/ab.png", CleanURL("  http://x/a b.png \n"))
}

func TestFetcher_Fetch(t *testing.T) {
	srv := coverServer(t)
	blobs := blob.NewLocalStore(t.TempDir())
	f := NewFetcher(blobs, 5*time.Second, 0, quietLogger())

	att, err := f.Fetch(context.Background(), srv.URL+"/covers/dune.png", "core/book/dune")
	require.NoError(t, err)
	assert.Equal(t, "core/book/dune.png", att.StorageKey)
	assert.Equal(t, "dune.png", att.FileName)
	assert.Equal(t, "image/png", att.Mime)
	assert.Equal(t, int64(len(pngBytes)), att.Size)
	assert.NotEmpty(t, att.Hash)

	rc, err := blobs.Open(context.Background(), att.StorageKey)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, got)

	// нет расширения в URL, берём по содержимому
	att, err = f.Fetch(context.Background(), srv.URL+"/covers/raw", "core/book/raw")
	require.NoError(t, err)
	assert.Equal(t, "core/book/raw.png", att.StorageKey)
}

func TestFetcher_Errors(t *testing.T) {
	srv := coverServer(t)
	f := NewFetcher(blob.NewLocalStore(t.TempDir()), 5*time.Second, 0, quietLogger())

	_, err := f.Fetch(context.Background(), srv.URL+"/missing.png", "k")
	assert.ErrorContains(t, err, "status 404")

	_, err = f.Fetch(context.Background(), "ftp://example.com/a.png", "k")
	assert.ErrorContains(t, err, "invalid url")
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	f := NewFetcher(blob.NewLocalStore(t.TempDir()), 5*time.Second, 2, quietLogger())
	_, err := f.Fetch(context.Background(), srv.URL+"/a.png", "k")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(blob.NewLocalStore(t.TempDir()), 100*time.Millisecond, 0, quietLogger())
	_, err := f.Fetch(context.Background(), srv.URL+"/slow.png", "k")
	assert.Error(t, err)
}

func TestRun_ImportsFiles(t *testing.T) {
	srv := coverServer(t)
	f := newFixture(t)
	blobs := blob.NewLocalStore(t.TempDir())
	f.runner.Fetcher = NewFetcher(blobs, 5*time.Second, 0, quietLogger())

	report, err := f.run(t, "name,cover\nDune,"+srv.URL+"/covers/dune.png\nEmma,"+srv.URL+"/covers/missing.png\n", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Created: dune"}, report.Success)
	require.Len(t, report.Error, 1)
	assert.Contains(t, report.Error[0], "Errors before save: emma. Errors: Cover could not be imported:")
	assert.Contains(t, report.Error[0], "status 404")

	books := f.list(t, "core.Book")
	require.Len(t, books, 1)
	cover, ok := books[0].Data["cover"].(map[string]any)
	require.True(t, ok)
	assert.Regexp(t, `^core/book/[0-9a-f]{12}/dune\.png$`, cover["storage_key"])
	assert.Equal(t, "dune.png", cover["file_name"])
	assert.Equal(t, "image/png", cover["mime"])
}

func TestRun_SameLabelFilesKeptApart(t *testing.T) {
	srv := coverServer(t)
	f := newFixture(t)
	blobs := blob.NewLocalStore(t.TempDir())
	f.runner.Fetcher = NewFetcher(blobs, 5*time.Second, 0, quietLogger())

	report, err := f.run(t, "name,isbn,cover\ndune,1,"+srv.URL+"/covers/dune.png\ndune,2,"+srv.URL+"/covers/raw", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Created: dune", "Created: dune"}, report.Success)

	books := f.list(t, "core.Book")
	require.Len(t, books, 2)
	first := books[0].Data["cover"].(map[string]any)["storage_key"]
	second := books[1].Data["cover"].(map[string]any)["storage_key"]
	assert.NotEqual(t, first, second)
	for _, key := range []any{first, second} {
		rc, err := blobs.Open(context.Background(), key.(string))
		require.NoError(t, err)
		require.NoError(t, rc.Close())
	}
}

func TestRun_FilesSkippedForInvalidOrExisting(t *testing.T) {
	srv := coverServer(t)
	f := newFixture(t)
	f.seed(t, "core.Book", map[string]any{"name": "emma", "isbn": "1"})

	calls := 0
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Redirect(w, r, srv.URL+"/covers/dune.png", http.StatusFound)
	}))
	defer counting.Close()
	f.runner.Fetcher = NewFetcher(blob.NewLocalStore(t.TempDir()), 5*time.Second, 0, quietLogger())

	// дубль isbn, запись невалидна, файл не качаем
	report, err := f.run(t, "name,isbn,cover\nother,1,"+counting.URL+"/a.png", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Failed to Create: other. Errors: Isbn has already been taken."}, report.Error)

	// существующая запись в режиме обновления, тоже
	report, err = f.run(t, "isbn,cover\n1,"+counting.URL+"/a.png", Options{UpdateIfExists: true, UpdateLookup: "isbn"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Updated: emma"}, report.Success)
	assert.Zero(t, calls)
}

func TestRun_FileWithoutStorage(t *testing.T) {
	f := newFixture(t)
	report, err := f.run(t, "name,cover\ndune,http://example.com/a.png", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Errors before save: dune. Errors: Cover could not be imported: file storage is not configured."}, report.Error)
}
