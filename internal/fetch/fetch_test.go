package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
)

func newTestManifest(t *testing.T) manifest.Store {
	t.Helper()
	st, err := manifest.NewSQLite(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func registered(t *testing.T, mf manifest.Store, id, rawURL string) model.DocumentRecord {
	t.Helper()
	rec := model.DocumentRecord{
		ID:     id,
		Era:    "pdf",
		Date:   time.Date(1984, 9, 28, 0, 0, 0, 0, time.UTC),
		URL:    rawURL,
		Format: model.FormatPDF,
		Stage:  model.StageRegistered,
	}
	require.NoError(t, mf.Upsert(context.Background(), rec))
	return rec
}

func fastConfig(dir string) Config {
	return Config{
		RawDir:            dir,
		RequestsPerSecond: 1000,
		Burst:             1,
		Concurrency:       4,
		MaxAttempts:       4,
		Timeout:           5 * time.Second,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
	}
}

func TestRun_DownloadsAndRecords(t *testing.T) {
	body := []byte("%PDF-1.4 digest body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body) //nolint:errcheck
	}))
	defer srv.Close()

	mf := newTestManifest(t)
	rec := registered(t, mf, "pdf-1984-09-28", srv.URL+"/dig092884.pdf")

	dir := t.TempDir()
	sched := New(fastConfig(dir), mf)
	stats, err := sched.Run(context.Background(), []model.DocumentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, Stats{Downloaded: 1}, stats)

	got, err := mf.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageDownloaded, got.Stage)
	assert.Equal(t, int64(len(body)), got.RawSizeBytes)
	assert.Equal(t, 0, got.FetchRetries)
	require.NotNil(t, got.DownloadedAt)
	assert.FileExists(t, got.RawPath)
	assert.Equal(t, filepath.Join(dir, "1984", "digest_1984-09-28.pdf"), got.RawPath)
}

func TestRun_RetriesThenSucceeds(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("digest body")) //nolint:errcheck
	}))
	defer srv.Close()

	mf := newTestManifest(t)
	rec := registered(t, mf, "pdf-1984-09-28", srv.URL+"/dig092884.pdf")

	sched := New(fastConfig(t.TempDir()), mf)
	stats, err := sched.Run(context.Background(), []model.DocumentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Downloaded)

	got, err := mf.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageDownloaded, got.Stage)
	assert.Equal(t, 2, got.FetchRetries)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRun_RetryCeiling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	mf := newTestManifest(t)
	rec := registered(t, mf, "pdf-1984-09-28", srv.URL+"/dig092884.pdf")

	cfg := fastConfig(t.TempDir())
	cfg.MaxAttempts = 4
	sched := New(cfg, mf)
	stats, err := sched.Run(context.Background(), []model.DocumentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// Exactly MaxAttempts tries, never more.
	assert.Equal(t, int32(4), hits.Load())

	got, err := mf.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, got.Stage)
	assert.Equal(t, string(model.StageDownloaded), got.FailedStage)
	assert.Equal(t, model.ReasonFetchExhausted, got.LastError)
	assert.Equal(t, 3, got.FetchRetries)
}

func TestRun_NotFoundIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	mf := newTestManifest(t)
	rec := registered(t, mf, "pdf-1984-09-28", srv.URL+"/dig092884.pdf")

	sched := New(fastConfig(t.TempDir()), mf)
	stats, err := sched.Run(context.Background(), []model.DocumentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// A 404 is a gap in the archive, not worth retrying.
	assert.Equal(t, int32(1), hits.Load())

	got, err := mf.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, got.Stage)
	assert.Equal(t, model.ReasonNotFound, got.LastError)
}

func TestRun_EmptyBodyIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mf := newTestManifest(t)
	rec := registered(t, mf, "pdf-1984-09-28", srv.URL+"/dig092884.pdf")

	sched := New(fastConfig(t.TempDir()), mf)
	stats, err := sched.Run(context.Background(), []model.DocumentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got, err := mf.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonEmptyDownload, got.LastError)
}

func TestRun_MalformedURL(t *testing.T) {
	mf := newTestManifest(t)
	rec := registered(t, mf, "pdf-1984-09-28", "not a url")

	sched := New(fastConfig(t.TempDir()), mf)
	stats, err := sched.Run(context.Background(), []model.DocumentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	got, err := mf.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonBadURL, got.LastError)
}

func TestRun_SkipsCompletedDocuments(t *testing.T) {
	mf := newTestManifest(t)
	rec := registered(t, mf, "pdf-1984-09-28", "https://example.invalid/dig092884.pdf")
	rec.Stage = model.StageDownloaded
	require.NoError(t, mf.Upsert(context.Background(), rec))

	sched := New(fastConfig(t.TempDir()), mf)
	stats, err := sched.Run(context.Background(), []model.DocumentRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 1}, stats)
}

func TestRun_RateLimitSpacesRequests(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		w.Write([]byte("digest body")) //nolint:errcheck
	}))
	defer srv.Close()

	mf := newTestManifest(t)
	days := []int{25, 26, 27}
	recs := make([]model.DocumentRecord, 0, len(days))
	for _, day := range days {
		rec := model.DocumentRecord{
			ID:     model.DocumentID("pdf", time.Date(1984, 9, day, 0, 0, 0, 0, time.UTC)),
			Era:    "pdf",
			Date:   time.Date(1984, 9, day, 0, 0, 0, 0, time.UTC),
			URL:    srv.URL + "/dig.pdf",
			Format: model.FormatPDF,
			Stage:  model.StageRegistered,
		}
		require.NoError(t, mf.Upsert(context.Background(), rec))
		recs = append(recs, rec)
	}

	cfg := fastConfig(t.TempDir())
	cfg.RequestsPerSecond = 20 // 50ms between requests
	cfg.Burst = 1
	cfg.Concurrency = 3
	sched := New(cfg, mf)

	start := time.Now()
	stats, err := sched.Run(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Downloaded)

	// Three requests through a 20 rps bucket with burst 1 need at least two
	// full intervals regardless of concurrency.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, arrivals, 3)
}
