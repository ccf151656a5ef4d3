// Package fetch downloads raw digest documents with shared per-host rate
// limiting and retrying, recording progress in the manifest.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
	"github.com/sells-group/sec-digest-cli/internal/resilience"
)

// Config controls the scheduler.
type Config struct {
	UserAgent string
	RawDir    string

	// RequestsPerSecond and Burst configure one token bucket per origin
	// host, shared by every concurrent fetch against that host. Concurrency
	// never multiplies the effective request rate.
	RequestsPerSecond float64
	Burst             int

	Concurrency    int
	MaxAttempts    int // total attempts including the first try
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// ForceRefresh re-downloads documents that are already past the
	// downloaded stage.
	ForceRefresh bool
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 0.5
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "sec-digest-cli/1.0"
	}
	return c
}

// Stats summarizes one scheduler run.
type Stats struct {
	Downloaded int
	Skipped    int
	Failed     int
}

// Scheduler pulls raw bytes for registered documents.
type Scheduler struct {
	cfg    Config
	mf     manifest.Store
	client *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Scheduler backed by the given manifest store.
func New(cfg Config, mf manifest.Store) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg: cfg,
		mf:  mf,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				MaxConnsPerHost:     20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns the shared token bucket for a host, creating it on
// first use.
func (s *Scheduler) limiterFor(host string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lim, ok := s.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.Burst)
	s.limiters[host] = lim
	return lim
}

// Run downloads the given records. Per-document failures are recorded in the
// manifest and never abort the run; only context cancellation stops it early.
func (s *Scheduler) Run(ctx context.Context, recs []model.DocumentRecord) (Stats, error) {
	var statsMu sync.Mutex
	var stats Stats

	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		rec := rec

		if rec.Stage.After(model.StageRegistered) && !s.cfg.ForceRefresh {
			statsMu.Lock()
			stats.Skipped++
			statsMu.Unlock()
			continue
		}

		g.Go(func() error {
			ok := s.fetchOne(ctx, rec)
			statsMu.Lock()
			if ok {
				stats.Downloaded++
			} else {
				stats.Failed++
			}
			statsMu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	return stats, ctx.Err()
}

// fetchOne downloads a single document and records the outcome. Returns true
// on success.
func (s *Scheduler) fetchOne(ctx context.Context, rec model.DocumentRecord) bool {
	log := zap.L().With(zap.String("id", rec.ID), zap.String("url", rec.URL))

	u, err := url.Parse(rec.URL)
	if err != nil || u.Host == "" {
		log.Warn("fetch: malformed URL")
		s.fail(ctx, rec, model.StageDownloaded, model.ReasonBadURL, 0)
		return false
	}
	lim := s.limiterFor(u.Host)

	dest := rawPath(s.cfg.RawDir, rec)
	retries := 0

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    s.cfg.MaxAttempts,
		InitialBackoff: s.cfg.InitialBackoff,
		MaxBackoff:     s.cfg.MaxBackoff,
		OnRetry: func(retry int, err error) {
			retries = retry
			log.Warn("fetch: retrying", zap.Int("retry", retry), zap.Error(err))
		},
	}

	size, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (int64, error) {
		if err := lim.Wait(ctx); err != nil {
			return 0, err
		}
		return s.download(ctx, rec.URL, dest)
	})
	if err != nil {
		reason := resilience.PermanentReason(err)
		if reason == "" {
			reason = model.ReasonFetchExhausted
		}
		log.Warn("fetch: failed", zap.String("reason", reason), zap.Int("retries", retries), zap.Error(err))
		s.fail(ctx, rec, model.StageDownloaded, reason, retries)
		return false
	}

	now := time.Now().UTC()
	rec.Stage = model.StageDownloaded
	rec.RawPath = dest
	rec.RawSizeBytes = size
	rec.DownloadedAt = &now
	rec.FetchRetries = retries
	if err := s.mf.Upsert(ctx, rec); err != nil {
		log.Error("fetch: manifest update failed", zap.Error(err))
		return false
	}

	log.Info("fetch: downloaded", zap.Int64("bytes", size), zap.Int("retries", retries))
	return true
}

// download performs one HTTP attempt, writing the body to dest. Transient
// failures come back wrapped for the retry policy; permanent ones carry the
// manifest failure reason.
func (s *Scheduler) download(ctx context.Context, rawURL, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, resilience.NewPermanentError(eris.Wrap(err, "fetch: create request"), model.ReasonBadURL)
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "fetch: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to write
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return 0, resilience.NewTransientError(eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL), resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		// No digest published that day (weekend shift, holiday).
		return 0, resilience.NewPermanentError(eris.Errorf("fetch: 404 from %s", rawURL), model.ReasonNotFound)
	default:
		return 0, resilience.NewPermanentError(eris.Errorf("fetch: http %d from %s", resp.StatusCode, rawURL), model.ReasonNotFound)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, eris.Wrap(err, "fetch: create raw dir")
	}
	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "fetch: create file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, resp.Body)
	if err != nil {
		return 0, eris.Wrap(err, "fetch: write file")
	}
	if n == 0 {
		return 0, resilience.NewPermanentError(eris.Errorf("fetch: empty body from %s", rawURL), model.ReasonEmptyDownload)
	}
	return n, nil
}

// fail records retry progress and the failure on the manifest. Manifest
// errors here are logged, not returned: a failed failure-record must not
// take down the rest of the run.
func (s *Scheduler) fail(ctx context.Context, rec model.DocumentRecord, stage model.Stage, reason string, retries int) {
	if retries > 0 {
		rec.FetchRetries = retries
		if err := s.mf.Upsert(ctx, rec); err != nil {
			zap.L().Error("fetch: record retries failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	if err := s.mf.MarkFailed(ctx, rec.ID, stage, reason); err != nil {
		zap.L().Error("fetch: mark failed errored", zap.String("id", rec.ID), zap.Error(err))
	}
}

// rawPath builds the era/date-addressed location for a document's raw bytes.
func rawPath(rawDir string, rec model.DocumentRecord) string {
	ext := path.Ext(rec.URL)
	if ext == "" {
		ext = "." + string(rec.Format)
	}
	name := fmt.Sprintf("digest_%s%s", rec.Date.Format("2006-01-02"), ext)
	return filepath.Join(rawDir, fmt.Sprintf("%d", rec.Date.Year()), name)
}
