// Package extract turns normalized digest text into structured enforcement
// artifacts through the Anthropic API, guarded by a retry policy and a
// circuit breaker. Each document's artifact is written and checkpointed in
// the manifest as soon as it completes.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
	"github.com/sells-group/sec-digest-cli/internal/resilience"
	"github.com/sells-group/sec-digest-cli/pkg/anthropic"
)

// Config controls the extraction adapter.
type Config struct {
	Model     string
	MaxTokens int64
	OutDir    string

	Concurrency    int
	MaxAttempts    int // total attempts including the first call
	Timeout        time.Duration // deadline per service call
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Prefilter skips the extraction service for documents with no
	// enforcement or trading-suspension section headings.
	Prefilter bool
}

func (c Config) withDefaults() Config {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Stats summarizes one extraction run.
type Stats struct {
	Extracted int
	NoContent int // prefilter skipped the service, empty artifact written
	Skipped   int
	Failed    int
	Usage     anthropic.TokenUsage
	TotalCost float64
}

// Adapter drives normalized documents to the extracted stage.
type Adapter struct {
	cfg     Config
	client  anthropic.Client
	mf      manifest.Store
	breaker *resilience.CircuitBreaker
}

// New creates an Adapter. The breaker is shared across all documents in the
// run; once it opens, remaining documents fail fast instead of retrying.
func New(cfg Config, client anthropic.Client, mf manifest.Store, breaker *resilience.CircuitBreaker) *Adapter {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			ShouldTrip: anthropic.IsRetryable,
		})
	}
	return &Adapter{cfg: cfg.withDefaults(), client: client, mf: mf, breaker: breaker}
}

// Run extracts the given records. Per-document failures are recorded in the
// manifest and never abort the run.
func (a *Adapter) Run(ctx context.Context, recs []model.DocumentRecord) (Stats, error) {
	var mu sync.Mutex
	var stats Stats

	g := new(errgroup.Group)
	g.SetLimit(a.cfg.Concurrency)

	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		rec := rec

		if rec.Stage != model.StageNormalized {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			outcome, usage := a.extractOne(ctx, rec)
			mu.Lock()
			switch outcome {
			case outcomeExtracted:
				stats.Extracted++
			case outcomeNoContent:
				stats.NoContent++
			default:
				stats.Failed++
			}
			stats.Usage.Add(usage)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()
	stats.TotalCost = stats.Usage.EstimateCost(a.cfg.Model)
	stats.Usage.LogCost(a.cfg.Model, "extract")
	return stats, ctx.Err()
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeExtracted
	outcomeNoContent
)

func (a *Adapter) extractOne(ctx context.Context, rec model.DocumentRecord) (outcome, anthropic.TokenUsage) {
	log := zap.L().With(zap.String("id", rec.ID))

	data, err := os.ReadFile(rec.TextPath)
	if err != nil || strings.TrimSpace(string(data)) == "" {
		log.Warn("extract: no usable text", zap.Error(err))
		a.fail(ctx, rec, model.ReasonEmptyText, 0)
		return outcomeFailed, anthropic.TokenUsage{}
	}
	text := string(data)

	if a.cfg.Prefilter {
		if found, _ := HasEnforcementContent(text); !found {
			artifact := a.emptyArtifact(rec, "no enforcement sections detected by pre-filter")
			if !a.persist(ctx, rec, artifact, 0, log) {
				return outcomeFailed, anthropic.TokenUsage{}
			}
			log.Info("extract: prefilter skip")
			return outcomeNoContent, anthropic.TokenUsage{}
		}
	}

	retries := 0
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    a.cfg.MaxAttempts,
		InitialBackoff: a.cfg.InitialBackoff,
		MaxBackoff:     a.cfg.MaxBackoff,
		ShouldRetry: func(err error) bool {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return false
			}
			return anthropic.IsRetryable(err) || resilience.IsTransient(err)
		},
		OnRetry: func(retry int, err error) {
			retries = retry
			log.Warn("extract: retrying", zap.Int("retry", retry), zap.Error(err))
		},
	}

	temperature := 0.0
	req := anthropic.MessageRequest{
		Model:     a.cfg.Model,
		MaxTokens: a.cfg.MaxTokens,
		System: []anthropic.SystemBlock{
			{Text: systemPrompt, CacheControl: &anthropic.CacheControl{TTL: "5m"}},
		},
		Messages:    []anthropic.Message{{Role: "user", Content: buildUserPrompt(text)}},
		Temperature: &temperature,
	}

	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		// The deadline is per attempt: a hung call is abandoned, counted,
		// and retried like any other transient failure.
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
		resp, err := resilience.ExecuteVal(callCtx, a.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return a.client.CreateMessage(ctx, req)
		})
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, resilience.NewTransientError(eris.Wrap(err, "extract: service call timed out"), 0)
		}
		return resp, err
	})
	if err != nil {
		log.Warn("extract: service call failed", zap.Int("retries", retries), zap.Error(err))
		a.fail(ctx, rec, model.ReasonExtractionUnavailable, retries)
		return outcomeFailed, anthropic.TokenUsage{}
	}

	raw, err := parseResponse(resp.Text())
	if err != nil {
		// The model produced unusable output. Re-asking with the same
		// prompt tends to reproduce it, so record and move on.
		log.Warn("extract: malformed response", zap.Error(err))
		a.fail(ctx, rec, model.ReasonExtractionMalformed, retries)
		return outcomeFailed, resp.Usage
	}

	actions, suspensions, notes := validateExtraction(raw, text)
	if raw.ExtractionNotes != "" {
		notes = append([]string{raw.ExtractionNotes}, notes...)
	}

	artifact := model.ExtractionArtifact{
		DocumentID:      rec.ID,
		DigestDate:      rec.Date,
		Actions:         actions,
		Suspensions:     suspensions,
		ResidualItems:   raw.ResidualItems,
		ExtractionNotes: strings.Join(notes, "; "),
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens + resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
		ExtractedAt: time.Now().UTC(),
	}

	if !a.persist(ctx, rec, artifact, retries, log) {
		return outcomeFailed, resp.Usage
	}

	log.Info("extract: done",
		zap.Int("actions", len(actions)),
		zap.Int("suspensions", len(suspensions)),
		zap.Int("retries", retries),
	)
	return outcomeExtracted, resp.Usage
}

func (a *Adapter) emptyArtifact(rec model.DocumentRecord, note string) model.ExtractionArtifact {
	return model.ExtractionArtifact{
		DocumentID:      rec.ID,
		DigestDate:      rec.Date,
		Actions:         []model.EnforcementAction{},
		ExtractionNotes: note,
		ExtractedAt:     time.Now().UTC(),
	}
}

// persist writes the artifact JSON and checkpoints the manifest. Returns
// false if either side failed.
func (a *Adapter) persist(ctx context.Context, rec model.DocumentRecord, artifact model.ExtractionArtifact, retries int, log *zap.Logger) bool {
	dest := artifactPath(a.cfg.OutDir, rec)
	if err := writeArtifact(dest, artifact); err != nil {
		log.Error("extract: write artifact failed", zap.Error(err))
		a.fail(ctx, rec, model.ReasonExtractionMalformed, retries)
		return false
	}

	now := time.Now().UTC()
	rec.Stage = model.StageExtracted
	rec.ArtifactPath = dest
	rec.ExtractedAt = &now
	rec.ExtractRetries = retries
	if err := a.mf.Upsert(ctx, rec); err != nil {
		log.Error("extract: manifest update failed", zap.Error(err))
		return false
	}
	return true
}

func (a *Adapter) fail(ctx context.Context, rec model.DocumentRecord, reason string, retries int) {
	if retries > 0 {
		rec.ExtractRetries = retries
		if err := a.mf.Upsert(ctx, rec); err != nil {
			zap.L().Error("extract: record retries failed", zap.String("id", rec.ID), zap.Error(err))
		}
	}
	if err := a.mf.MarkFailed(ctx, rec.ID, model.StageExtracted, reason); err != nil {
		zap.L().Error("extract: mark failed errored", zap.String("id", rec.ID), zap.Error(err))
	}
}

func writeArtifact(dest string, artifact model.ExtractionArtifact) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrap(err, "extract: create artifact dir")
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return eris.Wrap(err, "extract: marshal artifact")
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return eris.Wrap(err, "extract: write artifact")
	}
	return nil
}

// artifactPath builds the era/date-addressed location for a document's
// extraction artifact.
func artifactPath(outDir string, rec model.DocumentRecord) string {
	name := fmt.Sprintf("digest_%s.json", rec.Date.Format("2006-01-02"))
	return filepath.Join(outDir, fmt.Sprintf("%d", rec.Date.Year()), name)
}
