package normalize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sec-digest-cli/internal/config"
	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
)

// Stats summarizes one normalizer run.
type Stats struct {
	Normalized int
	Skipped    int
	Failed     int
	OCRPages   int // pages billed by the OCR provider
}

// Normalizer drives downloaded documents to the normalized stage.
type Normalizer struct {
	cfg     config.NormalizeConfig
	textDir string
	mf      manifest.Store
	parsers map[model.SourceFormat]Parser
}

// New creates a Normalizer. Parsers for all three source formats are built
// up front so a misconfigured provider fails before any work starts.
func New(cfg config.NormalizeConfig, textDir string, mf manifest.Store) (*Normalizer, error) {
	parsers := make(map[model.SourceFormat]Parser, 3)
	for _, f := range []model.SourceFormat{model.FormatPDF, model.FormatText, model.FormatHTML} {
		p, err := NewParser(f, cfg)
		if err != nil {
			return nil, err
		}
		parsers[f] = p
	}
	return &Normalizer{cfg: cfg, textDir: textDir, mf: mf, parsers: parsers}, nil
}

// Run normalizes the given records. Parse failures are permanent: the raw
// bytes will not change, so they are recorded in the manifest and never
// retried automatically.
func (n *Normalizer) Run(ctx context.Context, recs []model.DocumentRecord) (Stats, error) {
	var stats Stats
	for _, rec := range recs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if rec.Stage != model.StageDownloaded {
			stats.Skipped++
			continue
		}
		if n.normalizeOne(ctx, rec) {
			stats.Normalized++
		} else {
			stats.Failed++
		}
	}
	for _, p := range n.parsers {
		if pc, ok := p.(PageCounter); ok {
			stats.OCRPages += pc.PagesProcessed()
		}
	}
	return stats, nil
}

func (n *Normalizer) normalizeOne(ctx context.Context, rec model.DocumentRecord) bool {
	log := zap.L().With(zap.String("id", rec.ID), zap.String("format", string(rec.Format)))

	parser, ok := n.parsers[rec.Format]
	if !ok || rec.RawPath == "" {
		log.Warn("normalize: nothing to parse")
		n.fail(ctx, rec.ID, model.ReasonParseFailed)
		return false
	}

	parseCtx := ctx
	if n.cfg.TimeoutSecs > 0 {
		var cancel context.CancelFunc
		parseCtx, cancel = context.WithTimeout(ctx, time.Duration(n.cfg.TimeoutSecs)*time.Second)
		defer cancel()
	}

	text, err := parser.Parse(parseCtx, rec.RawPath)
	if err != nil {
		log.Warn("normalize: parse failed", zap.Error(err))
		n.fail(ctx, rec.ID, model.ReasonParseFailed)
		return false
	}
	if strings.TrimSpace(text) == "" {
		log.Warn("normalize: empty text output")
		n.fail(ctx, rec.ID, model.ReasonEmptyText)
		return false
	}

	dest := textPath(n.textDir, rec)
	if err := writeText(dest, text); err != nil {
		log.Error("normalize: write failed", zap.Error(err))
		n.fail(ctx, rec.ID, model.ReasonParseFailed)
		return false
	}

	now := time.Now().UTC()
	rec.Stage = model.StageNormalized
	rec.TextPath = dest
	rec.NormalizedAt = &now
	if err := n.mf.Upsert(ctx, rec); err != nil {
		log.Error("normalize: manifest update failed", zap.Error(err))
		return false
	}

	log.Info("normalize: done", zap.Int("chars", len(text)))
	return true
}

func (n *Normalizer) fail(ctx context.Context, id, reason string) {
	if err := n.mf.MarkFailed(ctx, id, model.StageNormalized, reason); err != nil {
		zap.L().Error("normalize: mark failed errored", zap.String("id", id), zap.Error(err))
	}
}

func writeText(dest, text string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return eris.Wrap(err, "normalize: create text dir")
	}
	if err := os.WriteFile(dest, []byte(text), 0o644); err != nil {
		return eris.Wrap(err, "normalize: write text file")
	}
	return nil
}

// textPath builds the era/date-addressed location for a document's plain
// text.
func textPath(textDir string, rec model.DocumentRecord) string {
	name := fmt.Sprintf("digest_%s.txt", rec.Date.Format("2006-01-02"))
	return filepath.Join(textDir, fmt.Sprintf("%d", rec.Date.Year()), name)
}
