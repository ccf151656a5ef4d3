// Package consolidate merges per-document extraction artifacts into the
// final relational dataset, deduplicates digests, flags suspect rows, and
// emits a per-run quality report.
package consolidate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sec-digest-cli/internal/cost"
	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
)

// Config controls the consolidator.
type Config struct {
	Model     string
	ReportDir string

	// Rebuild re-reads documents that are already consolidated, replacing
	// their dataset rows. Without it only newly extracted documents are
	// processed.
	Rebuild bool
}

// Consolidator assembles the dataset from extraction artifacts.
type Consolidator struct {
	cfg  Config
	mf   manifest.Store
	ds   *DatasetStore
	calc *cost.Calculator
}

// New creates a Consolidator.
func New(cfg Config, mf manifest.Store, ds *DatasetStore) *Consolidator {
	return &Consolidator{cfg: cfg, mf: mf, ds: ds, calc: cost.NewCalculator(cost.DefaultRates())}
}

// loadedArtifact pairs a manifest record with its decoded artifact.
type loadedArtifact struct {
	rec model.DocumentRecord
	art model.ExtractionArtifact
}

// Run consolidates all extracted documents. Re-running is idempotent: each
// digest's rows are replaced in one transaction, and duplicate digest dates
// resolve the same way every time (latest extraction wins).
func (c *Consolidator) Run(ctx context.Context) (*model.QualityReport, error) {
	runID := uuid.NewString()
	started := time.Now().UTC()
	log := zap.L().With(zap.String("run_id", runID))

	recs, err := c.mf.Query(ctx, manifest.Filter{Stage: model.StageExtracted})
	if err != nil {
		return nil, err
	}
	if c.cfg.Rebuild {
		done, err := c.mf.Query(ctx, manifest.Filter{Stage: model.StageConsolidated})
		if err != nil {
			return nil, err
		}
		recs = append(recs, done...)
		sort.Slice(recs, func(i, j int) bool { return recs[i].Date.Before(recs[j].Date) })
	}

	report := &model.QualityReport{RunID: runID}
	if len(recs) == 0 {
		log.Info("consolidate: nothing to do")
		return report, nil
	}

	loaded, rejected := c.loadArtifacts(ctx, recs, log)
	report.Rejected = rejected

	winners, superseded, err := c.resolveDuplicates(ctx, loaded, log)
	if err != nil {
		return nil, err
	}
	report.Superseded = superseded

	eraStats := make(map[string]*model.EraReport)
	var meta model.RunMetadata
	meta.RunID = runID
	meta.StartedAt = started
	meta.Superseded = superseded

	for _, la := range winners {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		digest, actionRows, suspensionRows := c.buildRows(la)

		if err := c.ds.ReplaceDigest(ctx, digest, actionRows, suspensionRows); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		rec := la.rec
		rec.Stage = model.StageConsolidated
		rec.ConsolidatedAt = &now
		if err := c.mf.Upsert(ctx, rec); err != nil {
			return nil, err
		}

		es := eraStats[la.rec.Era]
		if es == nil {
			es = &model.EraReport{Era: la.rec.Era}
			eraStats[la.rec.Era] = es
		}
		es.Digests++
		es.Actions += len(actionRows)
		es.CoercedCategories += strings.Count(la.art.ExtractionNotes, "coerced")
		for _, row := range actionRows {
			if row.Flagged {
				es.FlaggedRows++
				meta.FlaggedRows++
			}
			if !row.Action.ExcerptVerified {
				es.UnverifiedExcerpts++
			}
		}

		meta.Digests++
		meta.Actions += len(actionRows)
		meta.Suspensions += len(suspensionRows)
		meta.Usage.Add(la.art.Usage)
	}

	// Stable era ordering in the report.
	for _, era := range []string{"pdf", "text", "html"} {
		if es, ok := eraStats[era]; ok {
			report.Eras = append(report.Eras, *es)
		}
	}
	for era, es := range eraStats {
		if era != "pdf" && era != "text" && era != "html" {
			report.Eras = append(report.Eras, *es)
		}
	}

	if orphans, err := c.ds.OrphanActionCount(ctx); err != nil {
		return nil, err
	} else if orphans > 0 {
		log.Error("consolidate: orphaned action rows detected", zap.Int("count", orphans))
	}

	meta.FinishedAt = time.Now().UTC()
	meta.EstCostUSD = c.calc.Claude(c.cfg.Model, meta.Usage.InputTokens, meta.Usage.OutputTokens, 0, 0)
	if err := c.ds.RecordRun(ctx, meta); err != nil {
		return nil, err
	}

	if err := c.writeReport(runID, report); err != nil {
		return nil, err
	}

	log.Info("consolidate: done",
		zap.Int("digests", meta.Digests),
		zap.Int("actions", meta.Actions),
		zap.Int("suspensions", meta.Suspensions),
		zap.Int("superseded", superseded),
		zap.Int("rejected", rejected),
	)
	return report, nil
}

// loadArtifacts reads and decodes each record's artifact. Unreadable
// artifacts are rejected: counted, marked failed, and excluded from the
// dataset rather than aborting the run.
func (c *Consolidator) loadArtifacts(ctx context.Context, recs []model.DocumentRecord, log *zap.Logger) ([]loadedArtifact, int) {
	loaded := make([]loadedArtifact, 0, len(recs))
	rejected := 0
	for _, rec := range recs {
		data, err := os.ReadFile(rec.ArtifactPath)
		if err != nil {
			log.Warn("consolidate: unreadable artifact", zap.String("id", rec.ID), zap.Error(err))
			c.reject(ctx, rec.ID)
			rejected++
			continue
		}
		var art model.ExtractionArtifact
		if err := json.Unmarshal(data, &art); err != nil {
			log.Warn("consolidate: malformed artifact", zap.String("id", rec.ID), zap.Error(err))
			c.reject(ctx, rec.ID)
			rejected++
			continue
		}
		loaded = append(loaded, loadedArtifact{rec: rec, art: art})
	}
	return loaded, rejected
}

func (c *Consolidator) reject(ctx context.Context, id string) {
	if err := c.mf.MarkFailed(ctx, id, model.StageConsolidated, model.ReasonExtractionMalformed); err != nil {
		zap.L().Error("consolidate: mark failed errored", zap.String("id", id), zap.Error(err))
	}
}

// resolveDuplicates keeps one artifact per digest date: the one extracted
// most recently. Losers go to the superseded table and still advance to
// consolidated so the next run does not resurrect them.
func (c *Consolidator) resolveDuplicates(ctx context.Context, loaded []loadedArtifact, log *zap.Logger) ([]loadedArtifact, int, error) {
	byDate := make(map[string][]loadedArtifact)
	var order []string
	for _, la := range loaded {
		key := la.rec.Date.Format("2006-01-02")
		if _, seen := byDate[key]; !seen {
			order = append(order, key)
		}
		byDate[key] = append(byDate[key], la)
	}

	var winners []loadedArtifact
	superseded := 0
	for _, key := range order {
		group := byDate[key]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].art.ExtractedAt.Equal(group[j].art.ExtractedAt) {
				return group[i].art.ExtractedAt.Before(group[j].art.ExtractedAt)
			}
			return group[i].rec.ID < group[j].rec.ID
		})
		winner := group[len(group)-1]
		winners = append(winners, winner)

		for _, loser := range group[:len(group)-1] {
			log.Info("consolidate: superseding duplicate digest",
				zap.String("date", key),
				zap.String("loser", loser.rec.ID),
				zap.String("winner", winner.rec.ID),
			)
			if err := c.ds.RecordSuperseded(ctx, loser.rec.ID, loser.rec.ArtifactPath, loser.art.ExtractedAt, winner.rec.ID); err != nil {
				return nil, 0, err
			}
			now := time.Now().UTC()
			rec := loser.rec
			rec.Stage = model.StageConsolidated
			rec.ConsolidatedAt = &now
			if err := c.mf.Upsert(ctx, rec); err != nil {
				return nil, 0, err
			}
			superseded++
		}
	}
	return winners, superseded, nil
}

// buildRows converts one artifact into dataset rows, re-validating enums and
// flagging internally inconsistent actions. Artifacts are plain JSON files
// on disk; nothing guarantees they were written by this binary's validator.
func (c *Consolidator) buildRows(la loadedArtifact) (model.DigestRow, []model.ActionRow, []model.SuspensionRow) {
	actionRows := make([]model.ActionRow, 0, len(la.art.Actions))
	digestFlagged := false

	for _, action := range la.art.Actions {
		row := model.ActionRow{
			ID:         uuid.NewString(),
			DocumentID: la.rec.ID,
			Action:     action,
		}

		var reasons []string
		if !model.KnownActionTypes[action.ActionType] {
			row.Action.ActionType = model.ActionOther
			reasons = append(reasons, fmt.Sprintf("invalid action_type %q", action.ActionType))
		}
		for i, v := range row.Action.Violations {
			if !model.KnownViolationCategories[v] {
				row.Action.Violations[i] = model.ViolationOther
				reasons = append(reasons, fmt.Sprintf("invalid violation %q", v))
			}
		}
		for i, r := range row.Action.Respondents {
			if r.Type != "" && !model.KnownRespondentTypes[r.Type] {
				row.Action.Respondents[i].Type = model.RespondentOther
				reasons = append(reasons, fmt.Sprintf("invalid respondent type %q", r.Type))
			}
		}
		if action.PenaltyUSD != nil && *action.PenaltyUSD < 0 {
			row.Action.PenaltyUSD = nil
			reasons = append(reasons, "negative penalty cleared")
		}
		if action.Settled && action.PenaltyUSD == nil && strings.TrimSpace(action.Description) == "" {
			reasons = append(reasons, "settled action with no penalty and no description")
		}

		if len(reasons) > 0 {
			row.Flagged = true
			row.FlagReason = strings.Join(reasons, "; ")
			digestFlagged = true
		}
		actionRows = append(actionRows, row)
	}

	suspensionRows := make([]model.SuspensionRow, 0, len(la.art.Suspensions))
	for _, susp := range la.art.Suspensions {
		if strings.TrimSpace(susp.Issuer) == "" {
			digestFlagged = true
			continue
		}
		suspensionRows = append(suspensionRows, model.SuspensionRow{
			ID:         uuid.NewString(),
			DocumentID: la.rec.ID,
			Suspension: susp,
		})
	}

	digest := model.DigestRow{
		DocumentID:  la.rec.ID,
		Era:         la.rec.Era,
		DigestDate:  la.rec.Date,
		ActionCount: len(actionRows),
		Flagged:     digestFlagged,
		ExtractedAt: la.art.ExtractedAt,
	}
	return digest, actionRows, suspensionRows
}

// writeReport emits the quality report as YAML under the report directory.
func (c *Consolidator) writeReport(runID string, report *model.QualityReport) error {
	if c.cfg.ReportDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.cfg.ReportDir, 0o755); err != nil {
		return eris.Wrap(err, "consolidate: create report dir")
	}
	data, err := yaml.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "consolidate: marshal report")
	}
	dest := filepath.Join(c.cfg.ReportDir, fmt.Sprintf("quality_%s.yaml", runID))
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return eris.Wrap(err, "consolidate: write report")
	}
	return nil
}
