package consolidate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sec-digest-cli/internal/manifest"
	"github.com/sells-group/sec-digest-cli/internal/model"
)

func newStores(t *testing.T) (manifest.Store, *DatasetStore) {
	t.Helper()
	dir := t.TempDir()
	mf, err := manifest.NewSQLite(filepath.Join(dir, "manifest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mf.Close() }) //nolint:errcheck
	require.NoError(t, mf.Migrate(context.Background()))

	ds, err := NewDataset(filepath.Join(dir, "dataset.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() }) //nolint:errcheck
	require.NoError(t, ds.Migrate(context.Background()))
	return mf, ds
}

func penalty(v float64) *float64 { return &v }

func sampleArtifact(id string, date, extractedAt time.Time) model.ExtractionArtifact {
	return model.ExtractionArtifact{
		DocumentID: id,
		DigestDate: date,
		Actions: []model.EnforcementAction{{
			ActionType:      model.ActionAdministrative,
			Title:           "In the Matter of Acme Securities, Inc.",
			Respondents:     []model.Respondent{{Name: "Acme Securities, Inc.", Type: model.RespondentCompany}},
			Violations:      []model.ViolationCategory{model.ViolationRegistration},
			PenaltyUSD:      penalty(50000),
			Settled:         true,
			Description:     "Registration violations settled with censure and penalty.",
			VerbatimExcerpt: "against Acme Securities, Inc.",
			ExcerptVerified: true,
		}},
		Suspensions: []model.TradingSuspension{{
			Issuer:          "Shell Corp",
			Reason:          "delinquent filings",
			ExcerptVerified: true,
		}},
		Usage:       model.TokenUsage{InputTokens: 1200, OutputTokens: 300},
		ExtractedAt: extractedAt,
	}
}

// extracted registers a document at the extracted stage with its artifact
// written to disk.
func extracted(t *testing.T, mf manifest.Store, era string, date time.Time, art model.ExtractionArtifact) model.DocumentRecord {
	t.Helper()
	dir := t.TempDir()
	artPath := filepath.Join(dir, "artifact.json")
	data, err := json.MarshalIndent(art, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(artPath, data, 0o644))

	extractedAt := art.ExtractedAt
	rec := model.DocumentRecord{
		ID:           art.DocumentID,
		Era:          era,
		Date:         date,
		URL:          "https://www.sec.gov/news/digest/dig.pdf",
		Format:       model.FormatPDF,
		Stage:        model.StageExtracted,
		ArtifactPath: artPath,
		ExtractedAt:  &extractedAt,
	}
	require.NoError(t, mf.Upsert(context.Background(), rec))
	return rec
}

func TestRun_ConsolidatesArtifacts(t *testing.T) {
	mf, ds := newStores(t)
	ctx := context.Background()

	date := time.Date(1984, 9, 28, 0, 0, 0, 0, time.UTC)
	art := sampleArtifact("pdf-1984-09-28", date, time.Now().UTC())
	rec := extracted(t, mf, "pdf", date, art)

	reportDir := t.TempDir()
	c := New(Config{Model: "claude-haiku-4-5-20251001", ReportDir: reportDir}, mf, ds)
	report, err := c.Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Eras, 1)
	assert.Equal(t, "pdf", report.Eras[0].Era)
	assert.Equal(t, 1, report.Eras[0].Digests)
	assert.Equal(t, 1, report.Eras[0].Actions)
	assert.Zero(t, report.Rejected)

	digests, actions, suspensions, err := ds.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, digests)
	assert.Equal(t, 1, actions)
	assert.Equal(t, 1, suspensions)

	orphans, err := ds.OrphanActionCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, orphans)

	got, err := mf.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageConsolidated, got.Stage)
	require.NotNil(t, got.ConsolidatedAt)

	// Quality report lands on disk as YAML.
	entries, err := os.ReadDir(reportDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "quality_")

	// Run metadata was recorded.
	var runs int
	require.NoError(t, ds.db.QueryRow(`SELECT COUNT(*) FROM run_metadata`).Scan(&runs))
	assert.Equal(t, 1, runs)
}

func TestRun_Idempotent(t *testing.T) {
	mf, ds := newStores(t)
	ctx := context.Background()

	date := time.Date(1984, 9, 28, 0, 0, 0, 0, time.UTC)
	extracted(t, mf, "pdf", date, sampleArtifact("pdf-1984-09-28", date, time.Now().UTC()))

	c := New(Config{Model: "claude-haiku-4-5-20251001"}, mf, ds)
	_, err := c.Run(ctx)
	require.NoError(t, err)

	// Rebuild reprocesses the consolidated document; row counts must not grow.
	c2 := New(Config{Model: "claude-haiku-4-5-20251001", Rebuild: true}, mf, ds)
	_, err = c2.Run(ctx)
	require.NoError(t, err)

	digests, actions, suspensions, err := ds.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, digests)
	assert.Equal(t, 1, actions)
	assert.Equal(t, 1, suspensions)
}

func TestRun_DuplicateDateLatestWins(t *testing.T) {
	mf, ds := newStores(t)
	ctx := context.Background()

	date := time.Date(2003, 1, 6, 0, 0, 0, 0, time.UTC)
	early := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	late := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	artText := sampleArtifact("text-2003-01-06", date, early)
	artHTML := sampleArtifact("html-2003-01-06", date, late)
	artHTML.Actions[0].Title = "Winner"
	extracted(t, mf, "text", date, artText)
	extracted(t, mf, "html", date, artHTML)

	c := New(Config{Model: "claude-haiku-4-5-20251001"}, mf, ds)
	report, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Superseded)

	digests, _, _, err := ds.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, digests)

	var docID, title string
	require.NoError(t, ds.db.QueryRow(`SELECT document_id FROM digests`).Scan(&docID))
	assert.Equal(t, "html-2003-01-06", docID)
	require.NoError(t, ds.db.QueryRow(`SELECT title FROM enforcement_actions`).Scan(&title))
	assert.Equal(t, "Winner", title)

	// The loser is preserved for audit and advanced past extracted.
	var superseded string
	require.NoError(t, ds.db.QueryRow(`SELECT superseded_by FROM superseded_digests WHERE document_id = ?`, "text-2003-01-06").Scan(&superseded))
	assert.Equal(t, "html-2003-01-06", superseded)

	loser, err := mf.Get(ctx, "text-2003-01-06")
	require.NoError(t, err)
	assert.Equal(t, model.StageConsolidated, loser.Stage)
}

func TestRun_MalformedArtifactRejected(t *testing.T) {
	mf, ds := newStores(t)
	ctx := context.Background()

	good := time.Date(1984, 9, 28, 0, 0, 0, 0, time.UTC)
	extracted(t, mf, "pdf", good, sampleArtifact("pdf-1984-09-28", good, time.Now().UTC()))

	// A record whose artifact file is garbage.
	badPath := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(badPath, []byte("{not json"), 0o644))
	badDate := time.Date(1984, 9, 27, 0, 0, 0, 0, time.UTC)
	bad := model.DocumentRecord{
		ID:           "pdf-1984-09-27",
		Era:          "pdf",
		Date:         badDate,
		URL:          "https://www.sec.gov/news/digest/dig.pdf",
		Format:       model.FormatPDF,
		Stage:        model.StageExtracted,
		ArtifactPath: badPath,
	}
	require.NoError(t, mf.Upsert(ctx, bad))

	c := New(Config{Model: "claude-haiku-4-5-20251001"}, mf, ds)
	report, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rejected)

	// The good document still lands.
	digests, _, _, err := ds.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, digests)

	got, err := mf.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, got.Stage)
	assert.Equal(t, model.ReasonExtractionMalformed, got.LastError)
}

func TestBuildRows_FlagsInconsistentAction(t *testing.T) {
	date := time.Date(1984, 9, 28, 0, 0, 0, 0, time.UTC)
	art := model.ExtractionArtifact{
		DocumentID: "pdf-1984-09-28",
		DigestDate: date,
		Actions: []model.EnforcementAction{{
			ActionType:      model.ActionCivil,
			Settled:         true,
			VerbatimExcerpt: "settled without detail",
		}},
		ExtractedAt: time.Now().UTC(),
	}
	la := loadedArtifact{
		rec: model.DocumentRecord{ID: "pdf-1984-09-28", Era: "pdf", Date: date},
		art: art,
	}

	c := New(Config{}, nil, nil)
	digest, rows, _ := c.buildRows(la)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Flagged)
	assert.Contains(t, rows[0].FlagReason, "no penalty and no description")
	assert.True(t, digest.Flagged)
}

func TestBuildRows_ReValidatesEnums(t *testing.T) {
	date := time.Date(1984, 9, 28, 0, 0, 0, 0, time.UTC)
	art := model.ExtractionArtifact{
		DocumentID: "pdf-1984-09-28",
		DigestDate: date,
		Actions: []model.EnforcementAction{{
			ActionType:  "subpoena",
			Violations:  []model.ViolationCategory{"wire_fraud"},
			Respondents: []model.Respondent{{Name: "Acme", Type: "trust"}},
			Description: "hand-edited artifact",
		}},
		ExtractedAt: time.Now().UTC(),
	}
	la := loadedArtifact{
		rec: model.DocumentRecord{ID: "pdf-1984-09-28", Era: "pdf", Date: date},
		art: art,
	}

	c := New(Config{}, nil, nil)
	_, rows, _ := c.buildRows(la)
	require.Len(t, rows, 1)
	assert.Equal(t, model.ActionOther, rows[0].Action.ActionType)
	assert.Equal(t, model.ViolationOther, rows[0].Action.Violations[0])
	assert.Equal(t, model.RespondentOther, rows[0].Action.Respondents[0].Type)
	assert.True(t, rows[0].Flagged)
}

func TestRun_NothingToDo(t *testing.T) {
	mf, ds := newStores(t)
	c := New(Config{}, mf, ds)
	report, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Eras)
}
