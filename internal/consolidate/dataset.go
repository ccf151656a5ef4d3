package consolidate

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sec-digest-cli/internal/model"
)

// DatasetStore is the consolidated output database. All writes for one
// digest happen in a single transaction so the actions and suspensions
// tables can never hold rows whose digest is missing.
type DatasetStore struct {
	db *sql.DB
}

// NewDataset opens the dataset database at the given path.
func NewDataset(dsn string) (*DatasetStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "dataset: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "dataset: exec %s", pragma)
		}
	}
	return &DatasetStore{db: db}, nil
}

const datasetMigration = `
CREATE TABLE IF NOT EXISTS digests (
	document_id  TEXT PRIMARY KEY,
	era          TEXT NOT NULL,
	digest_date  DATE NOT NULL,
	action_count INTEGER NOT NULL DEFAULT 0,
	flagged      INTEGER NOT NULL DEFAULT 0,
	extracted_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enforcement_actions (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES digests(document_id) ON DELETE CASCADE,
	action_type      TEXT NOT NULL,
	title            TEXT,
	respondents      TEXT NOT NULL DEFAULT '[]',
	violations       TEXT NOT NULL DEFAULT '[]',
	auditor_name     TEXT,
	audit_firm       TEXT,
	penalty_usd      REAL,
	settled          INTEGER NOT NULL DEFAULT 0,
	description      TEXT,
	verbatim_excerpt TEXT,
	excerpt_verified INTEGER NOT NULL DEFAULT 0,
	flagged          INTEGER NOT NULL DEFAULT 0,
	flag_reason      TEXT
);

CREATE TABLE IF NOT EXISTS trading_suspensions (
	id               TEXT PRIMARY KEY,
	document_id      TEXT NOT NULL REFERENCES digests(document_id) ON DELETE CASCADE,
	issuer           TEXT NOT NULL,
	reason           TEXT,
	verbatim_excerpt TEXT,
	excerpt_verified INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS superseded_digests (
	document_id   TEXT PRIMARY KEY,
	artifact_path TEXT,
	extracted_at  DATETIME,
	superseded_by TEXT NOT NULL,
	recorded_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS run_metadata (
	run_id        TEXT PRIMARY KEY,
	started_at    DATETIME NOT NULL,
	finished_at   DATETIME NOT NULL,
	digests       INTEGER NOT NULL,
	actions       INTEGER NOT NULL,
	suspensions   INTEGER NOT NULL,
	flagged_rows  INTEGER NOT NULL,
	superseded    INTEGER NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	est_cost_usd  REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_document ON enforcement_actions(document_id);
CREATE INDEX IF NOT EXISTS idx_suspensions_document ON trading_suspensions(document_id);
CREATE INDEX IF NOT EXISTS idx_digests_era ON digests(era);
CREATE INDEX IF NOT EXISTS idx_digests_date ON digests(digest_date);
`

func (s *DatasetStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, datasetMigration)
	return eris.Wrap(err, "dataset: migrate")
}

func (s *DatasetStore) Close() error {
	return s.db.Close()
}

// ReplaceDigest replaces all rows for one digest in a single transaction:
// delete then insert, so re-consolidating the same document is idempotent.
func (s *DatasetStore) ReplaceDigest(ctx context.Context, digest model.DigestRow, actions []model.ActionRow, suspensions []model.SuspensionRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "dataset: begin replace")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM digests WHERE document_id = ?`, digest.DocumentID); err != nil {
		return eris.Wrapf(err, "dataset: delete digest %s", digest.DocumentID)
	}

	flagged := 0
	if digest.Flagged {
		flagged = 1
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO digests (document_id, era, digest_date, action_count, flagged, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		digest.DocumentID, digest.Era, digest.DigestDate.UTC(), digest.ActionCount,
		flagged, digest.ExtractedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "dataset: insert digest %s", digest.DocumentID)
	}

	for _, row := range actions {
		respondents, err := json.Marshal(row.Action.Respondents)
		if err != nil {
			return eris.Wrap(err, "dataset: marshal respondents")
		}
		violations, err := json.Marshal(row.Action.Violations)
		if err != nil {
			return eris.Wrap(err, "dataset: marshal violations")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO enforcement_actions (id, document_id, action_type, title,
				respondents, violations, auditor_name, audit_firm, penalty_usd,
				settled, description, verbatim_excerpt, excerpt_verified,
				flagged, flag_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.DocumentID, string(row.Action.ActionType), nullStr(row.Action.Title),
			string(respondents), string(violations),
			nullStr(row.Action.AuditorName), nullStr(row.Action.AuditFirm),
			row.Action.PenaltyUSD, boolInt(row.Action.Settled),
			nullStr(row.Action.Description), nullStr(row.Action.VerbatimExcerpt),
			boolInt(row.Action.ExcerptVerified), boolInt(row.Flagged), nullStr(row.FlagReason),
		); err != nil {
			return eris.Wrapf(err, "dataset: insert action %s", row.ID)
		}
	}

	for _, row := range suspensions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trading_suspensions (id, document_id, issuer, reason,
				verbatim_excerpt, excerpt_verified)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			row.ID, row.DocumentID, row.Suspension.Issuer, nullStr(row.Suspension.Reason),
			nullStr(row.Suspension.VerbatimExcerpt), boolInt(row.Suspension.ExcerptVerified),
		); err != nil {
			return eris.Wrapf(err, "dataset: insert suspension %s", row.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "dataset: commit replace")
}

// RecordSuperseded stores a losing duplicate for audit. Keyed by document ID
// so re-running consolidation does not accumulate rows.
func (s *DatasetStore) RecordSuperseded(ctx context.Context, documentID, artifactPath string, extractedAt time.Time, supersededBy string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO superseded_digests
			(document_id, artifact_path, extracted_at, superseded_by, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		documentID, nullStr(artifactPath), extractedAt.UTC(), supersededBy, time.Now().UTC(),
	)
	return eris.Wrapf(err, "dataset: record superseded %s", documentID)
}

// RecordRun stores the per-run counters.
func (s *DatasetStore) RecordRun(ctx context.Context, meta model.RunMetadata) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_metadata (run_id, started_at, finished_at, digests,
			actions, suspensions, flagged_rows, superseded, input_tokens,
			output_tokens, est_cost_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.RunID, meta.StartedAt.UTC(), meta.FinishedAt.UTC(), meta.Digests,
		meta.Actions, meta.Suspensions, meta.FlaggedRows, meta.Superseded,
		meta.Usage.InputTokens, meta.Usage.OutputTokens, meta.EstCostUSD,
	)
	return eris.Wrapf(err, "dataset: record run %s", meta.RunID)
}

// Counts returns row totals for sanity checks and status output.
func (s *DatasetStore) Counts(ctx context.Context) (digests, actions, suspensions int, err error) {
	for _, q := range []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM digests`, &digests},
		{`SELECT COUNT(*) FROM enforcement_actions`, &actions},
		{`SELECT COUNT(*) FROM trading_suspensions`, &suspensions},
	} {
		if err = s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return 0, 0, 0, eris.Wrap(err, "dataset: counts")
		}
	}
	return digests, actions, suspensions, nil
}

// OrphanActionCount returns the number of action rows whose digest is
// missing. With foreign keys on this should always be zero; it exists for
// the quality report.
func (s *DatasetStore) OrphanActionCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enforcement_actions a
		 LEFT JOIN digests d ON d.document_id = a.document_id
		 WHERE d.document_id IS NULL`).Scan(&n)
	return n, eris.Wrap(err, "dataset: orphan count")
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
