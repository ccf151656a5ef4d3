package manifest

import (
	"context"
	"database/sql"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/sec-digest-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "manifest: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id              TEXT PRIMARY KEY,
	era             TEXT NOT NULL,
	date            DATE NOT NULL,
	url             TEXT NOT NULL,
	format          TEXT NOT NULL,
	stage           TEXT NOT NULL DEFAULT 'registered',
	raw_path        TEXT,
	text_path       TEXT,
	artifact_path   TEXT,
	raw_size_bytes  INTEGER,
	downloaded_at   DATETIME,
	normalized_at   DATETIME,
	extracted_at    DATETIME,
	consolidated_at DATETIME,
	fetch_retries   INTEGER NOT NULL DEFAULT 0,
	extract_retries INTEGER NOT NULL DEFAULT 0,
	failed_stage    TEXT,
	last_error      TEXT,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_stage ON documents(stage);
CREATE INDEX IF NOT EXISTS idx_documents_era ON documents(era);
CREATE INDEX IF NOT EXISTS idx_documents_date ON documents(date);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "manifest: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert inserts rec or merges forward progress into the existing row. The
// merge and write happen inside one transaction so concurrent stage workers
// cannot interleave a lost update.
func (s *SQLiteStore) Upsert(ctx context.Context, rec model.DocumentRecord) error {
	if !rec.Stage.Valid() {
		return eris.Errorf("manifest: invalid stage %q for %s", rec.Stage, rec.ID)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "manifest: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := getTx(ctx, tx, rec.ID)
	if err != nil {
		return err
	}

	if existing == nil {
		if err := insertTx(ctx, tx, rec); err != nil {
			return err
		}
		return eris.Wrap(tx.Commit(), "manifest: commit insert")
	}

	merged, conflict := merge(*existing, rec)
	if conflict {
		zap.L().Warn("manifest: rejected stage transition",
			zap.String("id", rec.ID),
			zap.String("have", string(existing.Stage)),
			zap.String("got", string(rec.Stage)),
		)
	}
	if err := updateTx(ctx, tx, merged); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "manifest: commit upsert")
}

// merge folds incoming forward progress into the existing record. Returns
// the merged record and whether the incoming stage was a rejected regression.
func merge(existing, incoming model.DocumentRecord) (model.DocumentRecord, bool) {
	out := existing
	conflict := false

	switch {
	case incoming.Stage == existing.Stage:
		// No stage movement; field merge below still applies.
	case existing.Stage == model.StageFailed && incoming.Stage.After(model.StageRegistered):
		// A retried document may leave the failed state by making real
		// progress; the failure bookkeeping is cleared on the way out.
		out.Stage = incoming.Stage
		out.FailedStage = ""
		out.LastError = ""
	case existing.Stage == model.StageFailed:
		// Re-registering an already-enumerated document. The failure audit
		// survives full re-runs; only a retry that moves the record forward
		// clears it.
		conflict = true
	case incoming.Stage.After(existing.Stage):
		out.Stage = incoming.Stage
	default:
		conflict = true
	}

	// Forward-fill artifact fields; never clear a recorded value.
	if incoming.RawPath != "" {
		out.RawPath = incoming.RawPath
	}
	if incoming.TextPath != "" {
		out.TextPath = incoming.TextPath
	}
	if incoming.ArtifactPath != "" {
		out.ArtifactPath = incoming.ArtifactPath
	}
	if incoming.RawSizeBytes > 0 {
		out.RawSizeBytes = incoming.RawSizeBytes
	}
	if incoming.DownloadedAt != nil {
		out.DownloadedAt = incoming.DownloadedAt
	}
	if incoming.NormalizedAt != nil {
		out.NormalizedAt = incoming.NormalizedAt
	}
	if incoming.ExtractedAt != nil {
		out.ExtractedAt = incoming.ExtractedAt
	}
	if incoming.ConsolidatedAt != nil {
		out.ConsolidatedAt = incoming.ConsolidatedAt
	}
	if incoming.FetchRetries > out.FetchRetries {
		out.FetchRetries = incoming.FetchRetries
	}
	if incoming.ExtractRetries > out.ExtractRetries {
		out.ExtractRetries = incoming.ExtractRetries
	}
	if incoming.LastError != "" {
		out.LastError = incoming.LastError
	}
	return out, conflict
}

// MarkFailed transitions a record to failed, recording the stage that was in
// progress and the reason. If the record has already advanced past that
// stage the call is a conflict: logged and ignored.
func (s *SQLiteStore) MarkFailed(ctx context.Context, id string, stage model.Stage, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "manifest: begin mark failed")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := getTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return eris.Errorf("manifest: document not found: %s", id)
	}

	if existing.Stage.Rank() >= stage.Rank() && existing.Stage != model.StageFailed {
		zap.L().Warn("manifest: ignoring stale failure for advanced record",
			zap.String("id", id),
			zap.String("have", string(existing.Stage)),
			zap.String("failed_stage", string(stage)),
		)
		return nil
	}

	out := *existing
	out.Stage = model.StageFailed
	out.FailedStage = string(stage)
	out.LastError = reason
	if err := updateTx(ctx, tx, out); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "manifest: commit mark failed")
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*model.DocumentRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, eris.Wrap(err, "manifest: begin get")
	}
	defer tx.Rollback() //nolint:errcheck
	return getTx(ctx, tx, id)
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]model.DocumentRecord, error) {
	query := selectColumns + ` FROM documents WHERE 1=1`
	var args []any

	if f.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(f.Stage))
	}
	if f.Era != "" {
		query += ` AND era = ?`
		args = append(args, f.Era)
	}
	query += ` ORDER BY date ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: query")
	}
	defer rows.Close()

	var recs []model.DocumentRecord
	for rows.Next() {
		r, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "manifest: query iterate")
}

func (s *SQLiteStore) Summary(ctx context.Context) (*Summary, error) {
	sum := &Summary{
		ByStage:  make(map[model.Stage]int),
		ByReason: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, COUNT(*) FROM documents GROUP BY stage`)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: summary stages")
	}
	defer rows.Close()
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, eris.Wrap(err, "manifest: scan summary")
		}
		sum.ByStage[model.Stage(stage)] = n
		sum.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "manifest: summary iterate")
	}

	reasonRows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(last_error, ''), COUNT(*) FROM documents WHERE stage = 'failed' GROUP BY last_error`)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: summary reasons")
	}
	defer reasonRows.Close()
	for reasonRows.Next() {
		var reason string
		var n int
		if err := reasonRows.Scan(&reason, &n); err != nil {
			return nil, eris.Wrap(err, "manifest: scan reason")
		}
		sum.ByReason[reason] = n
	}
	return sum, eris.Wrap(reasonRows.Err(), "manifest: reason iterate")
}

// helpers

const selectColumns = `SELECT id, era, date, url, format, stage,
	COALESCE(raw_path, ''), COALESCE(text_path, ''), COALESCE(artifact_path, ''),
	COALESCE(raw_size_bytes, 0), downloaded_at, normalized_at, extracted_at,
	consolidated_at, fetch_retries, extract_retries,
	COALESCE(failed_stage, ''), COALESCE(last_error, '')`

func getTx(ctx context.Context, tx *sql.Tx, id string) (*model.DocumentRecord, error) {
	row := tx.QueryRowContext(ctx, selectColumns+` FROM documents WHERE id = ?`, id)
	rec, err := scanDocument(row)
	if err == errNoDocument {
		return nil, nil
	}
	return rec, err
}

func insertTx(ctx context.Context, tx *sql.Tx, rec model.DocumentRecord) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, era, date, url, format, stage, raw_path,
			text_path, artifact_path, raw_size_bytes, downloaded_at,
			normalized_at, extracted_at, consolidated_at, fetch_retries,
			extract_retries, failed_stage, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Era, rec.Date.UTC(), rec.URL, string(rec.Format), string(rec.Stage),
		nullStr(rec.RawPath), nullStr(rec.TextPath), nullStr(rec.ArtifactPath),
		rec.RawSizeBytes, rec.DownloadedAt, rec.NormalizedAt, rec.ExtractedAt,
		rec.ConsolidatedAt, rec.FetchRetries, rec.ExtractRetries,
		nullStr(rec.FailedStage), nullStr(rec.LastError), now, now,
	)
	return eris.Wrapf(err, "manifest: insert %s", rec.ID)
}

func updateTx(ctx context.Context, tx *sql.Tx, rec model.DocumentRecord) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE documents SET stage = ?, raw_path = ?, text_path = ?,
			artifact_path = ?, raw_size_bytes = ?, downloaded_at = ?,
			normalized_at = ?, extracted_at = ?, consolidated_at = ?,
			fetch_retries = ?, extract_retries = ?, failed_stage = ?,
			last_error = ?, updated_at = ?
		 WHERE id = ?`,
		string(rec.Stage), nullStr(rec.RawPath), nullStr(rec.TextPath),
		nullStr(rec.ArtifactPath), rec.RawSizeBytes, rec.DownloadedAt,
		rec.NormalizedAt, rec.ExtractedAt, rec.ConsolidatedAt,
		rec.FetchRetries, rec.ExtractRetries, nullStr(rec.FailedStage),
		nullStr(rec.LastError), time.Now().UTC(), rec.ID,
	)
	return eris.Wrapf(err, "manifest: update %s", rec.ID)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var errNoDocument = eris.New("manifest: no document")

type scannable interface {
	Scan(dest ...any) error
}

func scanDocument(row scannable) (*model.DocumentRecord, error) {
	var r model.DocumentRecord
	var format, stage string
	err := row.Scan(&r.ID, &r.Era, &r.Date, &r.URL, &format, &stage,
		&r.RawPath, &r.TextPath, &r.ArtifactPath, &r.RawSizeBytes,
		&r.DownloadedAt, &r.NormalizedAt, &r.ExtractedAt, &r.ConsolidatedAt,
		&r.FetchRetries, &r.ExtractRetries, &r.FailedStage, &r.LastError)
	if err == sql.ErrNoRows {
		return nil, errNoDocument
	}
	if err != nil {
		return nil, eris.Wrap(err, "manifest: scan document")
	}
	r.Format = model.SourceFormat(format)
	r.Stage = model.Stage(stage)
	return &r, nil
}
