package model

import (
	"fmt"
	"time"
)

// SourceFormat identifies the archive era's publication format. Each format
// maps to exactly one normalization strategy; the dispatch is on this tag,
// never on file extension.
type SourceFormat string

const (
	FormatPDF  SourceFormat = "pdf"  // scanned/typeset PDF, external parser required
	FormatText SourceFormat = "text" // plain text, passthrough
	FormatHTML SourceFormat = "html" // structured markup, boilerplate stripped
)

// Stage is a document's position in the pipeline lifecycle. Stages advance
// monotonically; a record never moves backward.
type Stage string

const (
	StageRegistered   Stage = "registered"
	StageDownloaded   Stage = "downloaded"
	StageNormalized   Stage = "normalized"
	StageExtracted    Stage = "extracted"
	StageConsolidated Stage = "consolidated"
	StageFailed       Stage = "failed"
)

// stageOrder defines the monotonic progression. StageFailed is terminal and
// sits outside the ordering: any stage may transition to it, but it never
// outranks a completed stage for merge purposes.
var stageOrder = map[Stage]int{
	StageRegistered:   0,
	StageDownloaded:   1,
	StageNormalized:   2,
	StageExtracted:    3,
	StageConsolidated: 4,
}

// Rank returns the stage's position in the pipeline ordering, or -1 for
// StageFailed and unknown stages.
func (s Stage) Rank() int {
	if r, ok := stageOrder[s]; ok {
		return r
	}
	return -1
}

// After reports whether s is strictly later than other in the pipeline
// ordering. Failed compares after nothing and nothing compares after failed;
// failure is recorded separately from forward progress.
func (s Stage) After(other Stage) bool {
	sr, or := s.Rank(), other.Rank()
	return sr >= 0 && or >= 0 && sr > or
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	return s == StageFailed || s.Rank() >= 0
}

// Failure reasons recorded on the manifest when a record fails a stage.
const (
	ReasonFetchExhausted        = "fetch_exhausted"
	ReasonNotFound              = "not_found"
	ReasonBadURL                = "bad_url"
	ReasonEmptyDownload         = "empty_download"
	ReasonParseFailed           = "parse_failed"
	ReasonEmptyText             = "empty_text"
	ReasonExtractionMalformed   = "extraction_malformed"
	ReasonExtractionUnavailable = "extraction_unavailable"
)

// DocumentRecord tracks one source digest through the pipeline. Records are
// created by the registry, mutated only by the stage currently responsible
// for them, and never deleted.
type DocumentRecord struct {
	ID     string       `json:"id"` // "<era>-<YYYY-MM-DD>"
	Era    string       `json:"era"`
	Date   time.Time    `json:"date"`
	URL    string       `json:"url"`
	Format SourceFormat `json:"format"`
	Stage  Stage        `json:"stage"`

	// Per-stage artifact paths, set as the record advances.
	RawPath      string `json:"raw_path,omitempty"`
	TextPath     string `json:"text_path,omitempty"`
	ArtifactPath string `json:"artifact_path,omitempty"`
	RawSizeBytes int64  `json:"raw_size_bytes,omitempty"`

	// Per-stage completion timestamps.
	DownloadedAt   *time.Time `json:"downloaded_at,omitempty"`
	NormalizedAt   *time.Time `json:"normalized_at,omitempty"`
	ExtractedAt    *time.Time `json:"extracted_at,omitempty"`
	ConsolidatedAt *time.Time `json:"consolidated_at,omitempty"`

	FetchRetries   int `json:"fetch_retries"`
	ExtractRetries int `json:"extract_retries"`

	// Failure bookkeeping. FailedStage is the stage that was in progress
	// when the record failed; prior successful-stage artifacts are kept.
	FailedStage string `json:"failed_stage,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

// DocumentID derives the stable identifier for a digest.
func DocumentID(era string, date time.Time) string {
	return fmt.Sprintf("%s-%s", era, date.Format("2006-01-02"))
}
