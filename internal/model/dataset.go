package model

import "time"

// DigestRow is one row in the consolidated digests table.
type DigestRow struct {
	DocumentID  string    `json:"document_id"`
	Era         string    `json:"era"`
	DigestDate  time.Time `json:"digest_date"`
	ActionCount int       `json:"action_count"`
	Flagged     bool      `json:"flagged"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// ActionRow is one row in the consolidated enforcement_actions table.
// DocumentID must reference a row in the digests table.
type ActionRow struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Action     EnforcementAction `json:"action"`
	Flagged    bool              `json:"flagged"`
	FlagReason string            `json:"flag_reason,omitempty"`
}

// SuspensionRow is one row in the consolidated trading_suspensions table.
type SuspensionRow struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Suspension TradingSuspension `json:"suspension"`
}

// RunMetadata records per-run counters for the run_metadata table.
type RunMetadata struct {
	RunID       string     `json:"run_id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
	Digests     int        `json:"digests"`
	Actions     int        `json:"actions"`
	Suspensions int        `json:"suspensions"`
	FlaggedRows int        `json:"flagged_rows"`
	Superseded  int        `json:"superseded"`
	Usage       TokenUsage `json:"usage"`
	EstCostUSD  float64    `json:"est_cost_usd"`
}

// EraReport summarizes one era in the quality report.
type EraReport struct {
	Era                string `yaml:"era" json:"era"`
	Digests            int    `yaml:"digests" json:"digests"`
	Actions            int    `yaml:"actions" json:"actions"`
	FlaggedRows        int    `yaml:"flagged_rows" json:"flagged_rows"`
	UnverifiedExcerpts int    `yaml:"unverified_excerpts" json:"unverified_excerpts"`
	CoercedCategories  int    `yaml:"coerced_categories" json:"coerced_categories"`
}

// QualityReport is the per-run report emitted by the consolidator. Per-era
// breakdowns are how systematic extraction drift across eras gets caught.
type QualityReport struct {
	RunID      string      `yaml:"run_id" json:"run_id"`
	Eras       []EraReport `yaml:"eras" json:"eras"`
	Superseded int         `yaml:"superseded" json:"superseded"`
	Rejected   int         `yaml:"rejected" json:"rejected"`
}
