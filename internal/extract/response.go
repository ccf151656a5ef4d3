package extract

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// rawExtraction mirrors the JSON the extraction service returns, before
// validation. Enum fields stay plain strings here so unknown values survive
// decoding and can be coerced instead of dropped.
type rawExtraction struct {
	Actions         []rawAction     `json:"actions"`
	Suspensions     []rawSuspension `json:"suspensions"`
	ResidualItems   []string        `json:"residual_items"`
	ExtractionNotes string          `json:"extraction_notes"`
}

type rawAction struct {
	ActionType      string          `json:"action_type"`
	Title           string          `json:"title"`
	Respondents     []rawRespondent `json:"respondents"`
	Violations      []string        `json:"violations"`
	AuditorName     string          `json:"auditor_name"`
	AuditFirm       string          `json:"audit_firm"`
	PenaltyUSD      *float64        `json:"penalty_usd"`
	Settled         bool            `json:"settled"`
	Description     string          `json:"description"`
	VerbatimExcerpt string          `json:"verbatim_excerpt"`
}

type rawRespondent struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Location string `json:"location"`
}

type rawSuspension struct {
	Issuer          string `json:"issuer"`
	Reason          string `json:"reason"`
	VerbatimExcerpt string `json:"verbatim_excerpt"`
}

// parseResponse decodes the service's reply. Models sometimes wrap JSON in a
// markdown fence; strip it before decoding.
func parseResponse(text string) (*rawExtraction, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
		text = strings.TrimSpace(text)
	}

	var raw rawExtraction
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, eris.Wrap(err, "extract: decode response")
	}
	return &raw, nil
}
