package model

import "time"

// ActionType classifies the enforcement proceeding.
type ActionType string

const (
	ActionAdministrative ActionType = "administrative"
	ActionCivil          ActionType = "civil"
	ActionCriminal       ActionType = "criminal"
	ActionOther          ActionType = "other"
)

// RespondentType classifies the charged party.
type RespondentType string

const (
	RespondentIndividual RespondentType = "individual"
	RespondentCompany    RespondentType = "company"
	RespondentOther      RespondentType = "other"
)

// ViolationCategory is the closed set of violation classifications. Values
// outside the set are coerced to ViolationOther, never dropped.
type ViolationCategory string

const (
	ViolationFraud              ViolationCategory = "fraud"
	ViolationRegistration       ViolationCategory = "registration"
	ViolationReporting          ViolationCategory = "reporting"
	ViolationInsiderTrading     ViolationCategory = "insider_trading"
	ViolationMarketManipulation ViolationCategory = "market_manipulation"
	ViolationBrokerDealer       ViolationCategory = "broker_dealer"
	ViolationInvestmentAdviser  ViolationCategory = "investment_adviser"
	ViolationOffering           ViolationCategory = "offering"
	ViolationBooksAndRecords    ViolationCategory = "books_and_records"
	ViolationOther              ViolationCategory = "other"
)

// KnownActionTypes lists the valid action types.
var KnownActionTypes = map[ActionType]bool{
	ActionAdministrative: true,
	ActionCivil:          true,
	ActionCriminal:       true,
	ActionOther:          true,
}

// KnownRespondentTypes lists the valid respondent types.
var KnownRespondentTypes = map[RespondentType]bool{
	RespondentIndividual: true,
	RespondentCompany:    true,
	RespondentOther:      true,
}

// KnownViolationCategories lists the valid violation categories.
var KnownViolationCategories = map[ViolationCategory]bool{
	ViolationFraud:              true,
	ViolationRegistration:       true,
	ViolationReporting:          true,
	ViolationInsiderTrading:     true,
	ViolationMarketManipulation: true,
	ViolationBrokerDealer:       true,
	ViolationInvestmentAdviser:  true,
	ViolationOffering:           true,
	ViolationBooksAndRecords:    true,
	ViolationOther:              true,
}

// Respondent is a party charged in an enforcement action.
type Respondent struct {
	Name     string         `json:"name"`
	Type     RespondentType `json:"type,omitempty"`
	Location string         `json:"location,omitempty"`
}

// EnforcementAction is one structured proceeding extracted from a digest.
// VerbatimExcerpt is the traceability contract: it must be a contiguous
// substring of the document's canonical text, or ExcerptVerified is false.
type EnforcementAction struct {
	ActionType      ActionType          `json:"action_type"`
	Title           string              `json:"title,omitempty"`
	Respondents     []Respondent        `json:"respondents,omitempty"`
	Violations      []ViolationCategory `json:"violations,omitempty"`
	AuditorName     string              `json:"auditor_name,omitempty"`
	AuditFirm       string              `json:"audit_firm,omitempty"`
	PenaltyUSD      *float64            `json:"penalty_usd,omitempty"`
	Settled         bool                `json:"settled"`
	Description     string              `json:"description,omitempty"`
	VerbatimExcerpt string              `json:"verbatim_excerpt"`
	ExcerptVerified bool                `json:"excerpt_verified"`
}

// TradingSuspension is one trading-suspension notice extracted from a digest.
type TradingSuspension struct {
	Issuer          string `json:"issuer"`
	Reason          string `json:"reason,omitempty"`
	VerbatimExcerpt string `json:"verbatim_excerpt,omitempty"`
	ExcerptVerified bool   `json:"excerpt_verified"`
}

// TokenUsage tallies extraction-service token consumption for a document.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates usage from another measurement.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// ExtractionArtifact is the validated per-document extraction output,
// persisted as JSON immediately after each document completes so a mid-run
// crash loses at most one in-flight document.
type ExtractionArtifact struct {
	DocumentID      string              `json:"document_id"`
	DigestDate      time.Time           `json:"digest_date"`
	Actions         []EnforcementAction `json:"actions"`
	Suspensions     []TradingSuspension `json:"suspensions,omitempty"`
	ResidualItems   []string            `json:"residual_items,omitempty"`
	ExtractionNotes string              `json:"extraction_notes,omitempty"`
	Usage           TokenUsage          `json:"usage"`
	ExtractedAt     time.Time           `json:"extracted_at"`
}
