package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/sec-digest-cli/internal/model"
)

// validateExtraction coerces a raw service response into the artifact types.
// Schema deviations never drop an item: unknown enum values coerce to
// "other", out-of-range penalties are cleared, and every coercion leaves a
// note so downstream consumers can see what was adjusted. Excerpts are
// checked against the canonical text; a non-substring excerpt is kept but
// flagged unverified.
func validateExtraction(raw *rawExtraction, canonicalText string) ([]model.EnforcementAction, []model.TradingSuspension, []string) {
	var notes []string

	actions := make([]model.EnforcementAction, 0, len(raw.Actions))
	for i, ra := range raw.Actions {
		action := model.EnforcementAction{
			Title:           ra.Title,
			AuditorName:     ra.AuditorName,
			AuditFirm:       ra.AuditFirm,
			Settled:         ra.Settled,
			Description:     ra.Description,
			VerbatimExcerpt: ra.VerbatimExcerpt,
		}

		action.ActionType = model.ActionType(strings.ToLower(strings.TrimSpace(ra.ActionType)))
		if !model.KnownActionTypes[action.ActionType] {
			notes = append(notes, fmt.Sprintf("action %d: unknown action_type %q coerced to other", i, ra.ActionType))
			action.ActionType = model.ActionOther
		}

		for _, rr := range ra.Respondents {
			if strings.TrimSpace(rr.Name) == "" {
				notes = append(notes, fmt.Sprintf("action %d: dropped respondent with empty name", i))
				continue
			}
			resp := model.Respondent{Name: rr.Name, Location: rr.Location}
			resp.Type = model.RespondentType(strings.ToLower(strings.TrimSpace(rr.Type)))
			if rr.Type != "" && !model.KnownRespondentTypes[resp.Type] {
				notes = append(notes, fmt.Sprintf("action %d: unknown respondent type %q coerced to other", i, rr.Type))
				resp.Type = model.RespondentOther
			}
			action.Respondents = append(action.Respondents, resp)
		}

		for _, v := range ra.Violations {
			cat := model.ViolationCategory(strings.ToLower(strings.TrimSpace(v)))
			if !model.KnownViolationCategories[cat] {
				notes = append(notes, fmt.Sprintf("action %d: unknown violation %q coerced to other", i, v))
				cat = model.ViolationOther
			}
			action.Violations = append(action.Violations, cat)
		}

		if ra.PenaltyUSD != nil {
			if *ra.PenaltyUSD < 0 {
				notes = append(notes, fmt.Sprintf("action %d: negative penalty %.2f cleared", i, *ra.PenaltyUSD))
			} else {
				p := *ra.PenaltyUSD
				action.PenaltyUSD = &p
			}
		}

		action.ExcerptVerified = verifyExcerpt(ra.VerbatimExcerpt, canonicalText)
		if !action.ExcerptVerified {
			notes = append(notes, fmt.Sprintf("action %d: excerpt not found verbatim in document", i))
		}

		actions = append(actions, action)
	}

	suspensions := make([]model.TradingSuspension, 0, len(raw.Suspensions))
	for i, rs := range raw.Suspensions {
		if strings.TrimSpace(rs.Issuer) == "" {
			notes = append(notes, fmt.Sprintf("suspension %d: dropped entry with empty issuer", i))
			continue
		}
		susp := model.TradingSuspension{
			Issuer:          rs.Issuer,
			Reason:          rs.Reason,
			VerbatimExcerpt: rs.VerbatimExcerpt,
		}
		susp.ExcerptVerified = verifyExcerpt(rs.VerbatimExcerpt, canonicalText)
		if !susp.ExcerptVerified {
			notes = append(notes, fmt.Sprintf("suspension %d: excerpt not found verbatim in document", i))
		}
		suspensions = append(suspensions, susp)
	}

	return actions, suspensions, notes
}

// verifyExcerpt checks that the excerpt is a contiguous substring of the
// canonical text. An empty excerpt never verifies.
func verifyExcerpt(excerpt, canonicalText string) bool {
	if strings.TrimSpace(excerpt) == "" {
		return false
	}
	return strings.Contains(canonicalText, excerpt)
}
