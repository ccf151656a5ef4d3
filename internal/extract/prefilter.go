package extract

import "regexp"

// Fuzzy section-heading patterns tolerant of the OCR substitutions seen in
// the scanned era: I/1/L/|, S/5/Z, O/0/Q and broken spacing.
var prefilterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ADM[I1L|!]N[I1L|!][S5Z]TRAT[I1L|!][VY]E\s+PR[O0Q][C(]EED[I1L|!]NG[S5Z]?`),
	regexp.MustCompile(`(?i)C[I1L|!][VY][I1L|!]L\s+PR[O0Q][C(]EED[I1L|!]NG[S5Z]?`),
	regexp.MustCompile(`(?i)CR[I1L|!]M[I1L|!]NAL\s+PR[O0Q][C(]EED[I1L|!]NG[S5Z]?`),
	regexp.MustCompile(`(?i)TRAD[I1L|!]NG\s+[S5Z]U[S5Z]PEN[S5Z][I1L|!]ON[S5Z]?`),
	regexp.MustCompile(`(?i)ENF[O0Q]RCEMENT\s+PR[O0Q][C(]EED[I1L|!]NG[S5Z]?`),
	// Looser fallbacks for headings OCR mangled beyond the letter classes.
	regexp.MustCompile(`(?i)ADM[I1L|!]N.{0,20}?PROCEED`),
	regexp.MustCompile(`(?i)C[I1L|!]V[I1L|!]L.{0,20}?PROCEED`),
	regexp.MustCompile(`(?i)CR[I1L|!]M.{0,20}?PROCEED`),
}

// HasEnforcementContent reports whether the text contains an enforcement or
// trading-suspension section heading, returning a little context around each
// match. A miss means the document skips the extraction service entirely.
func HasEnforcementContent(text string) (bool, []string) {
	var matched []string
	for _, re := range prefilterPatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			start := loc[0] - 50
			if start < 0 {
				start = 0
			}
			end := loc[1] + 50
			if end > len(text) {
				end = len(text)
			}
			matched = append(matched, text[start:end])
		}
	}
	return len(matched) > 0, matched
}
