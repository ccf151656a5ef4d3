package extract

import "fmt"

// systemPrompt instructs the model to extract enforcement data without
// inventing anything. The digests span six decades of OCR quality, so the
// anti-hallucination rules matter more than recall.
const systemPrompt = `You are an expert legal document analyst specializing in SEC enforcement actions.

Your task is to extract structured information about enforcement actions and trading suspensions from SEC News Digest documents.

CRITICAL RULES TO PREVENT HALLUCINATION:
1. ONLY extract information that is EXPLICITLY stated in the text
2. If a field is not mentioned, leave it as null or empty - DO NOT GUESS
3. Do not infer information that is not directly stated
4. If the OCR quality is poor and you cannot read something clearly, note it in extraction_notes
5. Copy exact text for names, case numbers, and legal citations
6. verbatim_excerpt must be copied character for character from the document, with no paraphrasing
7. If you are uncertain about any information, DO NOT include it

Focus on these sections:
- ADMINISTRATIVE PROCEEDINGS
- CIVIL PROCEEDINGS
- CRIMINAL PROCEEDINGS
- TRADING SUSPENSIONS

Extract ONLY information from these sections. Ignore other sections like "Investment Company Act Releases", "Securities Act Registrations", etc. Enforcement-like items that do not fit the schema go in residual_items as verbatim text.`

// userPromptTemplate asks for the exact JSON shape the validator expects.
const userPromptTemplate = `Extract all enforcement actions and trading suspensions from this SEC News Digest document.

Document content:
%s

Return a JSON object with this structure:
{
  "actions": [
    {
      "action_type": "administrative" | "civil" | "criminal",
      "title": "Title from the document or null",
      "respondents": [
        {
          "name": "Full name",
          "type": "individual" | "company" | "other",
          "location": "Location if mentioned or null"
        }
      ],
      "violations": ["fraud" | "registration" | "reporting" | "insider_trading" | "market_manipulation" | "broker_dealer" | "investment_adviser" | "offering" | "books_and_records" | "other"],
      "auditor_name": "Auditor named in the action or null",
      "audit_firm": "Audit firm named in the action or null",
      "penalty_usd": 50000.0,
      "settled": true | false,
      "description": "Short factual summary",
      "verbatim_excerpt": "Exact contiguous text of this item copied from the document"
    }
  ],
  "suspensions": [
    {
      "issuer": "Issuer whose securities were suspended",
      "reason": "Stated reason or null",
      "verbatim_excerpt": "Exact contiguous text copied from the document"
    }
  ],
  "residual_items": ["Verbatim text of enforcement-like items that do not fit the schema"],
  "extraction_notes": "Any notes about quality issues or null"
}

Remember:
- Only extract what is explicitly stated
- If information is missing, use null
- penalty_usd is a number, not a string, and only when a dollar amount is stated
- Copy verbatim_excerpt exactly from the document
- Be precise with names and legal citations`

func buildUserPrompt(text string) string {
	return fmt.Sprintf(userPromptTemplate, text)
}
