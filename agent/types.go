package agent

import (
	"fmt"
)

// Verdict is the agent's three-way call on a statement. Anything else
// coming off the wire is a scoring failure, never a crash.
type Verdict string

const (
	VerdictCorroborates Verdict = "corroborates"
	VerdictRefutes      Verdict = "refutes"
	VerdictNeutral      Verdict = "neutral"
)

func (v Verdict) Valid() bool {
	switch v {
	case VerdictCorroborates, VerdictRefutes, VerdictNeutral:
		return true
	}
	return false
}

// VerifyRequest is the harness -> agent contract for one statement.
type VerifyRequest struct {
	Statement      string `json:"statement"`
	StatementID    string `json:"statement_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type EvidenceItem struct {
	SourceURL          string  `json:"source_url"`
	ExtractedText      string  `json:"extracted_text"`
	RelevanceScore     float64 `json:"relevance_score"`
	CorroborationScore float64 `json:"corroboration_score"`
	TimestampRetrieved string  `json:"timestamp_retrieved"`
}

type ResponseMetadata struct {
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	SearchQueriesUsed     int     `json:"search_queries_used"`
	LLMTokensUsed         int     `json:"llm_tokens_used"`
}

// VerifyResponse is the agent's answer. Validate enforces the schema
// before anything downstream trusts the fields.
type VerifyResponse struct {
	StatementID      string           `json:"statement_id"`
	OverallScore     float64          `json:"overall_score"`
	OverallVerdict   Verdict          `json:"overall_verdict"`
	Reasoning        string           `json:"reasoning"`
	Evidence         []EvidenceItem   `json:"evidence"`
	ResponseMetadata ResponseMetadata `json:"response_metadata"`
}

// Validate checks the response against the contract: the statement id
// must echo the request, the verdict must be in the enumeration, the
// score in [0, 1] and the evidence list within 1 to 10 items.
func (r *VerifyResponse) Validate(statementID string) error {
	if r.StatementID != statementID {
		return fmt.Errorf("statement id mismatch: sent %q, got %q", statementID, r.StatementID)
	}
	if !r.OverallVerdict.Valid() {
		return fmt.Errorf("unrecognized verdict %q", r.OverallVerdict)
	}
	if r.OverallScore < 0 || r.OverallScore > 1 {
		return fmt.Errorf("overall score %f outside [0, 1]", r.OverallScore)
	}
	if len(r.Evidence) < 1 || len(r.Evidence) > 10 {
		return fmt.Errorf("evidence list has %d items, want 1 to 10", len(r.Evidence))
	}
	return nil
}

type healthResponse struct {
	Status string `json:"status"`
}
