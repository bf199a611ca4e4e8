package core

import (
	"strings"

	"github.com/google/uuid"
)

// MaxFragmentLen caps the length of a single answer fragment carried into
// synthesis. Longer fragments are truncated.
const MaxFragmentLen = 15000

// maxDiagnosticLen caps diagnostic error text; longer messages keep their
// head and tail with the middle elided.
const maxDiagnosticLen = 2000

// AgentStatus classifies the outcome of a single capability invocation.
type AgentStatus string

const (
	// StatusOK marks a fully successful invocation.
	StatusOK AgentStatus = "ok"
	// StatusPartial marks an invocation that produced usable output despite
	// internal degradation (e.g. one of several sub-queries failed).
	StatusPartial AgentStatus = "partial"
	// StatusFailed marks an invocation whose output must be excluded from
	// synthesis. Failed results carry a diagnostic fragment and no queries.
	StatusFailed AgentStatus = "failed"
)

// StructuredQuery is one machine-executable graph query generated during a
// turn. Agent and Seq identify the originating capability and its local
// emission order; Position is the global arrival order assigned by the
// ledger. Immutable once appended.
type StructuredQuery struct {
	Agent        string `json:"agent"`
	Seq          int    `json:"seq"`
	Position     int    `json:"position"`
	Query        string `json:"query"`
	Rationale    string `json:"rationale,omitempty"`
	ReturnedData bool   `json:"returned_data"`
}

// AgentResult is the outcome of a single capability invocation: a
// natural-language answer fragment plus the structured queries the capability
// generated. Consumed only by the dispatcher.
type AgentResult struct {
	AnswerFragment string            `json:"answer_fragment"`
	Queries        []StructuredQuery `json:"queries"`
	Status         AgentStatus       `json:"status"`
}

// FailedResult builds the AgentResult for a contained capability failure:
// empty query list, diagnostic fragment, StatusFailed.
func FailedResult(diagnostic string) AgentResult {
	return AgentResult{
		AnswerFragment: TruncateDiagnostic(diagnostic),
		Queries:        []StructuredQuery{},
		Status:         StatusFailed,
	}
}

// RelevanceScore is the ranker's verdict for one ledger entry. Ranks are a
// contiguous permutation of 1..N over the frozen snapshot.
type RelevanceScore struct {
	Query         StructuredQuery `json:"query"`
	Score         float64         `json:"score"`
	Rank          int             `json:"rank"`
	Justification string          `json:"justification"`
}

// TurnResult is the immutable outcome of one turn: the synthesized answer and
// every generated query in relevance order. The ledger backing RankedQueries
// is discarded once the TurnResult is assembled.
type TurnResult struct {
	TurnID        string           `json:"turn_id"`
	FinalAnswer   string           `json:"final_answer"`
	RankedQueries []RelevanceScore `json:"ranked_queries"`
}

// NewID generates a unique identifier for turns and invocations.
func NewID() string { return uuid.NewString() }

// NormalizeQuestion trims the question and substitutes a placeholder for
// empty input so downstream prompts never see a blank user turn.
func NormalizeQuestion(question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return "<empty>"
	}
	return question
}

// TruncateFragment caps an answer fragment at MaxFragmentLen.
func TruncateFragment(s string) string {
	if len(s) <= MaxFragmentLen {
		return s
	}
	return s[:MaxFragmentLen]
}

// TruncateDiagnostic shortens oversized error text, keeping the head and tail
// so both the failure site and the root cause survive.
func TruncateDiagnostic(s string) string {
	if len(s) <= maxDiagnosticLen {
		return s
	}
	half := maxDiagnosticLen / 2
	return s[:half] + "  ... middle hidden due to length limit ...  " + s[len(s)-half:]
}
