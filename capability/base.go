// Package capability contains the built-in domain capabilities the dispatcher
// routes questions to: graph (text-to-Cypher against the knowledge graph),
// literature (semantic search over publication abstracts), template
// (canonical parameterized queries) and format (the final analysis/formatting
// step). Each treats the graph database and the LLM backend as opaque
// external services and reports its structured queries both in its
// AgentResult and on the shared turn ledger.
package capability

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/glkbio/kgplanner/core"
)

// Base bundles the identity helpers shared by all capability
// implementations. Embed it and supply Invoke to satisfy core.Capability.
type Base struct {
	name        string
	description string
}

// NewBase constructs a Base with the given identity.
func NewBase(name, description string) Base {
	return Base{name: name, description: description}
}

// Name returns the capability's registered name.
func (b *Base) Name() string { return b.name }

// Description returns a human-readable summary of the capability's domain.
func (b *Base) Description() string { return b.description }

// extractJSON strips markdown code fences and surrounding prose from model
// output, returning the first JSON object or array found. Models wrap JSON
// inconsistently; gjson validation keeps the parse tolerant.
func extractJSON(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if fenced := stripFence(text); fenced != "" {
		text = fenced
	}
	for _, open := range []byte{'{', '['} {
		start := strings.IndexByte(text, open)
		if start < 0 {
			continue
		}
		end := strings.LastIndexByte(text, matching(open))
		if end <= start {
			continue
		}
		candidate := text[start : end+1]
		if gjson.Valid(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func stripFence(text string) string {
	start := strings.Index(text, "```")
	if start < 0 {
		return ""
	}
	rest := text[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(rest[:end])
}

func matching(open byte) byte {
	if open == '{' {
		return '}'
	}
	return ']'
}

// fragmentOrFailure normalizes a capability outcome: non-empty fragments are
// truncated and returned with the given status, empty ones become a partial
// result with a placeholder so synthesis never sees a silent blank.
func fragmentOrFailure(fragment string, queries []core.StructuredQuery, status core.AgentStatus) core.AgentResult {
	if queries == nil {
		queries = []core.StructuredQuery{}
	}
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return core.AgentResult{
			AnswerFragment: "(no content produced)",
			Queries:        queries,
			Status:         core.StatusPartial,
		}
	}
	return core.AgentResult{
		AnswerFragment: core.TruncateFragment(fragment),
		Queries:        queries,
		Status:         status,
	}
}
