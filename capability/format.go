package capability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/model"
)

const formatInstructions = `You present the final answer to a biomedical question. You receive the
question, the graph queries that produced data, and draft answer fragments
from specialist agents. Compose one coherent, well-formatted answer from the
fragments. Keep every factual claim from the fragments; add nothing new.`

// Format is the analysis/formatting capability. It runs in a later dependency
// stage than the query-generating capabilities: its input is the fragments
// those produced plus the data-bearing queries recorded so far. Its fragment
// becomes the leading material during synthesis.
type Format struct {
	Base
	model model.Model
}

// NewFormat constructs the format capability.
func NewFormat(m model.Model) *Format {
	return &Format{
		Base:  NewBase("format", "Composes and formats the final answer from specialist fragments"),
		model: m,
	}
}

// Invoke implements core.Capability.
func (f *Format) Invoke(inv *core.Invocation) (core.AgentResult, error) {
	fragments := inv.Fragments()
	if len(fragments) == 0 {
		// Earlier stages produced nothing to compose; reporting success here
		// would mask a turn where every specialist failed.
		return core.FailedResult("no specialist fragments to format"), nil
	}

	queries := make([]string, 0)
	for _, q := range inv.DataQueries() {
		queries = append(queries, q.Query)
	}
	encoded, err := json.Marshal(queries)
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("failed to encode queries: %w", err)
	}

	// Stable fragment order keeps the prompt deterministic across runs.
	names := make([]string, 0, len(fragments))
	for name := range fragments {
		names = append(names, name)
	}
	sort.Strings(names)
	var drafts strings.Builder
	for _, name := range names {
		fmt.Fprintf(&drafts, "[%s]\n%s\n\n", name, fragments[name])
	}

	prompt := fmt.Sprintf("Human Query: %s\n\nCypher Queries: %s\n\nFinal Answer: %s",
		inv.Question, encoded, core.TruncateFragment(drafts.String()))
	resp, err := f.model.Complete(inv.Context, model.Request{
		Instructions: formatInstructions,
		Messages:     []model.Message{model.UserMessage(prompt)},
	})
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("format model call failed: %w", err)
	}

	return fragmentOrFailure(strings.TrimSpace(resp.Text), nil, core.StatusOK), nil
}
