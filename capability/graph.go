package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/model"
)

// GraphExecutor runs a Cypher query against the biomedical knowledge graph
// and returns a textual rendering of the result rows. The graph database is
// an opaque external collaborator; implementations own their connection
// lifecycle and must release connections on every exit path.
type GraphExecutor interface {
	Run(ctx context.Context, cypher string) (string, error)
}

const graphInstructions = `You translate biomedical questions into Cypher queries for a knowledge
graph of genes, diseases, variants and effector-gene evidence.
Respond with a single JSON object:
{"queries": [{"cypher": "...", "rationale": "..."}], "summary": "..."}
Generate only queries the question actually needs. The summary states, in
plain language, what the queries retrieve. Do not invent data.`

// Graph is the disease/effector-gene domain capability. It asks the model to
// translate the question into Cypher, appends every generated query to the
// turn ledger, optionally executes them, and returns a summary fragment.
type Graph struct {
	Base
	model    model.Model
	executor GraphExecutor
}

// GraphOptions configure the graph capability.
type GraphOptions struct {
	// Executor runs generated queries. When nil, queries are recorded but not
	// executed and are assumed to bear data.
	Executor GraphExecutor
}

// NewGraph constructs the graph capability.
func NewGraph(m model.Model, optFns ...func(o *GraphOptions)) *Graph {
	var opts GraphOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Graph{
		Base:     NewBase("graph", "Translates questions into Cypher queries over the gene/disease knowledge graph"),
		model:    m,
		executor: opts.Executor,
	}
}

// Invoke implements core.Capability.
func (g *Graph) Invoke(inv *core.Invocation) (core.AgentResult, error) {
	resp, err := g.model.Complete(inv.Context, model.Request{
		Instructions: graphInstructions,
		Messages:     []model.Message{model.UserMessage(inv.Question)},
	})
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("graph model call failed: %w", err)
	}

	raw, ok := extractJSON(resp.Text)
	if !ok {
		// Model answered in prose; usable as a fragment but no queries.
		return fragmentOrFailure(resp.Text, nil, core.StatusPartial), nil
	}

	summary := gjson.Get(raw, "summary").String()
	var queries []core.StructuredQuery
	var execNotes []string
	status := core.StatusOK

	for _, q := range gjson.Get(raw, "queries").Array() {
		cypher := strings.TrimSpace(q.Get("cypher").String())
		if cypher == "" {
			continue
		}
		rationale := q.Get("rationale").String()

		returnedData := true
		if g.executor != nil {
			rows, execErr := g.executor.Run(inv.Context, cypher)
			if execErr != nil {
				inv.Logger().Warn("cypher execution failed", "error", execErr)
				execNotes = append(execNotes, fmt.Sprintf("query failed: %v", execErr))
				returnedData = false
				status = core.StatusPartial
			} else if strings.TrimSpace(rows) == "" {
				returnedData = false
			} else {
				execNotes = append(execNotes, core.TruncateFragment(rows))
			}
		}

		stored, appendErr := inv.AppendQuery(cypher, rationale, returnedData)
		if appendErr != nil {
			return core.AgentResult{}, appendErr
		}
		queries = append(queries, stored)
	}

	fragment := summary
	if len(execNotes) > 0 {
		fragment = summary + "\n\n" + strings.Join(execNotes, "\n")
	}
	return fragmentOrFailure(fragment, queries, status), nil
}
