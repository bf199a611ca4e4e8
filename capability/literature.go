package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/model"
)

// Document is one publication abstract returned by semantic search.
type Document struct {
	Title    string  `json:"title"`
	Abstract string  `json:"abstract"`
	PubmedID string  `json:"pubmedid"`
	Score    float64 `json:"score"`
}

// Searcher performs semantic similarity search over publication abstracts.
// The backing store (vector index, remote search API) is an opaque external
// collaborator.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Document, error)
}

const literatureInstructions = `You summarize biomedical literature search results. Given a question and
retrieved abstracts, write a concise evidence summary citing PubMed IDs.
Only use the retrieved abstracts; say so if they do not answer the question.`

// defaultSearchLimit matches the upstream abstract search page size.
const defaultSearchLimit = 10

// Literature is the literature/document-domain capability. It retrieves
// abstracts via semantic search and summarizes them with the model. It emits
// no structured graph queries; its contribution is the evidence fragment.
type Literature struct {
	Base
	model    model.Model
	searcher Searcher
	limit    int
}

// LiteratureOptions configure the literature capability.
type LiteratureOptions struct {
	// Limit caps the number of retrieved abstracts per question.
	Limit int
}

// NewLiterature constructs the literature capability. searcher is required.
func NewLiterature(m model.Model, searcher Searcher, optFns ...func(o *LiteratureOptions)) *Literature {
	opts := LiteratureOptions{Limit: defaultSearchLimit}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Literature{
		Base:     NewBase("literature", "Semantic search and summarization over biomedical publication abstracts"),
		model:    m,
		searcher: searcher,
		limit:    opts.Limit,
	}
}

// Invoke implements core.Capability.
func (l *Literature) Invoke(inv *core.Invocation) (core.AgentResult, error) {
	if l.searcher == nil {
		return core.AgentResult{}, fmt.Errorf("literature searcher not configured")
	}

	docs, err := l.searcher.Search(inv.Context, inv.Question, l.limit)
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("abstract search failed: %w", err)
	}
	if len(docs) == 0 {
		return core.AgentResult{
			AnswerFragment: "No relevant publications found.",
			Queries:        []core.StructuredQuery{},
			Status:         core.StatusPartial,
		}, nil
	}

	payload, err := json.Marshal(docs)
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("failed to encode search results: %w", err)
	}

	prompt := fmt.Sprintf("Question: %s\n\nRetrieved abstracts:\n%s",
		inv.Question, core.TruncateFragment(string(payload)))
	resp, err := l.model.Complete(inv.Context, model.Request{
		Instructions: literatureInstructions,
		Messages:     []model.Message{model.UserMessage(prompt)},
	})
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("literature model call failed: %w", err)
	}

	return fragmentOrFailure(strings.TrimSpace(resp.Text), nil, core.StatusOK), nil
}
