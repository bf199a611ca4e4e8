package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/glkbio/kgplanner/model"
)

// RouteInfo is the classifier's view of one route: identity plus declared
// domain, without the capability implementation.
type RouteInfo struct {
	Name        string
	Description string
	Keywords    []string
}

// Classifier scores how plausibly each capability's domain matches the
// question. Scores are in [0,1]; missing entries count as zero. Treated as an
// opaque, potentially unreliable external service: on error the dispatcher
// falls back to keyword matching alone.
type Classifier interface {
	Classify(ctx context.Context, question string, routes []RouteInfo) (map[string]float64, error)
}

const classifierInstructions = `You route biomedical questions to specialist agents. Given a question and
the agent list, score each agent's relevance between 0 and 1. Respond with a
single JSON object: {"scores": {"<agent>": <score>, ...}}. When unsure,
score higher rather than lower; invoking an extra agent is cheap.`

// ModelClassifier scores routes with an LLM call.
type ModelClassifier struct {
	model model.Model
}

// NewModelClassifier constructs a model-backed classifier.
func NewModelClassifier(m model.Model) *ModelClassifier {
	return &ModelClassifier{model: m}
}

// Classify implements Classifier.
func (c *ModelClassifier) Classify(ctx context.Context, question string, routes []RouteInfo) (map[string]float64, error) {
	var catalog strings.Builder
	for _, r := range routes {
		fmt.Fprintf(&catalog, "- %s: %s (domain terms: %s)\n", r.Name, r.Description, strings.Join(r.Keywords, ", "))
	}
	prompt := fmt.Sprintf("Question: %s\n\nAgents:\n%s", question, catalog.String())

	resp, err := c.model.Complete(ctx, model.Request{
		Instructions: classifierInstructions,
		Messages:     []model.Message{model.UserMessage(prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("classifier model call failed: %w", err)
	}

	raw := resp.Text
	if !gjson.Valid(raw) {
		if start := strings.IndexByte(raw, '{'); start >= 0 {
			if end := strings.LastIndexByte(raw, '}'); end > start {
				raw = raw[start : end+1]
			}
		}
		if !gjson.Valid(raw) {
			return nil, fmt.Errorf("classifier returned non-JSON output")
		}
	}

	scores := make(map[string]float64, len(routes))
	gjson.Get(raw, "scores").ForEach(func(key, value gjson.Result) bool {
		scores[key.String()] = clamp01(value.Float())
		return true
	})
	return scores, nil
}

// keywordHits counts declared domain terms present in the question.
func keywordHits(question string, keywords []string) int {
	q := strings.ToLower(question)
	hits := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
			hits++
		}
	}
	return hits
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
