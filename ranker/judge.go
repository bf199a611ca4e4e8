package ranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/model"
)

// JudgeScore is one query's verdict from the external judge. Failed reports
// that the judge could not score this query; the ranker then assigns the
// lowest rank band instead of dropping it.
type JudgeScore struct {
	Position      int
	Score         float64
	Justification string
	Failed        bool
}

// Judge scores each query's relevance to the question and final answer.
// Treated as an opaque, potentially unreliable external service: a returned
// error or missing per-query entry degrades ranking, never fails it.
type Judge interface {
	Score(ctx context.Context, question string, queries []core.StructuredQuery, finalAnswer string) ([]JudgeScore, error)
}

const judgeInstructions = `You assess how relevant graph queries were to answering a biomedical
question. For each query, score between 0 and 1: how directly it addresses
the question and how much its results contributed to the final answer.
Respond with a single JSON object:
{"scores": [{"position": <n>, "score": <0..1>, "justification": "..."}]}
Include every query position exactly once.`

// ModelJudge scores queries with an LLM call.
type ModelJudge struct {
	model model.Model
}

// NewModelJudge constructs a model-backed judge.
func NewModelJudge(m model.Model) *ModelJudge {
	return &ModelJudge{model: m}
}

// Score implements Judge. Queries the model omits come back with Failed set.
func (j *ModelJudge) Score(ctx context.Context, question string, queries []core.StructuredQuery, finalAnswer string) ([]JudgeScore, error) {
	if len(queries) == 0 {
		return []JudgeScore{}, nil
	}

	type promptQuery struct {
		Position  int    `json:"position"`
		Agent     string `json:"agent"`
		Query     string `json:"query"`
		Rationale string `json:"rationale,omitempty"`
	}
	pq := make([]promptQuery, len(queries))
	for i, q := range queries {
		pq[i] = promptQuery{Position: q.Position, Agent: q.Agent, Query: q.Query, Rationale: q.Rationale}
	}
	encoded, err := json.Marshal(pq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode queries for judge: %w", err)
	}

	prompt := fmt.Sprintf("Question: %s\n\nQueries: %s\n\nFinal Answer: %s",
		question, encoded, core.TruncateFragment(finalAnswer))
	resp, err := j.model.Complete(ctx, model.Request{
		Instructions: judgeInstructions,
		Messages:     []model.Message{model.UserMessage(prompt)},
	})
	if err != nil {
		return nil, fmt.Errorf("judge model call failed: %w", err)
	}

	raw := resp.Text
	if !gjson.Valid(raw) {
		if start := strings.IndexByte(raw, '{'); start >= 0 {
			if end := strings.LastIndexByte(raw, '}'); end > start {
				raw = raw[start : end+1]
			}
		}
		if !gjson.Valid(raw) {
			return nil, fmt.Errorf("judge returned non-JSON output")
		}
	}

	byPosition := make(map[int]JudgeScore, len(queries))
	gjson.Get(raw, "scores").ForEach(func(_, value gjson.Result) bool {
		pos := int(value.Get("position").Int())
		byPosition[pos] = JudgeScore{
			Position:      pos,
			Score:         clamp01(value.Get("score").Float()),
			Justification: value.Get("justification").String(),
		}
		return true
	})

	out := make([]JudgeScore, len(queries))
	for i, q := range queries {
		if s, ok := byPosition[q.Position]; ok {
			out[i] = s
			continue
		}
		out[i] = JudgeScore{Position: q.Position, Failed: true, Justification: "judge omitted this query"}
	}
	return out, nil
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
