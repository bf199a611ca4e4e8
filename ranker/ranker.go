// Package ranker scores and orders the frozen ledger snapshot against the
// original question and the final answer. The underlying judge is a noisy
// external service, so the ranker layers deterministic local signals and a
// fixed tie-break on top: given the same snapshot, question and answer, the
// produced rank permutation is the same on every invocation.
package ranker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/logging"
)

// Score weighting: the judge's quantized band dominates, with lexical
// relevance to the question and coverage in the final answer refining it.
const (
	judgeWeight    = 0.5
	lexicalWeight  = 0.3
	coverageWeight = 0.2

	// bandWidth quantizes judge scores so ordinary scorer jitter cannot flip
	// an ordering; only the deterministic local signals order within a band.
	bandWidth = 0.25

	// redundancyPenalty pushes a fully-covered query strictly below the
	// query covering it.
	redundancyPenalty = 0.01
)

// Options configure the Ranker.
type Options struct {
	// Judge scores queries against the question and answer. Optional; without
	// one, ranking uses the deterministic local signals alone.
	Judge Judge
	// Logger receives ranking diagnostics.
	Logger logging.Logger
}

// Ranker produces a total order over a frozen ledger snapshot.
type Ranker struct {
	judge  Judge
	logger *logging.TurnLogger
}

// New constructs a Ranker.
func New(optFns ...func(o *Options)) *Ranker {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Ranker{
		judge:  opts.Judge,
		logger: logging.NewTurnLogger(opts.Logger).WithComponent("ranker"),
	}
}

type candidate struct {
	query     core.StructuredQuery
	tokens    map[string]bool
	score     float64
	degraded  bool
	penalized bool
	notes     []string
}

// Rank scores every snapshot entry and returns a contiguous 1..N rank
// permutation. Entries the judge could not score land in the lowest rank
// band with a flagged justification; none are ever dropped, so the result
// length always equals the snapshot length.
func (r *Ranker) Rank(ctx context.Context, question string, snapshot []core.StructuredQuery, finalAnswer string) []core.RelevanceScore {
	if len(snapshot) == 0 {
		return []core.RelevanceScore{}
	}

	judgeScores := r.consultJudge(ctx, question, snapshot, finalAnswer)

	questionTokens := tokenize(question)
	answerTokens := tokenize(finalAnswer)

	cands := make([]candidate, len(snapshot))
	for i, q := range snapshot {
		tokens := tokenize(q.Query)
		lexical := overlap(tokens, questionTokens)
		coverage := overlap(tokens, answerTokens)

		c := candidate{query: q, tokens: tokens}
		js := judgeScores[i]
		if js.Failed {
			c.degraded = true
			c.score = lexicalWeight*lexical + coverageWeight*coverage
			c.notes = append(c.notes, "judge unavailable, assigned lowest rank band")
		} else {
			band := quantize(js.Score)
			c.score = judgeWeight*band + lexicalWeight*lexical + coverageWeight*coverage
			if js.Justification != "" {
				c.notes = append(c.notes, js.Justification)
			}
		}
		c.notes = append(c.notes, fmt.Sprintf("lexical=%.2f coverage=%.2f", lexical, coverage))
		cands[i] = c
	}

	applyRedundancyPenalty(cands)
	sortCandidates(cands)

	out := make([]core.RelevanceScore, len(cands))
	for i, c := range cands {
		out[i] = core.RelevanceScore{
			Query:         c.query,
			Score:         c.score,
			Rank:          i + 1,
			Justification: strings.Join(c.notes, "; "),
		}
	}
	return out
}

// consultJudge obtains per-query judge scores. A whole-call failure maps to
// per-query degradation so ranking always completes; with no judge configured
// the band is simply zero and the local signals order everything.
func (r *Ranker) consultJudge(ctx context.Context, question string, snapshot []core.StructuredQuery, finalAnswer string) []JudgeScore {
	if r.judge == nil {
		neutral := make([]JudgeScore, len(snapshot))
		for i, q := range snapshot {
			neutral[i] = JudgeScore{Position: q.Position}
		}
		return neutral
	}

	scores, err := r.judge.Score(ctx, question, snapshot, finalAnswer)
	if err == nil && len(scores) == len(snapshot) {
		return scores
	}
	if err != nil {
		r.logger.Warn("judge unavailable, ranking degraded", "error", err)
	} else {
		r.logger.Warn("judge returned wrong score count, ranking degraded",
			"want", len(snapshot), "got", len(scores))
	}
	degraded := make([]JudgeScore, len(snapshot))
	for i, q := range snapshot {
		degraded[i] = JudgeScore{Position: q.Position, Failed: true}
	}
	return degraded
}

// applyRedundancyPenalty forces any query whose informational tokens are a
// strict subset of another query's to score strictly below that query.
// Identical token sets are left to the insertion-order tie-break. Penalties
// flow from larger token sets to strictly smaller ones, so iterating to a
// fixpoint terminates.
func applyRedundancyPenalty(cands []candidate) {
	for pass := 0; pass < len(cands); pass++ {
		changed := false
		for i := range cands {
			covered := &cands[i]
			if len(covered.tokens) == 0 {
				continue
			}
			for j := range cands {
				if i == j {
					continue
				}
				covering := &cands[j]
				if covering.degraded && !covered.degraded {
					// A degraded query ranks in the lowest band regardless;
					// it cannot cover a scored one.
					continue
				}
				if len(covered.tokens) >= len(covering.tokens) || !subset(covered.tokens, covering.tokens) {
					continue
				}
				if covered.score >= covering.score {
					covered.score = covering.score - redundancyPenalty
					if !covered.penalized {
						covered.penalized = true
						covered.notes = append(covered.notes, fmt.Sprintf("redundant with query at position %d", covering.query.Position))
					}
					changed = true
				}
			}
		}
		if !changed {
			break
		}
	}
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(a, b int) bool {
		return moreRelevant(cands[a], cands[b])
	})
}

// moreRelevant is the total order: scored entries before degraded ones, then
// score descending, then earlier ledger insertion wins. Insertion order also
// realizes reasoning precedence: a prerequisite query tied with a dependent
// later query ranks above it.
func moreRelevant(a, b candidate) bool {
	if a.degraded != b.degraded {
		return !a.degraded
	}
	if a.score != b.score {
		return a.score > b.score
	}
	return a.query.Position < b.query.Position
}

func quantize(score float64) float64 {
	band := float64(int(score/bandWidth)) * bandWidth
	if band > 1 {
		band = 1
	}
	return band
}

// cypherNoise lists query-language keywords excluded from token comparison so
// relevance reflects informational content, not Cypher syntax.
var cypherNoise = map[string]bool{
	"match": true, "return": true, "where": true, "order": true, "by": true,
	"limit": true, "with": true, "as": true, "desc": true, "asc": true,
	"and": true, "or": true, "not": true, "the": true, "of": true, "a": true,
	"in": true, "is": true, "are": true, "what": true, "which": true,
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		t := cur.String()
		cur.Reset()
		if !cypherNoise[t] {
			tokens[t] = true
		}
	}
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// overlap returns the fraction of a's tokens present in b.
func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return float64(n) / float64(len(a))
}

func subset(a, b map[string]bool) bool {
	if len(a) == 0 || len(a) > len(b) {
		return false
	}
	for t := range a {
		if !b[t] {
			return false
		}
	}
	return true
}
