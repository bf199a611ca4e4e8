package turn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/planner"
	"github.com/glkbio/kgplanner/ranker"
)

type stubCapability struct {
	name   string
	invoke func(inv *core.Invocation) (core.AgentResult, error)
}

func (s *stubCapability) Name() string        { return s.name }
func (s *stubCapability) Description() string { return s.name + " capability" }
func (s *stubCapability) Invoke(inv *core.Invocation) (core.AgentResult, error) {
	return s.invoke(inv)
}

func coordinatorWith(t *testing.T, routes []planner.Route, optFns ...func(o *Options)) *Coordinator {
	t.Helper()
	p := planner.New(routes, func(o *planner.Options) {
		o.CapabilityTimeout = time.Second
	})
	return New(p, ranker.New(), optFns...)
}

func TestAnswerCompletesTurn(t *testing.T) {
	graph := &stubCapability{
		name: "graph",
		invoke: func(inv *core.Invocation) (core.AgentResult, error) {
			q1, err := inv.AppendQuery("MATCH (g:Gene {symbol: 'INS'}) RETURN g", "lookup", true)
			require.NoError(t, err)
			q2, err := inv.AppendQuery("MATCH (g:Gene {symbol: 'INS'})-[:ASSOCIATED_WITH]->(d) RETURN d", "associations", true)
			require.NoError(t, err)
			return core.AgentResult{
				AnswerFragment: "INS is the insulin gene.",
				Queries:        []core.StructuredQuery{q1, q2},
				Status:         core.StatusOK,
			}, nil
		},
	}
	routes := []planner.Route{
		{Capability: graph, Keywords: []string{"gene"}, Relevance: 0.8, Stage: 0},
	}
	c := coordinatorWith(t, routes)

	res, err := c.Answer(context.Background(), "what is the gene INS?")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.NotEmpty(t, res.TurnID)
	assert.Equal(t, "INS is the insulin gene.", res.FinalAnswer)
	require.Len(t, res.RankedQueries, 2)
	for i, rs := range res.RankedQueries {
		assert.Equal(t, i+1, rs.Rank)
		assert.Equal(t, "graph", rs.Query.Agent)
	}
}

func TestAnswerTimeoutAbortsTurn(t *testing.T) {
	appendErrs := make(chan error, 1)
	slow := &stubCapability{
		name: "slow",
		invoke: func(inv *core.Invocation) (core.AgentResult, error) {
			<-inv.Done()
			// A straggler trying to report after the turn is over must be
			// rejected by the frozen ledger.
			go func() {
				time.Sleep(50 * time.Millisecond)
				_, err := inv.AppendQuery("MATCH (n) RETURN n", "too late", false)
				appendErrs <- err
			}()
			return core.AgentResult{}, inv.Err()
		},
	}
	routes := []planner.Route{
		{Capability: slow, Keywords: []string{"anything"}, Relevance: 0.5, Stage: 0},
	}
	c := coordinatorWith(t, routes, func(o *Options) {
		o.Timeout = 20 * time.Millisecond
	})

	res, err := c.Answer(context.Background(), "anything at all")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTurnAborted)
	assert.ErrorIs(t, err, ErrTurnTimeout)

	require.NotNil(t, res)
	assert.Empty(t, res.FinalAnswer)
	require.NotNil(t, res.RankedQueries, "ranked queries must be empty, never nil")
	assert.Empty(t, res.RankedQueries)

	select {
	case appendErr := <-appendErrs:
		assert.ErrorIs(t, appendErr, core.ErrLedgerClosed)
	case <-time.After(time.Second):
		t.Fatal("straggler append never observed")
	}
}

func TestAnswerTotalFailureTurn(t *testing.T) {
	broken := &stubCapability{
		name: "broken",
		invoke: func(inv *core.Invocation) (core.AgentResult, error) {
			return core.AgentResult{}, errors.New("backend unreachable")
		},
	}
	routes := []planner.Route{
		{Capability: broken, Keywords: []string{"gene"}, Relevance: 0.8, Stage: 0},
	}
	c := coordinatorWith(t, routes)

	res, err := c.Answer(context.Background(), "gene question")
	require.NoError(t, err, "a contained capability failure is not a turn fault")
	require.NotNil(t, res)

	assert.Equal(t, planner.FailureAnswer, res.FinalAnswer)
	require.NotNil(t, res.RankedQueries)
	assert.Empty(t, res.RankedQueries)
}

func TestAnswerConcurrentTurnsAreIsolated(t *testing.T) {
	echo := &stubCapability{
		name: "echo",
		invoke: func(inv *core.Invocation) (core.AgentResult, error) {
			q, err := inv.AppendQuery(
				fmt.Sprintf("MATCH (n {question: %q}) RETURN n", inv.Question),
				"echo", true)
			if err != nil {
				return core.AgentResult{}, err
			}
			return core.AgentResult{
				AnswerFragment: "answer for " + inv.Question,
				Queries:        []core.StructuredQuery{q},
				Status:         core.StatusOK,
			}, nil
		},
	}
	routes := []planner.Route{
		{Capability: echo, Relevance: 0.5, Stage: 0},
	}
	c := coordinatorWith(t, routes)

	const turns = 8
	results := make([]*core.TurnResult, turns)
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := c.Answer(context.Background(), fmt.Sprintf("question %d", i))
			if assert.NoError(t, err) {
				results[i] = res
			}
		}(i)
	}
	wg.Wait()

	ids := make(map[string]bool, turns)
	for i, res := range results {
		require.NotNil(t, res)
		assert.False(t, ids[res.TurnID], "turn IDs must be unique")
		ids[res.TurnID] = true

		question := fmt.Sprintf("question %d", i)
		require.Len(t, res.RankedQueries, 1, "a turn must only see its own ledger")
		assert.Contains(t, res.RankedQueries[0].Query.Query, question)
		assert.Equal(t, 0, res.RankedQueries[0].Query.Position)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateOpen:     "OPEN",
		StatePlanning: "PLANNING",
		StateFrozen:   "FROZEN",
		StateRanking:  "RANKING",
		StateDone:     "DONE",
		StateAborted:  "ABORTED",
		State(99):     "UNKNOWN",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
}
