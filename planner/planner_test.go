package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glkbio/kgplanner/config"
	"github.com/glkbio/kgplanner/core"
)

// stubCapability is a minimal core.Capability for dispatch tests.
type stubCapability struct {
	name   string
	invoke func(inv *core.Invocation) (core.AgentResult, error)
}

func (s *stubCapability) Name() string        { return s.name }
func (s *stubCapability) Description() string { return "stub " + s.name }
func (s *stubCapability) Invoke(inv *core.Invocation) (core.AgentResult, error) {
	return s.invoke(inv)
}

func okCapability(name string, queries int, fragment string) *stubCapability {
	return &stubCapability{name: name, invoke: func(inv *core.Invocation) (core.AgentResult, error) {
		var appended []core.StructuredQuery
		for i := 0; i < queries; i++ {
			q, err := inv.AppendQuery(fmt.Sprintf("MATCH (n) RETURN n // %s %d", name, i), "", true)
			if err != nil {
				return core.AgentResult{}, err
			}
			appended = append(appended, q)
		}
		return core.AgentResult{AnswerFragment: fragment, Queries: appended, Status: core.StatusOK}, nil
	}}
}

type stubClassifier struct {
	scores map[string]float64
	err    error
}

func (s *stubClassifier) Classify(context.Context, string, []RouteInfo) (map[string]float64, error) {
	return s.scores, s.err
}

func TestRoutesDiabetesQuestionToDiseaseCapability(t *testing.T) {
	graph := okCapability("graph", 3, "three effector gene queries")
	template := okCapability("template", 0, "no canonical template matched")

	p := New([]Route{
		{Capability: graph, Keywords: []string{"gene", "genes", "disease", "diabetes", "associated"}, Relevance: 0.8, Stage: 0},
		{Capability: template, Keywords: []string{"associated", "eqtl"}, Relevance: 0.5, Stage: 0},
	})

	ledger := core.NewLedger()
	outcome, err := p.Plan(context.Background(), "turn-1", "What genes are associated with type 1 diabetes?", ledger)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"graph", "template"}, outcome.Invoked)

	snap := ledger.Snapshot()
	require.Len(t, snap, 3)
	for _, q := range snap {
		assert.Equal(t, "graph", q.Agent)
	}
	assert.False(t, outcome.TotalFailure)
}

func TestCapabilityPanicIsContained(t *testing.T) {
	boom := &stubCapability{name: "boom", invoke: func(*core.Invocation) (core.AgentResult, error) {
		panic("unexpected nil")
	}}
	steady := okCapability("steady", 1, "still here")

	p := New([]Route{
		{Capability: boom, Keywords: nil, Relevance: 0.9, Stage: 0, AlwaysInvoke: true},
		{Capability: steady, Keywords: nil, Relevance: 0.5, Stage: 0, AlwaysInvoke: true},
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "anything", core.NewLedger())
	require.NoError(t, err)

	boomRes := outcome.Results["boom"]
	assert.Equal(t, core.StatusFailed, boomRes.Status)
	assert.Empty(t, boomRes.Queries)
	assert.Contains(t, boomRes.AnswerFragment, "panicked")

	assert.Equal(t, core.StatusOK, outcome.Results["steady"].Status)
	assert.Contains(t, outcome.FinalAnswer, "still here")
}

func TestCapabilityErrorIsContained(t *testing.T) {
	failing := &stubCapability{name: "failing", invoke: func(*core.Invocation) (core.AgentResult, error) {
		return core.AgentResult{}, errors.New("backend exploded")
	}}

	p := New([]Route{
		{Capability: failing, Relevance: 0.9, Stage: 0, AlwaysInvoke: true},
		{Capability: okCapability("steady", 0, "fine"), Relevance: 0.5, Stage: 0, AlwaysInvoke: true},
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "anything", core.NewLedger())
	require.NoError(t, err)

	res := outcome.Results["failing"]
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.AnswerFragment, "backend exploded")
	assert.False(t, outcome.TotalFailure)
}

func TestAllCapabilitiesFailingYieldsFailureAnswer(t *testing.T) {
	mkFailing := func(name string) *stubCapability {
		return &stubCapability{name: name, invoke: func(*core.Invocation) (core.AgentResult, error) {
			return core.AgentResult{}, errors.New(name + " down")
		}}
	}

	p := New([]Route{
		{Capability: mkFailing("a"), Relevance: 0.8, Stage: 0, AlwaysInvoke: true},
		{Capability: mkFailing("b"), Relevance: 0.5, Stage: 0, AlwaysInvoke: true},
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "anything", core.NewLedger())
	require.NoError(t, err)

	assert.True(t, outcome.TotalFailure)
	assert.Equal(t, FailureAnswer, outcome.FinalAnswer)
}

func TestLaterStagesSeeEarlierFragments(t *testing.T) {
	var seen string
	first := okCapability("first", 1, "alpha fragment")
	second := &stubCapability{name: "second", invoke: func(inv *core.Invocation) (core.AgentResult, error) {
		frag, _ := inv.Fragment("first")
		seen = frag
		return core.AgentResult{AnswerFragment: "composed: " + frag, Status: core.StatusOK}, nil
	}}

	p := New([]Route{
		{Capability: first, Relevance: 0.8, Stage: 0, AlwaysInvoke: true},
		{Capability: second, Relevance: 1.0, Stage: 1, AlwaysInvoke: true},
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "anything", core.NewLedger())
	require.NoError(t, err)

	assert.Equal(t, "alpha fragment", seen)
	// The synthesis-stage capability's fragment stands alone.
	assert.Equal(t, "composed: alpha fragment", outcome.FinalAnswer)
}

func TestNoKeywordMatchInvokesAllFirstStage(t *testing.T) {
	a := okCapability("a", 0, "a says hi")
	b := okCapability("b", 0, "b says hi")

	p := New([]Route{
		{Capability: a, Keywords: []string{"xylophone"}, Relevance: 0.8, Stage: 0},
		{Capability: b, Keywords: []string{"zeppelin"}, Relevance: 0.5, Stage: 0},
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "completely unrelated", core.NewLedger())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, outcome.Invoked)
}

func TestClassifierScoreSelectsRouteWithoutKeywords(t *testing.T) {
	matched := okCapability("matched", 0, "keyword route")
	scored := okCapability("scored", 0, "classifier route")
	skipped := okCapability("skipped", 0, "never")

	p := New([]Route{
		{Capability: matched, Keywords: []string{"gene"}, Relevance: 0.8, Stage: 0},
		{Capability: scored, Keywords: []string{"unrelated"}, Relevance: 0.6, Stage: 0},
		{Capability: skipped, Keywords: []string{"unrelated"}, Relevance: 0.5, Stage: 0},
	}, func(o *Options) {
		// Exactly at the threshold counts as invoke: ties favor invoking.
		o.Classifier = &stubClassifier{scores: map[string]float64{"scored": 0.5, "skipped": 0.2}}
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "What about this gene?", core.NewLedger())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"matched", "scored"}, outcome.Invoked)
}

func TestClassifierFailureFallsBackToKeywords(t *testing.T) {
	matched := okCapability("matched", 0, "keyword route")

	p := New([]Route{
		{Capability: matched, Keywords: []string{"gene"}, Relevance: 0.8, Stage: 0},
	}, func(o *Options) {
		o.Classifier = &stubClassifier{err: errors.New("classifier offline")}
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "What about this gene?", core.NewLedger())
	require.NoError(t, err)
	assert.Equal(t, []string{"matched"}, outcome.Invoked)
}

func TestSlowCapabilityTimesOutContained(t *testing.T) {
	slow := &stubCapability{name: "slow", invoke: func(inv *core.Invocation) (core.AgentResult, error) {
		<-inv.Done()
		return core.AgentResult{}, inv.Err()
	}}

	p := New([]Route{
		{Capability: slow, Relevance: 0.8, Stage: 0, AlwaysInvoke: true},
		{Capability: okCapability("fast", 1, "done"), Relevance: 0.5, Stage: 0, AlwaysInvoke: true},
	}, func(o *Options) {
		o.CapabilityTimeout = 20 * time.Millisecond
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "anything", core.NewLedger())
	require.NoError(t, err)

	res := outcome.Results["slow"]
	assert.Equal(t, core.StatusFailed, res.Status)
	assert.Contains(t, res.AnswerFragment, "timed out")
	assert.Equal(t, core.StatusOK, outcome.Results["fast"].Status)
}

func TestParentCancellationAbortsPlan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	blocking := &stubCapability{name: "blocking", invoke: func(inv *core.Invocation) (core.AgentResult, error) {
		cancel()
		<-inv.Done()
		return core.AgentResult{}, inv.Err()
	}}

	p := New([]Route{
		{Capability: blocking, Relevance: 0.8, Stage: 0, AlwaysInvoke: true},
	})

	_, err := p.Plan(ctx, "turn-1", "anything", core.NewLedger())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthesisOrdersFragmentsByDeclaredRelevance(t *testing.T) {
	low := okCapability("low", 0, "supporting detail")
	high := okCapability("high", 0, "headline finding")

	p := New([]Route{
		{Capability: low, Relevance: 0.5, Stage: 0, AlwaysInvoke: true},
		{Capability: high, Relevance: 0.9, Stage: 0, AlwaysInvoke: true},
	})

	outcome, err := p.Plan(context.Background(), "turn-1", "anything", core.NewLedger())
	require.NoError(t, err)

	headline := strings.Index(outcome.FinalAnswer, "headline finding")
	detail := strings.Index(outcome.FinalAnswer, "supporting detail")
	require.GreaterOrEqual(t, headline, 0)
	require.GreaterOrEqual(t, detail, 0)
	assert.Less(t, headline, detail)
}

func TestRoutesFromConfig(t *testing.T) {
	routing := config.Default()
	caps := map[string]core.Capability{
		"graph":      okCapability("graph", 0, ""),
		"literature": okCapability("literature", 0, ""),
		"template":   okCapability("template", 0, ""),
		"format":     okCapability("format", 0, ""),
	}

	routes, err := RoutesFromConfig(routing, caps)
	require.NoError(t, err)
	assert.Len(t, routes, 4)

	delete(caps, "format")
	_, err = RoutesFromConfig(routing, caps)
	assert.Error(t, err)
}
