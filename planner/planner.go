// Package planner implements the dispatcher: it classifies a question's
// intent against the declared capability set, invokes every plausibly
// matching capability (over-inclusive routing: a wasted invocation is cheap,
// a skipped relevant one degrades the answer), runs independent capabilities
// concurrently within declared dependency stages, and synthesizes their
// answer fragments into one final answer.
package planner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/glkbio/kgplanner/config"
	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/logging"
)

// DefaultCapabilityTimeout bounds a single capability invocation. A
// capability exceeding it is reported as a contained failure, not a turn
// fault.
const DefaultCapabilityTimeout = 100 * time.Second

// FailureAnswer is returned when every invoked capability failed. The
// dispatcher never fabricates content on total failure.
const FailureAnswer = "No answer could be produced: every invoked capability failed. See the diagnostics for details."

// classifierInvokeThreshold is the classifier score at which a route with no
// keyword hits is still invoked. Exactly at the threshold the route is
// invoked: ties favor invoking.
const classifierInvokeThreshold = 0.5

// Route binds a capability to its routing metadata.
type Route struct {
	Capability   core.Capability
	Keywords     []string
	Relevance    float64
	Stage        int
	AlwaysInvoke bool
}

// RoutesFromConfig joins a routing table with registered capability
// implementations. Every configured name must have an implementation.
func RoutesFromConfig(routing *config.Routing, caps map[string]core.Capability) ([]Route, error) {
	routes := make([]Route, 0, len(routing.Capabilities))
	for _, rc := range routing.Capabilities {
		impl, ok := caps[rc.Name]
		if !ok {
			return nil, fmt.Errorf("no capability registered for route %q", rc.Name)
		}
		routes = append(routes, Route{
			Capability:   impl,
			Keywords:     rc.Keywords,
			Relevance:    rc.Relevance,
			Stage:        rc.Stage,
			AlwaysInvoke: rc.AlwaysInvoke,
		})
	}
	return routes, nil
}

// Options configure the Planner.
type Options struct {
	// Classifier augments keyword routing with model-based intent scores.
	// Optional; keyword matching alone is the deterministic baseline.
	Classifier Classifier
	// CapabilityTimeout bounds each capability invocation.
	CapabilityTimeout time.Duration
	// Logger receives dispatch diagnostics.
	Logger logging.Logger
}

// Planner maps a question to a selection and ordering of capability
// invocations and synthesizes their results.
type Planner struct {
	routes     []Route
	classifier Classifier
	capTimeout time.Duration
	logger     *logging.TurnLogger
}

// New constructs a Planner over the given routes.
func New(routes []Route, optFns ...func(o *Options)) *Planner {
	opts := Options{
		CapabilityTimeout: DefaultCapabilityTimeout,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Planner{
		routes:     routes,
		classifier: opts.Classifier,
		capTimeout: opts.CapabilityTimeout,
		logger:     logging.NewTurnLogger(opts.Logger).WithComponent("planner"),
	}
}

// Outcome is the dispatcher's product for one turn.
type Outcome struct {
	FinalAnswer string
	// Results holds every invocation's AgentResult keyed by capability name,
	// including failed ones, for diagnostics.
	Results map[string]core.AgentResult
	// Invoked lists invoked capability names in stage order.
	Invoked []string
	// TotalFailure is set when every invoked capability failed.
	TotalFailure bool
}

// Plan routes the question, executes the selected capabilities stage by
// stage and synthesizes the final answer. Capability-level faults are
// contained; the returned error is non-nil only for turn-fatal conditions
// (context cancellation, a closed ledger).
func (p *Planner) Plan(ctx context.Context, turnID, question string, ledger *core.Ledger) (*Outcome, error) {
	log := p.logger.WithTurn(turnID)

	selected := p.selectRoutes(ctx, question, log)
	stages := groupByStage(selected)

	results := make(map[string]core.AgentResult, len(selected))
	fragments := make(map[string]string)
	invoked := make([]string, 0, len(selected))
	var mu sync.Mutex

	for _, stage := range stages {
		g, stageCtx := errgroup.WithContext(ctx)
		for _, route := range stage {
			route := route
			name := route.Capability.Name()
			invoked = append(invoked, name)
			inv := core.NewInvocation(stageCtx, turnID, name, question, ledger, fragments, log)
			g.Go(func() error {
				res, err := p.safeInvoke(stageCtx, route, inv)
				if err != nil {
					return err
				}
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		// Fragments from this stage become context for the next one.
		for _, route := range stage {
			name := route.Capability.Name()
			if res, ok := results[name]; ok && res.Status != core.StatusFailed {
				fragments[name] = res.AnswerFragment
			}
		}
	}

	answer, total := p.synthesize(selected, results, log)
	return &Outcome{
		FinalAnswer:  answer,
		Results:      results,
		Invoked:      invoked,
		TotalFailure: total,
	}, nil
}

// selectRoutes applies the over-inclusive routing policy: a route is invoked
// when it always-invokes, when any declared keyword appears in the question,
// or when the classifier scores it at or above the invoke threshold. If
// nothing matches at stage zero, every stage-zero route is invoked.
func (p *Planner) selectRoutes(ctx context.Context, question string, log *logging.TurnLogger) []Route {
	var classifierScores map[string]float64
	if p.classifier != nil {
		infos := make([]RouteInfo, len(p.routes))
		for i, r := range p.routes {
			infos[i] = RouteInfo{
				Name:        r.Capability.Name(),
				Description: r.Capability.Description(),
				Keywords:    r.Keywords,
			}
		}
		scores, err := p.classifier.Classify(ctx, question, infos)
		if err != nil {
			log.Warn("intent classifier unavailable, using keyword routing", "error", err)
		} else {
			classifierScores = scores
		}
	}

	selected := make([]Route, 0, len(p.routes))
	for _, r := range p.routes {
		name := r.Capability.Name()
		switch {
		case r.AlwaysInvoke:
			selected = append(selected, r)
		case keywordHits(question, r.Keywords) > 0:
			selected = append(selected, r)
		case classifierScores != nil && classifierScores[name] >= classifierInvokeThreshold:
			selected = append(selected, r)
		default:
			log.Debug("capability skipped", "capability", name)
		}
	}

	if !hasQueryStage(selected) {
		log.Info("no capability matched, invoking all first-stage capabilities")
		for _, r := range p.routes {
			if r.Stage == 0 {
				selected = append(selected, r)
			}
		}
	}
	return selected
}

// safeInvoke runs one capability invocation under its timeout, containing
// panics and errors as a failed AgentResult. The only errors returned are
// turn-fatal: parent context cancellation and a closed ledger.
func (p *Planner) safeInvoke(parent context.Context, route Route, inv *core.Invocation) (res core.AgentResult, err error) {
	name := route.Capability.Name()
	capCtx, cancel := context.WithTimeout(parent, p.capTimeout)
	defer cancel()
	inv.Context = capCtx

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("capability panicked", "capability", name, "panic", r)
			res = core.FailedResult(fmt.Sprintf("capability %s panicked: %v", name, r))
			err = nil
		}
	}()

	start := time.Now()
	res, invokeErr := route.Capability.Invoke(inv)
	elapsed := time.Since(start)

	switch {
	case invokeErr == nil:
		p.logger.Debug("capability completed", "capability", name, "status", string(res.Status), "duration", elapsed)
		if res.Queries == nil {
			res.Queries = []core.StructuredQuery{}
		}
		return res, nil
	case errors.Is(invokeErr, core.ErrLedgerClosed):
		// Append after freeze is a programming defect, fatal to the turn.
		return core.AgentResult{}, invokeErr
	case parent.Err() != nil:
		// The turn itself was cancelled; propagate so the coordinator aborts.
		return core.AgentResult{}, parent.Err()
	case errors.Is(invokeErr, context.DeadlineExceeded):
		p.logger.Warn("capability timed out", "capability", name, "timeout", p.capTimeout)
		return core.FailedResult(fmt.Sprintf("capability %s timed out after %s", name, p.capTimeout)), nil
	default:
		p.logger.Warn("capability failed", "capability", name, "error", invokeErr, "duration", elapsed)
		return core.FailedResult(fmt.Sprintf("capability %s failed: %v", name, invokeErr)), nil
	}
}

// synthesize merges answer fragments from ok/partial results, preferring the
// fragment of the capability with the highest declared relevance. When that
// capability is a synthesis-stage one (its stage is the latest) and it
// completed cleanly, its fragment already incorporates the others and stands
// alone; otherwise fragments are concatenated in declared-relevance order.
func (p *Planner) synthesize(selected []Route, results map[string]core.AgentResult, log *logging.TurnLogger) (string, bool) {
	usable := make([]Route, 0, len(selected))
	maxStage := 0
	for _, r := range selected {
		if r.Stage > maxStage {
			maxStage = r.Stage
		}
		if res, ok := results[r.Capability.Name()]; ok && res.Status != core.StatusFailed {
			usable = append(usable, r)
		}
	}
	if len(usable) == 0 {
		log.Warn("all invoked capabilities failed")
		return FailureAnswer, true
	}

	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Relevance > usable[j].Relevance
	})

	top := usable[0]
	topRes := results[top.Capability.Name()]
	if top.Stage == maxStage && maxStage > 0 && topRes.Status == core.StatusOK {
		return topRes.AnswerFragment, false
	}

	parts := make([]string, 0, len(usable))
	for _, r := range usable {
		parts = append(parts, results[r.Capability.Name()].AnswerFragment)
	}
	return core.TruncateFragment(strings.Join(parts, "\n\n")), false
}

func groupByStage(routes []Route) [][]Route {
	byStage := make(map[int][]Route)
	stageIDs := make([]int, 0)
	for _, r := range routes {
		if _, ok := byStage[r.Stage]; !ok {
			stageIDs = append(stageIDs, r.Stage)
		}
		byStage[r.Stage] = append(byStage[r.Stage], r)
	}
	sort.Ints(stageIDs)
	out := make([][]Route, 0, len(stageIDs))
	for _, id := range stageIDs {
		out = append(out, byStage[id])
	}
	return out
}

func hasQueryStage(routes []Route) bool {
	for _, r := range routes {
		if r.Stage == 0 {
			return true
		}
	}
	return false
}
