// Package turn owns the per-turn lifecycle: open a fresh ledger, run the
// dispatcher, freeze the ledger, run the ranker over the frozen snapshot,
// assemble the TurnResult and discard the ledger. Turns are fully independent;
// concurrently active turns never observe each other's ledgers.
package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/logging"
	"github.com/glkbio/kgplanner/planner"
	"github.com/glkbio/kgplanner/ranker"
)

// ErrTurnTimeout reports that the coordinator gave up waiting on the
// dispatcher; outstanding capability invocations were cancelled best-effort
// and the turn aborted.
var ErrTurnTimeout = errors.New("turn timed out during planning")

// ErrTurnAborted wraps any unrecoverable turn fault surfaced to the caller.
var ErrTurnAborted = errors.New("turn aborted")

// State is the coordinator's per-turn lifecycle state.
type State int

const (
	// StateOpen marks the ledger created and accepting appends.
	StateOpen State = iota
	// StatePlanning marks the dispatcher executing with concurrent appends.
	StatePlanning
	// StateFrozen marks the snapshot taken; appends are rejected.
	StateFrozen
	// StateRanking marks the ranker executing against the frozen snapshot.
	StateRanking
	// StateDone is the successful terminal state.
	StateDone
	// StateAborted is the failure terminal state.
	StateAborted
)

// String returns the state's wire name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StatePlanning:
		return "PLANNING"
	case StateFrozen:
		return "FROZEN"
	case StateRanking:
		return "RANKING"
	case StateDone:
		return "DONE"
	case StateAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// DefaultTimeout bounds a whole turn's planning phase.
const DefaultTimeout = 5 * time.Minute

// Options configure the Coordinator.
type Options struct {
	// Timeout bounds the planning phase of each turn.
	Timeout time.Duration
	// Logger receives turn lifecycle diagnostics.
	Logger logging.Logger
}

// Coordinator runs turns. Safe for concurrent use; each Answer call owns its
// turn's ledger exclusively and no mutable state crosses turn boundaries.
type Coordinator struct {
	planner *planner.Planner
	ranker  *ranker.Ranker
	timeout time.Duration
	logger  *logging.TurnLogger
}

// New constructs a Coordinator over a dispatcher and a ranker.
func New(p *planner.Planner, r *ranker.Ranker, optFns ...func(o *Options)) *Coordinator {
	opts := Options{
		Timeout: DefaultTimeout,
		Logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{
		planner: p,
		ranker:  r,
		timeout: opts.Timeout,
		logger:  logging.NewTurnLogger(opts.Logger).WithComponent("coordinator"),
	}
}

// Answer runs one complete question-to-answer turn. On success the TurnResult
// carries the synthesized answer and a full relevance ranking of every query
// the turn generated. On abort (timeout, closed-ledger defect) the partial
// TurnResult is returned alongside an error wrapping ErrTurnAborted; the
// ranked query list is then possibly empty but never nil.
func (c *Coordinator) Answer(ctx context.Context, question string) (*core.TurnResult, error) {
	turnID := core.NewID()
	log := c.logger.WithTurn(turnID)
	question = core.NormalizeQuestion(question)

	state := StateOpen
	ledger := core.NewLedger()
	log.Info("turn opened", "state", state.String())

	state = StatePlanning
	planCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	outcome, err := c.planner.Plan(planCtx, turnID, question, ledger)

	// Freezing before anything else guarantees that capabilities cancelled
	// mid-flight cannot append after this point.
	snapshot := ledger.Freeze()
	state = StateFrozen

	if err != nil {
		state = StateAborted
		log.Error("turn aborted during planning", "state", state.String(), "error", err)
		result := &core.TurnResult{
			TurnID:        turnID,
			FinalAnswer:   "",
			RankedQueries: []core.RelevanceScore{},
		}
		return result, abortError(err)
	}

	state = StateRanking
	log.Debug("ranking frozen snapshot", "state", state.String(), "queries", len(snapshot))
	ranked := c.ranker.Rank(ctx, question, snapshot, outcome.FinalAnswer)

	state = StateDone
	result := &core.TurnResult{
		TurnID:        turnID,
		FinalAnswer:   outcome.FinalAnswer,
		RankedQueries: ranked,
	}
	log.Info("turn completed",
		"state", state.String(),
		"invoked", len(outcome.Invoked),
		"queries", len(snapshot),
		"total_failure", outcome.TotalFailure)
	return result, nil
}

func abortError(cause error) error {
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTurnAborted, ErrTurnTimeout)
	}
	return fmt.Errorf("%w: %w", ErrTurnAborted, cause)
}
