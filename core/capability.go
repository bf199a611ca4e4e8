package core

import (
	"context"
	"maps"

	"github.com/glkbio/kgplanner/logging"
)

// Capability is the uniform contract every domain agent satisfies: natural
// language in, zero-or-more structured queries plus an answer fragment out.
// Implementations must be stateless between turns; any agent-local memory is
// scoped to a single invocation.
//
// A capability reports its queries both in the returned AgentResult and by
// appending to the shared ledger through the Invocation. Implementations
// should return errors rather than panic; the dispatcher contains both and
// converts them into a failed AgentResult, so no fault crosses this boundary
// uncaught.
type Capability interface {
	Name() string
	Description() string
	Invoke(inv *Invocation) (AgentResult, error)
}

// Invocation carries the per-call execution scope handed to a capability:
// the ambient cancellation context, turn identifiers, the question, prior
// answer fragments from earlier dependency stages, and a handle to the
// turn's ledger. Each capability invocation receives its own Invocation;
// capabilities must not read or mutate another capability's.
type Invocation struct {
	Context  context.Context
	TurnID   string
	Agent    string
	Question string

	ledger    *Ledger
	fragments map[string]string
	seq       int
	logger    *logging.TurnLogger
}

// NewInvocation builds the invocation scope for one capability call.
// fragments maps capability names from earlier stages to their answer
// fragments; it is copied so stages cannot observe later mutation.
func NewInvocation(
	ctx context.Context,
	turnID, agent, question string,
	ledger *Ledger,
	fragments map[string]string,
	logger *logging.TurnLogger,
) *Invocation {
	frags := make(map[string]string, len(fragments))
	maps.Copy(frags, fragments)
	if logger == nil {
		logger = logging.NewTurnLogger(nil)
	}
	return &Invocation{
		Context:   ctx,
		TurnID:    turnID,
		Agent:     agent,
		Question:  question,
		ledger:    ledger,
		fragments: frags,
		logger:    logger.WithComponent(agent).WithTurn(turnID),
	}
}

// Done returns a channel closed when the invocation is cancelled.
func (inv *Invocation) Done() <-chan struct{} { return inv.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (inv *Invocation) Err() error { return inv.Context.Err() }

// Logger returns the invocation-scoped contextual logger.
func (inv *Invocation) Logger() *logging.TurnLogger { return inv.logger }

// Fragment returns the answer fragment a named capability produced in an
// earlier dependency stage.
func (inv *Invocation) Fragment(agent string) (string, bool) {
	v, ok := inv.fragments[agent]
	return v, ok
}

// Fragments returns a copy of all prior answer fragments keyed by capability name.
func (inv *Invocation) Fragments() map[string]string {
	out := make(map[string]string, len(inv.fragments))
	maps.Copy(out, inv.fragments)
	return out
}

// AppendQuery records a structured query on the turn's ledger, tagging it
// with this capability's name and next local sequence number. The stored
// entry (with global Position assigned) is returned so the capability can
// also report it in its AgentResult.
func (inv *Invocation) AppendQuery(query, rationale string, returnedData bool) (StructuredQuery, error) {
	inv.seq++
	stored, err := inv.ledger.Append(StructuredQuery{
		Agent:        inv.Agent,
		Seq:          inv.seq,
		Query:        query,
		Rationale:    rationale,
		ReturnedData: returnedData,
	})
	if err != nil {
		inv.logger.Warn("ledger append rejected", "error", err)
		return StructuredQuery{}, err
	}
	return stored, nil
}

// LedgerSoFar returns a snapshot of the ledger at the moment of the call.
// Capabilities may consult it for context but must not assume anything about
// which other capabilities have or have not run.
func (inv *Invocation) LedgerSoFar() []StructuredQuery { return inv.ledger.Snapshot() }

// DataQueries returns the ledger entries that returned data, in arrival order.
func (inv *Invocation) DataQueries() []StructuredQuery { return inv.ledger.QueriesWithData() }
