// Package core defines the shared contracts of the planner engine: the
// Capability interface every domain agent satisfies, the turn-scoped query
// Ledger, the Invocation context handed to capabilities, and the result types
// (AgentResult, RelevanceScore, TurnResult) exchanged between the dispatcher,
// the ranker and the turn coordinator.
package core
