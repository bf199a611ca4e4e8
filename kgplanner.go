// Package kgplanner provides a high-level façade over the turn coordinator,
// dispatcher and ranker, enabling a question-to-answer engine over a
// biomedical knowledge graph in a few lines. Most applications interact with
// this package by:
//  1. Creating an Engine via New() with a model and external collaborators
//     (graph executor, abstract searcher)
//  2. Calling Answer() once per user turn
//
// The façade wires the built-in capability set (graph, literature, template,
// format) against the default routing table; custom routes, classifiers and
// judges can be supplied through Options. All defaults are safe for local
// development; production deployments supply a structured logger and real
// collaborators.
package kgplanner

import (
	"context"
	"fmt"
	"time"

	"github.com/glkbio/kgplanner/capability"
	"github.com/glkbio/kgplanner/config"
	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/logging"
	"github.com/glkbio/kgplanner/model"
	"github.com/glkbio/kgplanner/planner"
	"github.com/glkbio/kgplanner/ranker"
	"github.com/glkbio/kgplanner/turn"
)

// Options configure the Engine.
type Options struct {
	// Routing overrides the built-in routing table.
	Routing *config.Routing
	// Capabilities overrides or extends the built-in capability set, keyed by
	// route name.
	Capabilities map[string]core.Capability
	// GraphExecutor runs generated Cypher against the knowledge graph.
	GraphExecutor capability.GraphExecutor
	// Searcher performs semantic search over publication abstracts. Required
	// for the literature route unless a replacement capability is supplied.
	Searcher capability.Searcher
	// Classifier augments keyword routing; defaults to a model-backed one.
	Classifier planner.Classifier
	// Judge scores queries during ranking; defaults to a model-backed one.
	Judge ranker.Judge
	// TurnTimeout bounds each turn's planning phase.
	TurnTimeout time.Duration
	// CapabilityTimeout bounds each capability invocation.
	CapabilityTimeout time.Duration
	// Logger receives engine diagnostics (defaults to NoOp).
	Logger logging.Logger
}

// Engine answers natural-language questions about the knowledge graph.
type Engine struct {
	coordinator *turn.Coordinator
}

// New wires an Engine around the given model. The model drives the built-in
// capabilities, the intent classifier and the relevance judge unless Options
// replace them.
func New(m model.Model, optFns ...func(o *Options)) (*Engine, error) {
	opts := Options{
		Routing:           config.Default(),
		TurnTimeout:       turn.DefaultTimeout,
		CapabilityTimeout: planner.DefaultCapabilityTimeout,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if m == nil {
		return nil, fmt.Errorf("a model is required")
	}

	caps := map[string]core.Capability{
		"graph": capability.NewGraph(m, func(o *capability.GraphOptions) {
			o.Executor = opts.GraphExecutor
		}),
		"literature": capability.NewLiterature(m, opts.Searcher),
		"template":   capability.NewTemplate(m),
		"format":     capability.NewFormat(m),
	}
	for name, impl := range opts.Capabilities {
		caps[name] = impl
	}

	routes, err := planner.RoutesFromConfig(opts.Routing, caps)
	if err != nil {
		return nil, err
	}

	classifier := opts.Classifier
	if classifier == nil {
		classifier = planner.NewModelClassifier(m)
	}
	judge := opts.Judge
	if judge == nil {
		judge = ranker.NewModelJudge(m)
	}

	p := planner.New(routes, func(o *planner.Options) {
		o.Classifier = classifier
		o.CapabilityTimeout = opts.CapabilityTimeout
		o.Logger = opts.Logger
	})
	r := ranker.New(func(o *ranker.Options) {
		o.Judge = judge
		o.Logger = opts.Logger
	})
	c := turn.New(p, r, func(o *turn.Options) {
		o.Timeout = opts.TurnTimeout
		o.Logger = opts.Logger
	})

	return &Engine{coordinator: c}, nil
}

// Answer runs one complete question-to-answer turn.
func (e *Engine) Answer(ctx context.Context, question string) (*core.TurnResult, error) {
	return e.coordinator.Answer(ctx, question)
}
