// Package config holds the declarative routing table the dispatcher classifies
// questions against: which capabilities exist, the domain keywords they
// declare, their synthesis relevance and their dependency stage. Tables are
// plain YAML so deployments can reroute without recompiling.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CapabilityRoute declares one capability's routing metadata.
type CapabilityRoute struct {
	// Name must match the registered capability's Name().
	Name string `yaml:"name"`
	// Keywords are the domain terms the classifier matches the question against.
	Keywords []string `yaml:"keywords"`
	// Relevance orders fragments during synthesis; higher wins.
	Relevance float64 `yaml:"relevance"`
	// Stage expresses data dependencies: stage N capabilities see the answer
	// fragments of stages < N. Capabilities within a stage run concurrently.
	Stage int `yaml:"stage"`
	// AlwaysInvoke bypasses classification for capabilities that must run
	// every turn (e.g. the format/analysis step).
	AlwaysInvoke bool `yaml:"always_invoke,omitempty"`
}

// Routing is the full routing table.
type Routing struct {
	Capabilities []CapabilityRoute `yaml:"capabilities"`
}

// Parse decodes and validates a YAML routing table.
func Parse(data []byte) (*Routing, error) {
	var r Routing
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse routing config: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads and parses a routing table from a file.
func Load(path string) (*Routing, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read routing config: %w", err)
	}
	return Parse(data)
}

// Validate checks structural invariants: at least one capability, unique
// names, non-negative stages and relevance values.
func (r *Routing) Validate() error {
	if len(r.Capabilities) == 0 {
		return fmt.Errorf("routing config declares no capabilities")
	}
	seen := make(map[string]bool, len(r.Capabilities))
	for i, c := range r.Capabilities {
		if c.Name == "" {
			return fmt.Errorf("capability %d has no name", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate capability name %q", c.Name)
		}
		seen[c.Name] = true
		if c.Stage < 0 {
			return fmt.Errorf("capability %q has negative stage %d", c.Name, c.Stage)
		}
		if c.Relevance < 0 {
			return fmt.Errorf("capability %q has negative relevance %v", c.Name, c.Relevance)
		}
	}
	return nil
}

// Route returns the route declared for name, if any.
func (r *Routing) Route(name string) (CapabilityRoute, bool) {
	for _, c := range r.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return CapabilityRoute{}, false
}

// Default returns the built-in routing table covering the four capability
// families: graph-schema lookups, literature/document queries, templated
// canonical queries and the format/analysis step.
func Default() *Routing {
	return &Routing{Capabilities: []CapabilityRoute{
		{
			Name:      "graph",
			Keywords:  []string{"gene", "genes", "disease", "diabetes", "variant", "snp", "effector", "associated", "association", "pathway", "expression", "cell", "donor"},
			Relevance: 0.8,
			Stage:     0,
		},
		{
			Name:      "literature",
			Keywords:  []string{"literature", "paper", "papers", "study", "studies", "publication", "abstract", "pubmed", "evidence", "reported"},
			Relevance: 0.6,
			Stage:     0,
		},
		{
			Name:      "template",
			Keywords:  []string{"eqtl", "fine-mapped", "fine_mapped", "locus", "loci", "canonical", "template", "gwas"},
			Relevance: 0.5,
			Stage:     0,
		},
		{
			Name:         "format",
			Keywords:     []string{"format", "table", "summarize", "analysis"},
			Relevance:    1.0,
			Stage:        1,
			AlwaysInvoke: true,
		},
	}}
}
