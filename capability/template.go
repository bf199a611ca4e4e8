package capability

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/glkbio/kgplanner/core"
	"github.com/glkbio/kgplanner/model"
)

// QueryTemplate is one canonical parameterized Cypher query. Placeholders in
// Cypher use the {entity} form and are substituted with the entity the model
// extracts from the question.
type QueryTemplate struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Cypher      string   `yaml:"cypher" json:"cypher"`
	Keywords    []string `yaml:"keywords" json:"keywords"`
}

// DefaultTemplates covers the canonical fine-mapped-eQTL and effector-gene
// lookups the template tool ships with.
func DefaultTemplates() []QueryTemplate {
	return []QueryTemplate{
		{
			Name:        "fine_mapped_eQTL",
			Description: "Fine-mapped eQTL records for a gene",
			Cypher:      "MATCH (g:Gene {symbol: '{entity}'})<-[:REGULATES]-(v:Variant)-[:FINE_MAPPED_IN]->(s:Study) RETURN g.symbol, v.rsid, s.accession",
			Keywords:    []string{"eqtl", "fine-mapped", "fine_mapped", "regulatory"},
		},
		{
			Name:        "effector_genes_for_disease",
			Description: "Effector genes associated with a disease",
			Cypher:      "MATCH (d:Disease {name: '{entity}'})-[:HAS_EFFECTOR]->(g:Gene) RETURN g.symbol, g.evidence_count ORDER BY g.evidence_count DESC",
			Keywords:    []string{"effector", "disease", "associated", "genes"},
		},
		{
			Name:        "gene_expression_by_cell_type",
			Description: "Expression of a gene across cell types",
			Cypher:      "MATCH (g:Gene {symbol: '{entity}'})-[e:EXPRESSED_IN]->(c:CellType) RETURN c.name, e.tpm ORDER BY e.tpm DESC",
			Keywords:    []string{"expression", "expressed", "cell", "tpm"},
		},
	}
}

const templateInstructions = `You match biomedical questions to canonical query templates. Given a
question and a template list, respond with a single JSON object:
{"matches": [{"template": "<name>", "entity": "<entity text>"}]}
Match only templates the question actually asks for; an empty matches list is
a valid answer. Extract the entity exactly as the template expects (gene
symbol or disease name).`

// Template is the templated-canonical-query capability. The model selects
// which templates apply and extracts the entity; query text itself comes from
// the template table, never from the model.
type Template struct {
	Base
	model     model.Model
	templates []QueryTemplate
}

// TemplateOptions configure the template capability.
type TemplateOptions struct {
	// Templates overrides the built-in template table.
	Templates []QueryTemplate
}

// NewTemplate constructs the template capability.
func NewTemplate(m model.Model, optFns ...func(o *TemplateOptions)) *Template {
	opts := TemplateOptions{Templates: DefaultTemplates()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Template{
		Base:      NewBase("template", "Instantiates canonical parameterized queries matched to the question"),
		model:     m,
		templates: opts.Templates,
	}
}

// Invoke implements core.Capability.
func (t *Template) Invoke(inv *core.Invocation) (core.AgentResult, error) {
	var catalog strings.Builder
	for _, tpl := range t.templates {
		fmt.Fprintf(&catalog, "- %s: %s\n", tpl.Name, tpl.Description)
	}

	prompt := fmt.Sprintf("Question: %s\n\nTemplates:\n%s", inv.Question, catalog.String())
	resp, err := t.model.Complete(inv.Context, model.Request{
		Instructions: templateInstructions,
		Messages:     []model.Message{model.UserMessage(prompt)},
	})
	if err != nil {
		return core.AgentResult{}, fmt.Errorf("template model call failed: %w", err)
	}

	raw, ok := extractJSON(resp.Text)
	if !ok {
		return core.AgentResult{
			AnswerFragment: "No canonical template matched the question.",
			Queries:        []core.StructuredQuery{},
			Status:         core.StatusPartial,
		}, nil
	}

	var queries []core.StructuredQuery
	var lines []string
	for _, m := range gjson.Get(raw, "matches").Array() {
		name := m.Get("template").String()
		entity := strings.TrimSpace(m.Get("entity").String())
		tpl, found := t.lookup(name)
		if !found || entity == "" {
			continue
		}
		cypher := strings.ReplaceAll(tpl.Cypher, "{entity}", entity)
		stored, appendErr := inv.AppendQuery(cypher, fmt.Sprintf("template %s for %q", tpl.Name, entity), true)
		if appendErr != nil {
			return core.AgentResult{}, appendErr
		}
		queries = append(queries, stored)
		lines = append(lines, fmt.Sprintf("Matched template %s for %q.", tpl.Name, entity))
	}

	if len(queries) == 0 {
		return core.AgentResult{
			AnswerFragment: "No canonical template matched the question.",
			Queries:        []core.StructuredQuery{},
			Status:         core.StatusPartial,
		}, nil
	}
	return fragmentOrFailure(strings.Join(lines, "\n"), queries, core.StatusOK), nil
}

func (t *Template) lookup(name string) (QueryTemplate, bool) {
	for _, tpl := range t.templates {
		if tpl.Name == name {
			return tpl, true
		}
	}
	return QueryTemplate{}, false
}
