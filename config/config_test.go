package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidConfig(t *testing.T) {
	data := []byte(`
capabilities:
  - name: graph
    keywords: [gene, disease]
    relevance: 0.8
    stage: 0
  - name: format
    keywords: []
    relevance: 1.0
    stage: 1
    always_invoke: true
`)
	r, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, r.Capabilities, 2)

	graph, ok := r.Route("graph")
	require.True(t, ok)
	assert.Equal(t, []string{"gene", "disease"}, graph.Keywords)
	assert.Equal(t, 0.8, graph.Relevance)

	format, ok := r.Route("format")
	require.True(t, ok)
	assert.True(t, format.AlwaysInvoke)
	assert.Equal(t, 1, format.Stage)

	_, ok = r.Route("missing")
	assert.False(t, ok)
}

func TestParseRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", `capabilities: []`},
		{"unnamed", "capabilities:\n  - keywords: [x]\n"},
		{"duplicate", "capabilities:\n  - name: a\n  - name: a\n"},
		{"negative stage", "capabilities:\n  - name: a\n    stage: -1\n"},
		{"negative relevance", "capabilities:\n  - name: a\n    relevance: -0.5\n"},
		{"not yaml", `{{{{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestDefaultRoutingIsValid(t *testing.T) {
	r := Default()
	require.NoError(t, r.Validate())

	// The four capability families from the routing policy.
	for _, name := range []string{"graph", "literature", "template", "format"} {
		_, ok := r.Route(name)
		assert.Truef(t, ok, "default routing missing %s", name)
	}

	format, _ := r.Route("format")
	assert.True(t, format.AlwaysInvoke)
	assert.Equal(t, 1, format.Stage)
}
