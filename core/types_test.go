package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeQuestion(t *testing.T) {
	assert.Equal(t, "What genes?", NormalizeQuestion("  What genes?  "))
	assert.Equal(t, "<empty>", NormalizeQuestion(""))
	assert.Equal(t, "<empty>", NormalizeQuestion("   \n\t"))
}

func TestFailedResult(t *testing.T) {
	res := FailedResult("boom")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, "boom", res.AnswerFragment)
	assert.NotNil(t, res.Queries)
	assert.Empty(t, res.Queries)
}

func TestTruncateFragment(t *testing.T) {
	long := strings.Repeat("x", MaxFragmentLen+100)
	assert.Len(t, TruncateFragment(long), MaxFragmentLen)
	assert.Equal(t, "short", TruncateFragment("short"))
}

func TestTruncateDiagnosticKeepsHeadAndTail(t *testing.T) {
	long := "HEAD" + strings.Repeat("m", 5000) + "TAIL"
	got := TruncateDiagnostic(long)
	assert.Less(t, len(got), len(long))
	assert.True(t, strings.HasPrefix(got, "HEAD"))
	assert.True(t, strings.HasSuffix(got, "TAIL"))
	assert.Contains(t, got, "middle hidden")
}

func TestInvocationAppendQuery(t *testing.T) {
	ledger := NewLedger()
	inv := NewInvocation(context.Background(), "turn-1", "graph", "q?", ledger, nil, nil)

	first, err := inv.AppendQuery("MATCH (n) RETURN n", "look around", true)
	require.NoError(t, err)
	second, err := inv.AppendQuery("MATCH (g:Gene) RETURN g", "genes", false)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, "graph", first.Agent)
	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)

	assert.Len(t, inv.LedgerSoFar(), 2)
	assert.Len(t, inv.DataQueries(), 1)
}

func TestInvocationFragmentsAreCopied(t *testing.T) {
	ledger := NewLedger()
	source := map[string]string{"graph": "genes found"}
	inv := NewInvocation(context.Background(), "turn-1", "format", "q?", ledger, source, nil)

	source["graph"] = "mutated"

	frag, ok := inv.Fragment("graph")
	require.True(t, ok)
	assert.Equal(t, "genes found", frag)

	all := inv.Fragments()
	all["graph"] = "mutated again"
	frag, _ = inv.Fragment("graph")
	assert.Equal(t, "genes found", frag)
}
