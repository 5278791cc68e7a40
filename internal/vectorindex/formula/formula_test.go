package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nidxlabs/nidx/internal/vectorindex/trie"
)

func trieOf(t *testing.T, labels ...string) *trie.Trie {
	t.Helper()
	b := trie.NewBuilder()
	for _, l := range labels {
		b.Insert(l)
	}
	tr, err := trie.Open(b.Build())
	require.NoError(t, err)
	return tr
}

// TestS6FilterEvaluation mirrors scenario S6: nodes with labels
// {/l/A}, {/l/B}, {/l/A,/l/B}; filter A ∧ ¬B matches only the first.
func TestS6FilterEvaluation(t *testing.T) {
	f := Formula{Operator: And, Clauses: []Clause{
		Label{L: "/l/A"},
		Compound{Operator: Not, Operands: []Clause{Label{L: "/l/B"}}},
	}}

	nodeA := Candidate{Key: []byte("n1"), Trie: trieOf(t, "/l/A")}
	nodeB := Candidate{Key: []byte("n2"), Trie: trieOf(t, "/l/B")}
	nodeAB := Candidate{Key: []byte("n3"), Trie: trieOf(t, "/l/A", "/l/B")}

	assert.True(t, f.Eval(nodeA))
	assert.False(t, f.Eval(nodeB))
	assert.False(t, f.Eval(nodeAB))
}

func TestEmptyFormulaMatchesEverything(t *testing.T) {
	var f Formula
	assert.True(t, f.Eval(Candidate{Key: []byte("anything")}))
}

func TestKeyPrefixSetBinarySearch(t *testing.T) {
	set := NewKeyPrefixSet([]string{"r1/f", "r3", "r5/g/h"})
	assert.True(t, set.Eval(Candidate{Key: []byte("r1/f/p/0")}))
	assert.True(t, set.Eval(Candidate{Key: []byte("r3")}))
	assert.True(t, set.Eval(Candidate{Key: []byte("r5/g/h/x")}))
	assert.False(t, set.Eval(Candidate{Key: []byte("r2/f")}))
	assert.False(t, set.Eval(Candidate{Key: []byte("r4")}))
}

func TestOrMatchesWhenAnyClauseMatches(t *testing.T) {
	f := Formula{Operator: Or, Clauses: []Clause{
		Label{L: "/l/A"},
		Label{L: "/l/B"},
	}}
	assert.True(t, f.Eval(Candidate{Key: []byte("n"), Trie: trieOf(t, "/l/B")}))
	assert.False(t, f.Eval(Candidate{Key: []byte("n"), Trie: trieOf(t, "/l/C")}))
}

func TestNotWithNoOperandsDefaultsTrue(t *testing.T) {
	c := Compound{Operator: Not}
	assert.True(t, c.Eval(Candidate{}))
}

func TestAndOrFormulaConstructors(t *testing.T) {
	and := AndFormula(Label{L: "/l/A"}, Label{L: "/l/B"})
	assert.Equal(t, And, and.Operator)
	or := OrFormula(Label{L: "/l/A"}, Label{L: "/l/B"})
	assert.Equal(t, Or, or.Operator)
}
