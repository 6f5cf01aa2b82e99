package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stump splits feature 0 at 0.5: left leaf 0.2 (cover 30), right leaf 0.8 (cover 10).
func stump() Tree {
	return Tree{Nodes: []Node{
		{Feature: 0, Threshold: 0.5, Left: 1, Right: 2, Value: 0.35, Cover: 40},
		{Feature: -1, Value: 0.2, Cover: 30},
		{Feature: -1, Value: 0.8, Cover: 10},
	}}
}

func TestTree_Predict(t *testing.T) {
	tree := stump()
	assert.Equal(t, 0.2, tree.Predict([]float64{0.1}))
	assert.Equal(t, 0.2, tree.Predict([]float64{0.5}), "threshold goes left")
	assert.Equal(t, 0.8, tree.Predict([]float64{0.9}))
}

func TestTree_ExpectedValue(t *testing.T) {
	tree := stump()
	assert.InDelta(t, (30*0.2+10*0.8)/40, tree.ExpectedValue(), 1e-12)
	assert.Equal(t, 1, tree.Depth())
}

func TestTree_Validate(t *testing.T) {
	tree := stump()
	require.NoError(t, tree.Validate(1))

	assert.Error(t, (&Tree{}).Validate(1))

	bad := stump()
	bad.Nodes[0].Feature = 3
	assert.Error(t, bad.Validate(1))

	cyclic := stump()
	cyclic.Nodes[0].Left = 0
	assert.Error(t, cyclic.Validate(1))

	outOfRange := stump()
	outOfRange.Nodes[0].Right = 9
	assert.Error(t, outOfRange.Validate(1))
}

func TestMidpoint(t *testing.T) {
	assert.Equal(t, 1.5, midpoint(1, 2))
	lo := 1.0
	hi := 1.0000000000000002 // next float after 1
	assert.Equal(t, lo, midpoint(lo, hi))
}
