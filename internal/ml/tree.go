package ml

import (
	"errors"
	"fmt"
	"math"
)

// Node is one entry of a flattened binary decision tree. Leaves have
// Feature == -1. Samples with x[Feature] <= Threshold go to Left.
//
// Cover is the (weighted) number of training samples that reached the node;
// the explanation engine uses it to weigh the branches it cannot follow.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v"`
	Cover     float64 `json:"c"`
}

// IsLeaf reports whether the node has no children.
func (n Node) IsLeaf() bool {
	return n.Feature < 0
}

// Tree is a decision tree stored as a flat node array with the root at 0.
// Children always have larger indices than their parent.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for x and returns the value of the reached leaf.
// x must have been validated against the tree's feature count.
func (t *Tree) Predict(x []float64) float64 {
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.IsLeaf() {
			return node.Value
		}
		if x[node.Feature] <= node.Threshold {
			idx = node.Left
		} else {
			idx = node.Right
		}
	}
}

// ExpectedValue is the cover-weighted mean of the leaf values, i.e. the mean
// prediction over the training samples that built the tree.
func (t *Tree) ExpectedValue() float64 {
	if len(t.Nodes) == 0 || t.Nodes[0].Cover == 0 {
		return 0
	}
	var sum float64
	for _, n := range t.Nodes {
		if n.IsLeaf() {
			sum += n.Cover * n.Value
		}
	}
	return sum / t.Nodes[0].Cover
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	return t.depthFrom(0)
}

func (t *Tree) depthFrom(idx int) int {
	n := t.Nodes[idx]
	if n.IsLeaf() {
		return 0
	}
	l, r := t.depthFrom(n.Left), t.depthFrom(n.Right)
	if l > r {
		return l + 1
	}
	return r + 1
}

// Validate checks the structural invariants a decoded tree must satisfy
// before it is safe to walk.
func (t *Tree) Validate(numFeatures int) error {
	if len(t.Nodes) == 0 {
		return errors.New("tree has no nodes")
	}
	for i, n := range t.Nodes {
		if math.IsNaN(n.Value) || math.IsInf(n.Value, 0) {
			return fmt.Errorf("node %d: non-finite value", i)
		}
		if n.Cover < 0 || math.IsNaN(n.Cover) {
			return fmt.Errorf("node %d: invalid cover %f", i, n.Cover)
		}
		if n.IsLeaf() {
			continue
		}
		if n.Feature >= numFeatures {
			return fmt.Errorf("node %d: feature index %d out of range", i, n.Feature)
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return fmt.Errorf("node %d: invalid children %d/%d", i, n.Left, n.Right)
		}
	}
	return nil
}

// nodeBuilder accumulates the nodes of a tree under construction.
type nodeBuilder struct {
	nodes []Node
}

// reserve appends a placeholder and returns its index so the node can be
// filled in after its children exist.
func (b *nodeBuilder) reserve() int {
	b.nodes = append(b.nodes, Node{Feature: -1})
	return len(b.nodes) - 1
}

func (b *nodeBuilder) leaf(idx int, value, cover float64) {
	b.nodes[idx] = Node{Feature: -1, Value: value, Cover: cover}
}

func (b *nodeBuilder) split(idx, feature int, threshold float64, left, right int, value, cover float64) {
	b.nodes[idx] = Node{
		Feature:   feature,
		Threshold: threshold,
		Left:      left,
		Right:     right,
		Value:     value,
		Cover:     cover,
	}
}

func (b *nodeBuilder) tree() Tree {
	return Tree{Nodes: b.nodes}
}

// sortedFeature is one (value, sample index) pair used while scanning splits.
type sortedFeature struct {
	value float64
	index int
}

// midpoint returns a threshold strictly separating lo from hi. When the two
// values are adjacent floats the midpoint rounds to hi, so lo is used.
func midpoint(lo, hi float64) float64 {
	t := lo + (hi-lo)/2
	if t >= hi {
		return lo
	}
	return t
}

// partition splits idx by x[feature] <= threshold.
func partition(x [][]float64, idx []int, feature int, threshold float64) (left, right []int) {
	left = make([]int, 0, len(idx))
	right = make([]int, 0, len(idx))
	for _, i := range idx {
		if x[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}
