package explain

import "dropiq-ml/internal/ml"

// pathElement tracks one feature on the path from the root to the current
// node: the fraction of "feature absent" flow (zero) and "feature present"
// flow (one) that reaches the node, and the permutation weight of the subset
// sizes seen so far.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

// treeSHAP adds the path-dependent Shapley values of tree for x, scaled by
// scale, into phi. It runs in O(leaves * depth^2).
func treeSHAP(tree *ml.Tree, x []float64, phi []float64, scale float64) {
	if len(tree.Nodes) == 0 {
		return
	}
	s := shapWalker{tree: tree, x: x, phi: phi, scale: scale}
	s.recurse(0, nil, 0, 1, 1, -1)
}

type shapWalker struct {
	tree  *ml.Tree
	x     []float64
	phi   []float64
	scale float64
}

func (s *shapWalker) recurse(nodeIdx int, parent []pathElement, depth int, zero, one float64, feature int) {
	path := make([]pathElement, depth+1, depth+2)
	copy(path, parent[:depth])
	extendPath(path, depth, zero, one, feature)

	node := s.tree.Nodes[nodeIdx]
	if node.IsLeaf() {
		for i := 1; i <= depth; i++ {
			w := unwoundPathSum(path, depth, i)
			el := path[i]
			s.phi[el.feature] += w * (el.one - el.zero) * node.Value * s.scale
		}
		return
	}

	hot, cold := node.Right, node.Left
	if s.x[node.Feature] <= node.Threshold {
		hot, cold = node.Left, node.Right
	}
	hotZero, coldZero := 0.5, 0.5
	if node.Cover > 0 {
		hotZero = s.tree.Nodes[hot].Cover / node.Cover
		coldZero = s.tree.Nodes[cold].Cover / node.Cover
	}
	incomingZero, incomingOne := 1.0, 1.0

	// A feature split on twice along the path is only counted once: undo its
	// earlier extension and carry its fractions forward.
	k := 0
	for ; k <= depth; k++ {
		if path[k].feature == node.Feature {
			break
		}
	}
	if k <= depth {
		incomingZero = path[k].zero
		incomingOne = path[k].one
		unwindPath(path, depth, k)
		depth--
	}

	s.recurse(hot, path, depth+1, hotZero*incomingZero, incomingOne, node.Feature)
	s.recurse(cold, path, depth+1, coldZero*incomingZero, 0, node.Feature)
}

func extendPath(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / d
		path[i].weight = zero * path[i].weight * float64(depth-i) / d
	}
}

func unwindPath(path []pathElement, depth, k int) {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * d / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/d
		} else {
			path[i].weight = path[i].weight * d / (zero * float64(depth-i))
		}
	}
	for i := k; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

// unwoundPathSum is the total permutation weight the path would have if the
// element at k were removed, without modifying the path.
func unwoundPathSum(path []pathElement, depth, k int) float64 {
	one, zero := path[k].one, path[k].zero
	next := path[depth].weight
	d := float64(depth + 1)
	var total float64
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/d
		} else {
			total += path[i].weight / zero / (float64(depth-i) / d)
		}
	}
	return total
}
