package forest

import (
	"math/rand/v2"
	"slices"
)

// leaf marks a terminal node.
const leaf = -1

// Node is one entry of a tree's flat node array. Internal nodes send rows
// with x[Feature] <= Threshold to Left, others to Right. Leaves carry the
// weighted share of the positive class.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

// Tree is a binary classification tree stored as a flat node array with the
// root at index 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict returns the positive-class probability of the leaf that x reaches.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Feature == leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth returns the length of the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Feature == leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// builder grows one tree over a bootstrap sample.
type builder struct {
	x           [][]float64
	y           []int
	weight      []float64 // per-row class weight
	maxDepth    int
	minSplit    int
	maxFeatures int
	rng         *rand.Rand
	nodes       []Node
	features    []int
}

func (b *builder) build(rows []int) Tree {
	b.features = make([]int, len(b.x[0]))
	for i := range b.features {
		b.features[i] = i
	}
	b.grow(rows, 0)
	return Tree{Nodes: b.nodes}
}

// grow appends the subtree for rows and returns its node index.
func (b *builder) grow(rows []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leaf})

	w0, w1 := b.classWeights(rows)
	total := w0 + w1
	if total > 0 {
		b.nodes[idx].Value = w1 / total
	}

	if depth >= b.maxDepth || len(rows) < b.minSplit || w0 == 0 || w1 == 0 {
		return idx
	}

	feature, threshold, ok := b.bestSplit(rows, w0, w1)
	if !ok {
		return idx
	}

	left := make([]int, 0, len(rows))
	right := make([]int, 0, len(rows))
	for _, r := range rows {
		if b.x[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return idx
}

func (b *builder) classWeights(rows []int) (w0, w1 float64) {
	for _, r := range rows {
		if b.y[r] == 1 {
			w1 += b.weight[r]
		} else {
			w0 += b.weight[r]
		}
	}
	return w0, w1
}

// bestSplit searches maxFeatures randomly drawn features for the threshold
// with the lowest weighted Gini impurity. When the drawn features cannot
// split the rows the remaining features are tried too.
func (b *builder) bestSplit(rows []int, w0, w1 float64) (int, float64, bool) {
	// Candidate features are visited in random order.
	b.rng.Shuffle(len(b.features), func(i, j int) {
		b.features[i], b.features[j] = b.features[j], b.features[i]
	})

	bestFeature, bestThreshold := -1, 0.0
	bestScore := gini(w0, w1) * (w0 + w1)
	sorted := make([]int, len(rows))

	for visited, f := range b.features {
		if visited >= b.maxFeatures && bestFeature >= 0 {
			break
		}

		copy(sorted, rows)
		slices.SortFunc(sorted, func(a, c int) int {
			va, vc := b.x[a][f], b.x[c][f]
			switch {
			case va < vc:
				return -1
			case va > vc:
				return 1
			}
			return a - c
		})

		var l0, l1 float64
		for i := 0; i < len(sorted)-1; i++ {
			r := sorted[i]
			if b.y[r] == 1 {
				l1 += b.weight[r]
			} else {
				l0 += b.weight[r]
			}
			cur, next := b.x[r][f], b.x[sorted[i+1]][f]
			if cur == next {
				continue
			}
			r0, r1 := w0-l0, w1-l1
			score := gini(l0, l1)*(l0+l1) + gini(r0, r1)*(r0+r1)
			if score < bestScore-1e-12 {
				bestScore = score
				bestFeature = f
				bestThreshold = cur + (next-cur)/2
				if bestThreshold >= next {
					bestThreshold = cur
				}
			}
		}
	}
	return bestFeature, bestThreshold, bestFeature >= 0
}

func gini(w0, w1 float64) float64 {
	total := w0 + w1
	if total <= 0 {
		return 0
	}
	p0, p1 := w0/total, w1/total
	return 1 - p0*p0 - p1*p1
}
