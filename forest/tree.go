package forest

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one node of a regression tree. Leaves have Feature == -1.
type Node struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64 // mean target of the samples reaching this node
	Samples   int
	Impurity  float64 // mean squared error at this node
}

// Tree is a CART regression tree stored as a flat node slice rooted at 0.
type Tree struct {
	Nodes []Node
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return n.Feature < 0
}

// Predict walks x down the tree and returns the leaf value.
func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
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
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

// treeBuilder grows one tree over a row-major feature matrix.
type treeBuilder struct {
	data        []float64 // row-major samples
	stride      int
	numFeatures int
	y           []float64
	cfg         Config
	maxFeatures int
	rng         *rand.Rand

	nodes       []Node
	importances []float64 // total squared-error decrease per feature
	scratch     []int
}

type split struct {
	feature   int
	threshold float64
	gain      float64 // squared error removed by the split
}

func newTreeBuilder(data []float64, stride, numFeatures int, y []float64, cfg Config, rng *rand.Rand) *treeBuilder {
	maxFeatures := int(cfg.MaxFeatures * float64(numFeatures))
	if maxFeatures < 1 {
		maxFeatures = 1
	}
	return &treeBuilder{
		data:        data,
		stride:      stride,
		numFeatures: numFeatures,
		y:           y,
		cfg:         cfg,
		maxFeatures: maxFeatures,
		rng:         rng,
		importances: make([]float64, numFeatures),
	}
}

func (b *treeBuilder) at(row, feature int) float64 {
	return b.data[row*b.stride+feature]
}

// grow builds the tree over the given sample indices (duplicates allowed).
func (b *treeBuilder) grow(idx []int) Tree {
	b.scratch = make([]int, len(idx))
	b.build(idx, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) build(idx []int, depth int) int {
	n := len(idx)
	var sum, sumSq float64
	for _, i := range idx {
		sum += b.y[i]
		sumSq += b.y[i] * b.y[i]
	}
	mean := sum / float64(n)
	sse := math.Max(sumSq-sum*mean, 0)

	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{
		Feature:  -1,
		Value:    mean,
		Samples:  n,
		Impurity: sse / float64(n),
	})

	if n < b.cfg.MinSamplesSplit || n < 2*b.cfg.MinSamplesLeaf {
		return id
	}
	if b.cfg.MaxDepth > 0 && depth >= b.cfg.MaxDepth {
		return id
	}
	if sse <= 1e-12*math.Max(1, sumSq) {
		return id
	}

	s, ok := b.bestSplit(idx, sum)
	if !ok {
		return id
	}

	// Partition idx in place around the threshold.
	lo, hi := 0, n-1
	for lo <= hi {
		if b.at(idx[lo], s.feature) <= s.threshold {
			lo++
		} else {
			idx[lo], idx[hi] = idx[hi], idx[lo]
			hi--
		}
	}
	b.importances[s.feature] += s.gain

	left := b.build(idx[:lo], depth+1)
	right := b.build(idx[lo:], depth+1)
	b.nodes[id].Feature = s.feature
	b.nodes[id].Threshold = s.threshold
	b.nodes[id].Left = left
	b.nodes[id].Right = right
	return id
}

// bestSplit searches features in random order until maxFeatures
// non-constant features have been evaluated.
func (b *treeBuilder) bestSplit(idx []int, total float64) (split, bool) {
	n := len(idx)
	minLeaf := b.cfg.MinSamplesLeaf
	order := b.scratch[:n]
	parentProxy := total * total / float64(n)

	best := split{feature: -1}
	bestProxy := math.Inf(-1)
	visited := 0

	for _, f := range b.rng.Perm(b.numFeatures) {
		if visited >= b.maxFeatures {
			break
		}
		copy(order, idx)
		sort.Slice(order, func(a, c int) bool {
			return b.at(order[a], f) < b.at(order[c], f)
		})
		if b.at(order[0], f) >= b.at(order[n-1], f) {
			continue // constant on this node
		}
		visited++

		var left float64
		for p := 1; p < n; p++ {
			left += b.y[order[p-1]]
			if p < minLeaf || n-p < minLeaf {
				continue
			}
			xl, xr := b.at(order[p-1], f), b.at(order[p], f)
			if xl >= xr {
				continue
			}
			right := total - left
			// Maximising this proxy minimises the children's squared error.
			proxy := left*left/float64(p) + right*right/float64(n-p)
			if proxy > bestProxy {
				bestProxy = proxy
				thr := xl + (xr-xl)/2
				if thr >= xr {
					thr = xl
				}
				best = split{feature: f, threshold: thr}
			}
		}
	}
	if best.feature < 0 {
		return split{}, false
	}
	best.gain = math.Max(bestProxy-parentProxy, 0)
	return best, true
}
