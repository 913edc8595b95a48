package ml

import (
	"fmt"
	"math"
	"math/rand"
)

const eulerGamma = 0.5772156649

// ForestConfig controls isolation forest fitting.
type ForestConfig struct {
	Trees      int
	SampleSize int
	Seed       int64
}

// DefaultForestConfig is 100 trees over at most 256 rows, seed 42.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{Trees: 100, SampleSize: 256, Seed: 42}
}

// IsolationForest scores rows by how quickly random splits isolate them.
type IsolationForest struct {
	SampleSize int    `json:"sample_size"`
	Trees      []Tree `json:"trees"`
}

// Tree is a flattened isolation tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split or, when Left is -1, a leaf holding Size rows.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Size      int     `json:"n"`
}

// FitForest grows the forest on x.
func FitForest(x [][]float64, cfg ForestConfig) (*IsolationForest, error) {
	if len(x) == 0 {
		return nil, ErrEmpty
	}
	def := DefaultForestConfig()
	if cfg.Trees <= 0 {
		cfg.Trees = def.Trees
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = def.SampleSize
	}
	width := len(x[0])
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d columns, want %d", i, len(row), width)
		}
	}

	psi := cfg.SampleSize
	if psi > len(x) {
		psi = len(x)
	}
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(psi), 2))))
	rng := rand.New(rand.NewSource(cfg.Seed))

	f := &IsolationForest{SampleSize: psi, Trees: make([]Tree, cfg.Trees)}
	for t := range f.Trees {
		idx := rng.Perm(len(x))[:psi]
		b := treeBuilder{x: x, rng: rng, maxDepth: maxDepth}
		b.grow(idx, 0)
		f.Trees[t] = Tree{Nodes: b.nodes}
	}
	return f, nil
}

type treeBuilder struct {
	x        [][]float64
	rng      *rand.Rand
	maxDepth int
	nodes    []Node
}

func (b *treeBuilder) grow(idx []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1, Right: -1, Size: len(idx)})
	if depth >= b.maxDepth || len(idx) <= 1 {
		return id
	}

	type span struct {
		feature int
		lo, hi  float64
	}
	var candidates []span
	for j := range b.x[idx[0]] {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, i := range idx {
			v := b.x[i][j]
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if hi > lo {
			candidates = append(candidates, span{feature: j, lo: lo, hi: hi})
		}
	}
	if len(candidates) == 0 {
		return id
	}

	s := candidates[b.rng.Intn(len(candidates))]
	threshold := s.lo + b.rng.Float64()*(s.hi-s.lo)
	var left, right []int
	for _, i := range idx {
		if b.x[i][s.feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(right) == 0 {
		return id
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[id].Feature = s.feature
	b.nodes[id].Threshold = threshold
	b.nodes[id].Left = l
	b.nodes[id].Right = r
	return id
}

// Validate checks that every tree is well formed for rows of width columns:
// children point forward within the tree and split features are in range.
func (f *IsolationForest) Validate(width int) error {
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}
	for t := range f.Trees {
		nodes := f.Trees[t].Nodes
		if len(nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", t)
		}
		for id, n := range nodes {
			if n.Left < 0 {
				continue
			}
			if n.Left <= id || n.Left >= len(nodes) || n.Right <= id || n.Right >= len(nodes) {
				return fmt.Errorf("tree %d node %d has children %d/%d outside (%d, %d)", t, id, n.Left, n.Right, id, len(nodes))
			}
			if n.Feature < 0 || n.Feature >= width {
				return fmt.Errorf("tree %d node %d splits on feature %d, have %d", t, id, n.Feature, width)
			}
		}
	}
	return nil
}

func (t *Tree) pathLength(row []float64) float64 {
	depth := 0
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Left < 0 {
			return float64(depth) + averagePathLength(n.Size)
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
		depth++
	}
}

// Score returns the anomaly score in [-1, 0). Lower is more anomalous.
func (f *IsolationForest) Score(row []float64) float64 {
	if len(f.Trees) == 0 {
		return -0.5
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].pathLength(row)
	}
	mean := sum / float64(len(f.Trees))
	norm := averagePathLength(f.SampleSize)
	if norm == 0 {
		return -0.5
	}
	return -math.Pow(2, -mean/norm)
}

// ScoreAll scores every row.
func (f *IsolationForest) ScoreAll(x [][]float64) []float64 {
	out := make([]float64, len(x))
	for i, row := range x {
		out[i] = f.Score(row)
	}
	return out
}

// averagePathLength is the expected unsuccessful search depth in a binary
// search tree of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
}
