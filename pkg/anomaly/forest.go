package anomaly

import (
	"math"
	"math/rand"
)

// Node is one split in an isolation tree. Leaves have no children and
// carry the size of the subsample that reached them.
type Node struct {
	Feature int     `json:"feature,omitempty"`
	Value   float64 `json:"value,omitempty"`
	Left    *Node   `json:"left,omitempty"`
	Right   *Node   `json:"right,omitempty"`
	Size    int     `json:"size,omitempty"`
}

// Forest is an isolation forest over fixed-length feature vectors
type Forest struct {
	Trees     []*Node `json:"trees"`
	Subsample int     `json:"subsample"`
}

const defaultTreeCount = 100

// BuildForest fits an isolation forest on the training matrix. The
// subsample per tree is capped at 256 as in the original algorithm.
func BuildForest(data [][]float64, trees int, rng *rand.Rand) *Forest {
	if trees <= 0 {
		trees = defaultTreeCount
	}
	subsample := len(data)
	if subsample > 256 {
		subsample = 256
	}
	heightLimit := int(math.Ceil(math.Log2(float64(subsample))))

	forest := &Forest{
		Trees:     make([]*Node, trees),
		Subsample: subsample,
	}
	for i := range forest.Trees {
		sample := make([][]float64, subsample)
		for j := range sample {
			sample[j] = data[rng.Intn(len(data))]
		}
		forest.Trees[i] = buildTree(sample, 0, heightLimit, rng)
	}
	return forest
}

func buildTree(data [][]float64, depth, limit int, rng *rand.Rand) *Node {
	if depth >= limit || len(data) <= 1 {
		return &Node{Size: len(data)}
	}

	feature := rng.Intn(len(data[0]))
	lo, hi := data[0][feature], data[0][feature]
	for _, row := range data[1:] {
		if row[feature] < lo {
			lo = row[feature]
		}
		if row[feature] > hi {
			hi = row[feature]
		}
	}
	if lo == hi {
		return &Node{Size: len(data)}
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &Node{Size: len(data)}
	}

	return &Node{
		Feature: feature,
		Value:   split,
		Left:    buildTree(left, depth+1, limit, rng),
		Right:   buildTree(right, depth+1, limit, rng),
	}
}

// pathLength walks a point down a tree, adding the average-path
// adjustment c(size) at non-singleton leaves.
func pathLength(node *Node, point []float64, depth float64) float64 {
	if node.Left == nil && node.Right == nil {
		return depth + avgPathLength(node.Size)
	}
	if point[node.Feature] < node.Value {
		return pathLength(node.Left, point, depth+1)
	}
	return pathLength(node.Right, point, depth+1)
}

// avgPathLength is c(n), the expected path length of an unsuccessful
// BST search over n points.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	h := math.Log(float64(n-1)) + 0.5772156649
	return 2*h - 2*float64(n-1)/float64(n)
}

// Score returns the raw isolation score in (0,1); higher means more
// isolated, values near 0.5 are typical of inliers.
func (f *Forest) Score(point []float64) float64 {
	var total float64
	for _, tree := range f.Trees {
		total += pathLength(tree, point, 0)
	}
	mean := total / float64(len(f.Trees))
	return math.Pow(2, -mean/avgPathLength(f.Subsample))
}
