package anomaly

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"codeberg.org/mutker/hwsentry/internal/errors"
	"gonum.org/v1/gonum/stat"
)

const (
	leaf            = -1
	eulerMascheroni = 0.5772156649015329
)

// ForestConfig controls isolation forest fitting.
type ForestConfig struct {
	Trees         int
	MaxSamples    int
	Contamination float64
	Seed          int64
}

// Forest is an isolation forest: points that random partitions isolate in
// few splits score as anomalous.
type Forest struct {
	Trees         []Tree  `json:"trees"`
	MaxSamples    int     `json:"max_samples"`
	Features      int     `json:"features"`
	Contamination float64 `json:"contamination"`
	// Offset is the training score quantile at Contamination.
	Offset float64 `json:"offset"`
}

// Tree is a flattened isolation tree; node 0 is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Node is a split or, when Feature is -1, a leaf holding Size points.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Size      int     `json:"n,omitempty"`
}

// FitForest grows cfg.Trees isolation trees over rows and calibrates the
// decision offset so that roughly cfg.Contamination of rows score below zero.
func FitForest(ctx context.Context, rows [][]float64, cfg ForestConfig) (*Forest, error) {
	errFactory := errors.New()

	if len(rows) == 0 {
		return nil, errFactory.New(ErrInsufficientData)
	}
	if cfg.Trees <= 0 || cfg.Contamination <= 0 || cfg.Contamination > 0.5 {
		return nil, errFactory.WithData(ErrTrainingFailed, cfg)
	}

	rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // reproducibility, not security

	maxSamples := min(cfg.MaxSamples, len(rows))
	if maxSamples <= 0 {
		maxSamples = len(rows)
	}
	heightLimit := int(math.Ceil(math.Log2(float64(max(maxSamples, 2)))))

	f := &Forest{
		Trees:         make([]Tree, 0, cfg.Trees),
		MaxSamples:    maxSamples,
		Features:      len(rows[0]),
		Contamination: cfg.Contamination,
	}

	for t := 0; t < cfg.Trees; t++ {
		if err := ctx.Err(); err != nil {
			return nil, errFactory.Wrap(ErrTrainingAborted, err)
		}
		idx := rng.Perm(len(rows))[:maxSamples]
		var tree Tree
		tree.grow(rows, idx, 0, heightLimit, rng)
		f.Trees = append(f.Trees, tree)
	}

	scores := make([]float64, len(rows))
	for i, row := range rows {
		scores[i] = f.Score(row)
	}
	sort.Float64s(scores)
	f.Offset = stat.Quantile(cfg.Contamination, stat.Empirical, scores, nil)

	return f, nil
}

func (t *Tree) grow(rows [][]float64, idx []int, depth, limit int, rng *rand.Rand) int {
	pos := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{Feature: leaf, Size: len(idx)})

	if depth >= limit || len(idx) <= 1 {
		return pos
	}

	width := len(rows[idx[0]])
	lo := make([]float64, width)
	hi := make([]float64, width)
	copy(lo, rows[idx[0]])
	copy(hi, rows[idx[0]])
	for _, i := range idx[1:] {
		for j, v := range rows[i] {
			lo[j] = math.Min(lo[j], v)
			hi[j] = math.Max(hi[j], v)
		}
	}

	candidates := make([]int, 0, width)
	for j := 0; j < width; j++ {
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return pos
	}

	feature := candidates[rng.Intn(len(candidates))]
	threshold := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])
	if threshold <= lo[feature] || threshold >= hi[feature] {
		threshold = lo[feature] + (hi[feature]-lo[feature])/2
	}

	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if rows[i][feature] < threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := t.grow(rows, left, depth+1, limit, rng)
	r := t.grow(rows, right, depth+1, limit, rng)
	t.Nodes[pos] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}

	return pos
}

func (t *Tree) pathLength(row []float64) float64 {
	depth := 0
	n := t.Nodes[0]
	for n.Feature != leaf {
		if row[n.Feature] < n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.Size)
}

// Score returns the negated anomaly degree in [-1, 0); lower is more anomalous.
func (f *Forest) Score(row []float64) float64 {
	var total float64
	for i := range f.Trees {
		total += f.Trees[i].pathLength(row)
	}
	mean := total / float64(len(f.Trees))
	norm := averagePathLength(f.MaxSamples)
	if norm == 0 {
		norm = 1
	}
	return -math.Pow(2, -mean/norm)
}

// Decision is Score shifted by the calibrated offset; negative means anomaly.
func (f *Forest) Decision(row []float64) float64 {
	return f.Score(row) - f.Offset
}

func (f *Forest) validate(width int) error {
	errFactory := errors.New()
	if f.Features != width {
		return errFactory.WithData(ErrSchemaMismatch, struct {
			Expected int
			Actual   int
		}{width, f.Features})
	}
	if len(f.Trees) == 0 || f.MaxSamples <= 0 {
		return errFactory.WithMessage(ErrArtifactCorrupt, "forest has no trees")
	}
	for i := range f.Trees {
		nodes := f.Trees[i].Nodes
		if len(nodes) == 0 {
			return errFactory.WithMessage(ErrArtifactCorrupt, "empty tree")
		}
		for k, n := range nodes {
			if n.Feature == leaf {
				continue
			}
			// children are always appended after their parent
			if n.Feature < 0 || n.Feature >= width ||
				n.Left <= k || n.Left >= len(nodes) || n.Right <= k || n.Right >= len(nodes) {
				return errFactory.WithMessage(ErrArtifactCorrupt, "tree node out of range")
			}
		}
	}
	return nil
}

// averagePathLength is the expected unsuccessful-search depth of a binary
// search tree over n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerMascheroni) - 2*(fn-1)/fn
	}
}
