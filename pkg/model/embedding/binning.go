package embedding

import (
	"sort"

	mat "github.com/nlpodyssey/spago/pkg/mat32"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Task tells the tree binning procedure how to score a split.
type Task string

const (
	Regression     Task = "regression"
	Classification Task = "classification"
)

// TreeParams configures the decision tree used to derive bin edges from targets.
type TreeParams struct {
	MaxDepth       int
	MinSamplesLeaf int
}

const (
	DefaultTreeDepth      = 3
	DefaultMinSamplesLeaf = 1
)

func (p TreeParams) withDefaults() TreeParams {
	if p.MaxDepth <= 0 {
		p.MaxDepth = DefaultTreeDepth
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = DefaultMinSamplesLeaf
	}
	return p
}

// QuantileBins returns the sorted, unique edges of at most bins equal-frequency bins.
func QuantileBins(values []mat.Float, bins int) []mat.Float {
	if len(values) == 0 {
		return nil
	}
	sorted := toSortedFloat64(values)
	edges := make([]float64, 0, bins+1)
	for i := 0; i <= bins; i++ {
		p := float64(i) / float64(bins)
		edges = append(edges, stat.Quantile(p, stat.Empirical, sorted, nil))
	}
	edges[0] = sorted[0]
	edges[len(edges)-1] = sorted[len(sorted)-1]
	return uniqueEdges(edges)
}

// TreeBins fits a one dimensional decision tree of values against targets and
// returns the split thresholds bracketed by the minimum and maximum value.
func TreeBins(values, targets []mat.Float, task Task, params TreeParams) []mat.Float {
	if len(values) == 0 {
		return nil
	}
	params = params.withDefaults()

	samples := make([]treeSample, len(values))
	for i := range values {
		samples[i] = treeSample{value: float64(values[i]), target: float64(targets[i])}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i].value < samples[j].value })

	t := &treeBuilder{samples: samples, task: task, params: params}
	if task == Classification {
		t.indexClasses()
	}
	t.split(0, len(samples), 0)

	edges := make([]float64, 0, len(t.thresholds)+2)
	edges = append(edges, samples[0].value)
	edges = append(edges, t.thresholds...)
	edges = append(edges, samples[len(samples)-1].value)
	sort.Float64s(edges)
	return uniqueEdges(edges)
}

type treeSample struct {
	value  float64
	target float64
	class  int
}

type treeBuilder struct {
	samples    []treeSample
	task       Task
	params     TreeParams
	classes    int
	thresholds []float64
}

// indexClasses numbers the distinct targets in ascending order.
func (t *treeBuilder) indexClasses() {
	targets := make([]float64, len(t.samples))
	for i, s := range t.samples {
		targets[i] = s.target
	}
	sort.Float64s(targets)
	classes := targets[:0]
	for i, y := range targets {
		if i == 0 || y != classes[len(classes)-1] {
			classes = append(classes, y)
		}
	}
	for i := range t.samples {
		t.samples[i].class = sort.SearchFloat64s(classes, t.samples[i].target)
	}
	t.classes = len(classes)
}

// split recursively partitions samples[lo:hi] at the threshold with the lowest
// weighted impurity, stopping at MaxDepth or when no split leaves
// MinSamplesLeaf samples on both sides.
func (t *treeBuilder) split(lo, hi, depth int) {
	if depth >= t.params.MaxDepth || hi-lo < 2*t.params.MinSamplesLeaf {
		return
	}
	var best int
	if t.task == Classification {
		best = t.bestGiniSplit(lo, hi)
	} else {
		best = t.bestVarianceSplit(lo, hi)
	}
	if best < 0 {
		return
	}
	t.thresholds = append(t.thresholds, (t.samples[best-1].value+t.samples[best].value)/2)
	t.split(lo, best, depth+1)
	t.split(best, hi, depth+1)
}

// candidate reports whether samples[lo:hi] may be cut before index cut.
func (t *treeBuilder) candidate(lo, hi, cut int) bool {
	return cut-lo >= t.params.MinSamplesLeaf && hi-cut >= t.params.MinSamplesLeaf &&
		t.samples[cut-1].value != t.samples[cut].value
}

// bestVarianceSplit sweeps samples[lo:hi] once with running sums of the centered
// targets and returns the cut with the lowest weighted variance, or -1.
func (t *treeBuilder) bestVarianceSplit(lo, hi int) int {
	n := hi - lo
	var mean float64
	constant := true
	for i := lo; i < hi; i++ {
		mean += t.samples[i].target
		constant = constant && t.samples[i].target == t.samples[lo].target
	}
	if constant {
		return -1
	}
	mean /= float64(n)

	var sum, squares float64
	for i := lo; i < hi; i++ {
		d := t.samples[i].target - mean
		sum += d
		squares += d * d
	}

	best, bestScore := -1, variance(sum, squares, n)
	var left, leftSquares float64
	for cut := lo + 1; cut < hi; cut++ {
		d := t.samples[cut-1].target - mean
		left += d
		leftSquares += d * d
		if !t.candidate(lo, hi, cut) {
			continue
		}
		nl, nr := cut-lo, hi-cut
		score := (float64(nl)*variance(left, leftSquares, nl) +
			float64(nr)*variance(sum-left, squares-leftSquares, nr)) / float64(n)
		if score < bestScore {
			best, bestScore = cut, score
		}
	}
	return best
}

// bestGiniSplit sweeps samples[lo:hi] once with running class counts and returns
// the cut with the lowest weighted gini impurity, or -1.
func (t *treeBuilder) bestGiniSplit(lo, hi int) int {
	n := hi - lo
	right := make([]float64, t.classes)
	for i := lo; i < hi; i++ {
		right[t.samples[i].class]++
	}
	parent := gini(right, n)
	if parent == 0 {
		return -1
	}

	best, bestScore := -1, parent
	left := make([]float64, t.classes)
	for cut := lo + 1; cut < hi; cut++ {
		c := t.samples[cut-1].class
		left[c]++
		right[c]--
		if !t.candidate(lo, hi, cut) {
			continue
		}
		nl, nr := cut-lo, hi-cut
		score := (float64(nl)*gini(left, nl) + float64(nr)*gini(right, nr)) / float64(n)
		if score < bestScore {
			best, bestScore = cut, score
		}
	}
	return best
}

// variance is the sample variance of n values given their sum and sum of squares.
func variance(sum, squares float64, n int) float64 {
	if n < 2 {
		return 0
	}
	v := (squares - sum*sum/float64(n)) / float64(n-1)
	if v < 0 {
		return 0
	}
	return v
}

// gini is the impurity of n samples with the given per class counts.
func gini(counts []float64, n int) float64 {
	impurity := 1.0
	for _, c := range counts {
		p := c / float64(n)
		impurity -= p * p
	}
	return impurity
}

func toSortedFloat64(values []mat.Float) []float64 {
	result := make([]float64, len(values))
	for i, v := range values {
		result[i] = float64(v)
	}
	sort.Float64s(result)
	return result
}

// uniqueEdges drops repeated edges and pads a degenerate column to a single unit bin.
func uniqueEdges(edges []float64) []mat.Float {
	result := make([]mat.Float, 0, len(edges))
	for i, e := range edges {
		if i > 0 && floats.EqualWithinAbs(e, edges[i-1], 1e-9) {
			continue
		}
		result = append(result, mat.Float(e))
	}
	if len(result) == 1 {
		result = append(result, result[0]+1)
	}
	return result
}

// encodePiecewiseLinear returns one component per bin: 0 below the bin, 1 above it
// and the relative position inside it.
func encodePiecewiseLinear(x mat.Float, edges []mat.Float) []mat.Float {
	out := make([]mat.Float, len(edges)-1)
	for t := range out {
		lo, hi := edges[t], edges[t+1]
		switch {
		case x >= hi:
			out[t] = 1
		case x < lo:
			out[t] = 0
		default:
			out[t] = (x - lo) / (hi - lo)
		}
	}
	return out
}
