// Package ml implements the tree-ensemble classifier and the spatially
// honest training engine around it.
package ml

import (
	"math"
	"math/rand"
	"sort"
)

// Node is one node of a classification tree. Leaves carry class probability
// mass; internal nodes route on one feature with an explicit side for
// missing values. Exported fields so trained trees round-trip through JSON.
type Node struct {
	// Leaf payload. Non-nil means this is a leaf.
	Probs []float64 `json:"probs,omitempty"`

	Feature     int     `json:"feature,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	MissingLeft bool    `json:"missing_left,omitempty"`
	Left        *Node   `json:"left,omitempty"`
	Right       *Node   `json:"right,omitempty"`
}

// Tree is a single CART classifier grown on a bootstrap sample.
type Tree struct {
	Root       *Node `json:"root"`
	NumClasses int   `json:"num_classes"`
}

// TreeParams bound tree growth.
type TreeParams struct {
	MaxDepth         int
	MinLeafSize      int
	FeaturesPerSplit int
	NumClasses       int
}

// growTree fits one tree on a bootstrap sample of the rows. Missing values
// (NaN) are routed as their own branch: every split learns which side its
// missing values travel, instead of imputing a placeholder that would bias
// the split. Impurity decrease per feature accumulates into imp.
func growTree(xs [][]float64, ys []int, sample []int, params TreeParams, rng *rand.Rand, imp []float64) *Tree {
	t := &Tree{NumClasses: params.NumClasses}
	t.Root = grow(xs, ys, sample, params, rng, 0, imp)
	return t
}

func grow(xs [][]float64, ys []int, idx []int, params TreeParams, rng *rand.Rand, depth int, imp []float64) *Node {
	counts := classCounts(ys, idx, params.NumClasses)
	if depth >= params.MaxDepth || len(idx) < 2*params.MinLeafSize || pure(counts) {
		return leaf(counts)
	}

	split := bestSplit(xs, ys, idx, params, rng)
	if split == nil {
		return leaf(counts)
	}

	left, right := partition(xs, idx, split)
	if len(left) < params.MinLeafSize || len(right) < params.MinLeafSize {
		return leaf(counts)
	}

	if imp != nil {
		imp[split.feature] += split.gain * float64(len(idx))
	}

	return &Node{
		Feature:     split.feature,
		Threshold:   split.threshold,
		MissingLeft: split.missingLeft,
		Left:        grow(xs, ys, left, params, rng, depth+1, imp),
		Right:       grow(xs, ys, right, params, rng, depth+1, imp),
	}
}

type candidateSplit struct {
	feature     int
	threshold   float64
	missingLeft bool
	gain        float64
}

// bestSplit searches a random √p feature subset for the impurity-minimizing
// threshold, trying both routings of missing values at each threshold.
func bestSplit(xs [][]float64, ys []int, idx []int, params TreeParams, rng *rand.Rand) *candidateSplit {
	numFeatures := len(xs[idx[0]])
	perm := rng.Perm(numFeatures)
	tryFeatures := params.FeaturesPerSplit
	if tryFeatures <= 0 || tryFeatures > numFeatures {
		tryFeatures = numFeatures
	}

	parent := gini(classCounts(ys, idx, params.NumClasses), len(idx))

	var best *candidateSplit
	for _, f := range perm[:tryFeatures] {
		for _, cand := range featureSplits(xs, ys, idx, f, params.NumClasses, parent) {
			if best == nil || cand.gain > best.gain {
				c := cand
				best = &c
			}
		}
	}
	if best == nil || best.gain <= 0 {
		return nil
	}
	return best
}

// featureSplits enumerates midpoint thresholds for one feature and scores
// each with missing values routed left and routed right.
func featureSplits(xs [][]float64, ys []int, idx []int, feature, numClasses int, parent float64) []candidateSplit {
	present := make([]int, 0, len(idx))
	missing := make([]int, 0)
	for _, i := range idx {
		if math.IsNaN(xs[i][feature]) {
			missing = append(missing, i)
		} else {
			present = append(present, i)
		}
	}
	if len(present) < 2 {
		return nil
	}

	sort.Slice(present, func(a, b int) bool {
		return xs[present[a]][feature] < xs[present[b]][feature]
	})

	missingCounts := classCounts(ys, missing, numClasses)

	var out []candidateSplit
	leftCounts := make([]float64, numClasses)
	rightCounts := classCounts(ys, present, numClasses)
	n := len(idx)

	for k := 0; k < len(present)-1; k++ {
		i := present[k]
		leftCounts[ys[i]]++
		rightCounts[ys[i]]--

		lo, hi := xs[i][feature], xs[present[k+1]][feature]
		if lo == hi {
			continue
		}
		threshold := lo + (hi-lo)/2

		nLeft, nRight := k+1, len(present)-k-1
		for _, missingLeft := range routings(len(missing)) {
			l := append([]float64{}, leftCounts...)
			r := append([]float64{}, rightCounts...)
			nl, nr := nLeft, nRight
			if missingLeft {
				addCounts(l, missingCounts)
				nl += len(missing)
			} else {
				addCounts(r, missingCounts)
				nr += len(missing)
			}
			weighted := (float64(nl)*gini(l, nl) + float64(nr)*gini(r, nr)) / float64(n)
			out = append(out, candidateSplit{
				feature:     feature,
				threshold:   threshold,
				missingLeft: missingLeft,
				gain:        parent - weighted,
			})
		}
	}
	return out
}

// routings returns the missing-value sides worth scoring. With no missing
// values both routings are identical, so only one is tried.
func routings(numMissing int) []bool {
	if numMissing == 0 {
		return []bool{false}
	}
	return []bool{false, true}
}

func partition(xs [][]float64, idx []int, split *candidateSplit) (left, right []int) {
	for _, i := range idx {
		v := xs[i][split.feature]
		goesLeft := v <= split.threshold
		if math.IsNaN(v) {
			goesLeft = split.missingLeft
		}
		if goesLeft {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

// Predict returns the class probability vector for one row.
func (t *Tree) Predict(x []float64) []float64 {
	node := t.Root
	for node.Probs == nil {
		v := x[node.Feature]
		goesLeft := v <= node.Threshold
		if math.IsNaN(v) {
			goesLeft = node.MissingLeft
		}
		if goesLeft {
			node = node.Left
		} else {
			node = node.Right
		}
	}
	return node.Probs
}

func classCounts(ys []int, idx []int, numClasses int) []float64 {
	counts := make([]float64, numClasses)
	for _, i := range idx {
		counts[ys[i]]++
	}
	return counts
}

func addCounts(dst, src []float64) {
	for i := range src {
		dst[i] += src[i]
	}
}

func gini(counts []float64, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := c / float64(n)
		impurity -= p * p
	}
	return impurity
}

func pure(counts []float64) bool {
	nonzero := 0
	for _, c := range counts {
		if c > 0 {
			nonzero++
		}
	}
	return nonzero <= 1
}

func leaf(counts []float64) *Node {
	total := 0.0
	for _, c := range counts {
		total += c
	}
	probs := make([]float64, len(counts))
	if total > 0 {
		for i, c := range counts {
			probs[i] = c / total
		}
	}
	return &Node{Probs: probs}
}
