package ml

import (
	"math"
	"math/rand"
	"sync"
)

// Hyperparameters are one point of the ensemble search grid.
type Hyperparameters struct {
	Trees       int `json:"trees"`
	MaxDepth    int `json:"max_depth"`
	MinLeafSize int `json:"min_leaf_size"`
}

// Forest is a bagged ensemble of classification trees with per-split
// feature subsampling.
type Forest struct {
	Trees       []*Tree `json:"trees"`
	NumClasses  int     `json:"num_classes"`
	NumFeatures int     `json:"num_features"`
}

// FitForest trains an ensemble. Each tree sees its own bootstrap sample and
// a √p feature subset per split. Trees grow in parallel but each owns a
// source derived from the run seed, so results do not depend on scheduling.
func FitForest(xs [][]float64, ys []int, numClasses int, hp Hyperparameters, seed int64) (*Forest, []float64) {
	numFeatures := 0
	if len(xs) > 0 {
		numFeatures = len(xs[0])
	}
	params := TreeParams{
		MaxDepth:         hp.MaxDepth,
		MinLeafSize:      hp.MinLeafSize,
		FeaturesPerSplit: int(math.Ceil(math.Sqrt(float64(numFeatures)))),
		NumClasses:       numClasses,
	}

	forest := &Forest{
		Trees:       make([]*Tree, hp.Trees),
		NumClasses:  numClasses,
		NumFeatures: numFeatures,
	}
	perTree := make([][]float64, hp.Trees)

	var wg sync.WaitGroup
	for t := 0; t < hp.Trees; t++ {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed + int64(t)*7919))
			sample := make([]int, len(xs))
			for i := range sample {
				sample[i] = rng.Intn(len(xs))
			}
			imp := make([]float64, numFeatures)
			forest.Trees[t] = growTree(xs, ys, sample, params, rng, imp)
			perTree[t] = imp
		}()
	}
	wg.Wait()

	importances := make([]float64, numFeatures)
	for _, imp := range perTree {
		addCounts(importances, imp)
	}
	total := 0.0
	for _, v := range importances {
		total += v
	}
	if total > 0 {
		for i := range importances {
			importances[i] /= total
		}
	}
	return forest, importances
}

// PredictProba averages tree leaf distributions into one probability vector.
func (f *Forest) PredictProba(x []float64) []float64 {
	probs := make([]float64, f.NumClasses)
	for _, t := range f.Trees {
		addCounts(probs, t.Predict(x))
	}
	if len(f.Trees) > 0 {
		for i := range probs {
			probs[i] /= float64(len(f.Trees))
		}
	}
	return probs
}

// Predict returns the argmax class index and its probability.
func (f *Forest) Predict(x []float64) (class int, prob float64) {
	probs := f.PredictProba(x)
	for i, p := range probs {
		if p > prob {
			class, prob = i, p
		}
	}
	return class, prob
}
