package ml

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoClassData builds a separable problem: class 1 when x0 < 10, class 0
// otherwise, with x1 as noise.
func twoClassData(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	xs := make([][]float64, n)
	ys := make([]int, n)
	for i := range xs {
		x0 := rng.Float64() * 20
		xs[i] = []float64{x0, rng.Float64()}
		if x0 < 10 {
			ys[i] = 1
		}
	}
	return xs, ys
}

func TestFitForest_LearnsSeparableData(t *testing.T) {
	xs, ys := twoClassData(400, 1)
	forest, importances := FitForest(xs, ys, 2, Hyperparameters{Trees: 20, MaxDepth: 6, MinLeafSize: 2}, 42)

	correct := 0
	for i := range xs {
		class, prob := forest.Predict(xs[i])
		if class == ys[i] {
			correct++
		}
		assert.GreaterOrEqual(t, prob, 0.0)
		assert.LessOrEqual(t, prob, 1.0)
	}
	assert.Greater(t, float64(correct)/float64(len(xs)), 0.95)

	// The splitting feature dominates the importance mass.
	assert.Greater(t, importances[0], importances[1])
	assert.InDelta(t, 1.0, importances[0]+importances[1], 1e-9, "importances are normalized")
}

func TestFitForest_Deterministic(t *testing.T) {
	xs, ys := twoClassData(200, 7)

	a, impA := FitForest(xs, ys, 2, Hyperparameters{Trees: 10, MaxDepth: 5, MinLeafSize: 3}, 42)
	b, impB := FitForest(xs, ys, 2, Hyperparameters{Trees: 10, MaxDepth: 5, MinLeafSize: 3}, 42)

	assert.Equal(t, impA, impB)
	for i := range xs {
		pa := a.PredictProba(xs[i])
		pb := b.PredictProba(xs[i])
		assert.Equal(t, pa, pb)
	}
}

func TestGrowTree_MissingAsOwnBranch(t *testing.T) {
	// Rows where the feature is missing belong to class 1; present values
	// belong to class 0. Imputing any number would scatter them.
	var xs [][]float64
	var ys []int
	for i := 0; i < 40; i++ {
		xs = append(xs, []float64{float64(i%20) + 1})
		ys = append(ys, 0)
		xs = append(xs, []float64{math.NaN()})
		ys = append(ys, 1)
	}

	sample := make([]int, len(xs))
	for i := range sample {
		sample[i] = i
	}
	rng := rand.New(rand.NewSource(1))
	tree := growTree(xs, ys, sample, TreeParams{MaxDepth: 4, MinLeafSize: 2, NumClasses: 2}, rng, nil)

	probs := tree.Predict([]float64{math.NaN()})
	assert.Greater(t, probs[1], 0.9, "missing rows route to their own side")

	probs = tree.Predict([]float64{5})
	assert.Greater(t, probs[0], 0.9)
}

func TestForest_JSONRoundTrip(t *testing.T) {
	xs, ys := twoClassData(100, 3)
	forest, _ := FitForest(xs, ys, 2, Hyperparameters{Trees: 3, MaxDepth: 4, MinLeafSize: 2}, 9)

	data, err := json.Marshal(forest)
	require.NoError(t, err)

	var back Forest
	require.NoError(t, json.Unmarshal(data, &back))

	for i := 0; i < 20; i++ {
		assert.Equal(t, forest.PredictProba(xs[i]), back.PredictProba(xs[i]))
	}
}

func TestExpandGrid_StableOrder(t *testing.T) {
	grid := ExpandGrid([]int{50, 100}, []int{10}, []int{5, 10})
	require.Len(t, grid, 4)
	assert.Equal(t, Hyperparameters{Trees: 50, MaxDepth: 10, MinLeafSize: 5}, grid[0])
	assert.Equal(t, Hyperparameters{Trees: 50, MaxDepth: 10, MinLeafSize: 10}, grid[1])
	assert.Equal(t, Hyperparameters{Trees: 100, MaxDepth: 10, MinLeafSize: 5}, grid[2])
}
