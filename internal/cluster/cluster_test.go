package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestAssignSingleVectorIsSingleCluster(t *testing.T) {
	groups, err := Assign([][]float32{{1, 2, 3}}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0}, groups[0])
}

func TestAssignTooFewPointsForMinKFallsBackToSingleCluster(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinK = 5
	vectors := [][]float32{{0, 0}, {10, 10}}
	groups, err := Assign(vectors, cfg)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.ElementsMatch(t, []int{0, 1}, groups[0])
}

func TestAssignWellSeparatedClumpsCoversAllPoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinK = 2
	cfg.MaxK = 4
	cfg.MaxEMIters = 30
	cfg.Seed = 42

	var vectors [][]float32
	for i := 0; i < 5; i++ {
		vectors = append(vectors, []float32{float32(i) * 0.01, float32(i) * 0.01})
	}
	for i := 0; i < 5; i++ {
		vectors = append(vectors, []float32{100 + float32(i)*0.01, 100 + float32(i)*0.01})
	}

	groups, err := Assign(vectors, cfg)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(groups), 1)

	total := 0
	for _, g := range groups {
		total += len(g)
	}
	assert.Equal(t, 10, total)
}

func TestAssignCoversAllIndicesExactlyOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinK = 2
	cfg.MaxK = 3
	cfg.Seed = 7

	vectors := [][]float32{
		{0, 0}, {1, 0}, {0, 1}, {50, 50}, {51, 50}, {50, 51}, {-40, -40}, {-41, -40},
	}
	groups, err := Assign(vectors, cfg)
	require.NoError(t, err)

	seen := map[int]bool{}
	for _, g := range groups {
		for _, idx := range g {
			require.False(t, seen[idx], "index %d seen twice", idx)
			seen[idx] = true
		}
	}
	assert.Len(t, seen, len(vectors))
}

func TestLogGaussianDensityPeaksAtMean(t *testing.T) {
	mean := []float64{0, 0}
	variance := []float64{1, 1}
	atMean := logGaussianDensity(mean, mean, variance)
	offMean := logGaussianDensity([]float64{3, 3}, mean, variance)
	assert.Greater(t, atMean, offMean)
}

func TestMStepMatchesManualWeightedMoments(t *testing.T) {
	data := mat.NewDense(4, 1, []float64{1, 2, 3, 4})
	resp := mat.NewDense(4, 1, []float64{1, 1, 1, 1})
	gm := &gaussianMixture{
		k:         1,
		dim:       1,
		weights:   []float64{0},
		means:     [][]float64{{0}},
		variances: [][]float64{{0}},
	}
	mStep(data, gm, resp)
	assert.InDelta(t, 2.5, gm.means[0][0], 1e-9)
	assert.InDelta(t, 1.25+minVariance, gm.variances[0][0], 1e-9)
}
