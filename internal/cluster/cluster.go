// Package cluster implements C4's clustering step: soft-assignment of
// vectors to a BIC-selected number of clusters via a diagonal-covariance
// Gaussian mixture fit with expectation-maximization, using gonum for the
// linear-algebra and statistics primitives. No pack example wires a
// clustering/GMM library directly (see DESIGN.md), so the EM/BIC loop
// itself is hand-written on top of gonum.org/v1/gonum's mat and stat
// packages rather than imitating a specific teacher file.
package cluster

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Config bounds the cluster-count search grid, grounded in
// RaptorConfig.min_k/max_k/min_cluster_size/max_cluster_size. Assign uses
// MinK and MaxK for the grid; it does not read MinClusterSize or
// MaxClusterSize, so cluster sizes are not bounded.
type Config struct {
	MinK           int
	MaxK           int
	MinClusterSize int
	MaxClusterSize int
	MaxEMIters     int
	Seed           int64
}

// DefaultConfig mirrors the original system's documented tuning knobs.
func DefaultConfig() Config {
	return Config{
		MinK:           2,
		MaxK:           50,
		MinClusterSize: 2,
		MaxClusterSize: 100,
		MaxEMIters:     50,
	}
}

// Assign clusters vectors (row-major, n x d) into groups, selecting the
// cluster count k in [MinK, min(MaxK, n)] that minimizes BIC. It returns
// the member indices of each non-empty cluster, deduplicated and in
// first-seen order. When n < MinK, or when the fitted partition stalls
// (>= n clusters, or every cluster a singleton), it falls back to a single
// cluster containing all indices as a stall guard.
func Assign(vectors [][]float32, cfg Config) ([][]int, error) {
	n := len(vectors)
	if n == 0 {
		return nil, fmt.Errorf("cluster: no vectors")
	}
	if n == 1 {
		return [][]int{{0}}, nil
	}
	if cfg.MaxEMIters <= 0 {
		cfg.MaxEMIters = 50
	}

	maxK := cfg.MaxK
	if maxK > n {
		maxK = n
	}
	if maxK < cfg.MinK {
		// Not enough points to satisfy the minimum grid; single cluster.
		return [][]int{allIndices(n)}, nil
	}

	data := toDense(vectors)
	rng := rand.New(rand.NewSource(cfg.Seed))

	bestBIC := math.Inf(1)
	var bestAssign []int
	for k := cfg.MinK; k <= maxK; k++ {
		assign, bic, err := fitAndScore(data, k, cfg.MaxEMIters, rng)
		if err != nil {
			continue
		}
		if bic < bestBIC {
			bestBIC = bic
			bestAssign = assign
		}
	}
	if bestAssign == nil {
		return [][]int{allIndices(n)}, nil
	}

	groups := groupByAssignment(bestAssign, n)
	if stalled(groups, n) {
		return [][]int{allIndices(n)}, nil
	}
	return groups, nil
}

func allIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}

func stalled(groups [][]int, n int) bool {
	if len(groups) >= n {
		return true
	}
	allSingleton := true
	for _, g := range groups {
		if len(g) > 1 {
			allSingleton = false
			break
		}
	}
	return allSingleton
}

func toDense(vectors [][]float32) *mat.Dense {
	n := len(vectors)
	d := len(vectors[0])
	data := make([]float64, n*d)
	for i, v := range vectors {
		for j, f := range v {
			data[i*d+j] = float64(f)
		}
	}
	return mat.NewDense(n, d, data)
}

// gaussianMixture is a diagonal-covariance mixture model: K components,
// each with a weight, a mean vector, and a per-dimension variance vector.
type gaussianMixture struct {
	k         int
	dim       int
	weights   []float64
	means     [][]float64
	variances [][]float64
}

const minVariance = 1e-6

// fitAndScore runs EM to convergence (or maxIters) for k components and
// returns the hard cluster assignment (argmax responsibility per point)
// plus the model's BIC score.
func fitAndScore(data *mat.Dense, k, maxIters int, rng *rand.Rand) ([]int, float64, error) {
	n, d := data.Dims()
	if k > n {
		return nil, 0, fmt.Errorf("cluster: k=%d exceeds n=%d", k, n)
	}

	gm := initMixture(data, k, rng)

	resp := mat.NewDense(n, k, nil)
	var logLikelihood float64
	for iter := 0; iter < maxIters; iter++ {
		logLikelihood = eStep(data, gm, resp)
		mStep(data, gm, resp)
	}
	logLikelihood = eStep(data, gm, resp) // final responsibilities match final params

	assign := make([]int, n)
	for i := 0; i < n; i++ {
		best, bestVal := 0, math.Inf(-1)
		for c := 0; c < k; c++ {
			v := resp.At(i, c)
			if v > bestVal {
				bestVal, best = v, c
			}
		}
		assign[i] = best
	}

	// Free parameters: (k-1) weights + k*d means + k*d variances.
	numParams := float64((k-1)+k*d+k*d)
	bic := -2*logLikelihood + numParams*math.Log(float64(n))
	return assign, bic, nil
}

func initMixture(data *mat.Dense, k int, rng *rand.Rand) *gaussianMixture {
	n, d := data.Dims()
	gm := &gaussianMixture{
		k:         k,
		dim:       d,
		weights:   make([]float64, k),
		means:     make([][]float64, k),
		variances: make([][]float64, k),
	}
	perm := rng.Perm(n)
	for c := 0; c < k; c++ {
		gm.weights[c] = 1.0 / float64(k)
		row := make([]float64, d)
		mat.Row(row, perm[c%n], data)
		gm.means[c] = row
		v := make([]float64, d)
		for j := range v {
			v[j] = 1.0
		}
		gm.variances[c] = v
	}
	return gm
}

// eStep computes responsibilities (posterior component membership
// probabilities) into resp, and returns the total log-likelihood.
func eStep(data *mat.Dense, gm *gaussianMixture, resp *mat.Dense) float64 {
	n, d := data.Dims()
	logLikelihood := 0.0
	row := make([]float64, d)
	logDensities := make([]float64, gm.k)
	for i := 0; i < n; i++ {
		mat.Row(row, i, data)
		maxLog := math.Inf(-1)
		for c := 0; c < gm.k; c++ {
			ld := math.Log(gm.weights[c]+1e-300) + logGaussianDensity(row, gm.means[c], gm.variances[c])
			logDensities[c] = ld
			if ld > maxLog {
				maxLog = ld
			}
		}
		sum := 0.0
		for c := 0; c < gm.k; c++ {
			sum += math.Exp(logDensities[c] - maxLog)
		}
		logSum := maxLog + math.Log(sum)
		logLikelihood += logSum
		for c := 0; c < gm.k; c++ {
			resp.Set(i, c, math.Exp(logDensities[c]-logSum))
		}
	}
	return logLikelihood
}

func logGaussianDensity(x, mean, variance []float64) float64 {
	d := len(x)
	logDet := 0.0
	quad := 0.0
	for j := 0; j < d; j++ {
		v := variance[j]
		if v < minVariance {
			v = minVariance
		}
		diff := x[j] - mean[j]
		logDet += math.Log(v)
		quad += diff * diff / v
	}
	return -0.5 * (float64(d)*math.Log(2*math.Pi) + logDet + quad)
}

// mStep re-estimates weights, means, and variances from responsibilities,
// using gonum/stat's weighted population mean/variance per dimension.
func mStep(data *mat.Dense, gm *gaussianMixture, resp *mat.Dense) {
	n, d := data.Dims()
	weights := make([]float64, n)
	col := make([]float64, n)
	for c := 0; c < gm.k; c++ {
		nc := 0.0
		for i := 0; i < n; i++ {
			w := resp.At(i, c)
			weights[i] = w
			nc += w
		}
		if nc < 1e-8 {
			nc = 1e-8
		}
		gm.weights[c] = nc / float64(n)

		newMean := make([]float64, d)
		newVar := make([]float64, d)
		for j := 0; j < d; j++ {
			mat.Col(col, j, data)
			mean, variance := stat.PopMeanVariance(col, weights)
			newMean[j] = mean
			newVar[j] = variance + minVariance
		}
		gm.means[c] = newMean
		gm.variances[c] = newVar
	}
}

func groupByAssignment(assign []int, n int) [][]int {
	byCluster := map[int][]int{}
	var order []int
	for i, c := range assign {
		if _, ok := byCluster[c]; !ok {
			order = append(order, c)
		}
		byCluster[c] = append(byCluster[c], i)
	}
	groups := make([][]int, 0, len(order))
	for _, c := range order {
		groups = append(groups, byCluster[c])
	}
	return groups
}
