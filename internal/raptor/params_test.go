package raptor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEmbedIntervalDerivesFromRPMLimit(t *testing.T) {
	p := Params{RPMLimit: 3}
	assert.Equal(t, 20*time.Second, p.embedInterval())

	p.RPMLimit = 0
	assert.Equal(t, time.Duration(0), p.embedInterval())
}

func TestDefaultParamsMatchOriginalConfig(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 2, p.MinK)
	assert.Equal(t, 50, p.MaxK)
	assert.Equal(t, 512, p.MaxTokens)
	assert.Equal(t, 3, p.RPMLimit)
	assert.Equal(t, 3, p.LLMConcurrency)
	assert.Equal(t, 10, p.MaxTreeLevels)
	assert.Equal(t, 2, p.MinClusterSize)
	assert.Equal(t, 100, p.MaxClusterSize)
}

func TestAverageVectorsComputesElementwiseMean(t *testing.T) {
	out := averageVectors([][]float32{{0, 2}, {2, 4}, {4, 6}})
	assert.InDeltaSlice(t, []float64{2, 4}, toFloat64(out), 1e-6)
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}

func TestBuildErrorUnwrapsUnderlyingCause(t *testing.T) {
	cause := assert.AnError
	be := &BuildError{TreeID: "t1", Level: 2, Err: cause}
	assert.ErrorIs(t, be, cause)
	assert.Contains(t, be.Error(), "t1")
	assert.Contains(t, be.Error(), "level=2")
}
