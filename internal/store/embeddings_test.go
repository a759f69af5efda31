package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorLiteralFormatsAsPgvectorArray(t *testing.T) {
	assert.Equal(t, "[]", vectorLiteral(nil))
	assert.Equal(t, "[1,2,3]", vectorLiteral([]float32{1, 2, 3}))
	assert.Equal(t, "[0.5,-1.25]", vectorLiteral([]float32{0.5, -1.25}))
}

func TestParseVectorLiteralRoundTripsVectorLiteral(t *testing.T) {
	in := []float32{1, -2.5, 0.25}
	out, err := parseVectorLiteral(vectorLiteral(in))
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseVectorLiteralEmptyArray(t *testing.T) {
	out, err := parseVectorLiteral("[]")
	assert.NoError(t, err)
	assert.Empty(t, out)
}

func TestParseVectorLiteralRejectsMalformedComponent(t *testing.T) {
	_, err := parseVectorLiteral("[1,notanumber,3]")
	assert.Error(t, err)
}
