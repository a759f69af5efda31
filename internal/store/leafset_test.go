package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnionLeafChunksDedupesPreservingFirstSeenOrder(t *testing.T) {
	out := UnionLeafChunks(
		[]string{"c1", "c2"},
		[]string{"c2", "c3"},
		[]string{"c4", "c1"},
	)
	assert.Equal(t, []string{"c1", "c2", "c3", "c4"}, out)
}

func TestUnionLeafChunksOfSingleChildIsIdentity(t *testing.T) {
	out := UnionLeafChunks([]string{"c1", "c2", "c3"})
	assert.Equal(t, []string{"c1", "c2", "c3"}, out)
}

func TestUnionLeafChunksWithNoChildrenIsEmpty(t *testing.T) {
	out := UnionLeafChunks()
	assert.Nil(t, out)
}
