package raptor

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeIDIsDeterministic(t *testing.T) {
	assert.Equal(t, "doc-1::tree", treeID("doc-1"))
	assert.Equal(t, treeID("doc-1"), treeID("doc-1"))
}

func TestLeafNodeIDIsZeroPaddedAndDeterministic(t *testing.T) {
	id := leafNodeID("doc-1::tree", 3)
	assert.Equal(t, "doc-1::tree::leaf::000003", id)
	assert.Equal(t, id, leafNodeID("doc-1::tree", 3))
}

func TestSummaryNodeIDHasRandomSuffixButStableShape(t *testing.T) {
	id, err := summaryNodeID("doc-1::tree", 2, 5)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^doc-1::tree::L2::5::[a-z0-9]{6}$`), id)

	id2, err := summaryNodeID("doc-1::tree", 2, 5)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2, "random suffix should differ across calls")
}

func TestEmbeddingIDCombinesOwnerKindAndID(t *testing.T) {
	assert.Equal(t, "chunk::c1", embeddingID("chunk", "c1"))
	assert.Equal(t, "tree_node::n1", embeddingID("tree_node", "n1"))
}
