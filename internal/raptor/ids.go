package raptor

import (
	"crypto/rand"
	"fmt"
)

const randomSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// treeID derives a tree's identifier deterministically from its document.
func treeID(documentID string) string {
	return documentID + "::tree"
}

// leafNodeID derives a leaf node's identifier deterministically from the
// tree and the chunk's ordinal index.
func leafNodeID(treeID string, index int) string {
	return fmt.Sprintf("%s::leaf::%06d", treeID, index)
}

// summaryNodeID derives a summary node's identifier; the random suffix
// disambiguates repeated builds that land on the same (level, group).
func summaryNodeID(treeID string, level, groupIndex int) (string, error) {
	suffix, err := randomSuffix(6)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s::L%d::%d::%s", treeID, level, groupIndex, suffix), nil
}

// embeddingID derives an embedding's identifier from its owner.
func embeddingID(ownerKind, ownerID string) string {
	return ownerKind + "::" + ownerID
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = randomSuffixAlphabet[int(b)%len(randomSuffixAlphabet)]
	}
	return string(out), nil
}
