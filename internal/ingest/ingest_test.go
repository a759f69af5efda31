package ingest

import "testing"

func TestChunkIDIsDeterministicAndOrdinalScoped(t *testing.T) {
	if got, want := chunkID("doc-1", 0), "doc-1::chunk::000000"; got != want {
		t.Fatalf("chunkID(doc-1, 0) = %q, want %q", got, want)
	}
	if got, want := chunkID("doc-1", 12), "doc-1::chunk::000012"; got != want {
		t.Fatalf("chunkID(doc-1, 12) = %q, want %q", got, want)
	}
	if chunkID("doc-1", 0) == chunkID("doc-2", 0) {
		t.Fatalf("chunk IDs must be scoped to their document")
	}
}

func TestEmbeddingIDJoinsOwnerKindAndID(t *testing.T) {
	if got, want := embeddingID("chunk", "doc-1::chunk::000000"), "chunk::doc-1::chunk::000000"; got != want {
		t.Fatalf("embeddingID() = %q, want %q", got, want)
	}
}
