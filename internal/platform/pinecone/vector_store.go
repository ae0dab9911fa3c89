// Package pinecone defines the vector-store contract shared by every
// vector-backed export target. Concrete stores (qdrant today) implement
// VectorStore against their own wire protocol.
package pinecone

import "context"

// VectorStore is the capability a vector-backed export target exposes to
// the reconciler for mutation, and optionally to read-side serving for
// similarity search. QueryMatches/QueryIDs are never called during
// indexing — only from the optional QueryTarget capability.
type VectorStore interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	// QueryMatches returns IDs with their similarity scores (higher is better).
	QueryMatches(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]VectorMatch, error)
	QueryIDs(ctx context.Context, namespace string, q []float32, topK int, filter map[string]any) ([]string, error)
	DeleteIDs(ctx context.Context, namespace string, ids []string) error
}

// Vector is one point to upsert: an ID, its embedding, and arbitrary
// payload metadata carried alongside it.
type Vector struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// VectorMatch is one similarity-search result.
type VectorMatch struct {
	ID    string
	Score float64
}
