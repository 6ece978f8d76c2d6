// Package vectorindex implements the dense-vector recall index (C8): a
// single "chunks" collection of 384-dim unit-normalised embeddings with
// two pluggable backends behind a common Backend interface — chromem
// (embeddable, default) and qdrant (external). Adapted from the
// teacher's pkg/vector package (ChromemProvider/QdrantProvider), trimmed
// to the single-collection, pre-computed-embedding, id-only shape this
// domain needs (no per-field metadata filtering).
package vectorindex

import "context"

// Hit is one scored dense-recall candidate.
type Hit struct {
	ChunkID int64
	Score   float64
}

// Backend is the pluggable dense-vector store contract.
type Backend interface {
	// Upsert stores (or replaces) the embedding for a chunk id.
	Upsert(ctx context.Context, chunkID int64, vector []float32) error
	// Delete removes a chunk id's embedding, if present.
	Delete(ctx context.Context, chunkID int64) error
	// Search returns up to topK nearest neighbours to vector by
	// similarity, descending.
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	// Close releases backend resources (persists to disk for chromem).
	Close() error
}

// Dimension is the fixed embedding width every backend and embedder in
// this system agrees on (§4.7).
const Dimension = 384

// collectionName is the single collection every backend stores chunk
// embeddings under; this domain never needs more than one.
const collectionName = "chunks"
