// Package vectorindex stores chunk vectors in one partition per document and
// answers nearest-neighbour queries inside a single partition.
package vectorindex

import (
	"context"
	"errors"
	"math"
	"sort"
)

var (
	ErrPartitionNotFound = errors.New("vector index partition not found")
	ErrModelMismatch     = errors.New("embedding model does not match partition")
	ErrDimensionMismatch = errors.New("vector dimension does not match partition")
	ErrEmptyVector       = errors.New("empty vector")
)

// Entry is one chunk vector. Seq is the chunk's position in its document
// and breaks score ties.
type Entry struct {
	ChunkID string
	Seq     int
	Vector  []float32
}

type Match struct {
	ChunkID string
	Seq     int
	Score   float32
}

// Index is implemented by Memory, Qdrant and the pgvector repository.
//
// Add is idempotent per chunk id. Query never returns entries from another
// document and returns ErrPartitionNotFound for a document with no vectors.
type Index interface {
	Add(ctx context.Context, documentID, model string, entries ...Entry) error
	Query(ctx context.Context, documentID string, vector []float32, k int) ([]Match, error)
	Remove(ctx context.Context, documentID string) error
}

// Normalize returns a unit-length copy of v. A zero vector is copied as is.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)

	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Dot is cosine similarity for unit vectors.
func Dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// SortMatches orders by score descending, then by seq ascending so equal
// scores come back in document order.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].Seq < ms[j].Seq
	})
}

// TopK sorts ms and keeps at most k.
func TopK(ms []Match, k int) []Match {
	SortMatches(ms)
	if k < len(ms) {
		ms = ms[:k]
	}
	return ms
}
