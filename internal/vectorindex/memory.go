package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

/*
LEARNING: SNAPSHOT SWAP

Readers take the partition pointer under a read lock and then score
without holding any lock. Writers never touch a published partition;
they build a new one and swap the pointer. A query that started before
an Add finishes sees the old snapshot in full, never half of the new one.
*/

type partition struct {
	model   string
	dim     int
	entries []Entry // ordered by Seq
}

// Memory is the default Index. Vectors live in process memory and are
// rebuilt from the chunk table on startup.
type Memory struct {
	mu    sync.RWMutex
	parts map[string]*partition
}

func NewMemory() *Memory {
	return &Memory{parts: make(map[string]*partition)}
}

func (m *Memory) Add(ctx context.Context, documentID, model string, entries ...Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.parts[documentID]
	next := &partition{model: model}
	byID := make(map[string]int)
	if old != nil {
		if old.model != model {
			return fmt.Errorf("%w: partition %s uses %s, got %s", ErrModelMismatch, documentID, old.model, model)
		}
		next.dim = old.dim
		next.entries = make([]Entry, len(old.entries), len(old.entries)+len(entries))
		copy(next.entries, old.entries)
		for i, e := range next.entries {
			byID[e.ChunkID] = i
		}
	}

	for _, e := range entries {
		if len(e.Vector) == 0 {
			return fmt.Errorf("%w: chunk %s", ErrEmptyVector, e.ChunkID)
		}
		if next.dim == 0 {
			next.dim = len(e.Vector)
		}
		if len(e.Vector) != next.dim {
			return fmt.Errorf("%w: chunk %s has %d, partition has %d", ErrDimensionMismatch, e.ChunkID, len(e.Vector), next.dim)
		}

		stored := Entry{ChunkID: e.ChunkID, Seq: e.Seq, Vector: Normalize(e.Vector)}
		if i, ok := byID[e.ChunkID]; ok {
			next.entries[i] = stored
			continue
		}
		byID[e.ChunkID] = len(next.entries)
		next.entries = append(next.entries, stored)
	}

	sort.SliceStable(next.entries, func(i, j int) bool { return next.entries[i].Seq < next.entries[j].Seq })
	m.parts[documentID] = next
	return nil
}

func (m *Memory) Query(ctx context.Context, documentID string, vector []float32, k int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	p := m.parts[documentID]
	m.mu.RUnlock()

	if p == nil || len(p.entries) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPartitionNotFound, documentID)
	}
	if len(vector) != p.dim {
		return nil, fmt.Errorf("%w: query has %d, partition has %d", ErrDimensionMismatch, len(vector), p.dim)
	}
	if k <= 0 {
		return []Match{}, nil
	}

	q := Normalize(vector)
	matches := make([]Match, len(p.entries))
	for i, e := range p.entries {
		matches[i] = Match{ChunkID: e.ChunkID, Seq: e.Seq, Score: Dot(q, e.Vector)}
	}
	return TopK(matches, k), nil
}

// Remove drops a partition. Removing an unknown document is not an error.
func (m *Memory) Remove(ctx context.Context, documentID string) error {
	m.mu.Lock()
	delete(m.parts, documentID)
	m.mu.Unlock()
	return nil
}

// Len reports the number of vectors stored for a document.
func (m *Memory) Len(documentID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p := m.parts[documentID]; p != nil {
		return len(p.entries)
	}
	return 0
}

// Partitions reports how many documents have vectors.
func (m *Memory) Partitions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.parts)
}
