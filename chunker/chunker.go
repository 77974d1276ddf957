// Package chunker splits decoded result sets into token-bounded chunks
// while keeping logical units intact.
//
// A result entry is either a record (a JSON object whose "attributes" key
// holds a list) or a bare value. Records are decomposed into a metadata
// sub-item (the record minus its attributes) followed by one sub-item per
// attribute. Sub-items are never split across chunks; when a chunk fills up
// between two attributes of the same record, the next chunk is re-seeded
// with that record's metadata so every chunk stays interpretable on its own.
package chunker

import (
	"context"
	"fmt"
)

// attributesKey marks the record field holding the attribute list.
const attributesKey = "attributes"

// DefaultTokenLimit is the per-chunk token bound used when none is
// configured. It leaves room under the context windows of current models
// for the prompt and the generated reply.
const DefaultTokenLimit = 120000

// Chunk is one token-bounded slice of a result set. ChunkID is the 0-based
// position in traversal order; TotalChunks is stamped identically across the
// whole run so each downstream call can locate its piece.
type Chunk struct {
	ChunkID     int   `json:"chunk_id"`
	TotalChunks int   `json:"total_chunks"`
	Data        []any `json:"data"`
}

// Splitter chunks result sets against a fixed token limit.
type Splitter struct {
	est   Estimator
	limit int
}

// NewSplitter creates a Splitter. The token limit bounds the estimated size
// of each chunk; a single oversized sub-item is still emitted whole in a
// chunk of its own rather than split or dropped.
func NewSplitter(est Estimator, tokenLimit int) (*Splitter, error) {
	if est == nil {
		return nil, fmt.Errorf("estimator is required")
	}
	if tokenLimit <= 0 {
		return nil, fmt.Errorf("token limit must be positive, got %d", tokenLimit)
	}
	return &Splitter{est: est, limit: tokenLimit}, nil
}

// TokenLimit returns the configured per-chunk token bound.
func (s *Splitter) TokenLimit() int {
	return s.limit
}

type itemKind int

const (
	kindMetadata itemKind = iota
	kindAttribute
)

// splitState is the accumulator threaded through one traversal: the sealed
// chunks so far, the chunk being filled, and the most recent record metadata
// used to seed continuation chunks.
type splitState struct {
	limit    int
	chunks   [][]any
	current  []any
	size     int
	meta     map[string]any
	metaSize int
}

// add applies the chunking rule to one sub-item. If the item would push the
// current non-empty chunk past the limit, the chunk is sealed first; an
// attribute then starts the new chunk seeded with its record's metadata, a
// metadata item starts it empty. The item itself is always appended, so an
// item larger than the limit simply yields an oversized chunk.
func (st *splitState) add(item any, size int, kind itemKind) {
	if st.size+size > st.limit && len(st.current) > 0 {
		st.chunks = append(st.chunks, st.current)
		if kind == kindAttribute && st.meta != nil {
			st.current = []any{st.meta}
			st.size = st.metaSize
		} else {
			st.current = nil
			st.size = 0
		}
	}
	st.current = append(st.current, item)
	st.size += size
}

// Split chunks the result entries in traversal order. An empty input yields
// no chunks and no error. Estimation failures abort the split and name the
// offending entry.
func (s *Splitter) Split(ctx context.Context, results []any) ([]Chunk, error) {
	if len(results) == 0 {
		return nil, nil
	}
	st := &splitState{limit: s.limit}
	for i, entry := range results {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, ok := entry.(map[string]any)
		if !ok || len(rec) == 0 {
			size, err := s.est.Estimate(entry)
			if err != nil {
				return nil, fmt.Errorf("estimate result %d: %w", i, err)
			}
			st.add(entry, size, kindAttribute)
			continue
		}

		attrs, meta := decompose(rec)
		metaSize, err := s.est.Estimate(meta)
		if err != nil {
			return nil, fmt.Errorf("estimate result %d metadata: %w", i, err)
		}
		st.meta, st.metaSize = meta, metaSize
		st.add(meta, metaSize, kindMetadata)

		for j, attr := range attrs {
			size, err := s.est.Estimate(attr)
			if err != nil {
				return nil, fmt.Errorf("estimate result %d attribute %d: %w", i, j, err)
			}
			st.add(attr, size, kindAttribute)
		}
	}
	if len(st.current) > 0 {
		st.chunks = append(st.chunks, st.current)
	}

	chunks := make([]Chunk, len(st.chunks))
	for i, data := range st.chunks {
		chunks[i] = Chunk{ChunkID: i, TotalChunks: len(st.chunks), Data: data}
	}
	return chunks, nil
}

// decompose splits a record into its attribute list and everything else.
// An "attributes" key that does not hold a list stays in the metadata
// rather than being dropped.
func decompose(rec map[string]any) ([]any, map[string]any) {
	attrs, hasList := rec[attributesKey].([]any)
	meta := make(map[string]any, len(rec))
	for k, v := range rec {
		if hasList && k == attributesKey {
			continue
		}
		meta[k] = v
	}
	return attrs, meta
}
