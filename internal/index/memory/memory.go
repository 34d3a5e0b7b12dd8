// Package memory provides the in-process schema index: brute-force cosine
// search over a copy-on-write version published with an atomic pointer swap.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sqlpilot/sqlpilot/internal/embed"
	"github.com/sqlpilot/sqlpilot/internal/index"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

type entry struct {
	doc    schema.Document
	vector []float32
}

type version struct {
	info     index.Version
	snapshot schema.Snapshot
	entries  []entry
}

type Index struct {
	embedder embed.Embedder
	active   atomic.Pointer[version]
}

func New(embedder embed.Embedder) *Index {
	return &Index{embedder: embedder}
}

func (i *Index) Rebuild(ctx context.Context, snap schema.Snapshot) (index.Version, error) {
	docs := snap.Documents()
	if len(docs) == 0 {
		return index.Version{}, fmt.Errorf("snapshot has no documents")
	}

	texts := make([]string, len(docs))
	for j, doc := range docs {
		texts[j] = doc.Text
	}

	// One failed embedding aborts the whole rebuild; the prior version
	// stays active and partial indexes are never published.
	vectors, err := i.embedder.Embed(ctx, texts)
	if err != nil {
		return index.Version{}, fmt.Errorf("embed snapshot documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return index.Version{}, fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(docs))
	}

	entries := make([]entry, len(docs))
	fragments, examples := 0, 0
	for j, doc := range docs {
		if len(vectors[j]) == 0 {
			return index.Version{}, fmt.Errorf("empty embedding for document %q", doc.ID)
		}
		entries[j] = entry{doc: doc, vector: vectors[j]}
		switch doc.Kind {
		case schema.KindFragment:
			fragments++
		case schema.KindExample:
			examples++
		}
	}

	next := &version{
		info: index.Version{
			ID:        uuid.NewString(),
			CreatedAt: time.Now().UTC(),
			Fragments: fragments,
			Examples:  examples,
		},
		snapshot: snap,
		entries:  entries,
	}
	i.active.Store(next)
	return next.info, nil
}

func (i *Index) Search(_ context.Context, vector []float32, kind schema.DocKind, k int) ([]index.Match, error) {
	current := i.active.Load()
	if current == nil {
		return nil, index.ErrNoActiveVersion
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("query vector is empty")
	}
	if k <= 0 {
		return nil, nil
	}

	matches := make([]index.Match, 0, len(current.entries))
	for _, candidate := range current.entries {
		if kind != "" && candidate.doc.Kind != kind {
			continue
		}
		score, err := cosineSimilarity(vector, candidate.vector)
		if err != nil {
			return nil, fmt.Errorf("score document %q: %w", candidate.doc.ID, err)
		}
		matches = append(matches, index.Match{Document: candidate.doc, Score: score})
	}

	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Document.ID < matches[b].Document.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (i *Index) Active() (index.Version, schema.Snapshot, bool) {
	current := i.active.Load()
	if current == nil {
		return index.Version{}, schema.Snapshot{}, false
	}
	return current.info, current.snapshot, true
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, magA, magB float64
	for j := range a {
		dot += float64(a[j]) * float64(b[j])
		magA += float64(a[j]) * float64(a[j])
		magB += float64(b[j]) * float64(b[j])
	}
	if magA == 0 || magB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), nil
}
