package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/sqlpilot/sqlpilot/internal/index"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

// vectorEmbedder returns canned vectors keyed by text.
type vectorEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *vectorEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vector, ok := e.vectors[text]
		if !ok {
			vector = []float32{1, 0}
		}
		out[i] = vector
	}
	return out, nil
}

func testSnapshot() schema.Snapshot {
	return schema.Snapshot{
		Version: "snap-1",
		Fragments: []schema.Fragment{
			{Schema: "public", Table: "customers", Columns: []schema.Column{{Name: "id", Type: "bigint"}}},
			{Schema: "public", Table: "orders", Columns: []schema.Column{{Name: "id", Type: "bigint"}}},
		},
		Examples: []schema.ExamplePair{
			{ID: "seed-001", Question: "How many customers are there?", SQL: "SELECT COUNT(*) FROM customers LIMIT 200;"},
		},
	}
}

func TestRebuildPublishesVersion(t *testing.T) {
	idx := New(&vectorEmbedder{})

	info, err := idx.Rebuild(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if info.ID == "" {
		t.Fatal("version has no id")
	}
	if info.Fragments != 2 || info.Examples != 1 {
		t.Fatalf("counts = %+v", info)
	}

	active, snap, ok := idx.Active()
	if !ok || active.ID != info.ID {
		t.Fatalf("active = %+v ok=%v", active, ok)
	}
	if snap.Version != "snap-1" {
		t.Fatalf("snapshot version = %q", snap.Version)
	}
}

func TestFailedRebuildLeavesPriorVersionActive(t *testing.T) {
	embedder := &vectorEmbedder{}
	idx := New(embedder)

	first, err := idx.Rebuild(context.Background(), testSnapshot())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	embedder.err = errors.New("embedding service down")
	if _, err := idx.Rebuild(context.Background(), testSnapshot()); err == nil {
		t.Fatal("expected rebuild error")
	}

	active, _, ok := idx.Active()
	if !ok || active.ID != first.ID {
		t.Fatalf("active after failed rebuild = %+v ok=%v, want %q", active, ok, first.ID)
	}
}

func TestRebuildRejectsEmptySnapshot(t *testing.T) {
	idx := New(&vectorEmbedder{})
	if _, err := idx.Rebuild(context.Background(), schema.Snapshot{}); err == nil {
		t.Fatal("expected error for empty snapshot")
	}
}

func TestSearchRanksByCosineSimilarity(t *testing.T) {
	embedder := &vectorEmbedder{vectors: map[string][]float32{}}
	snap := testSnapshot()
	docs := snap.Documents()
	// customers is aligned with the query axis, orders is orthogonal.
	embedder.vectors[docs[0].Text] = []float32{1, 0}
	embedder.vectors[docs[1].Text] = []float32{0, 1}
	embedder.vectors[docs[2].Text] = []float32{0.9, 0.1}

	idx := New(embedder)
	if _, err := idx.Rebuild(context.Background(), snap); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	matches, err := idx.Search(context.Background(), []float32{1, 0}, schema.KindFragment, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d", len(matches))
	}
	if matches[0].Document.ID != "fragment:public.customers" {
		t.Fatalf("top match = %q", matches[0].Document.ID)
	}
	if matches[0].Score <= matches[1].Score {
		t.Fatalf("scores not descending: %v then %v", matches[0].Score, matches[1].Score)
	}

	examples, err := idx.Search(context.Background(), []float32{1, 0}, schema.KindExample, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(examples) != 1 || examples[0].Document.Kind != schema.KindExample {
		t.Fatalf("example matches = %+v", examples)
	}
}

func TestSearchWithoutActiveVersion(t *testing.T) {
	idx := New(&vectorEmbedder{})
	if _, err := idx.Search(context.Background(), []float32{1, 0}, schema.KindFragment, 3); !errors.Is(err, index.ErrNoActiveVersion) {
		t.Fatalf("err = %v, want ErrNoActiveVersion", err)
	}
}

func TestSearchTieBreaksOnDocumentID(t *testing.T) {
	embedder := &vectorEmbedder{}
	idx := New(embedder)
	if _, err := idx.Rebuild(context.Background(), testSnapshot()); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	// All vectors identical: order must fall back to document ID.
	matches, err := idx.Search(context.Background(), []float32{1, 0}, schema.KindFragment, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if matches[0].Document.ID != "fragment:public.customers" || matches[1].Document.ID != "fragment:public.orders" {
		t.Fatalf("tie break order = %q, %q", matches[0].Document.ID, matches[1].Document.ID)
	}
}
