// Package retrieve builds the per-request retrieval context: the schema
// fragments and example pairs most relevant to the normalized question.
package retrieve

import (
	"context"
	"fmt"
	"sort"

	"github.com/sqlpilot/sqlpilot/internal/embed"
	"github.com/sqlpilot/sqlpilot/internal/index"
	"github.com/sqlpilot/sqlpilot/internal/schema"
)

// Context is transient and owned by one in-flight request.
type Context struct {
	Fragments []index.Match
	Examples  []index.Match
}

func (c Context) Empty() bool {
	return len(c.Fragments) == 0 && len(c.Examples) == 0
}

// EstimateTokens approximates the token count of a string. Four characters
// per token tracks common BPE vocabularies closely enough for budgeting.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

type Retriever struct {
	Embedder embed.Embedder
	Index    index.Index
	// FragmentK is how many schema fragments are retrieved when the request
	// does not ask for a specific k; defaults to 5.
	FragmentK int
	// ExampleK bounds how many example pairs are retrieved; defaults to 2.
	ExampleK int
	// TokenBudget bounds the serialized size of the context. Fragments past
	// the budget are dropped after ranking.
	TokenBudget int
}

// Retrieve embeds the question, searches fragments and example pairs
// separately, and merges them into a deterministically ordered context.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) (Context, error) {
	if k <= 0 {
		k = r.FragmentK
	}
	if k <= 0 {
		k = 5
	}
	vectors, err := r.Embedder.Embed(ctx, []string{question})
	if err != nil {
		return Context{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return Context{}, fmt.Errorf("question embedding count mismatch: got %d", len(vectors))
	}

	fragments, err := r.Index.Search(ctx, vectors[0], schema.KindFragment, k)
	if err != nil {
		return Context{}, fmt.Errorf("search schema fragments: %w", err)
	}

	exampleK := r.ExampleK
	if exampleK <= 0 {
		exampleK = 2
	}
	examples, err := r.Index.Search(ctx, vectors[0], schema.KindExample, exampleK)
	if err != nil {
		return Context{}, fmt.Errorf("search example pairs: %w", err)
	}

	rank(fragments)
	rank(examples)

	if r.TokenBudget > 0 {
		fragments = truncateToBudget(fragments, r.TokenBudget)
	}
	return Context{Fragments: fragments, Examples: examples}, nil
}

// rank orders matches by descending score, ties broken by document ID, so
// identical inputs always yield identical output.
func rank(matches []index.Match) {
	sort.SliceStable(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Document.ID < matches[b].Document.ID
	})
}

func truncateToBudget(matches []index.Match, budget int) []index.Match {
	kept := matches[:0:len(matches)]
	used := 0
	for _, match := range matches {
		cost := EstimateTokens(match.Document.Text)
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, match)
		used += cost
	}
	return kept
}
