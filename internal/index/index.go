// Package index defines the versioned, searchable schema index contract.
// Implementations publish whole versions atomically: concurrent searches
// observe either the old or the new version in full, never a mix.
package index

import (
	"context"
	"errors"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/schema"
)

var ErrNoActiveVersion = errors.New("index: no active version")

type Version struct {
	ID        string
	CreatedAt time.Time
	Fragments int
	Examples  int
}

type Match struct {
	Document schema.Document
	Score    float64
}

type Index interface {
	// Rebuild recomputes embeddings for every document of the snapshot and
	// swaps the active version. Any embedding failure aborts the rebuild and
	// leaves the prior version active.
	Rebuild(ctx context.Context, snap schema.Snapshot) (Version, error)

	// Search returns the top-k documents of the given kind ranked by
	// descending similarity, ties broken by document ID.
	Search(ctx context.Context, vector []float32, kind schema.DocKind, k int) ([]Match, error)

	// Active returns the published version and its snapshot.
	Active() (Version, schema.Snapshot, bool)
}
