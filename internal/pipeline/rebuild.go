package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sqlpilot/sqlpilot/internal/index"
	"github.com/sqlpilot/sqlpilot/internal/observability"
	"github.com/sqlpilot/sqlpilot/internal/schema"
	"github.com/sqlpilot/sqlpilot/internal/storage"
)

// Rebuilder refreshes the schema index: pull a fresh snapshot from the
// target database, merge the seeded example pairs, archive the snapshot,
// and publish a new index version. Failure at any stage leaves the prior
// version active.
type Rebuilder struct {
	Source   schema.Source
	Examples []schema.ExamplePair
	Index    index.Index
	// Archive is optional; when set, the snapshot is persisted before the
	// index swap so other processes can adopt it.
	Archive *storage.SnapshotArchive
	Logger  *slog.Logger
}

func (r *Rebuilder) Rebuild(ctx context.Context) (index.Version, error) {
	started := time.Now()

	snap, err := r.Source.Pull(ctx)
	if err != nil {
		observability.ObserveIndexRebuild(false, 0)
		return index.Version{}, fmt.Errorf("pull schema snapshot: %w", err)
	}
	snap.Examples = append(snap.Examples, r.Examples...)

	if r.Archive != nil {
		if err := r.Archive.Save(ctx, snap); err != nil {
			observability.ObserveIndexRebuild(false, 0)
			return index.Version{}, fmt.Errorf("archive schema snapshot: %w", err)
		}
	}

	version, err := r.Index.Rebuild(ctx, snap)
	if err != nil {
		observability.ObserveIndexRebuild(false, 0)
		return index.Version{}, fmt.Errorf("rebuild schema index: %w", err)
	}

	observability.ObserveIndexRebuild(true, version.Fragments+version.Examples)
	if r.Logger != nil {
		r.Logger.InfoContext(ctx, "index_rebuilt",
			slog.String("version", version.ID),
			slog.Int("fragments", version.Fragments),
			slog.Int("examples", version.Examples),
			slog.String("duration", time.Since(started).String()),
		)
	}
	return version, nil
}
