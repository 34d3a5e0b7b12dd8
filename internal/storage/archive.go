package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sqlpilot/sqlpilot/internal/schema"
)

// SnapshotArchive persists schema snapshots to the object store so
// processes that did not run the rebuild can adopt the published snapshot.
// Each version is written once under its own key; latest.json is the only
// object that is ever overwritten.
type SnapshotArchive struct {
	Store ObjectStore
	Alias string
}

func (a *SnapshotArchive) Save(ctx context.Context, snap schema.Snapshot) error {
	if snap.Version == "" {
		return fmt.Errorf("snapshot version is required")
	}
	body, err := snap.MarshalJSONIndent()
	if err != nil {
		return err
	}

	versionKey, err := BuildSnapshotPath(a.Alias, snap.Version)
	if err != nil {
		return err
	}
	opts := PutOptions{ContentType: "application/json"}
	if _, err := a.Store.Put(ctx, versionKey, bytes.NewReader(body), int64(len(body)), opts); err != nil {
		return fmt.Errorf("archive snapshot %s: %w", snap.Version, err)
	}

	latestKey, err := BuildLatestSnapshotPath(a.Alias)
	if err != nil {
		return err
	}
	if _, err := a.Store.Put(ctx, latestKey, bytes.NewReader(body), int64(len(body)), opts); err != nil {
		return fmt.Errorf("publish latest snapshot pointer: %w", err)
	}
	return nil
}

// LoadLatest fetches the most recently published snapshot.
func (a *SnapshotArchive) LoadLatest(ctx context.Context) (schema.Snapshot, error) {
	latestKey, err := BuildLatestSnapshotPath(a.Alias)
	if err != nil {
		return schema.Snapshot{}, err
	}
	reader, err := a.Store.Get(ctx, latestKey)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("fetch latest snapshot: %w", err)
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(reader)
	if err != nil {
		return schema.Snapshot{}, fmt.Errorf("read latest snapshot: %w", err)
	}
	var snap schema.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return schema.Snapshot{}, fmt.Errorf("decode latest snapshot: %w", err)
	}
	if snap.Version == "" {
		return schema.Snapshot{}, fmt.Errorf("archived snapshot has no version")
	}
	return snap, nil
}
