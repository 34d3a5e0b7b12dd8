package storage

import "testing"

func TestBuildSnapshotPath(t *testing.T) {
	key, err := BuildSnapshotPath("analytics-schema", "3d6c9f0a")
	if err != nil {
		t.Fatalf("BuildSnapshotPath() error = %v", err)
	}
	want := "snapshots/analytics-schema/3d6c9f0a.json"
	if key != want {
		t.Fatalf("BuildSnapshotPath() = %q, want %q", key, want)
	}
}

func TestBuildLatestSnapshotPath(t *testing.T) {
	key, err := BuildLatestSnapshotPath("analytics-schema")
	if err != nil {
		t.Fatalf("BuildLatestSnapshotPath() error = %v", err)
	}
	if key != "snapshots/analytics-schema/latest.json" {
		t.Fatalf("BuildLatestSnapshotPath() = %q", key)
	}
}

func TestBuildSnapshotPathRejectsBadComponents(t *testing.T) {
	for _, bad := range []string{"", "../escape", "a/b", ".hidden"} {
		if _, err := BuildSnapshotPath(bad, "v1"); err == nil {
			t.Fatalf("expected error for alias %q", bad)
		}
		if _, err := BuildSnapshotPath("alias", bad); err == nil {
			t.Fatalf("expected error for version %q", bad)
		}
	}
}
