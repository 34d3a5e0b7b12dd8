package storage

import (
	"fmt"
	"path"
	"regexp"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildSnapshotPath returns the object key for one archived schema
// snapshot version.
func BuildSnapshotPath(alias, version string) (string, error) {
	if err := validatePathComponent(alias, "index alias"); err != nil {
		return "", err
	}
	if err := validatePathComponent(version, "snapshot version"); err != nil {
		return "", err
	}
	return path.Join("snapshots", alias, version+".json"), nil
}

// BuildLatestSnapshotPath returns the object key of the pointer object that
// always holds the most recently published snapshot.
func BuildLatestSnapshotPath(alias string) (string, error) {
	if err := validatePathComponent(alias, "index alias"); err != nil {
		return "", err
	}
	return path.Join("snapshots", alias, "latest.json"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
