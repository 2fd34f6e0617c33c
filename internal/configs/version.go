package configs

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const initialVersion = "1.0.0"

// nextVersion derives the label for a snapshot appended after previous. An empty
// previous label means the category has no history yet. Content changes bump the
// minor component; rollbacks and snapshots bump the patch component.
func nextVersion(previous string, changeType ChangeType) (string, error) {
	if previous == "" {
		return initialVersion, nil
	}
	parsed, err := semver.NewVersion(previous)
	if err != nil {
		return "", fmt.Errorf("configs: invalid stored version %q: %w", previous, err)
	}
	var next semver.Version
	switch changeType {
	case ChangeTypeCreate, ChangeTypeUpdate:
		next = parsed.IncMinor()
	case ChangeTypeRollback, ChangeTypeSnapshot:
		next = parsed.IncPatch()
	default:
		return "", fmt.Errorf("configs: unknown change type %q", changeType)
	}
	return next.String(), nil
}

// CompareVersions orders two version labels, returning -1, 0 or 1.
func CompareVersions(left, right string) (int, error) {
	leftVersion, err := semver.NewVersion(left)
	if err != nil {
		return 0, validationError("invalid version %q", left)
	}
	rightVersion, err := semver.NewVersion(right)
	if err != nil {
		return 0, validationError("invalid version %q", right)
	}
	return leftVersion.Compare(rightVersion), nil
}
