package configs

import "fmt"

// ChangeKind classifies a single field difference.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeRemoved  ChangeKind = "removed"
	ChangeModified ChangeKind = "modified"
)

// DiffEntry is one field-level difference. OldValue is nil for added fields and
// NewValue is nil for removed ones. Values are real, never masked.
type DiffEntry struct {
	Field    string
	Kind     ChangeKind
	OldValue *Value
	NewValue *Value
}

// Diff is an ordered set of field differences between two snapshots.
type Diff struct {
	Category Category
	FromID   SnapshotID
	ToID     SnapshotID
	Entries  []DiffEntry
}

// Empty reports whether the two sides carry identical fields.
func (d Diff) Empty() bool {
	return len(d.Entries) == 0
}

// Counts returns the number of entries per change kind.
func (d Diff) Counts() map[ChangeKind]int {
	counts := map[ChangeKind]int{ChangeAdded: 0, ChangeRemoved: 0, ChangeModified: 0}
	for _, entry := range d.Entries {
		counts[entry.Kind]++
	}
	return counts
}

// ComputeDiff compares two snapshots of the same category, from a to b.
func ComputeDiff(a, b Snapshot) (Diff, error) {
	if a.Category != b.Category {
		return Diff{}, fmt.Errorf("%w: %s vs %s", ErrCategoryMismatch, a.Category, b.Category)
	}
	return Diff{
		Category: a.Category,
		FromID:   a.ID,
		ToID:     b.ID,
		Entries:  diffFields(a.Fields, b.Fields),
	}, nil
}

// diffFields walks the union of field names in lexical order.
func diffFields(before, after Fields) []DiffEntry {
	union := make(Fields, len(before)+len(after))
	for name, value := range before {
		union[name] = value
	}
	for name, value := range after {
		union[name] = value
	}

	entries := make([]DiffEntry, 0)
	for _, name := range union.Names() {
		oldValue, inBefore := before[name]
		newValue, inAfter := after[name]
		switch {
		case inBefore && !inAfter:
			entries = append(entries, DiffEntry{Field: name, Kind: ChangeRemoved, OldValue: valuePointer(oldValue)})
		case !inBefore && inAfter:
			entries = append(entries, DiffEntry{Field: name, Kind: ChangeAdded, NewValue: valuePointer(newValue)})
		case !oldValue.Equal(newValue):
			entries = append(entries, DiffEntry{
				Field:    name,
				Kind:     ChangeModified,
				OldValue: valuePointer(oldValue),
				NewValue: valuePointer(newValue),
			})
		}
	}
	return entries
}

func valuePointer(value Value) *Value {
	v := value
	return &v
}
