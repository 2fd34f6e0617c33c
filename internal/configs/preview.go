package configs

import "fmt"

// PreviewEntry is one rendered field difference. Secret values are replaced
// with MaskedValue.
type PreviewEntry struct {
	Field       string     `json:"field"`
	DisplayName string     `json:"display_name"`
	ChangeKind  ChangeKind `json:"change_kind"`
	OldValue    *string    `json:"old_value,omitempty"`
	NewValue    *string    `json:"new_value,omitempty"`
	Secret      bool       `json:"secret"`
}

// PreviewSummary counts entries per change kind.
type PreviewSummary struct {
	Added    int `json:"added"`
	Removed  int `json:"removed"`
	Modified int `json:"modified"`
	Total    int `json:"total"`
}

// PreviewDocument is a reviewable rendering of a diff.
type PreviewDocument struct {
	Category Category       `json:"category"`
	FromID   SnapshotID     `json:"from_id,omitempty"`
	ToID     SnapshotID     `json:"to_id,omitempty"`
	Entries  []PreviewEntry `json:"entries"`
	Summary  PreviewSummary `json:"summary"`
}

// PendingChange is a previewed update awaiting confirmation. BaseSnapshotID is
// the current snapshot the preview was computed against, empty when the
// category had no history.
type PendingChange struct {
	Category       Category   `json:"category"`
	BaseSnapshotID SnapshotID `json:"base_snapshot_id"`
	Fields         Fields     `json:"fields"`
	Description    string     `json:"description"`
}

// Previewer renders diffs with display names and masked secrets.
type Previewer struct {
	registry *Registry
	masker   SecretMasker
}

// NewPreviewer binds a registry for display names and a masker for secrets.
func NewPreviewer(registry *Registry, masker SecretMasker) Previewer {
	return Previewer{registry: registry, masker: masker}
}

// Preview renders a non-empty diff. An empty diff yields ErrNoChange.
func (p Previewer) Preview(diff Diff) (PreviewDocument, error) {
	if diff.Empty() {
		return PreviewDocument{}, fmt.Errorf("%w: %s is unchanged", ErrNoChange, diff.Category)
	}
	return p.Render(diff), nil
}

// Render renders any diff, including an empty one.
func (p Previewer) Render(diff Diff) PreviewDocument {
	var schema Schema
	if p.registry != nil {
		schema, _ = p.registry.Lookup(diff.Category)
	}
	document := PreviewDocument{
		Category: diff.Category,
		FromID:   diff.FromID,
		ToID:     diff.ToID,
		Entries:  make([]PreviewEntry, 0, len(diff.Entries)),
	}
	for _, entry := range diff.Entries {
		rendered := PreviewEntry{
			Field:       entry.Field,
			DisplayName: schema.DisplayName(entry.Field),
			ChangeKind:  entry.Kind,
			Secret:      p.masker.IsSecret(entry.Field),
		}
		if entry.OldValue != nil {
			text := p.masker.Render(entry.Field, *entry.OldValue)
			rendered.OldValue = &text
		}
		if entry.NewValue != nil {
			text := p.masker.Render(entry.Field, *entry.NewValue)
			rendered.NewValue = &text
		}
		document.Entries = append(document.Entries, rendered)

		switch entry.Kind {
		case ChangeAdded:
			document.Summary.Added++
		case ChangeRemoved:
			document.Summary.Removed++
		case ChangeModified:
			document.Summary.Modified++
		}
	}
	document.Summary.Total = len(document.Entries)
	return document
}
