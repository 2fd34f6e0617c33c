package configs

import "time"

// SnapshotView is the user-facing rendering of a snapshot. Fields are masked
// unless the caller explicitly asked for secrets.
type SnapshotView struct {
	ID          SnapshotID     `json:"id" yaml:"id"`
	Category    Category       `json:"category" yaml:"category"`
	Version     string         `json:"version" yaml:"version"`
	Fields      map[string]any `json:"fields" yaml:"fields"`
	Author      string         `json:"author" yaml:"author"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Checksum    string         `json:"checksum" yaml:"checksum"`
	SourceID    SnapshotID     `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	IsCurrent   bool           `json:"is_current" yaml:"is_current"`
	IsStable    bool           `json:"is_stable" yaml:"is_stable"`
	ChangeType  ChangeType     `json:"change_type" yaml:"change_type"`
}

// View renders a snapshot through the masker.
func (m SecretMasker) View(snapshot Snapshot, includeSecrets bool) SnapshotView {
	fields := make(map[string]any, len(snapshot.Fields))
	for name, value := range snapshot.Fields {
		fields[name] = m.Present(name, value, includeSecrets)
	}
	return SnapshotView{
		ID:          snapshot.ID,
		Category:    snapshot.Category,
		Version:     snapshot.Version,
		Fields:      fields,
		Author:      snapshot.Author,
		CreatedAt:   snapshot.CreatedAt,
		Description: snapshot.Description,
		Checksum:    snapshot.Checksum,
		SourceID:    snapshot.SourceID,
		IsCurrent:   snapshot.IsCurrent,
		IsStable:    snapshot.IsStable,
		ChangeType:  snapshot.ChangeType,
	}
}

// Views renders snapshots in order.
func (m SecretMasker) Views(snapshots []Snapshot, includeSecrets bool) []SnapshotView {
	views := make([]SnapshotView, 0, len(snapshots))
	for _, snapshot := range snapshots {
		views = append(views, m.View(snapshot, includeSecrets))
	}
	return views
}
