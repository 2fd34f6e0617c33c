package configs

import (
	"regexp"
	"strings"
	"time"
)

// ChangeType describes how a snapshot came to exist.
type ChangeType string

const (
	ChangeTypeCreate   ChangeType = "create"
	ChangeTypeUpdate   ChangeType = "update"
	ChangeTypeRollback ChangeType = "rollback"
	ChangeTypeSnapshot ChangeType = "snapshot"
)

// ParseChangeType validates a change type label.
func ParseChangeType(raw string) (ChangeType, error) {
	switch ChangeType(strings.ToLower(strings.TrimSpace(raw))) {
	case ChangeTypeCreate:
		return ChangeTypeCreate, nil
	case ChangeTypeUpdate:
		return ChangeTypeUpdate, nil
	case ChangeTypeRollback:
		return ChangeTypeRollback, nil
	case ChangeTypeSnapshot:
		return ChangeTypeSnapshot, nil
	default:
		return "", validationError("unknown change type %q", raw)
	}
}

const maxIdentifierLength = 190

var categoryPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,63}$`)

// Category names a group of configuration fields, such as smtp or database.
type Category string

// NewCategory normalizes and validates a category name. It does not check
// whether the category is registered.
func NewCategory(raw string) (Category, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if !categoryPattern.MatchString(normalized) {
		return "", validationError("invalid category %q", raw)
	}
	return Category(normalized), nil
}

// String returns the category name.
func (c Category) String() string {
	return string(c)
}

// SnapshotID identifies a snapshot.
type SnapshotID string

// NewSnapshotID validates raw input and returns a SnapshotID.
func NewSnapshotID(raw string) (SnapshotID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", validationError("snapshot id is empty")
	}
	if len(trimmed) > maxIdentifierLength {
		return "", validationError("snapshot id exceeds %d characters", maxIdentifierLength)
	}
	return SnapshotID(trimmed), nil
}

// String returns the underlying identifier.
func (id SnapshotID) String() string {
	return string(id)
}

// Actor identifies the caller performing an operation.
type Actor struct {
	ID    string
	Email string
}

// NewActor validates that the actor carries an identifier.
func NewActor(id, email string) (Actor, error) {
	actor := Actor{ID: strings.TrimSpace(id), Email: strings.TrimSpace(email)}
	if actor.ID == "" && actor.Email == "" {
		return Actor{}, validationError("actor identifier is required")
	}
	return actor, nil
}

// Name returns the label recorded as author: the email when known, else the id.
func (a Actor) Name() string {
	if a.Email != "" {
		return a.Email
	}
	return a.ID
}

// Snapshot is an immutable capture of one category's configuration fields.
type Snapshot struct {
	ID          SnapshotID
	Category    Category
	Version     string
	Sequence    int64
	Fields      Fields
	Author      string
	CreatedAt   time.Time
	Description string
	Checksum    string
	SourceID    SnapshotID
	IsCurrent   bool
	IsStable    bool
	ChangeType  ChangeType
}

// Deletable reports whether the snapshot may be removed.
func (s Snapshot) Deletable() bool {
	return !s.IsCurrent && !s.IsStable
}

// SnapshotRecord is the persisted row for a snapshot.
type SnapshotRecord struct {
	Sequence        int64  `gorm:"column:sequence;primaryKey;autoIncrement"`
	SnapshotID      string `gorm:"column:snapshot_id;size:190;not null;uniqueIndex"`
	Category        string `gorm:"column:category;size:64;not null;index:idx_config_snapshots_category,priority:1"`
	Version         string `gorm:"column:version;size:64;not null"`
	FieldsJSON      string `gorm:"column:fields_json;type:text;not null"`
	Checksum        string `gorm:"column:checksum;size:64;not null"`
	Author          string `gorm:"column:author;size:320;not null"`
	Description     string `gorm:"column:description;type:text;not null;default:''"`
	SourceID        string `gorm:"column:source_id;size:190;not null;default:''"`
	ChangeType      string `gorm:"column:change_type;size:16;not null"`
	IsCurrent       bool   `gorm:"column:is_current;not null;default:false;index:idx_config_snapshots_category,priority:2"`
	IsStable        bool   `gorm:"column:is_stable;not null;default:false"`
	CreatedAtMillis int64  `gorm:"column:created_at_ms;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SnapshotRecord) TableName() string {
	return "config_snapshots"
}

// AuditAction enumerates mutating operations recorded in the audit trail.
type AuditAction string

const (
	AuditActionAppend       AuditAction = "append"
	AuditActionDelete       AuditAction = "delete"
	AuditActionCleanup      AuditAction = "cleanup"
	AuditActionMarkStable   AuditAction = "mark_stable"
	AuditActionUnmarkStable AuditAction = "unmark_stable"
)

// AuditRecord captures an append-only trail of mutations.
type AuditRecord struct {
	AuditID          string      `gorm:"column:audit_id;primaryKey;size:190;not null"`
	Category         string      `gorm:"column:category;size:64;not null;index:idx_config_audit_category_time,priority:1"`
	SnapshotID       string      `gorm:"column:snapshot_id;size:190;not null;default:''"`
	Action           AuditAction `gorm:"column:action;size:32;not null"`
	ChangeType       string      `gorm:"column:change_type;size:16;not null;default:''"`
	Actor            string      `gorm:"column:actor;size:320;not null"`
	OccurredAtMillis int64       `gorm:"column:occurred_at_ms;not null;index:idx_config_audit_category_time,priority:2"`
	Detail           string      `gorm:"column:detail;type:text;not null;default:''"`
}

// TableName provides the explicit table binding for GORM.
func (AuditRecord) TableName() string {
	return "config_audit"
}
