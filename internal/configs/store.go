package configs

import (
	"context"
	"time"
)

// Store is the single persistence abstraction for snapshots and their audit
// trail. Implementations must make Append all-or-nothing and must keep at most
// one current snapshot per category.
type Store interface {
	Current(ctx context.Context, category Category) (Snapshot, error)
	Get(ctx context.Context, id SnapshotID) (Snapshot, error)
	List(ctx context.Context, query HistoryQuery) ([]Snapshot, int64, error)
	Append(ctx context.Context, request AppendRequest) ([]Snapshot, error)
	Delete(ctx context.Context, id SnapshotID, audit AuditRecord) (Snapshot, error)
	DeleteEligible(ctx context.Context, category Category, audit AuditRecord) ([]SnapshotID, error)
	SetStable(ctx context.Context, id SnapshotID, stable bool, audit AuditRecord) (Snapshot, error)
	Summarize(ctx context.Context, since time.Time) ([]CategorySummary, error)
	ListAudit(ctx context.Context, query AuditQuery) ([]AuditRecord, int64, error)
}

// HistoryQuery selects snapshots newest-first. An empty Category selects all
// categories and a zero Limit means no limit.
type HistoryQuery struct {
	Category   Category
	ChangeType ChangeType
	StableOnly bool
	Offset     int
	Limit      int
}

// AuditQuery selects audit records newest-first.
type AuditQuery struct {
	Category Category
	Offset   int
	Limit    int
}

// Draft describes a snapshot to append. The store assigns version, sequence and
// current flag.
type Draft struct {
	ID          SnapshotID
	AuditID     string
	Fields      Fields
	Author      string
	ChangeType  ChangeType
	Description string
	SourceID    SnapshotID
	Stable      bool
	CreatedAt   time.Time
}

// AppendRequest appends drafts in order within one transaction. When
// CheckCurrent is set, the append fails with ErrConflict unless the category's
// current snapshot id equals ExpectedCurrentID; an empty ExpectedCurrentID
// expects the category to have no history.
type AppendRequest struct {
	Category          Category
	Drafts            []Draft
	CheckCurrent      bool
	ExpectedCurrentID SnapshotID
}

// CategorySummary aggregates history for one category.
type CategorySummary struct {
	Category      Category
	Versions      int64
	RecentChanges int64
	Current       *Snapshot
}

// buildSnapshots turns drafts into snapshots chained after previousVersion.
// The last snapshot is current.
func buildSnapshots(category Category, previousVersion string, drafts []Draft) ([]Snapshot, error) {
	built := make([]Snapshot, 0, len(drafts))
	version := previousVersion
	for index, draft := range drafts {
		next, err := nextVersion(version, draft.ChangeType)
		if err != nil {
			return nil, err
		}
		checksum, err := draft.Fields.Checksum()
		if err != nil {
			return nil, err
		}
		built = append(built, Snapshot{
			ID:          draft.ID,
			Category:    category,
			Version:     next,
			Fields:      draft.Fields.Clone(),
			Author:      draft.Author,
			CreatedAt:   draft.CreatedAt.UTC(),
			Description: draft.Description,
			Checksum:    checksum,
			SourceID:    draft.SourceID,
			IsCurrent:   index == len(drafts)-1,
			IsStable:    draft.Stable,
			ChangeType:  draft.ChangeType,
		})
		version = next
	}
	return built, nil
}

func appendAuditRecord(snapshot Snapshot, auditID string) AuditRecord {
	return AuditRecord{
		AuditID:          auditID,
		Category:         snapshot.Category.String(),
		SnapshotID:       snapshot.ID.String(),
		Action:           AuditActionAppend,
		ChangeType:       string(snapshot.ChangeType),
		Actor:            snapshot.Author,
		OccurredAtMillis: snapshot.CreatedAt.UnixMilli(),
		Detail:           "version " + snapshot.Version,
	}
}
