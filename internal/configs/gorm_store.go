package configs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnCategory    = "category"
	columnSnapshotID  = "snapshot_id"
	columnIsCurrent   = "is_current"
	columnIsStable    = "is_stable"
	orderSequenceDesc = "sequence DESC"
	orderOccurredDesc = "occurred_at_ms DESC, audit_id DESC"
	queryCategory     = columnCategory + " = ?"
	querySnapshotID   = columnSnapshotID + " = ?"
	queryCurrent      = columnCategory + " = ? AND " + columnIsCurrent + " = ?"
	queryEligible     = columnCategory + " = ? AND " + columnIsCurrent + " = ? AND " + columnIsStable + " = ?"
	queryCreatedSince = columnCategory + " = ? AND created_at_ms >= ?"
)

var errMissingDatabase = errors.New("configs: database handle is required")

// GormStore persists snapshots through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an opened and migrated database.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Current(ctx context.Context, category Category) (Snapshot, error) {
	var record SnapshotRecord
	err := s.db.WithContext(ctx).Where(queryCurrent, category.String(), true).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, fmt.Errorf("%w: no current snapshot for %s", ErrNotFound, category)
	}
	if err != nil {
		return Snapshot{}, err
	}
	return recordToSnapshot(record)
}

func (s *GormStore) Get(ctx context.Context, id SnapshotID) (Snapshot, error) {
	record, err := s.take(s.db.WithContext(ctx), id)
	if err != nil {
		return Snapshot{}, err
	}
	return recordToSnapshot(record)
}

func (s *GormStore) List(ctx context.Context, query HistoryQuery) ([]Snapshot, int64, error) {
	scope := s.db.WithContext(ctx).Model(&SnapshotRecord{})
	if query.Category != "" {
		scope = scope.Where(queryCategory, query.Category.String())
	}
	if query.ChangeType != "" {
		scope = scope.Where("change_type = ?", string(query.ChangeType))
	}
	if query.StableOnly {
		scope = scope.Where(columnIsStable+" = ?", true)
	}

	var total int64
	if err := scope.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var records []SnapshotRecord
	page := scope.Order(orderSequenceDesc).Offset(query.Offset)
	if query.Limit > 0 {
		page = page.Limit(query.Limit)
	}
	if err := page.Find(&records).Error; err != nil {
		return nil, 0, err
	}

	snapshots := make([]Snapshot, 0, len(records))
	for _, record := range records {
		snapshot, err := recordToSnapshot(record)
		if err != nil {
			return nil, 0, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, total, nil
}

func (s *GormStore) Append(ctx context.Context, request AppendRequest) ([]Snapshot, error) {
	if len(request.Drafts) == 0 {
		return nil, validationError("nothing to append")
	}
	var appended []Snapshot
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current SnapshotRecord
		hasCurrent := true
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(queryCurrent, request.Category.String(), true).
			Take(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			hasCurrent = false
		} else if err != nil {
			return err
		}

		if request.CheckCurrent {
			actual := SnapshotID("")
			if hasCurrent {
				actual = SnapshotID(current.SnapshotID)
			}
			if actual != request.ExpectedCurrentID {
				return fmt.Errorf("%w: current snapshot of %s is %q, expected %q", ErrConflict, request.Category, actual, request.ExpectedCurrentID)
			}
		}

		previousVersion := ""
		if hasCurrent {
			previousVersion = current.Version
		}
		built, err := buildSnapshots(request.Category, previousVersion, request.Drafts)
		if err != nil {
			return err
		}

		if hasCurrent {
			if err := tx.Model(&SnapshotRecord{}).
				Where(queryCurrent, request.Category.String(), true).
				Update(columnIsCurrent, false).Error; err != nil {
				return err
			}
		}

		for index := range built {
			record, err := snapshotToRecord(built[index])
			if err != nil {
				return err
			}
			// Only the last draft is current; earlier ones are inserted already superseded.
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			built[index].Sequence = record.Sequence
			audit := appendAuditRecord(built[index], request.Drafts[index].AuditID)
			if err := tx.Create(&audit).Error; err != nil {
				return err
			}
		}
		appended = built
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return appended, nil
}

func (s *GormStore) Delete(ctx context.Context, id SnapshotID, audit AuditRecord) (Snapshot, error) {
	var deleted Snapshot
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.take(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		if record.IsCurrent || record.IsStable {
			return fmt.Errorf("%w: snapshot %s is current or stable", ErrForbidden, id)
		}
		if err := tx.Where(querySnapshotID, id.String()).Delete(&SnapshotRecord{}).Error; err != nil {
			return err
		}
		audit.Category = record.Category
		audit.SnapshotID = record.SnapshotID
		audit.ChangeType = record.ChangeType
		if audit.Detail == "" {
			audit.Detail = "version " + record.Version
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}
		deleted, err = recordToSnapshot(record)
		return err
	})
	if txErr != nil {
		return Snapshot{}, txErr
	}
	return deleted, nil
}

func (s *GormStore) DeleteEligible(ctx context.Context, category Category, audit AuditRecord) ([]SnapshotID, error) {
	var removed []SnapshotID
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&SnapshotRecord{}).
			Where(queryEligible, category.String(), false, false).
			Order(orderSequenceDesc).
			Pluck(columnSnapshotID, &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where(columnSnapshotID+" IN ?", ids).Delete(&SnapshotRecord{}).Error; err != nil {
			return err
		}
		audit.Category = category.String()
		audit.Detail = fmt.Sprintf("removed %d snapshots", len(ids))
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}
		removed = make([]SnapshotID, 0, len(ids))
		for _, id := range ids {
			removed = append(removed, SnapshotID(id))
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return removed, nil
}

func (s *GormStore) SetStable(ctx context.Context, id SnapshotID, stable bool, audit AuditRecord) (Snapshot, error) {
	var updated Snapshot
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record, err := s.take(tx.Clauses(clause.Locking{Strength: "UPDATE"}), id)
		if err != nil {
			return err
		}
		if record.IsStable != stable {
			if err := tx.Model(&SnapshotRecord{}).
				Where(querySnapshotID, id.String()).
				Update(columnIsStable, stable).Error; err != nil {
				return err
			}
			record.IsStable = stable
			audit.Category = record.Category
			audit.SnapshotID = record.SnapshotID
			audit.ChangeType = record.ChangeType
			if err := tx.Create(&audit).Error; err != nil {
				return err
			}
		}
		updated, err = recordToSnapshot(record)
		return err
	})
	if txErr != nil {
		return Snapshot{}, txErr
	}
	return updated, nil
}

func (s *GormStore) Summarize(ctx context.Context, since time.Time) ([]CategorySummary, error) {
	db := s.db.WithContext(ctx)

	var categories []string
	if err := db.Model(&SnapshotRecord{}).Distinct(columnCategory).Order(columnCategory).Pluck(columnCategory, &categories).Error; err != nil {
		return nil, err
	}

	summaries := make([]CategorySummary, 0, len(categories))
	for _, name := range categories {
		summary := CategorySummary{Category: Category(name)}
		if err := db.Model(&SnapshotRecord{}).Where(queryCategory, name).Count(&summary.Versions).Error; err != nil {
			return nil, err
		}
		if err := db.Model(&SnapshotRecord{}).Where(queryCreatedSince, name, since.UnixMilli()).Count(&summary.RecentChanges).Error; err != nil {
			return nil, err
		}
		current, err := s.Current(ctx, Category(name))
		if err == nil {
			summary.Current = &current
		} else if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *GormStore) ListAudit(ctx context.Context, query AuditQuery) ([]AuditRecord, int64, error) {
	scope := s.db.WithContext(ctx).Model(&AuditRecord{})
	if query.Category != "" {
		scope = scope.Where(queryCategory, query.Category.String())
	}
	var total int64
	if err := scope.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []AuditRecord
	page := scope.Order(orderOccurredDesc).Offset(query.Offset)
	if query.Limit > 0 {
		page = page.Limit(query.Limit)
	}
	if err := page.Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

func (s *GormStore) take(db *gorm.DB, id SnapshotID) (SnapshotRecord, error) {
	var record SnapshotRecord
	err := db.Where(querySnapshotID, id.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SnapshotRecord{}, fmt.Errorf("%w: snapshot %s", ErrNotFound, id)
	}
	if err != nil {
		return SnapshotRecord{}, err
	}
	return record, nil
}

func snapshotToRecord(snapshot Snapshot) (SnapshotRecord, error) {
	fieldsJSON, err := snapshot.Fields.CanonicalJSON()
	if err != nil {
		return SnapshotRecord{}, err
	}
	return SnapshotRecord{
		SnapshotID:      snapshot.ID.String(),
		Category:        snapshot.Category.String(),
		Version:         snapshot.Version,
		FieldsJSON:      string(fieldsJSON),
		Checksum:        snapshot.Checksum,
		Author:          snapshot.Author,
		Description:     snapshot.Description,
		SourceID:        snapshot.SourceID.String(),
		ChangeType:      string(snapshot.ChangeType),
		IsCurrent:       snapshot.IsCurrent,
		IsStable:        snapshot.IsStable,
		CreatedAtMillis: snapshot.CreatedAt.UnixMilli(),
	}, nil
}

func recordToSnapshot(record SnapshotRecord) (Snapshot, error) {
	fields := Fields{}
	if err := json.Unmarshal([]byte(record.FieldsJSON), &fields); err != nil {
		return Snapshot{}, fmt.Errorf("configs: stored fields for %s are corrupt: %w", record.SnapshotID, err)
	}
	return Snapshot{
		ID:          SnapshotID(record.SnapshotID),
		Category:    Category(record.Category),
		Version:     record.Version,
		Sequence:    record.Sequence,
		Fields:      fields,
		Author:      record.Author,
		CreatedAt:   time.UnixMilli(record.CreatedAtMillis).UTC(),
		Description: record.Description,
		Checksum:    record.Checksum,
		SourceID:    SnapshotID(record.SourceID),
		IsCurrent:   record.IsCurrent,
		IsStable:    record.IsStable,
		ChangeType:  ChangeType(record.ChangeType),
	}, nil
}
