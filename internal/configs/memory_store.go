package configs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps snapshots in process memory. It satisfies the same
// contract as GormStore and backs tests and ephemeral deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots []Snapshot
	audit     []AuditRecord
	sequence  int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Current(_ context.Context, category Category) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index := s.currentIndex(category)
	if index < 0 {
		return Snapshot{}, fmt.Errorf("%w: no current snapshot for %s", ErrNotFound, category)
	}
	return cloneSnapshot(s.snapshots[index]), nil
}

func (s *MemoryStore) Get(_ context.Context, id SnapshotID) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index := s.indexOf(id)
	if index < 0 {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s", ErrNotFound, id)
	}
	return cloneSnapshot(s.snapshots[index]), nil
}

func (s *MemoryStore) List(_ context.Context, query HistoryQuery) ([]Snapshot, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]Snapshot, 0)
	for index := len(s.snapshots) - 1; index >= 0; index-- {
		snapshot := s.snapshots[index]
		if query.Category != "" && snapshot.Category != query.Category {
			continue
		}
		if query.ChangeType != "" && snapshot.ChangeType != query.ChangeType {
			continue
		}
		if query.StableOnly && !snapshot.IsStable {
			continue
		}
		matched = append(matched, snapshot)
	}

	total := int64(len(matched))
	start := max(query.Offset, 0)
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if query.Limit > 0 && start+query.Limit < end {
		end = start + query.Limit
	}
	page := make([]Snapshot, 0, end-start)
	for _, snapshot := range matched[start:end] {
		page = append(page, cloneSnapshot(snapshot))
	}
	return page, total, nil
}

func (s *MemoryStore) Append(_ context.Context, request AppendRequest) ([]Snapshot, error) {
	if len(request.Drafts) == 0 {
		return nil, validationError("nothing to append")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	currentIndex := s.currentIndex(request.Category)
	if request.CheckCurrent {
		actual := SnapshotID("")
		if currentIndex >= 0 {
			actual = s.snapshots[currentIndex].ID
		}
		if actual != request.ExpectedCurrentID {
			return nil, fmt.Errorf("%w: current snapshot of %s is %q, expected %q", ErrConflict, request.Category, actual, request.ExpectedCurrentID)
		}
	}

	previousVersion := ""
	if currentIndex >= 0 {
		previousVersion = s.snapshots[currentIndex].Version
	}
	built, err := buildSnapshots(request.Category, previousVersion, request.Drafts)
	if err != nil {
		return nil, err
	}
	seen := make(map[SnapshotID]struct{}, len(built))
	for _, snapshot := range built {
		if _, duplicate := seen[snapshot.ID]; duplicate || s.indexOf(snapshot.ID) >= 0 {
			return nil, fmt.Errorf("configs: duplicate snapshot id %s", snapshot.ID)
		}
		seen[snapshot.ID] = struct{}{}
	}

	if currentIndex >= 0 {
		s.snapshots[currentIndex].IsCurrent = false
	}
	for index := range built {
		s.sequence++
		built[index].Sequence = s.sequence
		s.snapshots = append(s.snapshots, cloneSnapshot(built[index]))
		s.audit = append(s.audit, appendAuditRecord(built[index], request.Drafts[index].AuditID))
	}
	return built, nil
}

func (s *MemoryStore) Delete(_ context.Context, id SnapshotID, audit AuditRecord) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexOf(id)
	if index < 0 {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s", ErrNotFound, id)
	}
	target := s.snapshots[index]
	if !target.Deletable() {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s is current or stable", ErrForbidden, id)
	}
	s.snapshots = append(s.snapshots[:index], s.snapshots[index+1:]...)
	audit.Category = target.Category.String()
	audit.SnapshotID = target.ID.String()
	audit.ChangeType = string(target.ChangeType)
	if audit.Detail == "" {
		audit.Detail = "version " + target.Version
	}
	s.audit = append(s.audit, audit)
	return target, nil
}

func (s *MemoryStore) DeleteEligible(_ context.Context, category Category, audit AuditRecord) ([]SnapshotID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make([]Snapshot, 0, len(s.snapshots))
	var removed []SnapshotID
	for _, snapshot := range s.snapshots {
		if snapshot.Category == category && snapshot.Deletable() {
			removed = append(removed, snapshot.ID)
			continue
		}
		kept = append(kept, snapshot)
	}
	if len(removed) == 0 {
		return nil, nil
	}
	s.snapshots = kept
	audit.Category = category.String()
	audit.Detail = fmt.Sprintf("removed %d snapshots", len(removed))
	s.audit = append(s.audit, audit)
	// Newest first, matching GormStore.
	for left, right := 0, len(removed)-1; left < right; left, right = left+1, right-1 {
		removed[left], removed[right] = removed[right], removed[left]
	}
	return removed, nil
}

func (s *MemoryStore) SetStable(_ context.Context, id SnapshotID, stable bool, audit AuditRecord) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	index := s.indexOf(id)
	if index < 0 {
		return Snapshot{}, fmt.Errorf("%w: snapshot %s", ErrNotFound, id)
	}
	if s.snapshots[index].IsStable != stable {
		s.snapshots[index].IsStable = stable
		audit.Category = s.snapshots[index].Category.String()
		audit.SnapshotID = id.String()
		audit.ChangeType = string(s.snapshots[index].ChangeType)
		s.audit = append(s.audit, audit)
	}
	return cloneSnapshot(s.snapshots[index]), nil
}

func (s *MemoryStore) Summarize(_ context.Context, since time.Time) ([]CategorySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byCategory := make(map[Category]*CategorySummary)
	for _, snapshot := range s.snapshots {
		summary, ok := byCategory[snapshot.Category]
		if !ok {
			summary = &CategorySummary{Category: snapshot.Category}
			byCategory[snapshot.Category] = summary
		}
		summary.Versions++
		if !snapshot.CreatedAt.Before(since) {
			summary.RecentChanges++
		}
		if snapshot.IsCurrent {
			current := cloneSnapshot(snapshot)
			summary.Current = &current
		}
	}
	summaries := make([]CategorySummary, 0, len(byCategory))
	for _, summary := range byCategory {
		summaries = append(summaries, *summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Category < summaries[j].Category })
	return summaries, nil
}

func (s *MemoryStore) ListAudit(_ context.Context, query AuditQuery) ([]AuditRecord, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]AuditRecord, 0)
	for index := len(s.audit) - 1; index >= 0; index-- {
		record := s.audit[index]
		if query.Category != "" && record.Category != query.Category.String() {
			continue
		}
		matched = append(matched, record)
	}
	total := int64(len(matched))
	start := max(query.Offset, 0)
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if query.Limit > 0 && start+query.Limit < end {
		end = start + query.Limit
	}
	return append([]AuditRecord(nil), matched[start:end]...), total, nil
}

func (s *MemoryStore) currentIndex(category Category) int {
	for index, snapshot := range s.snapshots {
		if snapshot.Category == category && snapshot.IsCurrent {
			return index
		}
	}
	return -1
}

func (s *MemoryStore) indexOf(id SnapshotID) int {
	for index, snapshot := range s.snapshots {
		if snapshot.ID == id {
			return index
		}
	}
	return -1
}

func cloneSnapshot(snapshot Snapshot) Snapshot {
	cloned := snapshot
	cloned.Fields = snapshot.Fields.Clone()
	return cloned
}
