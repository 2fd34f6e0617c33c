package configs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RollbackPlan is a prepared rollback awaiting confirmation. While a plan is
// pending its category is in the previewing state.
type RollbackPlan struct {
	PlanID    string
	Category  Category
	Target    Snapshot
	CurrentID SnapshotID
	Diff      Diff
	Preview   PreviewDocument
	CreatedAt time.Time
}

// RollbackRequest names the snapshot to restore.
type RollbackRequest struct {
	TargetID     SnapshotID
	Reason       string
	CreateBackup bool
}

// ConfirmRollbackRequest confirms the pending plan of a category. A non-empty
// PlanID must match the pending plan.
type ConfirmRollbackRequest struct {
	Category     Category
	PlanID       string
	Reason       string
	CreateBackup bool
}

// RollbackResult carries the appended rollback snapshot, the optional backup
// appended before it, and the diff from the replaced state to the restored one.
type RollbackResult struct {
	Snapshot Snapshot
	Backup   *Snapshot
	Diff     Diff
}

// PrepareRollback previews restoring targetID and registers the plan as
// pending for its category, replacing any earlier plan.
func (s *Service) PrepareRollback(ctx context.Context, targetID SnapshotID) (plan RollbackPlan, err error) {
	defer s.observe(opRollbackPrepare, s.clock(), &err)
	target, err := s.store.Get(ctx, targetID)
	if err != nil {
		return RollbackPlan{}, s.fail(opRollbackPrepare, "target_failed", err, zap.String("snapshot_id", targetID.String()))
	}
	plan, err = s.planRollback(ctx, target)
	if err != nil {
		return RollbackPlan{}, s.fail(opRollbackPrepare, "plan_failed", err, zap.String("snapshot_id", targetID.String()))
	}
	planID, err := s.idProvider.NewID()
	if err != nil {
		return RollbackPlan{}, s.fail(opRollbackPrepare, "id_generation_failed", err)
	}
	plan.PlanID = planID

	s.rollbackMu.Lock()
	s.pendingRollbacks[plan.Category] = plan
	s.rollbackMu.Unlock()
	return plan, nil
}

// PendingRollback returns the plan awaiting confirmation for a category.
func (s *Service) PendingRollback(category Category) (RollbackPlan, bool) {
	s.rollbackMu.Lock()
	defer s.rollbackMu.Unlock()
	plan, ok := s.pendingRollbacks[category]
	return plan, ok
}

// CancelRollback discards the pending plan of a category without writing
// anything. It reports whether a plan was pending.
func (s *Service) CancelRollback(category Category) bool {
	s.rollbackMu.Lock()
	defer s.rollbackMu.Unlock()
	_, ok := s.pendingRollbacks[category]
	delete(s.pendingRollbacks, category)
	return ok
}

// ConfirmRollback executes the pending plan of a category. A missing reason
// leaves the plan pending. A moved current pointer discards it with
// ErrConflict and a deleted target discards it with ErrNotFound.
func (s *Service) ConfirmRollback(ctx context.Context, actor Actor, request ConfirmRollbackRequest) (result RollbackResult, err error) {
	defer s.observe(opRollbackConfirm, s.clock(), &err)
	if err := requireActor(actor); err != nil {
		return RollbackResult{}, s.fail(opRollbackConfirm, "missing_actor", err)
	}
	reason, err := requireReason(request.Reason)
	if err != nil {
		return RollbackResult{}, s.fail(opRollbackConfirm, "missing_reason", err)
	}

	plan, ok := s.PendingRollback(request.Category)
	if !ok {
		return RollbackResult{}, s.fail(opRollbackConfirm, "no_pending_plan", validationError("no rollback is pending for %s", request.Category))
	}
	if request.PlanID != "" && request.PlanID != plan.PlanID {
		return RollbackResult{}, s.fail(opRollbackConfirm, "plan_replaced", fmt.Errorf("%w: rollback plan %s was replaced by %s", ErrConflict, request.PlanID, plan.PlanID))
	}

	result, err = s.executeRollback(ctx, actor, plan, reason, request.CreateBackup)
	if err == nil || errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		s.clearPlan(plan)
	}
	if err != nil {
		return RollbackResult{}, s.fail(opRollbackConfirm, "append_failed", err, zap.String("category", plan.Category.String()))
	}
	return result, nil
}

// Rollback prepares and confirms in one step without registering a plan.
func (s *Service) Rollback(ctx context.Context, actor Actor, request RollbackRequest) (result RollbackResult, err error) {
	defer s.observe(opRollback, s.clock(), &err)
	if err := requireActor(actor); err != nil {
		return RollbackResult{}, s.fail(opRollback, "missing_actor", err)
	}
	reason, err := requireReason(request.Reason)
	if err != nil {
		return RollbackResult{}, s.fail(opRollback, "missing_reason", err)
	}
	target, err := s.store.Get(ctx, request.TargetID)
	if err != nil {
		return RollbackResult{}, s.fail(opRollback, "target_failed", err, zap.String("snapshot_id", request.TargetID.String()))
	}
	plan, err := s.planRollback(ctx, target)
	if err != nil {
		return RollbackResult{}, s.fail(opRollback, "plan_failed", err, zap.String("snapshot_id", request.TargetID.String()))
	}
	result, err = s.executeRollback(ctx, actor, plan, reason, request.CreateBackup)
	if err != nil {
		return RollbackResult{}, s.fail(opRollback, "append_failed", err, zap.String("category", plan.Category.String()))
	}
	return result, nil
}

// RollbackToStable restores the newest stable snapshot that is not current.
func (s *Service) RollbackToStable(ctx context.Context, actor Actor, category Category, reason string, createBackup bool) (result RollbackResult, err error) {
	defer s.observe(opRollbackStable, s.clock(), &err)
	if err := requireActor(actor); err != nil {
		return RollbackResult{}, s.fail(opRollbackStable, "missing_actor", err)
	}
	if err := s.requireCategory(category); err != nil {
		return RollbackResult{}, s.fail(opRollbackStable, "unknown_category", err)
	}
	trimmed, err := requireReason(reason)
	if err != nil {
		return RollbackResult{}, s.fail(opRollbackStable, "missing_reason", err)
	}

	stable, _, err := s.store.List(ctx, HistoryQuery{Category: category, StableOnly: true})
	if err != nil {
		return RollbackResult{}, s.fail(opRollbackStable, "list_failed", err, zap.String("category", category.String()))
	}
	var target *Snapshot
	for index := range stable {
		if !stable[index].IsCurrent {
			target = &stable[index]
			break
		}
	}
	if target == nil {
		return RollbackResult{}, s.fail(opRollbackStable, "no_stable_version", fmt.Errorf("%w: %s has no stable version to restore", ErrNotFound, category))
	}

	plan, err := s.planRollback(ctx, *target)
	if err != nil {
		return RollbackResult{}, s.fail(opRollbackStable, "plan_failed", err, zap.String("snapshot_id", target.ID.String()))
	}
	result, err = s.executeRollback(ctx, actor, plan, trimmed, createBackup)
	if err != nil {
		return RollbackResult{}, s.fail(opRollbackStable, "append_failed", err, zap.String("category", category.String()))
	}
	return result, nil
}

func (s *Service) planRollback(ctx context.Context, target Snapshot) (RollbackPlan, error) {
	current, err := s.store.Current(ctx, target.Category)
	if err != nil {
		return RollbackPlan{}, err
	}
	if current.ID == target.ID {
		return RollbackPlan{}, validationError("snapshot %s is already current", target.ID)
	}
	diff, err := ComputeDiff(current, target)
	if err != nil {
		return RollbackPlan{}, err
	}
	return RollbackPlan{
		Category:  target.Category,
		Target:    target,
		CurrentID: current.ID,
		Diff:      diff,
		Preview:   s.previewer.Render(diff),
		CreatedAt: s.clock().UTC(),
	}, nil
}

// executeRollback appends the optional backup and the rollback snapshot in one
// store call, conditional on the current pointer the plan was computed from.
func (s *Service) executeRollback(ctx context.Context, actor Actor, plan RollbackPlan, reason string, createBackup bool) (RollbackResult, error) {
	unlock := s.lockCategory(plan.Category)
	defer unlock()

	if _, err := s.store.Get(ctx, plan.Target.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RollbackResult{}, fmt.Errorf("%w: rollback target %s was deleted", ErrNotFound, plan.Target.ID)
		}
		return RollbackResult{}, err
	}

	drafts := make([]Draft, 0, 2)
	if createBackup {
		current, err := s.store.Get(ctx, plan.CurrentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return RollbackResult{}, conflictError(plan.Category, "", plan.CurrentID)
			}
			return RollbackResult{}, err
		}
		backup, err := s.newDraft(actor, current.Fields, ChangeTypeSnapshot, fmt.Sprintf("automatic backup before rollback to %s", plan.Target.Version))
		if err != nil {
			return RollbackResult{}, err
		}
		backup.SourceID = current.ID
		backup.Stable = true
		drafts = append(drafts, backup)
	}

	restore, err := s.newDraft(actor, plan.Target.Fields, ChangeTypeRollback, reason)
	if err != nil {
		return RollbackResult{}, err
	}
	restore.SourceID = plan.Target.ID
	drafts = append(drafts, restore)

	appended, err := s.store.Append(ctx, AppendRequest{
		Category:          plan.Category,
		Drafts:            drafts,
		CheckCurrent:      true,
		ExpectedCurrentID: plan.CurrentID,
	})
	if err != nil {
		return RollbackResult{}, err
	}

	result := RollbackResult{Snapshot: appended[len(appended)-1], Diff: plan.Diff}
	result.Diff.ToID = result.Snapshot.ID
	ids := make([]SnapshotID, 0, len(appended))
	for index := range appended {
		ids = append(ids, appended[index].ID)
	}
	if createBackup {
		backup := appended[0]
		result.Backup = &backup
	}
	s.announce(ctx, plan.Category, EventConfigChanged, ids...)
	return result, nil
}

// clearPlan removes plan if it is still the pending one for its category.
func (s *Service) clearPlan(plan RollbackPlan) {
	s.rollbackMu.Lock()
	defer s.rollbackMu.Unlock()
	if pending, ok := s.pendingRollbacks[plan.Category]; ok && pending.PlanID == plan.PlanID {
		delete(s.pendingRollbacks, plan.Category)
	}
}

func requireReason(reason string) (string, error) {
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return "", validationError("a rollback reason is required")
	}
	return trimmed, nil
}
