package configs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("store is required")
	errMissingRegistry   = errors.New("category registry is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew      = "configs.service.new"
	opCurrent         = "configs.current"
	opGet             = "configs.get"
	opHistory         = "configs.history"
	opUpdate          = "configs.update"
	opPreview         = "configs.preview"
	opApply           = "configs.apply"
	opSnapshot        = "configs.snapshot"
	opCompare         = "configs.compare"
	opDeleteVersion   = "configs.delete_version"
	opCleanup         = "configs.cleanup"
	opSetStable       = "configs.set_stable"
	opRollbackPrepare = "configs.rollback_prepare"
	opRollbackConfirm = "configs.rollback_confirm"
	opRollback        = "configs.rollback"
	opRollbackStable  = "configs.rollback_stable"
	opStats           = "configs.stats"
	opExport          = "configs.export"
	opAudit           = "configs.audit"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	outcomeOK       = "ok"
)

// ServiceConfig wires the collaborators of a Service.
type ServiceConfig struct {
	Store      Store
	Registry   *Registry
	Masker     SecretMasker
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  ChangePublisher
	Recorder   OperationRecorder
	Logger     *zap.Logger
}

// Service coordinates snapshots, previews and rollbacks for every category.
type Service struct {
	store      Store
	registry   *Registry
	masker     SecretMasker
	previewer  Previewer
	clock      func() time.Time
	idProvider IDProvider
	publisher  ChangePublisher
	recorder   OperationRecorder
	logger     *zap.Logger

	locks sync.Map

	rollbackMu       sync.Mutex
	pendingRollbacks map[Category]RollbackPlan
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.Registry == nil {
		return nil, newServiceError(opServiceNew, "missing_registry", errMissingRegistry)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	var publisher ChangePublisher = noopPublisher{}
	if cfg.Publisher != nil {
		publisher = cfg.Publisher
	}

	var recorder OperationRecorder = noopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		store:            cfg.Store,
		registry:         cfg.Registry,
		masker:           cfg.Masker,
		previewer:        NewPreviewer(cfg.Registry, cfg.Masker),
		clock:            clock,
		idProvider:       cfg.IDProvider,
		publisher:        publisher,
		recorder:         recorder,
		logger:           logger,
		pendingRollbacks: make(map[Category]RollbackPlan),
	}, nil
}

// Masker returns the secret masker used for renderings.
func (s *Service) Masker() SecretMasker {
	return s.masker
}

// Registry returns the category registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Current returns the current snapshot of a category.
func (s *Service) Current(ctx context.Context, category Category) (Snapshot, error) {
	if err := s.requireCategory(category); err != nil {
		return Snapshot{}, s.fail(opCurrent, "unknown_category", err)
	}
	snapshot, err := s.store.Current(ctx, category)
	if err != nil {
		return Snapshot{}, s.fail(opCurrent, "load_failed", err, zap.String("category", category.String()))
	}
	return snapshot, nil
}

// Get returns one snapshot by id.
func (s *Service) Get(ctx context.Context, id SnapshotID) (Snapshot, error) {
	snapshot, err := s.store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, s.fail(opGet, "load_failed", err, zap.String("snapshot_id", id.String()))
	}
	return snapshot, nil
}

// HistoryRequest selects one page of a category's history. Zero Page and Limit
// select the defaults.
type HistoryRequest struct {
	Category   Category
	ChangeType ChangeType
	Page       int
	Limit      int
}

// HistoryPage is one newest-first page of snapshots.
type HistoryPage struct {
	Items []Snapshot
	Total int64
	Page  int
	Limit int
}

// History lists a category's snapshots newest first.
func (s *Service) History(ctx context.Context, request HistoryRequest) (HistoryPage, error) {
	if err := s.requireCategory(request.Category); err != nil {
		return HistoryPage{}, s.fail(opHistory, "unknown_category", err)
	}
	page, limit, err := normalizePage(request.Page, request.Limit)
	if err != nil {
		return HistoryPage{}, s.fail(opHistory, "invalid_page", err)
	}
	items, total, err := s.store.List(ctx, HistoryQuery{
		Category:   request.Category,
		ChangeType: request.ChangeType,
		Offset:     (page - 1) * limit,
		Limit:      limit,
	})
	if err != nil {
		return HistoryPage{}, s.fail(opHistory, "list_failed", err, zap.String("category", request.Category.String()))
	}
	return HistoryPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// UpdateRequest submits a full set of fields for a category. A non-empty
// BaseSnapshotID names the current snapshot the edit was computed against.
type UpdateRequest struct {
	Category       Category
	Fields         Fields
	Description    string
	BaseSnapshotID SnapshotID
}

// UpdateResult carries the appended snapshot and the diff it applied.
type UpdateResult struct {
	Snapshot Snapshot
	Diff     Diff
}

// Update validates the submission, diffs it against the current snapshot and
// appends a new current snapshot. An unchanged submission yields ErrNoChange
// and writes nothing.
func (s *Service) Update(ctx context.Context, actor Actor, request UpdateRequest) (result UpdateResult, err error) {
	defer s.observe(opUpdate, s.clock(), &err)
	var base *SnapshotID
	if request.BaseSnapshotID != "" {
		expected := request.BaseSnapshotID
		base = &expected
	}
	return s.commitFields(ctx, opUpdate, actor, request.Category, request.Fields, request.Description, base)
}

// PreviewResult pairs the rendered diff with the change awaiting confirmation.
type PreviewResult struct {
	Document PreviewDocument
	Pending  PendingChange
}

// Preview renders the diff a submission would apply without writing anything.
func (s *Service) Preview(ctx context.Context, request UpdateRequest) (result PreviewResult, err error) {
	defer s.observe(opPreview, s.clock(), &err)
	if err := s.requireCategory(request.Category); err != nil {
		return PreviewResult{}, s.fail(opPreview, "unknown_category", err)
	}
	if err := s.registry.Validate(request.Category, request.Fields); err != nil {
		return PreviewResult{}, s.fail(opPreview, "invalid_fields", err)
	}
	current, hasCurrent, err := s.loadCurrent(ctx, request.Category)
	if err != nil {
		return PreviewResult{}, s.fail(opPreview, "current_failed", err, zap.String("category", request.Category.String()))
	}
	if request.BaseSnapshotID != "" && request.BaseSnapshotID != current.ID {
		return PreviewResult{}, s.fail(opPreview, "stale_base", conflictError(request.Category, current.ID, request.BaseSnapshotID))
	}

	diff := Diff{Category: request.Category, Entries: diffFields(current.Fields, request.Fields)}
	if hasCurrent {
		diff.FromID = current.ID
	}
	document, err := s.previewer.Preview(diff)
	if err != nil {
		return PreviewResult{}, s.fail(opPreview, "no_change", err)
	}
	return PreviewResult{
		Document: document,
		Pending: PendingChange{
			Category:       request.Category,
			BaseSnapshotID: diff.FromID,
			Fields:         request.Fields.Clone(),
			Description:    request.Description,
		},
	}, nil
}

// Apply confirms a previewed change. It fails with ErrConflict when the
// category moved since the preview.
func (s *Service) Apply(ctx context.Context, actor Actor, pending PendingChange) (result UpdateResult, err error) {
	defer s.observe(opApply, s.clock(), &err)
	expected := pending.BaseSnapshotID
	return s.commitFields(ctx, opApply, actor, pending.Category, pending.Fields, pending.Description, &expected)
}

func (s *Service) commitFields(ctx context.Context, operation string, actor Actor, category Category, fields Fields, description string, base *SnapshotID) (UpdateResult, error) {
	if err := requireActor(actor); err != nil {
		return UpdateResult{}, s.fail(operation, "missing_actor", err)
	}
	if err := s.requireCategory(category); err != nil {
		return UpdateResult{}, s.fail(operation, "unknown_category", err)
	}
	if err := s.registry.Validate(category, fields); err != nil {
		return UpdateResult{}, s.fail(operation, "invalid_fields", err)
	}

	unlock := s.lockCategory(category)
	defer unlock()

	current, hasCurrent, err := s.loadCurrent(ctx, category)
	if err != nil {
		return UpdateResult{}, s.fail(operation, "current_failed", err, zap.String("category", category.String()))
	}
	if base != nil && *base != current.ID {
		return UpdateResult{}, s.fail(operation, "stale_base", conflictError(category, current.ID, *base))
	}

	diff := Diff{Category: category, FromID: current.ID, Entries: diffFields(current.Fields, fields)}
	if diff.Empty() {
		return UpdateResult{}, s.fail(operation, "no_change", fmt.Errorf("%w: %s is unchanged", ErrNoChange, category))
	}

	changeType := ChangeTypeUpdate
	if !hasCurrent {
		changeType = ChangeTypeCreate
	}
	draft, err := s.newDraft(actor, fields, changeType, description)
	if err != nil {
		return UpdateResult{}, s.fail(operation, "id_generation_failed", err)
	}
	appended, err := s.store.Append(ctx, AppendRequest{
		Category:          category,
		Drafts:            []Draft{draft},
		CheckCurrent:      true,
		ExpectedCurrentID: current.ID,
	})
	if err != nil {
		return UpdateResult{}, s.fail(operation, "append_failed", err, zap.String("category", category.String()))
	}

	snapshot := appended[len(appended)-1]
	diff.ToID = snapshot.ID
	s.announce(ctx, category, EventConfigChanged, snapshot.ID)
	return UpdateResult{Snapshot: snapshot, Diff: diff}, nil
}

// SnapshotRequest captures a category. Nil Fields copy the current snapshot;
// a nil Stable marks the capture stable.
type SnapshotRequest struct {
	Category    Category
	Fields      Fields
	Description string
	Stable      *bool
}

// CreateSnapshot appends a snapshot-type version and makes it current.
func (s *Service) CreateSnapshot(ctx context.Context, actor Actor, request SnapshotRequest) (snapshot Snapshot, err error) {
	defer s.observe(opSnapshot, s.clock(), &err)
	if err := requireActor(actor); err != nil {
		return Snapshot{}, s.fail(opSnapshot, "missing_actor", err)
	}
	if err := s.requireCategory(request.Category); err != nil {
		return Snapshot{}, s.fail(opSnapshot, "unknown_category", err)
	}
	if request.Fields != nil {
		if err := s.registry.Validate(request.Category, request.Fields); err != nil {
			return Snapshot{}, s.fail(opSnapshot, "invalid_fields", err)
		}
	}

	unlock := s.lockCategory(request.Category)
	defer unlock()

	current, hasCurrent, err := s.loadCurrent(ctx, request.Category)
	if err != nil {
		return Snapshot{}, s.fail(opSnapshot, "current_failed", err, zap.String("category", request.Category.String()))
	}

	fields := request.Fields
	var source SnapshotID
	if fields == nil {
		if !hasCurrent {
			return Snapshot{}, s.fail(opSnapshot, "nothing_to_capture", fmt.Errorf("%w: %s has no current snapshot to capture", ErrNotFound, request.Category))
		}
		fields = current.Fields
		source = current.ID
	}

	description := strings.TrimSpace(request.Description)
	if description == "" {
		description = "manual snapshot"
	}
	draft, err := s.newDraft(actor, fields, ChangeTypeSnapshot, description)
	if err != nil {
		return Snapshot{}, s.fail(opSnapshot, "id_generation_failed", err)
	}
	draft.SourceID = source
	draft.Stable = request.Stable == nil || *request.Stable

	appended, err := s.store.Append(ctx, AppendRequest{
		Category:          request.Category,
		Drafts:            []Draft{draft},
		CheckCurrent:      true,
		ExpectedCurrentID: current.ID,
	})
	if err != nil {
		return Snapshot{}, s.fail(opSnapshot, "append_failed", err, zap.String("category", request.Category.String()))
	}
	snapshot = appended[len(appended)-1]
	s.announce(ctx, request.Category, EventConfigChanged, snapshot.ID)
	return snapshot, nil
}

// Compare diffs two snapshots of one category, from a to b.
func (s *Service) Compare(ctx context.Context, a, b SnapshotID) (diff Diff, err error) {
	defer s.observe(opCompare, s.clock(), &err)
	if a == b {
		return Diff{}, s.fail(opCompare, "same_version", fmt.Errorf("%w: %s", ErrSameVersion, a))
	}
	left, err := s.store.Get(ctx, a)
	if err != nil {
		return Diff{}, s.fail(opCompare, "load_failed", err, zap.String("snapshot_id", a.String()))
	}
	right, err := s.store.Get(ctx, b)
	if err != nil {
		return Diff{}, s.fail(opCompare, "load_failed", err, zap.String("snapshot_id", b.String()))
	}
	diff, err = ComputeDiff(left, right)
	if err != nil {
		return Diff{}, s.fail(opCompare, "category_mismatch", err)
	}
	return diff, nil
}

// DeleteVersion removes a snapshot that is neither current nor stable.
func (s *Service) DeleteVersion(ctx context.Context, actor Actor, id SnapshotID) (deleted Snapshot, err error) {
	defer s.observe(opDeleteVersion, s.clock(), &err)
	if err := requireActor(actor); err != nil {
		return Snapshot{}, s.fail(opDeleteVersion, "missing_actor", err)
	}
	audit, err := s.newAudit(actor, AuditActionDelete, "")
	if err != nil {
		return Snapshot{}, s.fail(opDeleteVersion, "id_generation_failed", err)
	}
	deleted, err = s.store.Delete(ctx, id, audit)
	if err != nil {
		return Snapshot{}, s.fail(opDeleteVersion, "delete_failed", err, zap.String("snapshot_id", id.String()))
	}
	s.announce(ctx, deleted.Category, EventConfigDeleted, deleted.ID)
	return deleted, nil
}

// Cleanup removes every snapshot of a category that is neither current nor
// stable and reports how many were removed. It cannot be undone.
func (s *Service) Cleanup(ctx context.Context, actor Actor, category Category) (removed int, err error) {
	defer s.observe(opCleanup, s.clock(), &err)
	if err := requireActor(actor); err != nil {
		return 0, s.fail(opCleanup, "missing_actor", err)
	}
	if err := s.requireCategory(category); err != nil {
		return 0, s.fail(opCleanup, "unknown_category", err)
	}
	audit, err := s.newAudit(actor, AuditActionCleanup, "")
	if err != nil {
		return 0, s.fail(opCleanup, "id_generation_failed", err)
	}

	unlock := s.lockCategory(category)
	defer unlock()

	ids, err := s.store.DeleteEligible(ctx, category, audit)
	if err != nil {
		return 0, s.fail(opCleanup, "delete_failed", err, zap.String("category", category.String()))
	}
	if len(ids) > 0 {
		s.announce(ctx, category, EventConfigDeleted, ids...)
	}
	return len(ids), nil
}

// SetStable marks or unmarks a snapshot as protected from deletion.
func (s *Service) SetStable(ctx context.Context, actor Actor, id SnapshotID, stable bool) (snapshot Snapshot, err error) {
	defer s.observe(opSetStable, s.clock(), &err)
	if err := requireActor(actor); err != nil {
		return Snapshot{}, s.fail(opSetStable, "missing_actor", err)
	}
	action := AuditActionMarkStable
	if !stable {
		action = AuditActionUnmarkStable
	}
	audit, err := s.newAudit(actor, action, "")
	if err != nil {
		return Snapshot{}, s.fail(opSetStable, "id_generation_failed", err)
	}
	snapshot, err = s.store.SetStable(ctx, id, stable, audit)
	if err != nil {
		return Snapshot{}, s.fail(opSetStable, "update_failed", err, zap.String("snapshot_id", id.String()))
	}
	s.announce(ctx, snapshot.Category, EventConfigChanged, snapshot.ID)
	return snapshot, nil
}

// AuditRequest selects one page of the audit trail. An empty Category selects
// every category.
type AuditRequest struct {
	Category Category
	Page     int
	Limit    int
}

// AuditPage is one newest-first page of audit records.
type AuditPage struct {
	Items []AuditRecord
	Total int64
	Page  int
	Limit int
}

// Audit lists audit records newest first.
func (s *Service) Audit(ctx context.Context, request AuditRequest) (AuditPage, error) {
	if request.Category != "" {
		if err := s.requireCategory(request.Category); err != nil {
			return AuditPage{}, s.fail(opAudit, "unknown_category", err)
		}
	}
	page, limit, err := normalizePage(request.Page, request.Limit)
	if err != nil {
		return AuditPage{}, s.fail(opAudit, "invalid_page", err)
	}
	items, total, err := s.store.ListAudit(ctx, AuditQuery{
		Category: request.Category,
		Offset:   (page - 1) * limit,
		Limit:    limit,
	})
	if err != nil {
		return AuditPage{}, s.fail(opAudit, "list_failed", err)
	}
	return AuditPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *Service) requireCategory(category Category) error {
	if _, ok := s.registry.Lookup(category); !ok {
		return fmt.Errorf("%w: category %q", ErrNotFound, category)
	}
	return nil
}

// loadCurrent returns the current snapshot, or a zero snapshot and false when
// the category has no history.
func (s *Service) loadCurrent(ctx context.Context, category Category) (Snapshot, bool, error) {
	current, err := s.store.Current(ctx, category)
	if errors.Is(err, ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return current, true, nil
}

func (s *Service) lockCategory(category Category) func() {
	value, _ := s.locks.LoadOrStore(category, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) newDraft(actor Actor, fields Fields, changeType ChangeType, description string) (Draft, error) {
	snapshotID, err := s.idProvider.NewID()
	if err != nil {
		return Draft{}, err
	}
	auditID, err := s.idProvider.NewID()
	if err != nil {
		return Draft{}, err
	}
	return Draft{
		ID:          SnapshotID(snapshotID),
		AuditID:     auditID,
		Fields:      fields.Clone(),
		Author:      actor.Name(),
		ChangeType:  changeType,
		Description: description,
		CreatedAt:   s.clock().UTC(),
	}, nil
}

func (s *Service) newAudit(actor Actor, action AuditAction, detail string) (AuditRecord, error) {
	auditID, err := s.idProvider.NewID()
	if err != nil {
		return AuditRecord{}, err
	}
	return AuditRecord{
		AuditID:          auditID,
		Action:           action,
		Actor:            actor.Name(),
		OccurredAtMillis: s.clock().UTC().UnixMilli(),
		Detail:           detail,
	}, nil
}

// announce publishes a committed change and refreshes the history gauge.
func (s *Service) announce(ctx context.Context, category Category, eventType string, ids ...SnapshotID) {
	s.publisher.Publish(ChangeEvent{
		Category:    category,
		EventType:   eventType,
		SnapshotIDs: ids,
		Timestamp:   s.clock().UTC(),
	})
	_, total, err := s.store.List(ctx, HistoryQuery{Category: category, Limit: 1})
	if err != nil {
		s.logger.Warn("history size refresh failed",
			zap.String("category", category.String()),
			zap.Error(err))
		return
	}
	s.recorder.SetHistorySize(category.String(), total)
}

func (s *Service) observe(operation string, started time.Time, err *error) {
	outcome := outcomeOK
	if err != nil && *err != nil {
		outcome = ErrorKind(*err)
	}
	s.recorder.ObserveOperation(operation, outcome, s.clock().Sub(started))
}

// fail wraps err with an operation.reason code. Only failures outside the
// domain taxonomy are logged.
func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	if ErrorKind(err) == "internal" {
		s.logError(operation, reason, err, fields...)
	}
	return newServiceError(operation, reason, err)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("configs service error", attrs...)
}

func requireActor(actor Actor) error {
	if actor.Name() == "" {
		return validationError("actor identifier is required")
	}
	return nil
}

func conflictError(category Category, actual, expected SnapshotID) error {
	return fmt.Errorf("%w: current snapshot of %s is %q, edit was based on %q", ErrConflict, category, actual, expected)
}

func normalizePage(page, limit int) (int, int, error) {
	if page < 0 {
		return 0, 0, validationError("page must be at least 1")
	}
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit < 1 || limit > maxPageSize {
		return 0, 0, validationError("limit must be between 1 and %d", maxPageSize)
	}
	if page > math.MaxInt32/limit {
		return 0, 0, validationError("page must be at most %d", math.MaxInt32/limit)
	}
	return page, limit, nil
}
