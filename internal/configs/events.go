package configs

import "time"

const (
	EventConfigChanged = "config-change"
	EventConfigDeleted = "config-delete"
)

// ChangeEvent announces a committed mutation of one category.
type ChangeEvent struct {
	Category    Category
	EventType   string
	SnapshotIDs []SnapshotID
	Timestamp   time.Time
}

// ChangePublisher fans change events out to interested subscribers. Publish
// must not block the caller.
type ChangePublisher interface {
	Publish(event ChangeEvent)
}

// OperationRecorder observes service operations for metrics.
type OperationRecorder interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	SetHistorySize(category string, versions int64)
}

type noopPublisher struct{}

func (noopPublisher) Publish(ChangeEvent) {}

type noopRecorder struct{}

func (noopRecorder) ObserveOperation(string, string, time.Duration) {}

func (noopRecorder) SetHistorySize(string, int64) {}
