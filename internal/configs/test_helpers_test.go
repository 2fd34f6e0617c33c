package configs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequentialIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%04d", p.next), nil
}

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSteppingClock() *steppingClock {
	return &steppingClock{now: time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (p *recordingPublisher) Publish(event ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) Events() []ChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ChangeEvent(nil), p.events...)
}

type serviceFixture struct {
	service   *Service
	store     Store
	publisher *recordingPublisher
	clock     *steppingClock
}

func newServiceFixture(t *testing.T, store Store) serviceFixture {
	t.Helper()
	registry, err := NewRegistry([]string{"feature_flags"})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	publisher := &recordingPublisher{}
	clock := newSteppingClock()
	service, err := NewService(ServiceConfig{
		Store:      store,
		Registry:   registry,
		Masker:     NewSecretMasker(nil),
		Clock:      clock.Now,
		IDProvider: &sequentialIDs{},
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}
	return serviceFixture{service: service, store: store, publisher: publisher, clock: clock}
}

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "configs.db")
	database, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := database.AutoMigrate(&SnapshotRecord{}, &AuditRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	if err := database.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_config_snapshots_one_current ON config_snapshots(category) WHERE is_current = 1").Error; err != nil {
		t.Fatalf("failed to create current index: %v", err)
	}
	store, err := NewGormStore(database)
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func mustFields(t *testing.T, raw map[string]any) Fields {
	t.Helper()
	fields, err := NewFields(raw)
	if err != nil {
		t.Fatalf("unexpected fields error: %v", err)
	}
	return fields
}

func mustActor(t *testing.T, email string) Actor {
	t.Helper()
	actor, err := NewActor("user-"+email, email)
	if err != nil {
		t.Fatalf("unexpected actor error: %v", err)
	}
	return actor
}

func databaseFields(t *testing.T, maxConnections int) Fields {
	t.Helper()
	return mustFields(t, map[string]any{
		"url":             "postgres://db.internal:5432/app",
		"max_connections": maxConnections,
		"connect_timeout": 30,
	})
}

// seedDatabaseHistory appends count successive updates to the database category.
func seedDatabaseHistory(t *testing.T, fixture serviceFixture, count int) []Snapshot {
	t.Helper()
	actor := mustActor(t, "ops@example.com")
	snapshots := make([]Snapshot, 0, count)
	for index := 0; index < count; index++ {
		result, err := fixture.service.Update(context.Background(), actor, UpdateRequest{
			Category: CategoryDatabase,
			Fields:   databaseFields(t, index+1),
		})
		if err != nil {
			t.Fatalf("seed update %d failed: %v", index, err)
		}
		snapshots = append(snapshots, result.Snapshot)
	}
	return snapshots
}
