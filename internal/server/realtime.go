package server

import (
	"context"
	"sync"

	"github.com/MarcoPoloResearchLab/configledger/internal/configs"
)

const (
	realtimeEventHeartbeat = "heartbeat"
	realtimeSourceBackend  = "configledger-api"
	// realtimeKeyAll collects subscribers that did not select categories.
	realtimeKeyAll = "*"
	realtimeBuffer = 16
)

// SubscriberGauge tracks the number of open change feed subscriptions.
type SubscriberGauge interface {
	SubscriberAdded()
	SubscriberRemoved()
}

// RealtimeDispatcher fans configuration change events out to feed
// subscribers. It satisfies configs.ChangePublisher.
type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	gauge       SubscriberGauge
}

type realtimeSubscriber struct {
	id     int64
	keys   []string
	stream chan configs.ChangeEvent
}

// NewRealtimeDispatcher constructs a dispatcher. A nil gauge disables
// subscriber accounting.
func NewRealtimeDispatcher(gauge SubscriberGauge) *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  realtimeBuffer,
		gauge:       gauge,
	}
}

// Subscribe registers a stream for the given categories, or for every category
// when none are given. The subscription ends when ctx is done or cleanup runs.
func (d *RealtimeDispatcher) Subscribe(ctx context.Context, categories []configs.Category) (<-chan configs.ChangeEvent, func()) {
	keys := make([]string, 0, len(categories))
	seen := make(map[string]struct{}, len(categories))
	for _, category := range categories {
		key := category.String()
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		keys = []string{realtimeKeyAll}
	}

	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		keys:   keys,
		stream: make(chan configs.ChangeEvent, d.bufferSize),
	}
	d.registerSubscriber(subscriber)

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			close(done)
			d.unregisterSubscriber(subscriber)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return subscriber.stream, cleanup
}

// Publish delivers event without blocking; subscribers with a full buffer miss it.
func (d *RealtimeDispatcher) Publish(event configs.ChangeEvent) {
	if event.Category == "" || event.EventType == "" {
		return
	}
	d.mu.RLock()
	targets := make([]*realtimeSubscriber, 0)
	for _, key := range []string{event.Category.String(), realtimeKeyAll} {
		for _, subscriber := range d.subscribers[key] {
			targets = append(targets, subscriber)
		}
	}
	d.mu.RUnlock()
	for _, subscriber := range targets {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of open subscriptions.
func (d *RealtimeDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	unique := make(map[int64]struct{})
	for _, subscribers := range d.subscribers {
		for id := range subscribers {
			unique[id] = struct{}{}
		}
	}
	return len(unique)
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	for _, key := range subscriber.keys {
		if _, ok := d.subscribers[key]; !ok {
			d.subscribers[key] = make(map[int64]*realtimeSubscriber)
		}
		d.subscribers[key][subscriber.id] = subscriber
	}
	d.mu.Unlock()
	if d.gauge != nil {
		d.gauge.SubscriberAdded()
	}
}

func (d *RealtimeDispatcher) unregisterSubscriber(subscriber *realtimeSubscriber) {
	d.mu.Lock()
	for _, key := range subscriber.keys {
		subscribers := d.subscribers[key]
		if subscribers == nil {
			continue
		}
		delete(subscribers, subscriber.id)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
	if d.gauge != nil {
		d.gauge.SubscriberRemoved()
	}
}
